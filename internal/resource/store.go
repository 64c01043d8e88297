package resource

import (
	"context"
	"sync"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/command"
)

// Store holds the single State of a resource domain and notifies
// subscribers after every reduction.
type Store[T any] struct {
	name string

	mu      sync.Mutex
	state   State[T]
	version uint64
	subs    map[uint64]func(State[T], uint64)
	nextSub uint64
}

func NewStore[T any](name string) *Store[T] {
	return &Store[T]{
		name:  name,
		state: Initial[T](),
		subs:  map[uint64]func(State[T], uint64){},
	}
}

func (s *Store[T]) Resource() string {
	return s.name
}

// Apply reduces c into the state and returns it as applied: a request comes
// back stamped with its sequence number. The check against the latest
// request and the reduction happen under one lock, so a superseded terminal
// command is refused (false) and leaves no trace. Subscribers run after the
// lock is released and may dispatch further commands; they receive a version
// so late deliveries can be told apart.
func (s *Store[T]) Apply(c command.Command) (command.Command, bool) {
	_, op, phase, _ := c.Kind.Parse()
	accepted := s.update(func(st State[T]) (State[T], bool) {
		if !st.Accepts(c) {
			return st, false
		}
		next := Reduce(st, c)
		if phase == command.PhaseRequest {
			c.Seq = next.Issued[op]
		}
		return next, true
	})
	return c, accepted
}

// Current reports whether seq is the pending latest request of op.
func (s *Store[T]) Current(op command.Op, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Pending[op] && s.state.Issued[op] == seq
}

func (s *Store[T]) update(fn func(State[T]) (State[T], bool)) bool {
	s.mu.Lock()
	next, changed := fn(s.state)
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.version++
	version := s.version
	snap := s.snapshotLocked()
	subs := make([]func(State[T], uint64), 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snap, version)
	}
	return true
}

func (s *Store[T]) Snapshot() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store[T]) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// LastQueryParams returns the params of the most recent list request, or
// false when no list was ever requested.
func (s *Store[T]) LastQueryParams() (api.ListParams, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.LastQueryParams == nil {
		return api.ListParams{}, false
	}
	return s.state.LastQueryParams.Clone(), true
}

func (s *Store[T]) Subscribe(fn func(State[T], uint64)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// WaitIdle blocks until no request is pending.
func (s *Store[T]) WaitIdle(ctx context.Context) (State[T], error) {
	wake := make(chan struct{}, 1)
	unsubscribe := s.Subscribe(func(State[T], uint64) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()
	for {
		snap := s.Snapshot()
		if !snap.Loading {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-wake:
		}
	}
}

func (s *Store[T]) snapshotLocked() State[T] {
	out := s.state
	out.List = append([]T(nil), s.state.List...)
	if out.List == nil {
		out.List = []T{}
	}
	if s.state.Detail != nil {
		detail := *s.state.Detail
		out.Detail = &detail
	}
	if s.state.LastQueryParams != nil {
		params := s.state.LastQueryParams.Clone()
		out.LastQueryParams = &params
	}
	if len(s.state.Pending) > 0 {
		out.Pending = make(map[command.Op]bool, len(s.state.Pending))
		for k, v := range s.state.Pending {
			out.Pending[k] = v
		}
	}
	if len(s.state.Issued) > 0 {
		out.Issued = make(map[command.Op]uint64, len(s.state.Issued))
		for k, v := range s.state.Issued {
			out.Issued[k] = v
		}
	}
	return out
}
