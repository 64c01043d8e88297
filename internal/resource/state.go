package resource

import (
	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/command"
	"github.com/g960059/opsdash/internal/pagination"
)

// State is one resource domain's slice. It is only ever replaced through
// Reduce; values handed out by Store.Snapshot share nothing with the store.
type State[T any] struct {
	List            []T
	Pagination      api.Pagination
	Loading         bool
	Error           string
	Detail          *T
	LastQueryParams *api.ListParams

	// Pending lists the ops with a request awaiting its terminal command.
	Pending map[command.Op]bool
	// Issued is the sequence number of the latest request per op. It only
	// grows, including across resets.
	Issued map[command.Op]uint64
}

func Initial[T any]() State[T] {
	return State[T]{
		List:       []T{},
		Pagination: pagination.Empty[T]().Pagination,
	}
}

// Outcome is the payload of a _SUCCESS command.
type Outcome[T any] struct {
	Page   *pagination.Page[T]
	Entity *T
	// Reset returns the slice to its initial state, used on logout.
	Reset bool
}

// Accepts reports whether Reduce would apply c. A terminal command is only
// accepted while its op is pending and it answers the latest request.
func (s State[T]) Accepts(c command.Command) bool {
	_, op, phase, ok := c.Kind.Parse()
	if !ok {
		return false
	}
	if phase.Terminal() {
		return s.Pending[op] && c.Seq == s.Issued[op]
	}
	return true
}

// Reduce applies one command addressed to this resource. Kinds that do not
// parse and superseded terminal commands leave s unchanged.
func Reduce[T any](s State[T], c command.Command) State[T] {
	if !s.Accepts(c) {
		return s
	}
	_, op, phase, _ := c.Kind.Parse()
	switch phase {
	case command.PhaseRequest:
		s.Issued = withIssued(s.Issued, op)
		s.Pending = withPending(s.Pending, op, true)
		s.Loading = true
		s.Error = ""
		if op == command.OpList {
			params := listParamsOf(c.Payload)
			s.LastQueryParams = &params
		}
	case command.PhaseSuccess:
		s.Pending = withPending(s.Pending, op, false)
		s.Loading = len(s.Pending) > 0
		out, _ := c.Payload.(Outcome[T])
		if out.Reset {
			return reset(s)
		}
		switch op {
		case command.OpList:
			if out.Page != nil {
				s.List = out.Page.Data
				s.Pagination = out.Page.Pagination
			}
		case command.OpDetail, command.OpLogin:
			s.Detail = out.Entity
		}
	case command.PhaseFailure:
		s.Pending = withPending(s.Pending, op, false)
		s.Loading = len(s.Pending) > 0
		failure, _ := c.Payload.(command.Failure)
		s.Error = failure.Message
	case command.PhaseNone:
		switch op {
		case command.OpClearError:
			s.Error = ""
		case command.OpReset:
			return reset(s)
		}
	}
	return s
}

// reset keeps only the issued counters. Requests still in flight are no
// longer pending, so their answers are dropped.
func reset[T any](s State[T]) State[T] {
	fresh := Initial[T]()
	fresh.Issued = s.Issued
	return fresh
}

func withIssued(in map[command.Op]uint64, op command.Op) map[command.Op]uint64 {
	out := make(map[command.Op]uint64, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	out[op]++
	return out
}

// withPending copies before writing so earlier snapshots stay intact.
func withPending(in map[command.Op]bool, op command.Op, on bool) map[command.Op]bool {
	out := make(map[command.Op]bool, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	if on {
		out[op] = true
	} else {
		delete(out, op)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func listParamsOf(payload any) api.ListParams {
	switch p := payload.(type) {
	case api.ListParams:
		return p.Clone()
	case *api.ListParams:
		if p != nil {
			return p.Clone()
		}
	}
	return api.ListParams{}
}
