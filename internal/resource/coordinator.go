package resource

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/g960059/opsdash/internal/appclient"
	"github.com/g960059/opsdash/internal/command"
	"github.com/g960059/opsdash/internal/logging"
)

// Dispatcher receives the terminal and requery commands a coordinator emits.
type Dispatcher interface {
	Dispatch(c command.Command)
}

// Recorder observes remote calls; metrics.Metrics implements it.
type Recorder interface {
	ObserveCall(resource string, op command.Op, elapsed time.Duration, err error)
	IncStale(resource string, op command.Op)
}

// Coordinator executes one resource domain's remote calls. Requests are
// taken in arrival order, each carrying the sequence number its slice
// stamped on it; only the newest number's result is applied. Superseded
// calls run to completion and their results are dropped.
type Coordinator[T any] struct {
	endpoint Endpoint
	store    *Store[T]
	remote   Remote
	effects  map[command.Op]Effect[T]
	log      *zap.Logger
	recorder Recorder

	dispatcher Dispatcher
	inbox      *mailbox
	results    chan result[T]

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	calls   sync.WaitGroup
	started atomic.Bool
	stop    sync.Once
}

type result[T any] struct {
	op      command.Op
	seq     uint64
	outcome Outcome[T]
	err     error
	elapsed time.Duration
}

func newCoordinator[T any](ep Endpoint, store *Store[T], remote Remote, effects map[command.Op]Effect[T], logger *zap.Logger, recorder Recorder) *Coordinator[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator[T]{
		endpoint: ep,
		store:    store,
		remote:   remote,
		effects:  effects,
		log:      logging.OrNop(logger).With(zap.String("resource", ep.Name)),
		recorder: recorder,
		inbox:    newMailbox(),
		results:  make(chan result[T]),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (c *Coordinator[T]) Supports(op command.Op) bool {
	_, ok := c.effects[op]
	return ok
}

func (c *Coordinator[T]) Start(d Dispatcher) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.dispatcher = d
	go c.run()
}

func (c *Coordinator[T]) Enqueue(cmd command.Command) {
	c.inbox.push(cmd)
}

// Close stops the loop and waits for in-flight calls, which see a cancelled
// context.
func (c *Coordinator[T]) Close() {
	c.stop.Do(func() {
		c.cancel()
		if c.started.Load() {
			<-c.done
		}
		c.calls.Wait()
	})
}

func (c *Coordinator[T]) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.inbox.ready():
			for _, cmd := range c.inbox.drain() {
				c.begin(cmd)
			}
		case r := <-c.results:
			c.finish(r)
		}
	}
}

func (c *Coordinator[T]) begin(cmd command.Command) {
	_, op, _, ok := cmd.Kind.Parse()
	if !ok {
		return
	}
	seq := cmd.Seq
	effect := c.effects[op]
	c.log.Debug("request started", zap.String("kind", string(cmd.Kind)), zap.String("id", cmd.ID), zap.Uint64("seq", seq))

	c.calls.Add(1)
	go func() {
		defer c.calls.Done()
		started := time.Now()
		out, err := c.invoke(effect, cmd)
		r := result[T]{op: op, seq: seq, outcome: out, err: err, elapsed: time.Since(started)}
		select {
		case c.results <- r:
		case <-c.ctx.Done():
		}
	}()
}

func (c *Coordinator[T]) invoke(effect Effect[T], cmd command.Command) (out Outcome[T], err error) {
	if effect == nil {
		return Outcome[T]{}, fmt.Errorf("unsupported operation %s", cmd.Kind)
	}
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("effect panicked", zap.String("kind", string(cmd.Kind)), zap.Any("panic", rec))
			out, err = Outcome[T]{}, fmt.Errorf("internal error")
		}
	}()
	return effect(c.ctx, c.remote, c.endpoint, cmd)
}

func (c *Coordinator[T]) finish(r result[T]) {
	if c.recorder != nil {
		c.recorder.ObserveCall(c.endpoint.Name, r.op, r.elapsed, r.err)
	}
	// A newer request or a reset may still land between this check and the
	// dispatch; the slice refuses the terminal command in that case.
	if !c.store.Current(r.op, r.seq) {
		c.dropStale(r.op, r.seq)
		return
	}
	if r.err != nil {
		msg := appclient.MessageOf(r.err)
		c.log.Debug("request failed", zap.String("op", string(r.op)), zap.Uint64("seq", r.seq), zap.Error(r.err))
		c.dispatcher.Dispatch(command.Fail(c.endpoint.Name, r.op, r.seq, command.Failure{Message: msg, Err: r.err}))
		return
	}
	// The requery is issued before the success lands so the slice never
	// reads idle between a mutation and the list refresh it triggers.
	if r.op.IsMutation() {
		c.requery()
	}
	c.dispatcher.Dispatch(command.Success(c.endpoint.Name, r.op, r.seq, r.outcome))
}

func (c *Coordinator[T]) dropStale(op command.Op, seq uint64) {
	c.log.Debug("stale result dropped", zap.String("op", string(op)), zap.Uint64("seq", seq))
	if c.recorder != nil {
		c.recorder.IncStale(c.endpoint.Name, op)
	}
}

// requery repeats the last list request verbatim. Without one there is
// nothing to refresh and no defaults are invented.
func (c *Coordinator[T]) requery() {
	params, ok := c.store.LastQueryParams()
	if !ok {
		c.log.Debug("requery skipped: no list requested yet")
		return
	}
	c.dispatcher.Dispatch(command.Request(c.endpoint.Name, command.OpList, params))
}

// mailbox is an unbounded FIFO so that Dispatch never blocks, including when
// the coordinator loop itself dispatches a requery.
type mailbox struct {
	mu     sync.Mutex
	items  []command.Command
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(c command.Command) {
	m.mu.Lock()
	m.items = append(m.items, c)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) ready() <-chan struct{} {
	return m.signal
}

func (m *mailbox) drain() []command.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}
