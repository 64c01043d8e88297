package resource

import (
	"context"

	"go.uber.org/zap"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/command"
)

// Domain is one resource domain: its state slice plus its coordinator. It
// is what the dispatcher routes commands to.
type Domain[T any] struct {
	*Store[T]
	endpoint Endpoint
	coord    *Coordinator[T]
}

type options[T any] struct {
	effects  map[command.Op]Effect[T]
	logger   *zap.Logger
	recorder Recorder
}

type Option[T any] func(*options[T])

// WithEffects replaces the standard REST mapping. The map is copied.
func WithEffects[T any](effects map[command.Op]Effect[T]) Option[T] {
	return func(o *options[T]) {
		o.effects = make(map[command.Op]Effect[T], len(effects))
		for op, effect := range effects {
			if effect != nil {
				o.effects[op] = effect
			}
		}
	}
}

// WithEffect adds or overrides the effect of a single op.
func WithEffect[T any](op command.Op, effect Effect[T]) Option[T] {
	return func(o *options[T]) {
		if effect == nil {
			delete(o.effects, op)
			return
		}
		o.effects[op] = effect
	}
}

func WithLogger[T any](logger *zap.Logger) Option[T] {
	return func(o *options[T]) {
		o.logger = logger
	}
}

func WithRecorder[T any](recorder Recorder) Option[T] {
	return func(o *options[T]) {
		o.recorder = recorder
	}
}

func NewDomain[T any](ep Endpoint, remote Remote, opts ...Option[T]) *Domain[T] {
	o := options[T]{effects: StandardEffects[T]()}
	for _, opt := range opts {
		opt(&o)
	}
	store := NewStore[T](ep.Name)
	return &Domain[T]{
		Store:    store,
		endpoint: ep,
		coord:    newCoordinator(ep, store, remote, o.effects, o.logger, o.recorder),
	}
}

func (d *Domain[T]) Endpoint() Endpoint {
	return d.endpoint
}

func (d *Domain[T]) Supports(op command.Op) bool {
	if op.Phaseless() {
		return true
	}
	return d.coord.Supports(op)
}

// Apply reduces c into the slice. Terminal commands that no longer answer
// the latest request are refused and counted as stale.
func (d *Domain[T]) Apply(c command.Command) (command.Command, bool) {
	applied, ok := d.Store.Apply(c)
	if !ok {
		if _, op, phase, parsed := c.Kind.Parse(); parsed && phase.Terminal() {
			d.coord.dropStale(op, c.Seq)
		}
	}
	return applied, ok
}

func (d *Domain[T]) Enqueue(c command.Command) {
	d.coord.Enqueue(c)
}

func (d *Domain[T]) Start(dispatcher Dispatcher) {
	d.coord.Start(dispatcher)
}

func (d *Domain[T]) Close() {
	d.coord.Close()
}

// Summary is an untyped view of a slice for renderers that handle every
// domain alike.
type Summary struct {
	Resource        string          `json:"resource"`
	List            any             `json:"list"`
	Count           int             `json:"count"`
	Pagination      api.Pagination  `json:"pagination"`
	Loading         bool            `json:"loading"`
	Error           string          `json:"error,omitempty"`
	Detail          any             `json:"detail,omitempty"`
	LastQueryParams *api.ListParams `json:"lastQueryParams,omitempty"`
}

func (d *Domain[T]) Summary() Summary {
	return summarize(d.Resource(), d.Snapshot())
}

func (d *Domain[T]) WaitSummary(ctx context.Context) (Summary, error) {
	st, err := d.WaitIdle(ctx)
	return summarize(d.Resource(), st), err
}

func summarize[T any](name string, st State[T]) Summary {
	out := Summary{
		Resource:        name,
		List:            st.List,
		Count:           len(st.List),
		Pagination:      st.Pagination,
		Loading:         st.Loading,
		Error:           st.Error,
		LastQueryParams: st.LastQueryParams,
	}
	if st.Detail != nil {
		out.Detail = *st.Detail
	}
	return out
}
