// Package dispatch routes commands to resource domains and fans routed
// commands out to observers.
package dispatch

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/g960059/opsdash/internal/command"
	"github.com/g960059/opsdash/internal/logging"
)

// Handler is a resource domain as seen by the dispatcher. Apply returns the
// command as applied, or false when the slice refused it.
type Handler interface {
	Resource() string
	Supports(op command.Op) bool
	Apply(c command.Command) (command.Command, bool)
	Enqueue(c command.Command)
}

// Observer sees every routed command after it has been applied. Observe must
// not block.
type Observer interface {
	Observe(c command.Command)
}

type ObserverFunc func(c command.Command)

func (f ObserverFunc) Observe(c command.Command) {
	f(c)
}

type Dispatcher struct {
	log *zap.Logger

	mu        sync.RWMutex
	handlers  map[string]Handler
	observers []Observer
	closed    bool
}

func New(logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		log:      logging.OrNop(logger).Named("dispatch"),
		handlers: map[string]Handler{},
	}
}

func (d *Dispatcher) Register(h Handler) error {
	name := strings.ToUpper(strings.TrimSpace(h.Resource()))
	if name == "" {
		return fmt.Errorf("resource name is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[name]; exists {
		return fmt.Errorf("resource %s already registered", name)
	}
	d.handlers[name] = h
	return nil
}

func (d *Dispatcher) AddObserver(o Observer) {
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

// Resources lists the registered resource names.
func (d *Dispatcher) Resources() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, name)
	}
	return out
}

// Close makes every later Dispatch a no-op.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Dispatch applies c synchronously and, for a request, hands it to the
// domain's coordinator. It never panics. Kinds that do not parse, unknown
// resources, unsupported ops and commands the slice refuses are dropped
// without reaching observers.
func (d *Dispatcher) Dispatch(c command.Command) {
	d.Route(c)
}

// Route is Dispatch reporting whether c reached a domain.
func (d *Dispatcher) Route(c command.Command) (routed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("dispatch panicked", zap.String("kind", string(c.Kind)), zap.Any("panic", rec))
			routed = false
		}
	}()

	resource, op, phase, ok := c.Kind.Parse()
	if !ok {
		d.log.Debug("unknown command kind", zap.String("kind", string(c.Kind)))
		return false
	}
	d.mu.RLock()
	h, found := d.handlers[resource]
	closed := d.closed
	observers := append([]Observer(nil), d.observers...)
	d.mu.RUnlock()
	if closed || !found || !h.Supports(op) {
		d.log.Debug("command dropped",
			zap.String("kind", string(c.Kind)),
			zap.Bool("closed", closed),
			zap.Bool("registered", found))
		return false
	}

	applied, ok := h.Apply(c)
	if !ok {
		d.log.Debug("command refused", zap.String("kind", string(c.Kind)), zap.Uint64("seq", c.Seq))
		return false
	}
	if phase == command.PhaseRequest {
		h.Enqueue(applied)
	}
	for _, o := range observers {
		d.notify(o, applied)
	}
	return true
}

func (d *Dispatcher) notify(o Observer, c command.Command) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("observer panicked", zap.String("kind", string(c.Kind)), zap.Any("panic", rec))
		}
	}()
	o.Observe(c)
}
