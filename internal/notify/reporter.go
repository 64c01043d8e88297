// Package notify turns terminal commands into transient user messages.
package notify

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/g960059/opsdash/internal/command"
	"github.com/g960059/opsdash/internal/logging"
)

type Level string

const (
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

type Notification struct {
	ID        string       `json:"id"`
	Level     Level        `json:"level"`
	Message   string       `json:"message"`
	Kind      command.Kind `json:"kind"`
	CreatedAt time.Time    `json:"createdAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// DefaultSuccessOps are the successes announced unless configured otherwise.
var DefaultSuccessOps = []command.Op{command.OpCreate, command.OpUpdateStatus, command.OpDelete, command.OpLogin}

var successText = map[command.Op]string{
	command.OpCreate:       "created",
	command.OpUpdate:       "updated",
	command.OpUpdateStatus: "status updated",
	command.OpDelete:       "deleted",
	command.OpLogin:        "signed in",
	command.OpLogout:       "signed out",
}

// Reporter is a dispatch observer. Every failure and every configured
// success yields one notification that expires after the TTL. Delivery to
// the channel never blocks; when the buffer is full the notification is
// still listed by Active.
type Reporter struct {
	ttl       time.Duration
	successes map[command.Op]bool
	now       func() time.Time
	log       *zap.Logger

	mu     sync.Mutex
	active map[string]Notification
	timers map[string]*time.Timer
	out    chan Notification
	closed bool
}

type Option func(*Reporter)

func WithSuccessOps(ops ...command.Op) Option {
	return func(r *Reporter) {
		r.successes = map[command.Op]bool{}
		for _, op := range ops {
			r.successes[op] = true
		}
	}
}

func WithBuffer(n int) Option {
	return func(r *Reporter) {
		if n < 0 {
			n = 0
		}
		r.out = make(chan Notification, n)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Reporter) {
		r.log = logging.OrNop(logger)
	}
}

func withClock(now func() time.Time) Option {
	return func(r *Reporter) {
		r.now = now
	}
}

func NewReporter(ttl time.Duration, opts ...Option) *Reporter {
	r := &Reporter{
		ttl:    ttl,
		now:    time.Now,
		log:    zap.NewNop(),
		active: map[string]Notification{},
		timers: map[string]*time.Timer{},
		out:    make(chan Notification, 32),
	}
	WithSuccessOps(DefaultSuccessOps...)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reporter) Observe(c command.Command) {
	resource, op, phase, ok := c.Kind.Parse()
	if !ok {
		return
	}
	var n Notification
	switch phase {
	case command.PhaseFailure:
		failure, _ := c.Payload.(command.Failure)
		msg := strings.TrimSpace(failure.Message)
		if msg == "" {
			msg = "Request failed"
		}
		n = Notification{Level: LevelError, Message: msg}
	case command.PhaseSuccess:
		if !r.successes[op] {
			return
		}
		n = Notification{Level: LevelSuccess, Message: successMessage(resource, op)}
	default:
		return
	}
	n.ID = uuid.NewString()
	n.Kind = c.Kind
	n.CreatedAt = r.now()
	n.ExpiresAt = n.CreatedAt.Add(r.ttl)
	r.post(n)
}

func (r *Reporter) post(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.active[n.ID] = n
	if r.ttl > 0 {
		id := n.ID
		r.timers[id] = time.AfterFunc(r.ttl, func() { r.expire(id) })
	}
	select {
	case r.out <- n:
	default:
		r.log.Debug("notification channel full", zap.String("kind", string(n.Kind)))
	}
}

func (r *Reporter) expire(id string) {
	r.mu.Lock()
	delete(r.active, id)
	delete(r.timers, id)
	r.mu.Unlock()
}

// Dismiss removes a notification before it expires.
func (r *Reporter) Dismiss(id string) {
	r.mu.Lock()
	if t, ok := r.timers[id]; ok {
		t.Stop()
	}
	r.mu.Unlock()
	r.expire(id)
}

// Notifications delivers every posted notification in order.
func (r *Reporter) Notifications() <-chan Notification {
	return r.out
}

// Active lists the notifications that have not expired, oldest first.
func (r *Reporter) Active() []Notification {
	r.mu.Lock()
	out := make([]Notification, 0, len(r.active))
	for _, n := range r.active {
		out = append(out, n)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Close stops pending expiry timers. Later commands are ignored.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

func successMessage(resource string, op command.Op) string {
	text, ok := successText[op]
	if !ok {
		text = strings.ToLower(strings.ReplaceAll(string(op), "_", " "))
	}
	if op == command.OpLogin || op == command.OpLogout {
		return strings.ToUpper(text[:1]) + text[1:]
	}
	name := strings.ToLower(strings.ReplaceAll(resource, "_", " "))
	return fmt.Sprintf("%s %s", strings.ToUpper(name[:1])+name[1:], text)
}
