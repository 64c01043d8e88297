package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/logging"
	"github.com/g960059/opsdash/internal/security"
)

// Manager owns the process-wide session. Start loads whatever was persisted,
// Init runs on login success and Teardown on logout.
type Manager struct {
	store    *Store
	log      *zap.Logger
	override string

	mu      sync.RWMutex
	current *Session
}

func NewManager(store *Store, logger *zap.Logger) *Manager {
	return &Manager{store: store, log: logging.OrNop(logger)}
}

// WithOverride pins a token supplied from the environment. It wins over the
// persisted one and is never written to disk.
func (m *Manager) WithOverride(token string) *Manager {
	m.override = strings.TrimSpace(token)
	return m
}

func (m *Manager) Start(ctx context.Context) error {
	sess, err := m.store.Load(ctx)
	if errors.Is(err, ErrNoSession) {
		m.set(nil)
		return nil
	}
	if err != nil {
		return err
	}
	m.set(&sess)
	m.log.Debug("session restored", zap.String("role", sess.Role), zap.String("token", security.MaskToken(sess.AccessToken)))
	return nil
}

func (m *Manager) Init(ctx context.Context, token, role string, profile *api.Profile) error {
	now := time.Now().UTC()
	sess := Session{
		AccessToken: strings.TrimSpace(token),
		Role:        strings.TrimSpace(role),
		Profile:     profile,
		StartedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Save(ctx, sess); err != nil {
		return err
	}
	m.set(&sess)
	m.log.Info("session started", zap.String("role", sess.Role))
	return nil
}

func (m *Manager) Teardown(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	m.set(nil)
	m.log.Info("session ended")
	return nil
}

// Token implements appclient.TokenSource.
func (m *Manager) Token(context.Context) (string, error) {
	if m.override != "" {
		return m.override, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return "", nil
	}
	return m.current.AccessToken, nil
}

func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Session{}, false
	}
	return *m.current, true
}

func (m *Manager) Role() string {
	sess, ok := m.Current()
	if !ok {
		return ""
	}
	return sess.Role
}

func (m *Manager) set(sess *Session) {
	m.mu.Lock()
	m.current = sess
	m.mu.Unlock()
}
