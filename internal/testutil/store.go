package testutil

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/g960059/opsdash/internal/config"
	"github.com/g960059/opsdash/internal/mockbackend"
	"github.com/g960059/opsdash/internal/session"
)

// NewSession opens a session store in a temp dir and returns a started
// manager over it.
func NewSession(t *testing.T) (*session.Manager, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := session.Open(ctx, filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	mgr := session.NewManager(store, nil)
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("start session: %v", err)
	}
	return mgr, ctx
}

// NewBackend serves a seeded mock backend and returns the API base URL.
func NewBackend(t *testing.T) (*mockbackend.Server, string) {
	t.Helper()
	backend := mockbackend.New()
	if err := backend.Seed(); err != nil {
		t.Fatalf("seed mock backend: %v", err)
	}
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(srv.Close)
	return backend, srv.URL + mockbackend.BasePath
}

// Config returns defaults pointed at baseURL with short timings.
func Config(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.RequestTimeout = 2 * time.Second
	cfg.NotificationTTL = time.Minute
	cfg.SessionPath = filepath.Join(t.TempDir(), "session.db")
	return cfg
}
