package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/g960059/opsdash/internal/api"
)

var (
	ErrNoSession = errors.New("no session")
	ErrLocked    = errors.New("session file is locked by another process")
)

// Session is the persisted login state: the access token and role survive
// process restarts.
type Session struct {
	AccessToken string
	Role        string
	Profile     *api.Profile
	StartedAt   time.Time
	UpdatedAt   time.Time
}

type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("chmod session path: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &Store{db: db, lock: flock.New(path + ".lock")}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context) (Session, error) {
	var (
		out         Session
		profileJSON sql.NullString
		startedAt   string
		updatedAt   string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT access_token, role, profile_json, started_at, updated_at
FROM session WHERE id = 1
`).Scan(&out.AccessToken, &out.Role, &profileJSON, &startedAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if profileJSON.Valid && profileJSON.String != "" {
		var p api.Profile
		if err := json.Unmarshal([]byte(profileJSON.String), &p); err != nil {
			return Session{}, fmt.Errorf("decode session profile: %w", err)
		}
		out.Profile = &p
	}
	if out.StartedAt, err = parseTS(startedAt); err != nil {
		return Session{}, fmt.Errorf("parse started_at: %w", err)
	}
	if out.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return Session{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, sess Session) error {
	if sess.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}
	now := time.Now().UTC()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}
	var profile any
	if sess.Profile != nil {
		buf, err := json.Marshal(sess.Profile)
		if err != nil {
			return fmt.Errorf("encode session profile: %w", err)
		}
		profile = string(buf)
	}
	return s.withLock(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO session(id, access_token, role, profile_json, started_at, updated_at)
VALUES (1, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	access_token=excluded.access_token,
	role=excluded.role,
	profile_json=excluded.profile_json,
	started_at=excluded.started_at,
	updated_at=excluded.updated_at
`, sess.AccessToken, sess.Role, profile, ts(sess.StartedAt), ts(sess.UpdatedAt))
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		return nil
	})
}

func (s *Store) Clear(ctx context.Context) error {
	return s.withLock(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE id = 1`); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		return nil
	})
}

// withLock serialises writers across processes sharing the session file.
func (s *Store) withLock(ctx context.Context, fn func() error) error {
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 25*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrLocked
		}
		return fmt.Errorf("lock session file: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	defer s.lock.Unlock() //nolint:errcheck
	return fn()
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
