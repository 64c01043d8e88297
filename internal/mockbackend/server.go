// Package mockbackend is an in-memory stand-in for the admin REST backend.
// It speaks the same envelope protocol, including its quirks: the category
// list answers with a bare array and locked records reject mutations with a
// 200 ERROR marker.
package mockbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/g960059/opsdash/internal/api"
	"github.com/g960059/opsdash/internal/logging"
)

const BasePath = "/api"

// DelayFunc returns how long to hold a request before answering it.
type DelayFunc func(r *http.Request) time.Duration

type account struct {
	password string
	profile  api.Profile
}

type Server struct {
	log     *zap.Logger
	httpSrv *http.Server
	mux     *http.ServeMux

	mu          sync.Mutex
	collections map[string]*collection
	accounts    map[string]account
	tokens      map[string]api.Profile
	delay       DelayFunc
	listener    net.Listener

	shutdown    sync.Once
	shutdownErr error
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		s.log = logging.OrNop(logger)
	}
}

func WithDelay(fn DelayFunc) Option {
	return func(s *Server) {
		s.delay = fn
	}
}

func New(opts ...Option) *Server {
	s := &Server{
		log:         zap.NewNop(),
		mux:         http.NewServeMux(),
		collections: map[string]*collection{},
		accounts:    map[string]account{},
		tokens:      map[string]api.Profile{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpSrv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	for _, c := range defaultCollections() {
		s.collections[c.name] = c
		s.mux.HandleFunc(BasePath+"/"+c.name, s.authed(s.collectionHandler(c)))
		s.mux.HandleFunc(BasePath+"/"+c.name+"/", s.authed(s.itemHandler(c)))
	}
	s.mux.HandleFunc(BasePath+"/auth/login", s.loginHandler)
	s.mux.HandleFunc(BasePath+"/auth/logout", s.authed(s.logoutHandler))
	s.mux.HandleFunc(BasePath+"/auth/me", s.authed(s.meHandler))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// SetDelay replaces the delay hook; nil removes it.
func (s *Server) SetDelay(fn DelayFunc) {
	s.mu.Lock()
	s.delay = fn
	s.mu.Unlock()
}

// AddAccount registers credentials accepted by /auth/login.
func (s *Server) AddAccount(email, password string, profile api.Profile) {
	if profile.Email == "" {
		profile.Email = email
	}
	if profile.ID == "" {
		profile.ID = "u-" + strings.SplitN(email, "@", 2)[0]
	}
	s.mu.Lock()
	s.accounts[strings.ToLower(email)] = account{password: password, profile: profile}
	s.mu.Unlock()
}

// IssueToken returns a bearer token for profile without a login round trip.
func (s *Server) IssueToken(profile api.Profile) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = profile
	s.mu.Unlock()
	return token
}

// Put replaces or inserts records in a collection. Records without an id
// get one; a record whose unique field another record already holds is
// rejected along with everything after it.
func (s *Server) Put(name string, records ...map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("unknown collection %q", name)
	}
	for i, rec := range records {
		if field := c.conflict(record(rec), record(rec).id()); field != "" {
			return fmt.Errorf("%s record %d: %s", name, i, conflictMessage(field))
		}
		c.upsert(record(rec))
	}
	return nil
}

// Records returns a copy of a collection in insertion order.
func (s *Server) Records(name string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(c.items))
	for _, rec := range c.items {
		out = append(out, rec.clone())
	}
	return out
}

func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.log.Info("mock backend listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

// Addr is the bound address once Start is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		s.shutdownErr = s.httpSrv.Shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.hold(r) {
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		s.mu.Lock()
		_, ok := s.tokens[token]
		s.mu.Unlock()
		if token == "" || !ok {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// hold applies the delay hook and reports whether the client is still there.
func (s *Server) hold(r *http.Request) bool {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay == nil {
		return true
	}
	d := delay(r)
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.Context().Done():
		return false
	}
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if !s.hold(r) {
		return
	}
	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	s.mu.Lock()
	acct, ok := s.accounts[strings.ToLower(strings.TrimSpace(req.Email))]
	s.mu.Unlock()
	if !ok || acct.password != req.Password {
		s.writeError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	token := s.IssueToken(acct.profile)
	s.log.Debug("login", zap.String("email", acct.profile.Email))
	s.writeOK(w, http.StatusOK, api.LoginResult{AccessToken: token, Role: acct.profile.Role, User: acct.profile}, "")
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
	s.writeOK(w, http.StatusOK, nil, "Logged out")
}

func (s *Server) meHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	s.mu.Lock()
	profile := s.tokens[token]
	s.mu.Unlock()
	s.writeOK(w, http.StatusOK, profile, "")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeOK(w http.ResponseWriter, status int, data any, message string) {
	resp := map[string]any{"status": api.StatusOK}
	if data != nil {
		resp["data"] = data
	}
	if message != "" {
		resp["message"] = message
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, api.ErrorResponse{Status: api.StatusError, Message: msg})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow ...string) {
	if len(allow) > 0 {
		w.Header().Set("Allow", strings.Join(allow, ", "))
	}
	s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}
