// Package authserver runs the short-lived loopback web server that collects an
// API key from the user's browser and hands it to an Authorizer.
package authserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jmcleod/gw2link/account"
	"github.com/jmcleod/gw2link/internal/apperr"
	"github.com/jmcleod/gw2link/web"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 13338

	// DefaultAuthorizeTimeout covers the account lookup with all its retries.
	DefaultAuthorizeTimeout = 3 * time.Minute

	maxFormBytes = 64 << 10
)

// ErrAlreadyRunning is returned by Start when the server is already serving.
var ErrAlreadyRunning = errors.New("authorization server already running")

// Authorizer validates an API key submitted through the login form.
type Authorizer interface {
	Authorize(ctx context.Context, apiKey string) account.Outcome
}

// Server is the loopback handoff server. The zero value is not usable; call New.
type Server struct {
	authorizer  Authorizer
	host        string
	port        int
	authTimeout time.Duration
	logger      *slog.Logger
	handler     http.Handler

	// loginMu serializes form submissions so only one authorization runs at a time.
	loginMu sync.Mutex

	mu     sync.Mutex
	srv    *http.Server
	bound  int
	served chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithAddress sets the listen address. Port 0 picks a free port.
func WithAddress(host string, port int) Option {
	return func(s *Server) {
		s.host = host
		s.port = port
	}
}

// WithAuthorizeTimeout bounds one login attempt. The attempt is not tied to
// the browser connection, so it completes even if the browser goes away.
func WithAuthorizeTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.authTimeout = d
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New builds a Server and its routes. It does not bind a socket.
func New(authorizer Authorizer, opts ...Option) (*Server, error) {
	s := &Server{
		authorizer:  authorizer,
		host:        DefaultHost,
		port:        DefaultPort,
		authTimeout: DefaultAuthorizeTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "authserver")

	handler, err := s.buildRouter()
	if err != nil {
		return nil, err
	}
	s.handler = handler
	return s, nil
}

func (s *Server) buildRouter() (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Use(securityHeaders)

	for _, rt := range routes {
		switch rt.kind {
		case pageRoute:
			h, err := web.Handler(rt.page, http.StatusOK)
			if err != nil {
				return nil, fmt.Errorf("route %s %s: %w", rt.method, rt.path, err)
			}
			r.Method(rt.method, rt.path, h)
		case loginRoute:
			r.Method(rt.method, rt.path, http.HandlerFunc(s.handleLogin))
		}
	}

	notFound, err := web.Handler(web.PageNotFound, http.StatusNotFound)
	if err != nil {
		return nil, err
	}
	r.NotFound(notFound.ServeHTTP)
	return r, nil
}

// Handler returns the routed handler, for mounting in tests or another server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("malformed login form", "error", err)
		http.Redirect(w, r, PathBadData, http.StatusFound)
		return
	}

	key := strings.TrimSpace(r.PostForm.Get("apikey"))
	if key == "" {
		s.logger.Warn("login form without api key")
		http.Redirect(w, r, PathBadData, http.StatusFound)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.authTimeout)
	defer cancel()

	s.loginMu.Lock()
	outcome := s.authorize(ctx, key)
	s.loginMu.Unlock()

	s.logger.Info("login submitted", "outcome", outcome.String())
	http.Redirect(w, r, redirectFor(outcome), http.StatusFound)
}

// authorize calls the Authorizer, turning a panic into a plain failure so the
// browser still lands on the failure page.
func (s *Server) authorize(ctx context.Context, key string) (outcome account.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("authorizer panicked", "panic", rec)
			outcome = account.OutcomeFailed
		}
	}()
	return s.authorizer.Authorize(ctx, key)
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return ErrAlreadyRunning
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, "authserver.Start", "binding "+addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	served := make(chan struct{})

	s.srv = srv
	s.served = served
	s.bound = ln.Addr().(*net.TCPAddr).Port

	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve failed", "error", err)
		}
	}()

	s.logger.Info("listening", "uri", s.uriLocked())
	return nil
}

// Running reports whether the server is serving.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.srv != nil
}

// URI returns the address the browser should open. Once started it carries the
// bound port.
func (s *Server) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uriLocked()
}

func (s *Server) uriLocked() string {
	port := s.port
	if s.srv != nil {
		port = s.bound
	}
	return "http://" + net.JoinHostPort(s.host, strconv.Itoa(port)) + "/"
}

// Shutdown stops the server and waits for the serve loop to exit. It is a
// no-op when the server is not running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, served := s.srv, s.served
	s.srv = nil
	s.served = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	select {
	case <-served:
	case <-ctx.Done():
	}
	if err != nil {
		return fmt.Errorf("shutting down authorization server: %w", err)
	}
	s.logger.Info("stopped")
	return nil
}
