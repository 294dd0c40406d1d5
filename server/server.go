package server

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/NodLabs/xviz/errors"
	"github.com/NodLabs/xviz/health"
	"github.com/NodLabs/xviz/metric"
	"github.com/NodLabs/xviz/session"
)

// SessionHeader carries the session id on the upgrade response. Clients send
// it back as ?session=<id> to reattach to a live session.
const SessionHeader = "X-Xviz-Session"

// Binding creates sessions for incoming connections. A binding that cannot
// serve a request returns a ProviderResolutionError so the next one is tried.
type Binding interface {
	NewSession(r *http.Request) (*session.Session, error)
}

// HealthComponent is the name the server reports itself under in the health monitor.
const HealthComponent = "server"

// Config holds listener settings.
type Config struct {
	Port            int
	MetricsPath     string
	HealthPath      string
	ShutdownTimeout time.Duration
	ReadBufferSize  int
	WriteBufferSize int
	// TLS, when set, serves wss:// and https:// on the same port.
	TLS *tls.Config
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Port:            8081,
		MetricsPath:     metric.DefaultPath,
		HealthPath:      "/healthz",
		ShutdownTimeout: 5 * time.Second,
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics exposes registry on the metrics path and records server metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *Server) {
		s.registry = registry
		if registry != nil {
			s.metrics = registry.CoreMetrics()
		}
	}
}

// WithHealth reports into monitor instead of a private one.
func WithHealth(monitor *health.Monitor) Option {
	return func(s *Server) {
		if monitor != nil {
			s.health = monitor
		}
	}
}

// Server accepts websocket connections and hands each one to a session.
type Server struct {
	bindings []Binding
	cfg      Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	health   *health.Monitor
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session.Session
	ctx      context.Context
	closing  bool

	wg sync.WaitGroup
}

// New creates a server that asks bindings, in order, for a session.
func New(bindings []Binding, cfg Config, opts ...Option) *Server {
	d := DefaultConfig()
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = d.MetricsPath
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = d.HealthPath
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = d.ReadBufferSize
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = d.WriteBufferSize
	}

	s := &Server{
		bindings: bindings,
		cfg:      cfg,
		logger:   slog.Default(),
		sessions: make(map[string]*session.Session),
		health:   health.NewMonitor(),
		ctx:      context.Background(),
		upgrader: websocket.Upgrader{
			// Viewers are served from arbitrary origins.
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	return s
}

// Start binds the port, calls ready with the effective port, and serves
// until ctx is cancelled. A bind failure is returned as a fatal error.
func (s *Server) Start(ctx context.Context, ready func(port int)) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		s.health.Update(HealthComponent, health.FromError(HealthComponent, err))
		return errors.WrapFatal(err, "Server", "Start", fmt.Sprintf("bind port %d", s.cfg.Port))
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}

	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle(s.cfg.MetricsPath, metric.Handler(s.registry))
	mux.Handle(s.cfg.HealthPath, health.Handler(s.health, "xvizserver"))
	mux.Handle("/", s)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.health.UpdateHealthy(HealthComponent, fmt.Sprintf("listening on port %d", port))
	if ready != nil {
		ready(port)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return errors.WrapFatal(err, "Server", "Start", "serve")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.health.UpdateUnhealthy(HealthComponent, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("HTTP server shutdown error", "error", err)
		}
		s.closeAll()
		return nil
	})

	err = g.Wait()
	s.wg.Wait()
	s.logger.Info("Server stopped")
	return err
}

// ServeHTTP routes a connection to an existing live session or a new one.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("session"); id != "" {
		s.reattach(w, r, id)
		return
	}

	sess, err := s.newSession(r)
	if err != nil {
		status := statusFor(err)
		if errors.IsProviderResolution(err) && s.metrics != nil {
			s.metrics.RecordResolutionFailure()
		}
		s.logger.Info("Connection rejected", "path", r.URL.Path, "query", r.URL.RawQuery,
			"status", status, "kind", errors.Kind(err), "error", err)
		http.Error(w, err.Error(), status)
		return
	}

	// Tracked before the upgrade: hijacked connections are invisible to
	// http.Server.Shutdown, so closeAll must see every session that can run.
	ctx, ok := s.track(sess)
	if !ok {
		s.logger.Info("Connection rejected during shutdown", "session", sess.ID())
		_ = sess.Close()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()
	defer s.forget(sess)

	header := http.Header{}
	header.Set(SessionHeader, sess.ID())
	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		// Upgrade has already replied to the client.
		s.logger.Warn("Websocket upgrade failed", "session", sess.ID(), "error", err)
		_ = sess.Close()
		return
	}

	if err := sess.Run(ctx, newWSTransport(conn)); err != nil {
		s.logger.Debug("Session failed", "session", sess.ID(), "kind", errors.Kind(err))
	}
}

// newSession asks each binding in order. Resolution failures fall through to
// the next binding; any other error stops the search.
func (s *Server) newSession(r *http.Request) (*session.Session, error) {
	var lastErr error
	for _, b := range s.bindings {
		sess, err := b.NewSession(r)
		if err == nil {
			return sess, nil
		}
		if !errors.IsProviderResolution(err) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.ProviderResolution(
			stderrors.New("no bindings configured"), "Server", "newSession", "resolve provider")
	}
	return nil, lastErr
}

func (s *Server) reattach(w http.ResponseWriter, r *http.Request, id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()

	if !ok {
		http.Error(w, fmt.Sprintf("session %s not found", id), http.StatusNotFound)
		return
	}
	if !sess.Live() {
		http.Error(w, fmt.Sprintf("session %s does not accept reconnects", id), http.StatusConflict)
		return
	}

	header := http.Header{}
	header.Set(SessionHeader, id)
	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "session", id, "error", err)
		return
	}

	if err := sess.Attach(newWSTransport(conn)); err != nil {
		s.logger.Info("Reattach refused", "session", id, "error", err)
		reject(conn, err.Error())
		return
	}
	s.logger.Info("Client reattaching", "session", id)
}

// track registers sess and adds it to the wait group unless shutdown has begun.
func (s *Server) track(sess *session.Session) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return nil, false
	}
	s.sessions[sess.ID()] = sess
	s.wg.Add(1)
	return s.ctx, true
}

func (s *Server) forget(sess *session.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[sess.ID()] == sess {
		delete(s.sessions, sess.ID())
	}
}

// Health returns the monitor the server reports into.
func (s *Server) Health() *health.Monitor { return s.health }

// Sessions returns the number of sessions currently running.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// closeAll stops admitting sessions and closes the running ones.
func (s *Server) closeAll() {
	s.mu.Lock()
	s.closing = true
	open := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		_ = sess.Close()
	}
	if len(open) > 0 {
		s.logger.Info("Closed sessions on shutdown", "count", len(open))
	}
}

// statusFor maps a session setup error to the HTTP status sent instead of an upgrade.
func statusFor(err error) int {
	switch {
	case errors.IsConfiguration(err):
		return http.StatusBadRequest
	case errors.IsProviderResolution(err):
		return http.StatusNotFound
	case errors.IsProviderIO(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
