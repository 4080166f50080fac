// Package api provides the HTTP and WebSocket gateway for LifeStation.
//
// It accepts inbound events as JSON, feeds them through the dialog dispatcher and returns
// the reply. It also serves the menu graph, a health check and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/LifeStation/internal/dialog"
	"github.com/BTreeMap/LifeStation/internal/menu"
	"github.com/BTreeMap/LifeStation/internal/models"
	"github.com/BTreeMap/LifeStation/internal/observability"
	"github.com/BTreeMap/LifeStation/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// Default configuration constants
const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown of in-flight requests.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultDispatchTimeout bounds how long a request waits for its reply.
	DefaultDispatchTimeout = 15 * time.Second
	// maxEventBytes caps request bodies and WebSocket frames.
	maxEventBytes = 64 << 10
)

// Dispatcher is the part of dialog.Dispatcher the gateway uses.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.Event) (dialog.Response, error)
}

// Opts holds configuration for the gateway.
type Opts struct {
	Addr            string
	Token           string
	Deduper         store.Deduper
	Metrics         *observability.Metrics
	DispatchTimeout time.Duration
}

// Option defines a configuration option for the gateway.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithToken sets the bearer token required on /v1 routes. Empty disables the check.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithDeduper rejects events whose id was already accepted.
func WithDeduper(d store.Deduper) Option {
	return func(o *Opts) {
		o.Deduper = d
	}
}

// WithMetrics exposes m on /metrics and records request counters on it.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Opts) {
		o.Metrics = m
	}
}

// WithDispatchTimeout bounds how long a request waits for its reply.
func WithDispatchTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.DispatchTimeout = d
	}
}

// Server is the gateway.
type Server struct {
	dispatcher Dispatcher
	graph      *menu.Graph
	opts       Opts
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a gateway in front of dispatcher.
func NewServer(dispatcher Dispatcher, graph *menu.Graph, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, DispatchTimeout: DefaultDispatchTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}
	if cfg.Token == "" {
		slog.Warn("Server created without token; /v1 routes are unauthenticated")
	}

	s := &Server{
		dispatcher: dispatcher,
		graph:      graph,
		opts:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are bots and bridges authenticated by token, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/events", s.eventsHandler)
		r.Get("/menus/{id}", s.menuHandler)
		r.Get("/ws", s.wsHandler)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.opts.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		slog.Error("API server failed", "error", err)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", "error", err)
		return err
	}
	slog.Info("API server stopped")
	return nil
}
