// Package api serves a read-only view of the dispatcher over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/simdispatch/internal/events"
	"github.com/mattjoyce/simdispatch/internal/supervisor"
)

// Source is what the status server reports on. The dispatcher publishes both
// at the end of every cycle.
type Source interface {
	Workers() []supervisor.Info
	LastCycle() (events.CycleSummary, bool)
}

// Config holds status server configuration.
type Config struct {
	Listen string
	// Interval is the configured dispatch interval, reported by /healthz and
	// used to flag a stalled loop.
	Interval time.Duration
	// KeepAlive is the comment interval on idle event streams. Zero means
	// defaultKeepAlive.
	KeepAlive time.Duration
}

// Server is the HTTP status server.
type Server struct {
	config    Config
	source    Source
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	now       func() time.Time
}

// New creates a status server. hub may be nil, in which case the event
// routes report an empty feed.
func New(config Config, source Source, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(1)
	}
	return &Server{
		config:    config,
		source:    source,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start listens on Config.Listen and serves until ctx is cancelled, then
// shuts down gracefully. A cancelled context is not an error.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("status server listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("status server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("status server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown failed: %w", err)
		}
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("status server error: %w", err)
	}
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/jobs", s.handleJobs)
	r.Get("/jobs/{jobID}", s.handleJob)
	r.Get("/events", s.handleEvents)
	r.Get("/events/stream", s.handleEventStream)

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
