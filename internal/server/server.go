// Package server exposes lineage extraction over HTTP.
package server

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
	"github.com/leapstack-labs/sqlineage/internal/config"
	"github.com/leapstack-labs/sqlineage/internal/state"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Config holds configuration for the HTTP server.
type Config struct {
	config.ServeConfig
	Store    state.Store // optional; nil disables history endpoints
	Notifier *Notifier   // optional; created when nil
	Logger   *slog.Logger
}

// Server serves the lineage HTTP API.
type Server struct {
	cfg      config.ServeConfig
	store    state.Store
	notifier *Notifier
	logger   *slog.Logger
}

// NewServer creates a new server instance.
func NewServer(cfg Config) *Server {
	config.ApplyServeDefaults(&cfg.ServeConfig)
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewNotifier()
	}
	return &Server{
		cfg:      cfg.ServeConfig,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}
}

// Notifier returns the server's event notifier.
func (s *Server) Notifier() *Notifier {
	return s.notifier
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.logRequests,
		middleware.Recoverer,
	)

	r.Get("/healthz", s.handleHealth)

	// The event stream outlives the request timeout.
	r.Get("/v1/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.Timeout(s.cfg.RequestTimeout),
			middleware.Compress(5),
		)
		r.Post("/v1/lineage", s.handleLineage)
		r.Get("/v1/extractions", s.handleListExtractions)
		r.Get("/v1/extractions/{id}", s.handleGetExtraction)
	})

	return r
}

// Serve listens on the configured address and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting lineage server", slog.String("addr", ln.Addr().String()))

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.logger.Debug("shutting down lineage server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// logRequests logs one line per request with slog.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}
