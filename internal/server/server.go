// Package server exposes the cached dataset, the status document and the
// refresh controls over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eunmann/shab-cache/internal/config"
	"github.com/eunmann/shab-cache/internal/refresh"
	"github.com/eunmann/shab-cache/pkg/logging"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// Refresher starts refreshes and reports on them.
type Refresher interface {
	Run(ctx context.Context) (refresh.Outcome, error)
	Running() bool
	Progress() *refresh.Progress
}

// Server serves the HTTP API.
type Server struct {
	cfg       *config.Config
	refresher Refresher
	cache     *DatasetCache
	limiter   *rate.Limiter
	log       zerolog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithRefreshLimit replaces the default limit on POST /api/refresh of one
// request every 10 seconds with a burst of 3.
func WithRefreshLimit(l *rate.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// New creates a Server. Background refreshes started over HTTP run until
// Close.
func New(cfg *config.Config, refresher Refresher, cache *DatasetCache, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		refresher: refresher,
		cache:     cache,
		limiter:   rate.NewLimiter(rate.Every(10*time.Second), 3),
		log:       logging.WithPhase("serve"),
		baseCtx:   ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Serve.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/records", s.records)
		r.Get("/monthly", s.monthly)
		r.Get("/progress", s.progress)
		r.With(limit(s.limiter)).Post("/refresh", s.triggerRefresh)
	})
	return r
}

// ListenAndServe serves on the configured address until ctx ends, then shuts
// down gracefully and waits for background refreshes.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Serve.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close cancels background refreshes and waits for them to return.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// startRefresh runs a refresh in the background. It reports false when one
// is already running.
func (s *Server) startRefresh() bool {
	if s.refresher.Running() {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err := s.refresher.Run(s.baseCtx)
		switch {
		case errors.Is(err, refresh.ErrAlreadyRunning):
			s.log.Debug().Msg("refresh already running")
		case err != nil:
			s.log.Error().Err(err).Msg("background refresh failed")
		}
	}()
	return true
}
