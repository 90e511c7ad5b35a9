// Package server provides the HTTP API for jinzai.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/jinzai/internal/config"
	"github.com/hyperjump/jinzai/internal/ingest"
	"github.com/hyperjump/jinzai/internal/metrics"
	"github.com/hyperjump/jinzai/internal/search"
	"github.com/hyperjump/jinzai/internal/storage"
	"github.com/hyperjump/jinzai/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP server for the jinzai API.
type Server struct {
	engine  *search.Engine
	coord   *ingest.Coordinator
	storage storage.Storage
	metrics *metrics.Collector
	trigger func()
	config  *config.ServerConfig
	logger  *zap.Logger

	mu     sync.Mutex
	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics exposes m on /api/v1/metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithIngestTrigger sets the function called after a document is added or regenerated,
// typically Scheduler.Trigger.
func WithIngestTrigger(fn func()) Option {
	return func(s *Server) { s.trigger = fn }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine *search.Engine,
	coord *ingest.Coordinator,
	storage storage.Storage,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		engine:  engine,
		coord:   coord,
		storage: storage,
		config:  cfg,
		logger:  utils.OrNop(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)
		r.Post("/search/batch", s.handleBatchSearch)

		r.Get("/documents", s.handleListDocuments)
		r.Post("/documents", s.handleUpsertDocument)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Post("/documents/{id}/regenerate", s.handleRegenerate)

		r.Post("/ingest", s.handleIngest)

		r.Get("/queries", s.handleListQueries)
		r.Post("/queries/{id}/feedback", s.handleFeedback)

		r.Get("/status", s.handleStatus)
		r.Get("/metrics", s.handleMetrics)
	})
	return r
}

// Start serves the API until ctx is cancelled, then shuts down gracefully. ctx also becomes
// the base context of every request.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				s.logger.Warn("server shutdown failed", zap.Error(err))
			}
		case <-stopped:
		}
	}()

	s.logger.Info("starting server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
