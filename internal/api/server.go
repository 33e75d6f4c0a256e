// Package api serves the fable builder over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/interloop-de/forecast-in-a-box-sub001/internal/auth"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/catalogue"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/events"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fable"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/fablestore"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/jobs"
	"github.com/interloop-de/forecast-in-a-box-sub001/internal/urlstate"
)

// FableStore persists named fables.
type FableStore interface {
	Create(ctx context.Context, name string, doc *fable.Builder, tags []string) (*fablestore.Record, error)
	Get(ctx context.Context, id string) (*fablestore.Record, error)
	Update(ctx context.Context, id, name string, doc *fable.Builder, tags []string) (*fablestore.Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]fablestore.Summary, error)
}

// JobQueue records submitted fables.
type JobQueue interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (string, error)
	Get(ctx context.Context, id string) (*jobs.Job, error)
	List(ctx context.Context, limit int) ([]*jobs.Job, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the admin bearer token (full access).
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// URLStateMaxLength bounds inline URL state. Zero means the codec default.
	URLStateMaxLength int
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	catalogue catalogue.Catalogue
	fables    FableStore
	jobs      JobQueue
	events    *events.Hub
	codec     *urlstate.Codec
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. A nil hub gets a private one.
func New(config Config, cat catalogue.Catalogue, fables FableStore, jobQueue JobQueue, hub *events.Hub, logger *slog.Logger) *Server {
	if config.URLStateMaxLength <= 0 {
		config.URLStateMaxLength = urlstate.MaxStateLength
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		catalogue: cat,
		fables:    fables,
		jobs:      jobQueue,
		events:    hub,
		codec:     urlstate.NewCodec(config.URLStateMaxLength),
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.setupRoutes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	read := []string{auth.ScopeFableRO}
	write := []string{auth.ScopeFableRW}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes(read...)).Get("/openapi.json", s.handleOpenAPI)
		r.With(s.requireScopes(read...)).Get("/catalogue", s.handleCatalogue)
		r.With(s.requireScopes(read...)).Post("/plugin/{store}/{local}/generate", s.handleGenerate)

		r.With(s.requireScopes(read...)).Post("/fable/validate", s.handleValidate)
		r.With(s.requireScopes(read...)).Post("/fable/encode", s.handleEncode)
		r.With(s.requireScopes(read...)).Get("/fable/decode", s.handleDecode)

		r.With(s.requireScopes(read...)).Get("/fables", s.handleListFables)
		r.With(s.requireScopes(write...)).Post("/fable", s.handleCreateFable)
		r.With(s.requireScopes(read...)).Get("/fable/{fableID}", s.handleGetFable)
		r.With(s.requireScopes(write...)).Put("/fable/{fableID}", s.handleUpdateFable)
		r.With(s.requireScopes(write...)).Delete("/fable/{fableID}", s.handleDeleteFable)
		r.With(s.requireScopes(read...)).Get("/fable/{fableID}/link", s.handleFableLink)

		r.With(s.requireScopes(auth.ScopeJobsRW)).Post("/job", s.handleSubmitJob)
		r.With(s.requireScopes(auth.ScopeJobsRO)).Get("/job/{jobID}", s.handleGetJob)
		r.With(s.requireScopes(auth.ScopeJobsRO)).Get("/jobs", s.handleListJobs)

		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
