// Package web serves the JSON API over chi: ingestion (synchronous,
// asynchronous with SSE progress), CRUD for projects, subjects and samples,
// deletion impact and cascade deletes, orphan cleanup and analytics.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/immunoload/internal/config"
	"github.com/JonMunkholm/immunoload/internal/core"
	"github.com/JonMunkholm/immunoload/internal/metrics"
	mw "github.com/JonMunkholm/immunoload/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// Server is the HTTP server for the ingestion API.
type Server struct {
	service *core.Service
	cfg     *config.Config
	opener  Opener
	metrics *metrics.Recorder

	router  *chi.Mux
	handler http.Handler
	server  *http.Server

	limiters []*mw.RateLimiter
}

// Opener resolves server-side input locations such as s3://bucket/key.
type Opener interface {
	Open(ctx context.Context, location string) (core.RecordSource, error)
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics records request metrics and serves them at cfg.Metrics.Path.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = rec }
}

// WithOpener enables ingestion from server-side locations.
func WithOpener(o Opener) Option {
	return func(s *Server) { s.opener = o }
}

// NewServer creates a Server instance.
func NewServer(service *core.Service, cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.handler = s.router
	if len(cfg.CORS.AllowedOrigins) > 0 {
		s.handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
			ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler(s.router)
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	if s.metrics != nil {
		s.router.Use(mw.Logger(s.metrics))
	} else {
		s.router.Use(mw.Logger(nil))
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled && s.cfg.Rate.RequestsPerMinute > 0 {
		s.router.Use(s.newLimiter(s.cfg.Rate.RequestsPerMinute).Handler)
	}
}

func (s *Server) newLimiter(perMinute int) *mw.RateLimiter {
	rl := mw.NewRateLimiter(perMinute, time.Minute)
	s.limiters = append(s.limiters, rl)
	return rl
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		s.router.Handle(s.cfg.Metrics.Path, s.metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.cfg.Security))

		// Ingestion requests, progress streams and result waits last as
		// long as the run and are bounded by the run timeout instead.
		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled && s.cfg.Rate.IngestLimit > 0 {
				r.Use(s.newLimiter(s.cfg.Rate.IngestLimit).Handler)
			}
			r.Post("/ingest", s.handleIngest)
		})
		r.Get("/ingest/{runID}/progress", s.handleIngestProgress)
		r.Get("/ingest/{runID}/result", s.handleIngestResult)

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
			}

			r.Get("/ingest/status", s.handleIngestStatus)
			r.Get("/ingest/{runID}", s.handleIngestRun)
			r.Post("/ingest/{runID}/cancel", s.handleIngestCancel)

			r.Get("/projects", s.handleListProjects)
			r.Post("/projects", s.handleCreateProject)
			r.Get("/projects/{id}", s.handleGetProject)
			r.Get("/projects/{id}/samples", s.handleProjectSamples)
			r.Get("/projects/{id}/impact", s.handleImpact(core.KindProject))
			r.Delete("/projects/{id}", s.handleDelete(core.KindProject))

			r.Get("/subjects", s.handleListSubjects)
			r.Post("/subjects", s.handleCreateSubject)
			r.Post("/subjects/batch", s.handleCreateSubjectsBatch)
			r.Post("/subjects/check-duplicate", s.handleCheckDuplicate)
			r.Get("/subjects/{id}", s.handleGetSubject)
			r.Get("/subjects/{id}/samples", s.handleSubjectSamples)
			r.Get("/subjects/{id}/impact", s.handleImpact(core.KindSubject))
			r.Delete("/subjects/{id}", s.handleDelete(core.KindSubject))

			r.Get("/samples", s.handleListSamples)
			r.Post("/samples", s.handleCreateSample)
			r.Post("/samples/batch", s.handleCreateSamplesBatch)
			r.Get("/samples/{id}", s.handleGetSample)
			r.Get("/samples/{id}/impact", s.handleImpact(core.KindSample))
			r.Delete("/samples/{id}", s.handleDelete(core.KindSample))

			r.Post("/deletion/batch", s.handleDeleteBatch)
			r.Post("/deletion/cleanup", s.handleCleanup)

			r.Get("/analytics/summary", s.handleSummary)
		})
	})
}

// Handler returns the root handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	for _, rl := range s.limiters {
		go rl.Cleanup(ctx)
	}

	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
