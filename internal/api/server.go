package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/market-radar/internal/ingest"
	"github.com/JakeFAU/market-radar/internal/logging"
	"github.com/JakeFAU/market-radar/internal/metrics"
	"github.com/JakeFAU/market-radar/internal/radar"
)

const (
	defaultRequestTimeout = 120 * time.Second
	storeTimeout          = 5 * time.Second
)

// Ingester runs one ingestion cycle.
type Ingester interface {
	Ingest(ctx context.Context, limit int) (ingest.Report, error)
}

// Evaluations creates and lists entity evaluations.
type Evaluations interface {
	Request(ctx context.Context, entityID string, full bool) (radar.Evaluation, error)
	List(ctx context.Context, entityID string) ([]radar.Evaluation, error)
}

// Deps are the collaborators behind the routes. Runs may be nil.
type Deps struct {
	Ingester    Ingester
	Entities    radar.EntityStore
	Runs        radar.RunStore
	Evaluations Evaluations
}

// Options tunes middleware and request limits.
type Options struct {
	APIKey             string
	CORSOrigins        []string
	// RequestTimeout bounds the read routes. Ingest and evaluate are exempt.
	RequestTimeout     time.Duration
	DefaultIngestLimit int
	MaxIngestLimit     int
}

// Server wires HTTP handlers to the ingestion and storage layers.
type Server struct {
	router chi.Router
	deps   Deps
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options, logger *zap.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.DefaultIngestLimit <= 0 {
		opts.DefaultIngestLimit = 20
	}
	if opts.MaxIngestLimit < opts.DefaultIngestLimit {
		opts.MaxIngestLimit = opts.DefaultIngestLimit
	}
	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: logging.OrNop(logger).Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(tracingMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(corsMiddleware(opts.CORSOrigins))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}

		// Bounded by the source, LLM and write timeouts, not RequestTimeout.
		r.Post("/ingest", s.ingest)
		r.Post("/entities/{id}/evaluate", s.evaluate)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(opts.RequestTimeout))
			r.Get("/entities", s.listEntities)
			r.Get("/entities/{id}", s.getEntity)
			r.Get("/entities/{id}/evaluations", s.listEvaluations)
			r.Get("/runs", s.listRuns)
			r.Get("/runs/{id}", s.getRun)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()
	if err := s.deps.Entities.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
