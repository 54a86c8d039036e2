// Package httpserver provides the HTTP REST API of the screening workflow
// service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/screening-workflow-service/internal/database"
	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/maintenance"
	"github.com/helixir/screening-workflow-service/internal/ranking"
	"github.com/helixir/screening-workflow-service/internal/repository"
	"github.com/helixir/screening-workflow-service/internal/screening"
)

// ScreeningService records reviewer decisions and data extraction.
type ScreeningService interface {
	RecordScreening(ctx context.Context, in domain.ScreeningInput) (*screening.Result, error)
	UpdateScreening(ctx context.Context, in domain.ScreeningInput) (*screening.Result, error)
	DeleteScreening(ctx context.Context, ref screening.ScreeningRef) (*screening.Result, error)
	SaveDataExtraction(ctx context.Context, in screening.DataExtractionInput) (*domain.Study, error)
}

// QueueService serves ranked citation screening queues.
type QueueService interface {
	Get(ctx context.Context, req ranking.QueueRequest) (*ranking.QueuePage, error)
}

// JobTrigger schedules background jobs on demand.
type JobTrigger interface {
	TriggerDedupe(ctx context.Context, reviewID int64) (*domain.OutboxEvent, error)
	TriggerTraining(ctx context.Context, reviewID int64) (*domain.OutboxEvent, error)
}

// CounterReconciler repairs a review's counters.
type CounterReconciler interface {
	Reconcile(ctx context.Context, reviewID int64) (*maintenance.ReconcileResult, error)
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// PoolHealth reports database reachability and connection pool usage.
type PoolHealth interface {
	Health(ctx context.Context) database.HealthStatus
}

// Deps are the services behind the API.
type Deps struct {
	Tx         repository.Transactor
	Screening  ScreeningService
	Queue      QueueService
	Jobs       JobTrigger
	Reconciler CounterReconciler

	// Liveness is checked by /healthz, Readiness (in addition) by /readyz.
	Liveness  map[string]HealthCheck
	Readiness map[string]HealthCheck
	// Database, when set, is reported by /readyz with its pool statistics.
	Database PoolHealth
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	deps       Deps
	validate   *validator.Validate
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server.
func NewServer(cfg Config, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(s.requestLogger)
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1/reviews/{reviewID}", func(r chi.Router) {
		r.Use(reviewIDMiddleware)

		r.Get("/", s.getReview)
		r.Get("/dedupe/latest", s.getLatestDedupeRun)
		r.Post("/dedupe", s.triggerDedupe)
		r.Post("/training", s.triggerTraining)
		r.Put("/keyterms", s.replaceKeyterms)
		r.Post("/counters/reconcile", s.reconcileCounters)
		r.Put("/studies/{studyID}/extraction", s.saveDataExtraction)

		r.Group(func(r chi.Router) {
			r.Use(userIDMiddleware)

			r.Get("/queue", s.getQueue)
			r.Post("/studies/{studyID}/screenings/{stage}", s.recordScreening)
			r.Put("/studies/{studyID}/screenings/{stage}", s.updateScreening)
			r.Delete("/studies/{studyID}/screenings/{stage}", s.deleteScreening)
		})
	})

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	body, code := runChecks(r.Context(), "ok", "unhealthy", s.deps.Liveness)
	writeJSON(w, code, body)
}

// readinessHandler returns readiness status, including every liveness check.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]HealthCheck, len(s.deps.Liveness)+len(s.deps.Readiness))
	for name, check := range s.deps.Liveness {
		checks[name] = check
	}
	for name, check := range s.deps.Readiness {
		checks[name] = check
	}
	body, code := runChecks(r.Context(), "ready", "not_ready", checks)
	if s.deps.Database != nil {
		health := s.deps.Database.Health(r.Context())
		body["database"] = health
		if health.Status != "healthy" {
			body["status"] = "not_ready"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, body)
}

func runChecks(ctx context.Context, okStatus, failStatus string, checks map[string]HealthCheck) (map[string]any, int) {
	body := map[string]any{"status": okStatus}
	code := http.StatusOK
	for name, check := range checks {
		if err := check(ctx); err != nil {
			body[name] = err.Error()
			body["status"] = failStatus
			code = http.StatusServiceUnavailable
			continue
		}
		body[name] = "healthy"
	}
	return body, code
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent; an encode failure cannot be reported.
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}
