package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// HealthReporter periodically runs dependency checks and publishes the
// result on a gRPC health server.
type HealthReporter struct {
	health   *health.Server
	checks   map[string]Check
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewHealthReporter creates a reporter. interval defaults to 15s.
func NewHealthReporter(hs *health.Server, checks map[string]Check, interval time.Duration, logger zerolog.Logger) *HealthReporter {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &HealthReporter{
		health:   hs,
		checks:   checks,
		interval: interval,
		timeout:  5 * time.Second,
		logger:   logger.With().Str("component", "health_reporter").Logger(),
	}
}

// Run reports immediately and then every interval until ctx is done, at
// which point ServiceName is marked NOT_SERVING.
func (r *HealthReporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.Report(ctx)
		select {
		case <-ctx.Done():
			r.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
			return nil
		case <-ticker.C:
		}
	}
}

// Report runs every check once and updates the serving status.
func (r *HealthReporter) Report(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ok := true
	for name, check := range r.checks {
		if err := check(ctx); err != nil {
			ok = false
			r.logger.Warn().Err(err).Str("check", name).Msg("health check failed")
		}
	}

	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.health.SetServingStatus(ServiceName, st)
	return ok
}
