package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultReconcileSchedule runs reconciliation nightly at 03:00.
const DefaultReconcileSchedule = "0 3 * * *"

// Scheduler runs reconciliation on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	reconciler *Reconciler
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewScheduler parses schedule and registers the reconciliation job.
// Overlapping runs are skipped.
func NewScheduler(schedule string, reconciler *Reconciler, logger zerolog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}
	logger = logger.With().Str("component", "maintenance_scheduler").Logger()
	cl := cronLogger{logger: logger}

	s := &Scheduler{
		cron:       cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		reconciler: reconciler,
		timeout:    time.Hour,
		logger:     logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.runOnce); err != nil {
		return nil, fmt.Errorf("parse reconcile schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.reconciler.ReconcileAll(ctx); err != nil {
		s.logger.Error().Err(err).Msg("scheduled counter reconciliation failed")
	}
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits
// for a running job to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Msg("maintenance scheduler started")
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("maintenance scheduler stopped")
	return ctx.Err()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
