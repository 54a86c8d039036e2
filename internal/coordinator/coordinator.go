// Package coordinator schedules and runs the review-scoped background jobs:
// deduplication, classifier training and keyterm suggestion.
//
// Triggers write a job row to the transactional outbox; the relay hands it
// to the task queue, whose worker calls Coordinator.RunJob. RunJob holds a
// named lock per job and review for the whole run, so two runs of the same
// job never overlap for one review while different reviews proceed in
// parallel. The lock is released on every exit path.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/screening-workflow-service/internal/dedup"
	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/observability"
	"github.com/helixir/screening-workflow-service/internal/outbox"
	"github.com/helixir/screening-workflow-service/internal/ranking"
	"github.com/helixir/screening-workflow-service/internal/repository"
)

// DedupeRunner runs the deduplication pipeline.
type DedupeRunner interface {
	Run(ctx context.Context, reviewID int64, force bool) (*dedup.Outcome, error)
}

// RankingTrainer runs the ranking jobs.
type RankingTrainer interface {
	TrainClassifier(ctx context.Context, reviewID int64) (*ranking.TrainingOutcome, error)
	SuggestKeyterms(ctx context.Context, reviewID int64) (*ranking.SuggestionOutcome, error)
}

// Config bounds lock waiting and holding.
type Config struct {
	LockAcquireTimeout time.Duration
	LockHoldTimeout    time.Duration
}

// JobResult summarises one job run.
type JobResult struct {
	Job      domain.JobName `json:"job"`
	ReviewID int64          `json:"review_id"`
	Skipped  bool           `json:"skipped"`
	Reason   string         `json:"reason,omitempty"`
	// Detail is the job-specific outcome.
	Detail any `json:"detail,omitempty"`
}

// Coordinator triggers and runs background jobs.
type Coordinator struct {
	tx      repository.Transactor
	locker  Locker
	dedupe  DedupeRunner
	trainer RankingTrainer
	cfg     Config
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates a Coordinator.
func New(tx repository.Transactor, locker Locker, dedupe DedupeRunner, trainer RankingTrainer, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Coordinator {
	if cfg.LockAcquireTimeout <= 0 {
		cfg.LockAcquireTimeout = 30 * time.Second
	}
	if cfg.LockHoldTimeout <= 0 {
		cfg.LockHoldTimeout = 15 * time.Minute
	}
	return &Coordinator{
		tx:      tx,
		locker:  locker,
		dedupe:  dedupe,
		trainer: trainer,
		cfg:     cfg,
		logger:  logger.With().Str("component", "coordinator").Logger(),
		metrics: metrics,
	}
}

// TriggerDedupe schedules a dedupe run that bypasses the freshness guard.
func (c *Coordinator) TriggerDedupe(ctx context.Context, reviewID int64) (*domain.OutboxEvent, error) {
	return c.enqueue(ctx, domain.JobDedupe, reviewID, domain.TriggerManual)
}

// TriggerTraining schedules a classifier training run.
func (c *Coordinator) TriggerTraining(ctx context.Context, reviewID int64) (*domain.OutboxEvent, error) {
	return c.enqueue(ctx, domain.JobClassifierTraining, reviewID, domain.TriggerManual)
}

// RecordsImported schedules a dedupe run after an import. The run is
// skipped if an earlier run already covers the new records.
func (c *Coordinator) RecordsImported(ctx context.Context, reviewID int64) (*domain.OutboxEvent, error) {
	return c.enqueue(ctx, domain.JobDedupe, reviewID, domain.TriggerImport)
}

func (c *Coordinator) enqueue(ctx context.Context, job domain.JobName, reviewID int64, trigger string) (*domain.OutboxEvent, error) {
	if reviewID <= 0 {
		return nil, domain.NewValidationError("review_id", "must be positive")
	}
	var ev *domain.OutboxEvent
	err := c.tx.InTx(ctx, func(ctx context.Context, s repository.Stores) error {
		if _, err := s.Reviews.Get(ctx, reviewID); err != nil {
			return err
		}
		var err error
		ev, err = outbox.NewEmitter(s.Outbox).Enqueue(ctx, job, domain.JobArgs{ReviewID: reviewID, Trigger: trigger}, 0)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.metrics.RecordJobEnqueued(string(job), trigger)
	logger := observability.WithJobContext(observability.WithReviewContext(c.logger, reviewID), string(job), ev.EventID.String())
	logger.Info().
		Str("trigger", trigger).
		Msg("job scheduled")
	return ev, nil
}

// RunJob runs job for args.ReviewID under the job's review lock. The run is
// cancelled when it exceeds the hold timeout.
func (c *Coordinator) RunJob(ctx context.Context, job domain.JobName, args domain.JobArgs) (*JobResult, error) {
	if args.ReviewID <= 0 {
		return nil, domain.NewValidationError("review_id", "must be positive")
	}
	run, err := c.runner(job)
	if err != nil {
		return nil, err
	}

	key := job.LockKey(args.ReviewID)
	logger := c.logger.With().Int64("review_id", args.ReviewID).Str("job", string(job)).Str("lock", key).Logger()

	waitStart := time.Now()
	lock, err := c.locker.Acquire(ctx, key, c.cfg.LockAcquireTimeout)
	c.metrics.RecordLockWait(string(job), time.Since(waitStart).Seconds())
	if err != nil {
		c.metrics.RecordLockFailure(string(job))
		logger.Warn().Err(err).Msg("review lock not acquired")
		return nil, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			logger.Error().Err(err).Msg("release review lock")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.LockHoldTimeout)
	defer cancel()

	started := time.Now()
	res, err := run(runCtx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && runCtx.Err() != nil && ctx.Err() == nil {
			err = domain.NewExternalServiceError("lock", "hold", fmt.Errorf("job exceeded lock hold timeout %s: %w", c.cfg.LockHoldTimeout, err))
		}
		logger.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("job failed")
		return nil, err
	}

	res.Job, res.ReviewID = job, args.ReviewID
	logger.Info().
		Bool("skipped", res.Skipped).
		Str("reason", res.Reason).
		Dur("elapsed", time.Since(started)).
		Msg("job finished")
	return res, nil
}

type jobFunc func(ctx context.Context, args domain.JobArgs) (*JobResult, error)

func (c *Coordinator) runner(job domain.JobName) (jobFunc, error) {
	switch job {
	case domain.JobDedupe:
		return c.runDedupe, nil
	case domain.JobClassifierTraining:
		return c.runTraining, nil
	case domain.JobKeytermSuggestion:
		return c.runKeyterms, nil
	default:
		return nil, domain.NewValidationError("job", fmt.Sprintf("unknown job %q", job))
	}
}

// runDedupe forces past the freshness guard only on manual triggers.
func (c *Coordinator) runDedupe(ctx context.Context, args domain.JobArgs) (*JobResult, error) {
	out, err := c.dedupe.Run(ctx, args.ReviewID, args.Trigger == domain.TriggerManual)
	if err != nil {
		return nil, err
	}
	return &JobResult{Skipped: out.Skipped, Reason: out.Reason, Detail: out.Run}, nil
}

func (c *Coordinator) runTraining(ctx context.Context, args domain.JobArgs) (*JobResult, error) {
	out, err := c.trainer.TrainClassifier(ctx, args.ReviewID)
	if err != nil {
		return nil, err
	}
	return &JobResult{Skipped: out.Skipped, Reason: out.Reason, Detail: out}, nil
}

func (c *Coordinator) runKeyterms(ctx context.Context, args domain.JobArgs) (*JobResult, error) {
	out, err := c.trainer.SuggestKeyterms(ctx, args.ReviewID)
	if err != nil {
		return nil, err
	}
	return &JobResult{Skipped: out.Skipped, Reason: out.Reason, Detail: out.Terms}, nil
}
