// Package activities holds the Temporal activities run by the screening
// worker.
package activities

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/helixir/screening-workflow-service/internal/coordinator"
	"github.com/helixir/screening-workflow-service/internal/domain"
	litemporal "github.com/helixir/screening-workflow-service/internal/temporal"
)

// Application error types reported to Temporal.
const (
	ErrTypeInvariantViolation = "invariant_violation"
	ErrTypeInvalidInput       = "invalid_input"
	ErrTypeNotFound           = "not_found"
	ErrTypeLockNotAcquired    = "lock_not_acquired"
	ErrTypeServiceUnavailable = "service_unavailable"
)

// NonRetryableErrorTypes lists the error types a retry can never fix.
var NonRetryableErrorTypes = []string{ErrTypeInvariantViolation, ErrTypeInvalidInput, ErrTypeNotFound}

// JobRunner runs a background job under its review lock.
type JobRunner interface {
	RunJob(ctx context.Context, job domain.JobName, args domain.JobArgs) (*coordinator.JobResult, error)
}

// JobOutput is the result of a job activity.
type JobOutput struct {
	Job      domain.JobName `json:"job"`
	ReviewID int64          `json:"review_id"`
	Skipped  bool           `json:"skipped"`
	Reason   string         `json:"reason,omitempty"`
}

// JobActivities runs coordinator jobs as Temporal activities.
type JobActivities struct {
	runner    JobRunner
	heartbeat time.Duration
}

// NewJobActivities creates a new JobActivities instance.
func NewJobActivities(runner JobRunner) *JobActivities {
	return &JobActivities{runner: runner, heartbeat: 10 * time.Second}
}

// RunJob runs one job and heartbeats while it holds the review lock.
func (a *JobActivities) RunJob(ctx context.Context, input litemporal.JobInput) (*JobOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("starting job",
		"job", string(input.Job),
		"reviewID", input.Args.ReviewID,
		"trigger", input.Args.Trigger,
		"eventID", input.EventID,
	)

	stop := a.keepAlive(ctx)
	res, err := a.runner.RunJob(ctx, input.Job, input.Args)
	stop()
	if err != nil {
		logger.Warn("job failed", "job", string(input.Job), "reviewID", input.Args.ReviewID, "error", err)
		return nil, classify(err)
	}

	logger.Info("job completed",
		"job", string(input.Job),
		"reviewID", input.Args.ReviewID,
		"skipped", res.Skipped,
		"reason", res.Reason,
	)
	return &JobOutput{Job: res.Job, ReviewID: res.ReviewID, Skipped: res.Skipped, Reason: res.Reason}, nil
}

func (a *JobActivities) keepAlive(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(a.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}

// classify turns a job error into a Temporal application error. Broken
// invariants and bad input fail the workflow at once; lock contention and
// dependency outages are retried.
func classify(err error) error {
	var invariant *domain.InvariantViolation
	switch {
	case errors.As(err, &invariant):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvariantViolation, err)
	case errors.Is(err, domain.ErrInvalidInput):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	case errors.Is(err, domain.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNotFound, err)
	case errors.Is(err, domain.ErrLockNotAcquired):
		return temporal.NewApplicationError(err.Error(), ErrTypeLockNotAcquired, err)
	case errors.Is(err, domain.ErrServiceUnavailable):
		return temporal.NewApplicationError(err.Error(), ErrTypeServiceUnavailable, err)
	default:
		return err
	}
}
