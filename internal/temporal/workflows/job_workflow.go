// Package workflows holds the Temporal workflows run by the screening worker.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	litemporal "github.com/helixir/screening-workflow-service/internal/temporal"
	"github.com/helixir/screening-workflow-service/internal/temporal/activities"
)

// JobActivityOptions returns the activity options for a job run. The
// start-to-close timeout leaves room above the coordinator's lock hold
// timeout so the coordinator reports the overrun, not Temporal.
func JobActivityOptions(lockHold time.Duration) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: lockHold + 5*time.Minute,
		HeartbeatTimeout:    1 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        2 * time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: activities.NonRetryableErrorTypes,
		},
	}
}

// NewJobWorkflow returns the workflow that runs one scheduled job. Every
// outbox job row starts exactly one execution, keyed by the row's event ID.
func NewJobWorkflow(lockHold time.Duration) func(workflow.Context, litemporal.JobInput) (*activities.JobOutput, error) {
	opts := JobActivityOptions(lockHold)

	return func(ctx workflow.Context, input litemporal.JobInput) (*activities.JobOutput, error) {
		logger := workflow.GetLogger(ctx)
		logger.Info("starting job workflow",
			"job", string(input.Job),
			"reviewID", input.Args.ReviewID,
			"eventID", input.EventID,
		)

		var jobAct *activities.JobActivities
		var out activities.JobOutput
		err := workflow.ExecuteActivity(workflow.WithActivityOptions(ctx, opts), jobAct.RunJob, input).Get(ctx, &out)
		if err != nil {
			logger.Error("job failed", "job", string(input.Job), "reviewID", input.Args.ReviewID, "error", err)
			return nil, fmt.Errorf("run %s job for review %d: %w", input.Job, input.Args.ReviewID, err)
		}

		logger.Info("job workflow completed",
			"job", string(out.Job),
			"reviewID", out.ReviewID,
			"skipped", out.Skipped,
		)
		return &out, nil
	}
}
