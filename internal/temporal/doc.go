// Package temporal runs the screening service's background jobs on
// Temporal.
//
// The outbox relay hands every due job row to Dispatcher.Dispatch, which
// starts one ScreeningJobWorkflow per row with the row's event ID as the
// workflow ID. Temporal rejects a second start for the same ID, so a row
// relayed twice still runs its job once.
//
// The workflow (package workflows) runs a single activity (package
// activities) that calls the coordinator. Errors are classified there:
// broken invariants and bad input fail the workflow immediately; lock
// contention and dependency outages are retried with backoff.
//
// Worker setup:
//
//	mgr, err := temporal.NewWorkerManager(c, temporal.DefaultWorkerConfig(cfg.Temporal.TaskQueue))
//	if err != nil {
//	    return err
//	}
//	mgr.RegisterWorkflow(workflows.NewJobWorkflow(cfg.Pipeline.LockHoldTimeout), temporal.JobWorkflowName)
//	mgr.RegisterActivity(activities.NewJobActivities(coord))
//	return mgr.Start(ctx)
package temporal
