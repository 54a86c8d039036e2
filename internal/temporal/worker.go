package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// WorkerConfig contains configuration for the Temporal worker.
type WorkerConfig struct {
	// TaskQueue is the name of the task queue to poll.
	TaskQueue string

	// MaxConcurrentActivityExecutionSize bounds concurrently running jobs.
	// Jobs hold a review lock for minutes, so keep this small. Default: 8
	MaxConcurrentActivityExecutionSize int

	// MaxConcurrentWorkflowTaskExecutionSize is the maximum concurrent workflow task executions.
	// Default: 20
	MaxConcurrentWorkflowTaskExecutionSize int
}

// DefaultWorkerConfig returns a WorkerConfig with default values.
func DefaultWorkerConfig(taskQueue string) WorkerConfig {
	return WorkerConfig{
		TaskQueue:                              taskQueue,
		MaxConcurrentActivityExecutionSize:     8,
		MaxConcurrentWorkflowTaskExecutionSize: 20,
	}
}

// workerOptionsFromConfig builds worker.Options, applying defaults for
// zero-valued fields.
func workerOptionsFromConfig(cfg WorkerConfig) worker.Options {
	defaults := DefaultWorkerConfig(cfg.TaskQueue)
	if cfg.MaxConcurrentActivityExecutionSize == 0 {
		cfg.MaxConcurrentActivityExecutionSize = defaults.MaxConcurrentActivityExecutionSize
	}
	if cfg.MaxConcurrentWorkflowTaskExecutionSize == 0 {
		cfg.MaxConcurrentWorkflowTaskExecutionSize = defaults.MaxConcurrentWorkflowTaskExecutionSize
	}
	return worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.MaxConcurrentActivityExecutionSize,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.MaxConcurrentWorkflowTaskExecutionSize,
	}
}

// WorkerManager manages the lifecycle of a Temporal worker.
type WorkerManager struct {
	worker    worker.Worker
	taskQueue string
}

// NewWorkerManager creates a worker polling cfg.TaskQueue.
func NewWorkerManager(c client.Client, cfg WorkerConfig) (*WorkerManager, error) {
	if cfg.TaskQueue == "" {
		return nil, fmt.Errorf("task queue is required")
	}
	return &WorkerManager{
		worker:    worker.New(c, cfg.TaskQueue, workerOptionsFromConfig(cfg)),
		taskQueue: cfg.TaskQueue,
	}, nil
}

// RegisterWorkflow registers a workflow under name.
func (m *WorkerManager) RegisterWorkflow(wf interface{}, name string) {
	m.worker.RegisterWorkflowWithOptions(wf, workflow.RegisterOptions{Name: name})
}

// RegisterActivity registers an activity function or struct.
func (m *WorkerManager) RegisterActivity(activity interface{}) {
	m.worker.RegisterActivity(activity)
}

// TaskQueue returns the configured task queue name.
func (m *WorkerManager) TaskQueue() string {
	return m.taskQueue
}

// Start runs the worker and blocks until ctx is cancelled or the worker fails.
func (m *WorkerManager) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- m.worker.Run(worker.InterruptCh())
	}()

	select {
	case <-ctx.Done():
		m.worker.Stop()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
