package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/helixir/screening-workflow-service/internal/config"
	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/observability"
)

const (
	// JobWorkflowName is the registered name of the workflow that runs one
	// background job. The dispatcher starts it by name so callers need not
	// import the workflows package.
	JobWorkflowName = "ScreeningJobWorkflow"

	// DefaultJobExecutionTimeout bounds a whole job workflow, retries included.
	DefaultJobExecutionTimeout = 2 * time.Hour

	// DefaultHealthCheckTimeout is the timeout for Temporal server health checks.
	DefaultHealthCheckTimeout = 5 * time.Second
)

var (
	// ErrWorkflowNotFound indicates the workflow execution was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrWorkflowAlreadyStarted indicates a workflow with the same ID already ran or is running.
	ErrWorkflowAlreadyStarted = errors.New("workflow already started")

	// ErrClientClosed indicates the call was cancelled or the client is gone.
	ErrClientClosed = errors.New("client closed")

	// ErrConnectionFailed indicates a connection failure to the Temporal server.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNamespaceNotFound indicates the namespace does not exist.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrInvalidArgument indicates an invalid argument was provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDeadlineExceeded indicates the operation deadline was exceeded.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)

// TemporalError wraps a Temporal error with the operation and workflow it concerns.
type TemporalError struct {
	Op         string
	Kind       error
	WorkflowID string
	Err        error
}

func (e *TemporalError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.WorkflowID != "" {
		msg += fmt.Sprintf(" [workflowID=%s]", e.WorkflowID)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *TemporalError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error's Kind.
func (e *TemporalError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// wrapTemporalError maps a Temporal SDK error onto a sentinel kind.
func wrapTemporalError(op string, err error, workflowID string) error {
	if err == nil {
		return nil
	}

	te := &TemporalError{Op: op, WorkflowID: workflowID, Err: err}

	var notFoundErr *serviceerror.NotFound
	var alreadyStartedErr *serviceerror.WorkflowExecutionAlreadyStarted
	var namespaceNotFoundErr *serviceerror.NamespaceNotFound
	var invalidArgumentErr *serviceerror.InvalidArgument
	var deadlineExceededErr *serviceerror.DeadlineExceeded

	switch {
	case errors.As(err, &notFoundErr):
		te.Kind = ErrWorkflowNotFound
	case errors.As(err, &alreadyStartedErr):
		te.Kind = ErrWorkflowAlreadyStarted
	case errors.As(err, &namespaceNotFoundErr):
		te.Kind = ErrNamespaceNotFound
	case errors.As(err, &invalidArgumentErr):
		te.Kind = ErrInvalidArgument
	case errors.As(err, &deadlineExceededErr), errors.Is(err, context.DeadlineExceeded):
		te.Kind = ErrDeadlineExceeded
	case errors.Is(err, context.Canceled):
		te.Kind = ErrClientClosed
	default:
		te.Kind = ErrConnectionFailed
	}
	return te
}

// IsWorkflowAlreadyStarted checks if the error indicates a workflow already started.
func IsWorkflowAlreadyStarted(err error) bool {
	return errors.Is(err, ErrWorkflowAlreadyStarted)
}

// IsConnectionFailed checks if the error indicates a connection failure.
func IsConnectionFailed(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

// NewClient dials the Temporal server described by cfg.
func NewClient(cfg config.TemporalConfig, logger zerolog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    observability.NewTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("create Temporal client: %w", err)
	}
	return c, nil
}

// JobInput is the input of the job workflow and its activity. It lives here
// so the dispatcher can build it without importing the workflows package.
type JobInput struct {
	EventID string         `json:"event_id"`
	Job     domain.JobName `json:"job"`
	Args    domain.JobArgs `json:"args"`
}

// workflowStarter is the subset of client.Client the dispatcher uses.
type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	CheckHealth(ctx context.Context, request *client.CheckHealthRequest) (*client.CheckHealthResponse, error)
}

// Dispatcher starts one job workflow per outbox row.
type Dispatcher struct {
	client             workflowStarter
	taskQueue          string
	executionTimeout   time.Duration
	healthCheckTimeout time.Duration
	logger             zerolog.Logger
}

// NewDispatcher creates a dispatcher that starts workflows on taskQueue.
func NewDispatcher(c client.Client, taskQueue string, logger zerolog.Logger) *Dispatcher {
	return newDispatcher(c, taskQueue, logger)
}

func newDispatcher(c workflowStarter, taskQueue string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		client:             c,
		taskQueue:          taskQueue,
		executionTimeout:   DefaultJobExecutionTimeout,
		healthCheckTimeout: DefaultHealthCheckTimeout,
		logger:             logger.With().Str("component", "job_dispatcher").Logger(),
	}
}

// Dispatch starts the job workflow with eventID as its workflow ID. A
// workflow that already exists for eventID, running or closed, counts as
// dispatched, so redelivering a row never runs its job twice.
func (d *Dispatcher) Dispatch(ctx context.Context, job domain.JobName, eventID string, args domain.JobArgs) error {
	options := client.StartWorkflowOptions{
		ID:                                       eventID,
		TaskQueue:                                d.taskQueue,
		WorkflowExecutionTimeout:                 d.executionTimeout,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}

	run, err := d.client.ExecuteWorkflow(ctx, options, JobWorkflowName, JobInput{EventID: eventID, Job: job, Args: args})
	if err != nil {
		err = wrapTemporalError("Dispatch", err, eventID)
		if IsWorkflowAlreadyStarted(err) {
			d.logger.Debug().Str("workflow_id", eventID).Str("job", string(job)).Msg("job workflow already started")
			return nil
		}
		return domain.NewExternalServiceError("temporal", "start_workflow", err)
	}

	logger := observability.WithWorkflowContext(observability.WithReviewContext(d.logger, args.ReviewID), eventID, run.GetRunID())
	logger.Info().
		Str("job", string(job)).
		Msg("job workflow started")
	return nil
}

// Health checks the connection to the Temporal server.
func (d *Dispatcher) Health(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, d.healthCheckTimeout)
	defer cancel()

	if _, err := d.client.CheckHealth(checkCtx, &client.CheckHealthRequest{}); err != nil {
		return wrapTemporalError("Health", err, "")
	}
	return nil
}
