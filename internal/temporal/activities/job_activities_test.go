package activities

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/helixir/screening-workflow-service/internal/coordinator"
	"github.com/helixir/screening-workflow-service/internal/domain"
	litemporal "github.com/helixir/screening-workflow-service/internal/temporal"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunJob(ctx context.Context, job domain.JobName, args domain.JobArgs) (*coordinator.JobResult, error) {
	ret := m.Called(ctx, job, args)
	res, _ := ret.Get(0).(*coordinator.JobResult)
	return res, ret.Error(1)
}

func runActivity(t *testing.T, runner JobRunner, input litemporal.JobInput) (*JobOutput, error) {
	t.Helper()
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	act := NewJobActivities(runner)
	env.RegisterActivity(act)

	val, err := env.ExecuteActivity(act.RunJob, input)
	if err != nil {
		return nil, err
	}
	var out JobOutput
	require.NoError(t, val.Get(&out))
	return &out, nil
}

func TestJobActivities_RunJob(t *testing.T) {
	args := domain.JobArgs{ReviewID: 8, Trigger: domain.TriggerImport}
	input := litemporal.JobInput{EventID: "evt-8", Job: domain.JobDedupe, Args: args}

	runner := new(mockRunner)
	runner.On("RunJob", mock.Anything, domain.JobDedupe, args).
		Return(&coordinator.JobResult{Job: domain.JobDedupe, ReviewID: 8, Skipped: true, Reason: "up_to_date"}, nil)

	out, err := runActivity(t, runner, input)
	require.NoError(t, err)
	assert.Equal(t, JobOutput{Job: domain.JobDedupe, ReviewID: 8, Skipped: true, Reason: "up_to_date"}, *out)
	runner.AssertExpectations(t)
}

func TestJobActivities_ErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantType     string
		nonRetryable bool
	}{
		{"invariant", domain.NewInvariantViolation("cascade", "fulltext %d not included", 4), ErrTypeInvariantViolation, true},
		{"validation", domain.NewValidationError("review_id", "must be positive"), ErrTypeInvalidInput, true},
		{"not found", domain.NewNotFoundError("review", "8"), ErrTypeNotFound, true},
		{"lock", domain.NewExternalServiceError("lock", "acquire", domain.ErrLockNotAcquired), ErrTypeLockNotAcquired, false},
		{"service", domain.NewExternalServiceError("matcher", "cluster", errors.New("503")), ErrTypeServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr, ok := classify(tt.err).(*temporal.ApplicationError)
			require.True(t, ok)
			assert.Equal(t, tt.wantType, appErr.Type())
			assert.Equal(t, tt.nonRetryable, appErr.NonRetryable())
		})
	}

	plain := errors.New("plain")
	assert.Equal(t, plain, classify(plain))
}

func TestJobActivities_FailurePropagates(t *testing.T) {
	runner := new(mockRunner)
	runner.On("RunJob", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.NewNotFoundError("review", "8"))

	_, err := runActivity(t, runner, litemporal.JobInput{Job: domain.JobDedupe, Args: domain.JobArgs{ReviewID: 8}})
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrTypeNotFound, appErr.Type())
}
