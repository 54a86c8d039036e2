package server

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/temporal"
)

func TestDomainErrToGRPC(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"not found", domain.NewNotFoundError("review", "1"), codes.NotFound},
		{"validation", domain.NewValidationError("stage", "unknown"), codes.InvalidArgument},
		{"conflict", domain.NewConflictError("screening", "exists"), codes.FailedPrecondition},
		{"already exists", fmt.Errorf("wrap: %w", domain.ErrAlreadyExists), codes.AlreadyExists},
		{"workflow started", temporal.ErrWorkflowAlreadyStarted, codes.AlreadyExists},
		{"lock", domain.ErrLockNotAcquired, codes.Aborted},
		{"external", domain.NewExternalServiceError("qdrant", "search", errors.New("down")), codes.Unavailable},
		{"canceled", context.Canceled, codes.Canceled},
		{"deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), codes.DeadlineExceeded},
		{"invariant", domain.NewInvariantViolation("counters", "negative"), codes.Internal},
		{"unknown", errors.New("boom"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(domainErrToGRPC(tt.err)))
		})
	}

	assert.NoError(t, domainErrToGRPC(nil))
	assert.Equal(t, "internal error", status.Convert(domainErrToGRPC(errors.New("secret dsn"))).Message())
}

func TestUnaryErrorInterceptor(t *testing.T) {
	intercept := unaryErrorInterceptor(zerolog.Nop())
	info := &grpc.UnaryServerInfo{FullMethod: "/screening.v1.Test/Do"}

	_, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, domain.NewNotFoundError("study", "9")
	})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.PermissionDenied, "nope")
	})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	resp, err := intercept(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
}

func TestHealthReporter(t *testing.T) {
	srv, hs := NewGRPCServer(zerolog.Nop())
	defer srv.Stop()

	servingStatus := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		return resp.GetStatus()
	}
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus())

	var dbErr error
	reporter := NewHealthReporter(hs, map[string]Check{
		"database": func(context.Context) error { return dbErr },
	}, time.Hour, zerolog.Nop())

	assert.True(t, reporter.Report(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus())

	dbErr = errors.New("connection refused")
	assert.False(t, reporter.Report(context.Background()))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dbErr = nil
	require.NoError(t, reporter.Run(ctx))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus())
}
