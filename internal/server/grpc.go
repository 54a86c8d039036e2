// Package server provides the gRPC surface of the screening workflow
// service: the standard health service, reflection, and the interceptors
// shared by every registered service.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/observability"
	"github.com/helixir/screening-workflow-service/internal/temporal"
)

// ServiceName is the health service key reported for the whole process.
const ServiceName = "screening.v1.ScreeningWorkflowService"

// NewGRPCServer creates a gRPC server with the health and reflection
// services registered. The returned health server starts out SERVING for
// the overall process and NOT_SERVING for ServiceName until a reporter
// marks it ready.
func NewGRPCServer(logger zerolog.Logger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.MaxSendMsgSize(4*1024*1024),
		grpc.MaxConcurrentStreams(100),
		grpc.ChainUnaryInterceptor(unaryErrorInterceptor(logger)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Minute,
			Time:                  5 * time.Minute,
			Timeout:               1 * time.Minute,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Minute,
			PermitWithoutStream: true,
		}),
	)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	return srv, hs
}

// unaryErrorInterceptor converts domain errors returned by handlers into
// gRPC status errors and logs server-side failures.
func unaryErrorInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		if _, ok := status.FromError(err); ok {
			return resp, err
		}
		st := domainErrToGRPC(err)
		if code := status.Code(st); code == codes.Internal || code == codes.Unavailable {
			reqLogger := observability.WithRequestContext(ctx, logger)
			reqLogger.Error().
				Err(err).
				Str("method", info.FullMethod).
				Msg("grpc request failed")
		}
		return resp, st
	}
}

// domainErrToGRPC maps the domain error taxonomy onto gRPC status codes.
func domainErrToGRPC(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, temporal.ErrWorkflowAlreadyStarted):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrLockNotAcquired):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrServiceUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, domain.ErrInternalError.Error())
	}
}
