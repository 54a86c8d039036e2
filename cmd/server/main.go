// Package main provides the entry point for the screening workflow HTTP API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/screening-workflow-service/internal/app"
	"github.com/helixir/screening-workflow-service/internal/config"
	"github.com/helixir/screening-workflow-service/internal/coordinator"
	"github.com/helixir/screening-workflow-service/internal/database"
	"github.com/helixir/screening-workflow-service/internal/observability"
	"github.com/helixir/screening-workflow-service/internal/repository"
	"github.com/helixir/screening-workflow-service/internal/server"
	httpserver "github.com/helixir/screening-workflow-service/internal/server/http"
	"github.com/helixir/screening-workflow-service/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg).With().Str("component", "server").Logger()
	logger.Info().Msg("screening-workflow-service server starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	if cfg.Database.MigrationAutoRun {
		if err := migrate(db, logger); err != nil {
			return err
		}
	}

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)
	tx := repository.NewPgTransactor(db)
	components, err := app.New(cfg, tx, coordinator.NewPgLocker(db, 0), logger, metrics)
	if err != nil {
		return fmt.Errorf("build components: %w", err)
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close components")
		}
	}()

	dbCheck := func(ctx context.Context) error {
		if health := db.Health(ctx); health.Status != "healthy" {
			return errors.New(health.Error)
		}
		return nil
	}

	// gRPC serves the standard health protocol for orchestrators.
	grpcServer, healthServer := server.NewGRPCServer(logger)
	reporter := server.NewHealthReporter(healthServer, map[string]server.Check{"database": dbCheck}, 0, logger)
	grpcAddr := cfg.Server.GRPCAddress()
	grpcListener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("listen on gRPC port: %w", err)
	}

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, httpserver.Deps{
		Tx:         tx,
		Screening:  components.Machine,
		Queue:      components.Queue,
		Jobs:       components.Coordinator,
		Reconciler: components.Reconciler,
		Database:   db,
	}, logger)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	errCh := make(chan error, 3)

	go func() {
		logger.Info().Str("address", grpcAddr).Msg("gRPC health server starting")
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	go func() {
		_ = reporter.Run(ctx)
	}()

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	logger.Info().
		Str("grpc_address", grpcAddr).
		Str("http_address", httpCfg.Address).
		Msg("screening-workflow-service is ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down screening-workflow-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		logger.Info().Msg("gRPC server stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn().Msg("gRPC server forced shutdown due to timeout")
		grpcServer.Stop()
	}

	logger.Info().Msg("screening-workflow-service shutdown complete")
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
}

func migrate(db *database.DB, logger zerolog.Logger) error {
	migrator, err := database.NewEmbeddedMigrator(db, migrations.FS, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
