// Package main provides the entry point for the screening workflow worker:
// the Temporal job worker, the outbox relay, the import listener and the
// maintenance scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/helixir/screening-workflow-service/internal/app"
	"github.com/helixir/screening-workflow-service/internal/config"
	"github.com/helixir/screening-workflow-service/internal/coordinator"
	"github.com/helixir/screening-workflow-service/internal/database"
	"github.com/helixir/screening-workflow-service/internal/events"
	"github.com/helixir/screening-workflow-service/internal/maintenance"
	"github.com/helixir/screening-workflow-service/internal/observability"
	"github.com/helixir/screening-workflow-service/internal/outbox"
	"github.com/helixir/screening-workflow-service/internal/repository"
	"github.com/helixir/screening-workflow-service/internal/temporal"
	"github.com/helixir/screening-workflow-service/internal/temporal/activities"
	"github.com/helixir/screening-workflow-service/internal/temporal/workflows"
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

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	}).With().Str("component", "worker").Logger()
	logger.Info().Msg("screening-workflow-service worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

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

	temporalClient, err := temporal.NewClient(cfg.Temporal, logger)
	if err != nil {
		return fmt.Errorf("connect to temporal: %w", err)
	}
	defer temporalClient.Close()
	logger.Info().
		Str("host_port", cfg.Temporal.HostPort).
		Str("namespace", cfg.Temporal.Namespace).
		Msg("temporal client connected")

	manager, err := temporal.NewWorkerManager(temporalClient, temporal.WorkerConfig{TaskQueue: cfg.Temporal.TaskQueue})
	if err != nil {
		return fmt.Errorf("create worker manager: %w", err)
	}
	manager.RegisterWorkflow(workflows.NewJobWorkflow(cfg.Pipeline.LockHoldTimeout), temporal.JobWorkflowName)
	manager.RegisterActivity(activities.NewJobActivities(components.Coordinator))

	var publisher outbox.EventPublisher
	if cfg.Kafka.Enabled {
		p := events.NewPublisher(cfg.Kafka, logger)
		defer closeLogged(logger, "event publisher", p.Close)
		publisher = p
	}
	relay := outbox.NewRelay(tx,
		temporal.NewDispatcher(temporalClient, cfg.Temporal.TaskQueue, logger),
		publisher, cfg.Outbox, logger, metrics)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("task_queue", manager.TaskQueue()).Msg("starting temporal worker")
		return ignoreCancel(manager.Start(gctx))
	})
	g.Go(func() error {
		return ignoreCancel(relay.Run(gctx))
	})

	if cfg.Kafka.Enabled {
		listener := events.NewListener(cfg.Kafka, components.Coordinator, logger, metrics)
		defer closeLogged(logger, "import listener", listener.Close)
		g.Go(func() error {
			logger.Info().
				Str("topic", cfg.Kafka.ImportTopic).
				Str("group_id", cfg.Kafka.GroupID).
				Msg("import listener started")
			return ignoreCancel(listener.Run(gctx))
		})
	}

	if cfg.Maintenance.Enabled {
		scheduler, err := maintenance.NewScheduler(cfg.Maintenance.ReconcileSchedule, components.Reconciler, logger)
		if err != nil {
			return fmt.Errorf("create maintenance scheduler: %w", err)
		}
		g.Go(func() error {
			return ignoreCancel(scheduler.Run(gctx))
		})
	}

	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer := &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		g.Go(func() error {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker error: %w", err)
	}
	logger.Info().Msg("worker stopped")
	return nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func closeLogged(logger zerolog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error().Err(err).Str("resource", name).Msg("failed to close")
	}
}
