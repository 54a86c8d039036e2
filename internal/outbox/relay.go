package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/screening-workflow-service/internal/config"
	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/observability"
	"github.com/helixir/screening-workflow-service/internal/repository"
)

// JobDispatcher starts the background job a job row schedules. Dispatching
// the same eventID twice must not start the job twice.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job domain.JobName, eventID string, args domain.JobArgs) error
}

// EventPublisher delivers a domain event to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.OutboxEvent) error
}

// Relay moves due outbox rows to their destination.
type Relay struct {
	tx        repository.Transactor
	jobs      JobDispatcher
	publisher EventPublisher
	cfg       config.OutboxConfig
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// NewRelay creates a relay. publisher may be nil, in which case domain
// events are marked published without delivery.
func NewRelay(tx repository.Transactor, jobs JobDispatcher, publisher EventPublisher, cfg config.OutboxConfig, logger zerolog.Logger, metrics *observability.Metrics) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Relay{
		tx:        tx,
		jobs:      jobs,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With().Str("component", "outbox_relay").Logger(),
		metrics:   metrics,
	}
}

// Run polls until ctx is cancelled. A failed poll is logged and retried on
// the next tick.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().Dur("poll_interval", r.cfg.PollInterval).Msg("outbox relay started")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.Error().Err(err).Msg("outbox poll failed")
				}
				break
			}
			// Drain full batches without waiting for the next tick.
			if n < r.cfg.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("outbox relay stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RelayOnce claims one batch and delivers it. Claimed rows stay locked
// until the batch transaction commits. Returns the number of rows claimed.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var claimed int
	err := r.tx.InTx(ctx, func(ctx context.Context, s repository.Stores) error {
		events, err := s.Outbox.ClaimDue(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts)
		if err != nil {
			return err
		}
		claimed = len(events)

		for _, event := range events {
			if deliverErr := r.deliver(ctx, event); deliverErr != nil {
				r.metrics.RecordOutboxFailed(event.EventType)
				logEvent := r.logger.Warn()
				if event.Attempts+1 >= r.cfg.MaxAttempts {
					logEvent = r.logger.Error().Bool("abandoned", true)
				}
				logEvent.Err(deliverErr).
					Str("event_id", event.EventID.String()).
					Str("event_type", event.EventType).
					Int("attempt", event.Attempts+1).
					Msg("outbox delivery failed")

				if err := s.Outbox.MarkFailed(ctx, event.ID, deliverErr.Error()); err != nil {
					return err
				}
				continue
			}

			if err := s.Outbox.MarkPublished(ctx, event.ID); err != nil {
				return err
			}
			r.metrics.RecordOutboxRelayed(event.EventType)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("relay outbox batch: %w", err)
	}
	return claimed, nil
}

func (r *Relay) deliver(ctx context.Context, event *domain.OutboxEvent) error {
	if job, ok := event.Job(); ok {
		var args domain.JobArgs
		if err := json.Unmarshal(event.Payload, &args); err != nil {
			return fmt.Errorf("decode %s args: %w", job, err)
		}
		return r.jobs.Dispatch(ctx, job, event.EventID.String(), args)
	}

	if r.publisher == nil {
		r.logger.Debug().Str("event_type", event.EventType).Msg("no publisher configured, dropping event")
		return nil
	}
	return r.publisher.Publish(ctx, event)
}
