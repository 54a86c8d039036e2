package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/screening-workflow-service/internal/config"
	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/observability"
)

// Import message outcomes.
const (
	OutcomeScheduled = "scheduled"
	OutcomeMalformed = "malformed"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// RecordsImportedEvent is published by the import service after citations
// are added to a review.
type RecordsImportedEvent struct {
	ReviewID   int64 `json:"review_id"`
	NumRecords int   `json:"num_records"`
}

// ImportHandler schedules work for freshly imported records.
type ImportHandler interface {
	RecordsImported(ctx context.Context, reviewID int64) (*domain.OutboxEvent, error)
}

// messageReader is the subset of *kafka.Reader the listener uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Listener consumes records-imported notifications.
type Listener struct {
	reader  messageReader
	handler ImportHandler
	backoff time.Duration
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewListener creates a listener on cfg.ImportTopic.
func NewListener(cfg config.KafkaConfig, handler ImportHandler, logger zerolog.Logger, metrics *observability.Metrics) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.ImportTopic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  3 * time.Second,
	})
	return newListener(reader, handler, logger, metrics)
}

func newListener(r messageReader, handler ImportHandler, logger zerolog.Logger, metrics *observability.Metrics) *Listener {
	return &Listener{
		reader:  r,
		handler: handler,
		backoff: 2 * time.Second,
		logger:  logger.With().Str("component", "import_listener").Logger(),
		metrics: metrics,
	}
}

// Run consumes until ctx is cancelled. A message is committed once it is
// scheduled or found unprocessable; transient failures leave it
// uncommitted and are retried after a pause.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting import listener")

	for {
		msg, err := l.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("import listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to fetch message from Kafka")
			if !l.pause(ctx) {
				return ctx.Err()
			}
			continue
		}

		l.logger.Debug().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("received import event")

		for {
			outcome, err := l.handle(ctx, msg)
			l.metrics.RecordImportMessage(outcome)
			if outcome != OutcomeFailed {
				break
			}
			l.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to schedule dedupe, retrying")
			if !l.pause(ctx) {
				return ctx.Err()
			}
		}

		if err := l.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit import event")
		}
	}
}

// handle processes one message and reports its outcome.
func (l *Listener) handle(ctx context.Context, msg kafka.Message) (string, error) {
	var event RecordsImportedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		l.logger.Error().Err(err).
			Str("raw_value", string(msg.Value)).
			Msg("failed to unmarshal import event")
		return OutcomeMalformed, err
	}
	if event.ReviewID <= 0 {
		l.logger.Error().Str("raw_value", string(msg.Value)).Msg("import event without review_id")
		return OutcomeMalformed, fmt.Errorf("review_id %d", event.ReviewID)
	}

	logger := observability.WithReviewContext(l.logger, event.ReviewID)
	ev, err := l.handler.RecordsImported(ctx, event.ReviewID)
	switch {
	case err == nil:
		logger.Info().
			Int("num_records", event.NumRecords).
			Str("event_id", ev.EventID.String()).
			Msg("dedupe scheduled after import")
		return OutcomeScheduled, nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidInput):
		logger.Warn().Err(err).Msg("import event rejected")
		return OutcomeRejected, err
	default:
		return OutcomeFailed, err
	}
}

func (l *Listener) pause(ctx context.Context) bool {
	t := time.NewTimer(l.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing import listener")
	return l.reader.Close()
}
