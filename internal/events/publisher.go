// Package events connects the service to Kafka: domain events relayed from
// the outbox are published to the events topic, and records-imported
// notifications from the import topic schedule deduplication.
package events

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/screening-workflow-service/internal/config"
	"github.com/helixir/screening-workflow-service/internal/domain"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes outbox domain events to Kafka.
type Publisher struct {
	writer messageWriter
	topic  string
	logger zerolog.Logger
}

// NewPublisher creates a publisher for cfg.EventsTopic.
func NewPublisher(cfg config.KafkaConfig, logger zerolog.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return newPublisher(writer, cfg.EventsTopic, logger)
}

func newPublisher(w messageWriter, topic string, logger zerolog.Logger) *Publisher {
	return &Publisher{
		writer: w,
		topic:  topic,
		logger: logger.With().Str("component", "event_publisher").Logger(),
	}
}

// Publish writes event keyed by its aggregate so events of one review keep
// their order within a partition.
func (p *Publisher) Publish(ctx context.Context, event *domain.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateType + ":" + event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.EventID.String())},
			{Key: "event_type", Value: []byte(event.EventType)},
		},
		Time: event.CreatedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return domain.NewExternalServiceError("kafka", "publish", fmt.Errorf("topic %s: %w", p.topic, err))
	}

	p.logger.Debug().
		Str("event_id", event.EventID.String()).
		Str("event_type", event.EventType).
		Msg("event published")
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
