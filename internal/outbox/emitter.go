package outbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/repository"
)

// EmitParams contains the parameters for emitting an event.
type EmitParams struct {
	// EventType is the type of event (e.g., "study.status_changed").
	EventType string
	// AggregateType is the owning entity kind (review or study).
	AggregateType string
	// AggregateID is the owning entity ID.
	AggregateID string
	// Payload is the event payload that will be JSON-serialized.
	Payload any
	// Delay postpones delivery (optional).
	Delay time.Duration
}

// Emitter writes outbox rows through a repository bound to the caller's
// transaction.
type Emitter struct {
	repo repository.OutboxRepository
}

// NewEmitter creates an Emitter writing through repo.
func NewEmitter(repo repository.OutboxRepository) *Emitter {
	return &Emitter{repo: repo}
}

// Emit builds an event from params and inserts it.
func (e *Emitter) Emit(ctx context.Context, params EmitParams) (*domain.OutboxEvent, error) {
	if params.EventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}
	if params.AggregateID == "" {
		return nil, fmt.Errorf("aggregate_id is required")
	}

	event, err := domain.NewOutboxEvent(params.EventType, params.AggregateType, params.AggregateID, params.Payload)
	if err != nil {
		return nil, err
	}
	if params.Delay > 0 {
		event.AvailableAt = event.AvailableAt.Add(params.Delay)
	}

	if err := e.repo.Insert(ctx, event); err != nil {
		return nil, fmt.Errorf("store %s event: %w", params.EventType, err)
	}
	return event, nil
}

// Enqueue schedules job for args.ReviewID after delay. It is the task queue
// enqueue(job_name, args, delay) and returns immediately.
func (e *Emitter) Enqueue(ctx context.Context, job domain.JobName, args domain.JobArgs, delay time.Duration) (*domain.OutboxEvent, error) {
	if args.ReviewID <= 0 {
		return nil, domain.NewValidationError("review_id", "must be positive")
	}
	event, err := domain.NewJobEvent(job, args, delay)
	if err != nil {
		return nil, err
	}
	if err := e.repo.Insert(ctx, event); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", job, err)
	}
	return event, nil
}

// EmitStatusChanged is a convenience method for study.status_changed events.
func (e *Emitter) EmitStatusChanged(ctx context.Context, payload domain.StatusChangedPayload) (*domain.OutboxEvent, error) {
	return e.Emit(ctx, EmitParams{
		EventType:     domain.EventTypeStudyStatusChanged,
		AggregateType: domain.AggregateStudy,
		AggregateID:   strconv.FormatInt(payload.StudyID, 10),
		Payload:       payload,
	})
}

// EmitDedupeCompleted is a convenience method for review.dedupe_completed events.
func (e *Emitter) EmitDedupeCompleted(ctx context.Context, payload domain.DedupeCompletedPayload) (*domain.OutboxEvent, error) {
	return e.Emit(ctx, EmitParams{
		EventType:     domain.EventTypeDedupeCompleted,
		AggregateType: domain.AggregateReview,
		AggregateID:   strconv.FormatInt(payload.ReviewID, 10),
		Payload:       payload,
	})
}
