package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

// Compile-time interface verification.
var _ OutboxRepository = (*PgOutboxRepository)(nil)

// PgOutboxRepository is a PostgreSQL implementation of OutboxRepository.
type PgOutboxRepository struct {
	db DBTX
}

// NewPgOutboxRepository creates a new PostgreSQL outbox repository.
func NewPgOutboxRepository(db DBTX) *PgOutboxRepository {
	return &PgOutboxRepository{db: db}
}

// Insert appends an event.
func (r *PgOutboxRepository) Insert(ctx context.Context, e *domain.OutboxEvent) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO outbox_events (event_id, event_type, aggregate_type, aggregate_id, payload, available_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		e.EventID, e.EventType, e.AggregateType, e.AggregateID, e.Payload, e.AvailableAt,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewConflictError("outbox_event", "duplicate event id "+e.EventID.String())
		}
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// ClaimDue locks due, unpublished events for this transaction.
func (r *PgOutboxRepository) ClaimDue(ctx context.Context, limit, maxAttempts int) ([]*domain.OutboxEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, event_id, event_type, aggregate_type, aggregate_id, payload,
			available_at, attempts, last_error, published_at, created_at
		FROM outbox_events
		WHERE published_at IS NULL AND available_at <= NOW() AND attempts < $2
		ORDER BY available_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.OutboxEvent, 0, limit)
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventType, &e.AggregateType, &e.AggregateID, &e.Payload,
			&e.AvailableAt, &e.Attempts, &e.LastError, &e.PublishedAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox events: %w", err)
	}
	return out, nil
}

// MarkPublished stamps the event as delivered.
func (r *PgOutboxRepository) MarkPublished(ctx context.Context, id int64) error {
	result, err := r.db.Exec(ctx, `UPDATE outbox_events SET published_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event published: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("outbox_event", strconv.FormatInt(id, 10))
	}
	return nil
}

// MarkFailed increments attempts and records the error message.
func (r *PgOutboxRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	result, err := r.db.Exec(ctx,
		`UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("outbox_event", strconv.FormatInt(id, 10))
	}
	return nil
}
