package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

// Compile-time interface verification.
var (
	_ DedupeRepository    = (*PgDedupeRepository)(nil)
	_ DedupeRunRepository = (*PgDedupeRunRepository)(nil)
)

// PgDedupeRepository is a PostgreSQL implementation of DedupeRepository.
type PgDedupeRepository struct {
	db DBTX
}

// NewPgDedupeRepository creates a new PostgreSQL dedupe repository.
func NewPgDedupeRepository(db DBTX) *PgDedupeRepository {
	return &PgDedupeRepository{db: db}
}

// ReplaceForReview deletes every dedupe row of the review and inserts dedupes
// in one batch. Callers run it inside a transaction.
func (r *PgDedupeRepository) ReplaceForReview(ctx context.Context, reviewID int64, dedupes []*domain.Dedupe) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM dedupes WHERE review_id = $1`, reviewID)
	for _, d := range dedupes {
		if d.ReviewID != reviewID {
			return domain.NewValidationError("review_id", fmt.Sprintf("dedupe for study %d belongs to review %d", d.StudyID, d.ReviewID))
		}
		batch.Queue(
			`INSERT INTO dedupes (study_id, review_id, duplicate_of, duplicate_score) VALUES ($1, $2, $3, $4)`,
			d.StudyID, d.ReviewID, d.DuplicateOf, d.DuplicateScore,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to replace dedupes (statement %d): %w", i, err)
		}
	}
	return nil
}

// ListByReview returns the review's dedupe rows ordered by study ID.
func (r *PgDedupeRepository) ListByReview(ctx context.Context, reviewID int64) ([]*domain.Dedupe, error) {
	rows, err := r.db.Query(ctx, `
		SELECT study_id, review_id, duplicate_of, duplicate_score, created_at
		FROM dedupes WHERE review_id = $1 ORDER BY study_id`, reviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dedupes: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Dedupe, 0)
	for rows.Next() {
		var d domain.Dedupe
		if err := rows.Scan(&d.StudyID, &d.ReviewID, &d.DuplicateOf, &d.DuplicateScore, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dedupe: %w", err)
		}
		out = append(out, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dedupes: %w", err)
	}
	return out, nil
}

// PgDedupeRunRepository is a PostgreSQL implementation of DedupeRunRepository.
type PgDedupeRunRepository struct {
	db DBTX
}

// NewPgDedupeRunRepository creates a new PostgreSQL dedupe run repository.
func NewPgDedupeRunRepository(db DBTX) *PgDedupeRunRepository {
	return &PgDedupeRunRepository{db: db}
}

// Create appends a run to the ledger.
func (r *PgDedupeRunRepository) Create(ctx context.Context, run *domain.DedupeRun) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO dedupe_runs (review_id, records_as_of, num_records, num_clusters, num_duplicates, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, finished_at`,
		run.ReviewID, run.RecordsAsOf, run.NumRecords, run.NumClusters, run.NumDuplicates, run.StartedAt,
	).Scan(&run.ID, &run.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to record dedupe run: %w", err)
	}
	return nil
}

// Latest returns the most recent run.
func (r *PgDedupeRunRepository) Latest(ctx context.Context, reviewID int64) (*domain.DedupeRun, error) {
	var run domain.DedupeRun
	err := r.db.QueryRow(ctx, `
		SELECT id, review_id, records_as_of, num_records, num_clusters, num_duplicates, started_at, finished_at
		FROM dedupe_runs
		WHERE review_id = $1
		ORDER BY finished_at DESC, id DESC
		LIMIT 1`, reviewID,
	).Scan(&run.ID, &run.ReviewID, &run.RecordsAsOf, &run.NumRecords, &run.NumClusters,
		&run.NumDuplicates, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("dedupe_run", strconv.FormatInt(reviewID, 10))
		}
		return nil, fmt.Errorf("failed to get latest dedupe run: %w", err)
	}
	return &run, nil
}
