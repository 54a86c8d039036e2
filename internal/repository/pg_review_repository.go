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
var _ ReviewRepository = (*PgReviewRepository)(nil)

// PgReviewRepository is a PostgreSQL implementation of ReviewRepository.
type PgReviewRepository struct {
	db DBTX
}

// NewPgReviewRepository creates a new PostgreSQL review repository.
func NewPgReviewRepository(db DBTX) *PgReviewRepository {
	return &PgReviewRepository{db: db}
}

const reviewColumns = `id, name, status,
	num_citation_screening_reviewers, num_fulltext_screening_reviewers,
	num_citations_included, num_citations_excluded,
	num_fulltexts_included, num_fulltexts_excluded,
	created_at, updated_at`

// Create inserts a review and fills in its ID and timestamps.
func (r *PgReviewRepository) Create(ctx context.Context, review *domain.Review) error {
	if review == nil {
		return domain.NewValidationError("review", "review cannot be nil")
	}
	if review.Name == "" {
		return domain.NewValidationError("name", "review name is required")
	}
	if err := validateReviewerCount("num_citation_screening_reviewers", review.NumCitationScreeningReviewers); err != nil {
		return err
	}
	if err := validateReviewerCount("num_fulltext_screening_reviewers", review.NumFulltextScreeningReviewers); err != nil {
		return err
	}
	if review.Status == "" {
		review.Status = domain.ReviewStatusActive
	}

	query := `
		INSERT INTO reviews (name, status, num_citation_screening_reviewers, num_fulltext_screening_reviewers)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		review.Name, review.Status,
		review.NumCitationScreeningReviewers, review.NumFulltextScreeningReviewers,
	).Scan(&review.ID, &review.CreatedAt, &review.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create review: %w", err)
	}
	return nil
}

// Get retrieves a review by ID.
func (r *PgReviewRepository) Get(ctx context.Context, id int64) (*domain.Review, error) {
	query := `SELECT ` + reviewColumns + ` FROM reviews WHERE id = $1`

	review, err := scanReview(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("review", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return review, nil
}

// ApplyCounterDelta adds delta to the stage counters and returns the new counters.
func (r *PgReviewRepository) ApplyCounterDelta(ctx context.Context, id int64, stage domain.Stage, delta domain.CounterDelta) (domain.ReviewCounters, error) {
	var query string
	switch stage {
	case domain.StageCitation:
		query = `
		UPDATE reviews
		SET num_citations_included = num_citations_included + $2,
			num_citations_excluded = num_citations_excluded + $3,
			updated_at = NOW()
		WHERE id = $1
		RETURNING num_citations_included, num_citations_excluded, num_fulltexts_included, num_fulltexts_excluded`
	case domain.StageFulltext:
		query = `
		UPDATE reviews
		SET num_fulltexts_included = num_fulltexts_included + $2,
			num_fulltexts_excluded = num_fulltexts_excluded + $3,
			updated_at = NOW()
		WHERE id = $1
		RETURNING num_citations_included, num_citations_excluded, num_fulltexts_included, num_fulltexts_excluded`
	default:
		return domain.ReviewCounters{}, domain.NewValidationError("stage", fmt.Sprintf("unknown stage %q", stage))
	}

	var c domain.ReviewCounters
	err := r.db.QueryRow(ctx, query, id, delta.Included, delta.Excluded).
		Scan(&c.CitationsIncluded, &c.CitationsExcluded, &c.FulltextsIncluded, &c.FulltextsExcluded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c, domain.NewNotFoundError("review", strconv.FormatInt(id, 10))
		}
		return c, fmt.Errorf("failed to apply %s counter delta: %w", stage, err)
	}
	return c, nil
}

// SetCounters overwrites all four counters.
func (r *PgReviewRepository) SetCounters(ctx context.Context, id int64, c domain.ReviewCounters) error {
	query := `
		UPDATE reviews
		SET num_citations_included = $2,
			num_citations_excluded = $3,
			num_fulltexts_included = $4,
			num_fulltexts_excluded = $5,
			updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id,
		c.CitationsIncluded, c.CitationsExcluded, c.FulltextsIncluded, c.FulltextsExcluded)
	if err != nil {
		return fmt.Errorf("failed to set review counters: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("review", strconv.FormatInt(id, 10))
	}
	return nil
}

// SetStatus changes the review lifecycle status.
func (r *PgReviewRepository) SetStatus(ctx context.Context, id int64, status domain.ReviewStatus) error {
	if status != domain.ReviewStatusActive && status != domain.ReviewStatusFrozen {
		return domain.NewValidationError("status", fmt.Sprintf("unknown review status %q", status))
	}

	result, err := r.db.Exec(ctx, `UPDATE reviews SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to set review status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("review", strconv.FormatInt(id, 10))
	}
	return nil
}

// ListIDs returns every review ID in ascending order.
func (r *PgReviewRepository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM reviews ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan review ids: %w", err)
	}
	return ids, nil
}

func validateReviewerCount(field string, n int) error {
	if n < domain.MinReviewers || n > domain.MaxReviewers {
		return domain.NewValidationError(field, fmt.Sprintf("must be between %d and %d", domain.MinReviewers, domain.MaxReviewers))
	}
	return nil
}

// scanReview scans a single row into a Review.
func scanReview(row pgx.Row) (*domain.Review, error) {
	var (
		review domain.Review
		status string
	)
	err := row.Scan(
		&review.ID, &review.Name, &status,
		&review.NumCitationScreeningReviewers, &review.NumFulltextScreeningReviewers,
		&review.Counters.CitationsIncluded, &review.Counters.CitationsExcluded,
		&review.Counters.FulltextsIncluded, &review.Counters.FulltextsExcluded,
		&review.CreatedAt, &review.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	review.Status = domain.ReviewStatus(status)
	return &review, nil
}
