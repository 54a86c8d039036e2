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
	_ KeytermRepository         = (*PgKeytermRepository)(nil)
	_ ClassifierModelRepository = (*PgClassifierModelRepository)(nil)
)

// PgKeytermRepository is a PostgreSQL implementation of KeytermRepository.
type PgKeytermRepository struct {
	db DBTX
}

// NewPgKeytermRepository creates a new PostgreSQL keyterm repository.
func NewPgKeytermRepository(db DBTX) *PgKeytermRepository {
	return &PgKeytermRepository{db: db}
}

// List returns the review's terms of one source grouped by polarity.
func (r *PgKeytermRepository) List(ctx context.Context, reviewID int64, source domain.KeytermSource) (domain.KeytermSet, error) {
	set := domain.KeytermSet{Include: []string{}, Exclude: []string{}}

	rows, err := r.db.Query(ctx, `
		SELECT term, polarity FROM keyterms
		WHERE review_id = $1 AND source = $2
		ORDER BY polarity, weight DESC, term`, reviewID, source)
	if err != nil {
		return set, fmt.Errorf("failed to list keyterms: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var term, polarity string
		if err := rows.Scan(&term, &polarity); err != nil {
			return set, fmt.Errorf("failed to scan keyterm: %w", err)
		}
		if domain.Polarity(polarity) == domain.PolarityExclude {
			set.Exclude = append(set.Exclude, term)
		} else {
			set.Include = append(set.Include, term)
		}
	}
	if err := rows.Err(); err != nil {
		return set, fmt.Errorf("error iterating keyterms: %w", err)
	}
	return set, nil
}

// Replace swaps the review's terms of one source for set in one batch.
// Terms are weighted by their position so List preserves the given order.
func (r *PgKeytermRepository) Replace(ctx context.Context, reviewID int64, source domain.KeytermSource, set domain.KeytermSet) error {
	terms := set.Terms(reviewID, source)

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM keyterms WHERE review_id = $1 AND source = $2`, reviewID, source)

	rank := map[domain.Polarity]int{}
	for _, kt := range terms {
		n := rank[kt.Polarity]
		rank[kt.Polarity] = n + 1
		batch.Queue(`INSERT INTO keyterms (review_id, term, source, polarity, weight) VALUES ($1, $2, $3, $4, $5)`,
			kt.ReviewID, kt.Term, kt.Source, kt.Polarity, 1/float64(n+1))
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			if isPgForeignKeyViolation(err) {
				return domain.NewNotFoundError("review", strconv.FormatInt(reviewID, 10))
			}
			return fmt.Errorf("failed to replace keyterms (statement %d): %w", i, err)
		}
	}
	return nil
}

// PgClassifierModelRepository is a PostgreSQL implementation of ClassifierModelRepository.
type PgClassifierModelRepository struct {
	db DBTX
}

// NewPgClassifierModelRepository creates a new PostgreSQL classifier model repository.
func NewPgClassifierModelRepository(db DBTX) *PgClassifierModelRepository {
	return &PgClassifierModelRepository{db: db}
}

// Get returns the review's model.
func (r *PgClassifierModelRepository) Get(ctx context.Context, reviewID int64) (*domain.ClassifierModel, error) {
	var m domain.ClassifierModel
	err := r.db.QueryRow(ctx, `
		SELECT review_id, backend, feature_dim, model, num_included, num_excluded, trained_at
		FROM classifier_models WHERE review_id = $1`, reviewID,
	).Scan(&m.ReviewID, &m.Backend, &m.FeatureDim, &m.Model, &m.NumIncluded, &m.NumExcluded, &m.TrainedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("classifier_model", strconv.FormatInt(reviewID, 10))
		}
		return nil, fmt.Errorf("failed to get classifier model: %w", err)
	}
	return &m, nil
}

// Save inserts or replaces the review's model.
func (r *PgClassifierModelRepository) Save(ctx context.Context, m *domain.ClassifierModel) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO classifier_models (review_id, backend, feature_dim, model, num_included, num_excluded, trained_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (review_id) DO UPDATE SET
			backend = EXCLUDED.backend,
			feature_dim = EXCLUDED.feature_dim,
			model = EXCLUDED.model,
			num_included = EXCLUDED.num_included,
			num_excluded = EXCLUDED.num_excluded,
			trained_at = EXCLUDED.trained_at
		RETURNING trained_at`,
		m.ReviewID, m.Backend, m.FeatureDim, m.Model, m.NumIncluded, m.NumExcluded,
	).Scan(&m.TrainedAt)
	if err != nil {
		if isPgForeignKeyViolation(err) {
			return domain.NewNotFoundError("review", strconv.FormatInt(m.ReviewID, 10))
		}
		return fmt.Errorf("failed to save classifier model: %w", err)
	}
	return nil
}
