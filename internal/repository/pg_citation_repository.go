package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

// Compile-time interface verification.
var _ CitationRepository = (*PgCitationRepository)(nil)

// PgCitationRepository is a PostgreSQL implementation of CitationRepository.
type PgCitationRepository struct {
	db DBTX
}

// NewPgCitationRepository creates a new PostgreSQL citation repository.
func NewPgCitationRepository(db DBTX) *PgCitationRepository {
	return &PgCitationRepository{db: db}
}

const citationColumns = `c.study_id, c.review_id, c.title, c.abstract, c.authors, c.keywords,
	c.pub_year, c.pub_type, c.doi, c.journal_name, c.journal_volume, c.journal_issue,
	c.pages, c.url, c.language, c.feature_vector, c.created_at`

// Create inserts the citation of an existing study.
func (r *PgCitationRepository) Create(ctx context.Context, c *domain.Citation) error {
	if c == nil {
		return domain.NewValidationError("citation", "citation cannot be nil")
	}
	if c.StudyID <= 0 || c.ReviewID <= 0 {
		return domain.NewValidationError("study_id", "study and review IDs are required")
	}

	query := `
		INSERT INTO citations (
			study_id, review_id, title, abstract, authors, keywords,
			pub_year, pub_type, doi, journal_name, journal_volume, journal_issue,
			pages, url, language
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		c.StudyID, c.ReviewID, c.Title, c.Abstract, c.Authors, c.Keywords,
		c.PubYear, c.PubType, c.DOI, c.JournalName, c.JournalVolume, c.JournalIssue,
		c.Pages, c.URL, c.Language,
	).Scan(&c.CreatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewConflictError("citation", "study "+strconv.FormatInt(c.StudyID, 10)+" already has a citation")
		}
		if isPgForeignKeyViolation(err) {
			return domain.NewNotFoundError("study", strconv.FormatInt(c.StudyID, 10))
		}
		return fmt.Errorf("failed to create citation: %w", err)
	}
	return nil
}

// ListByStudyIDs returns citations for the given studies of one review.
func (r *PgCitationRepository) ListByStudyIDs(ctx context.Context, reviewID int64, studyIDs []int64) ([]*domain.Citation, error) {
	if len(studyIDs) == 0 {
		return []*domain.Citation{}, nil
	}
	query := `SELECT ` + citationColumns + ` FROM citations c
		WHERE c.review_id = $1 AND c.study_id = ANY($2)
		ORDER BY c.study_id`
	return r.list(ctx, query, reviewID, studyIDs)
}

// ListByReview returns every citation of the review.
func (r *PgCitationRepository) ListByReview(ctx context.Context, reviewID int64) ([]*domain.Citation, error) {
	query := `SELECT ` + citationColumns + ` FROM citations c WHERE c.review_id = $1 ORDER BY c.study_id`
	return r.list(ctx, query, reviewID)
}

// Sample returns up to limit random citations whose study has status.
func (r *PgCitationRepository) Sample(ctx context.Context, reviewID int64, status domain.ScreeningStatus, limit int) ([]*domain.Citation, error) {
	if limit <= 0 {
		return []*domain.Citation{}, nil
	}
	query := `SELECT ` + citationColumns + ` FROM citations c
		JOIN studies s ON s.id = c.study_id
		WHERE c.review_id = $1 AND s.citation_status = $2
		ORDER BY random()
		LIMIT $3`
	return r.list(ctx, query, reviewID, status, limit)
}

// ListLabeled returns citations with a terminal include/exclude decision.
func (r *PgCitationRepository) ListLabeled(ctx context.Context, reviewID int64) ([]LabeledCitation, error) {
	query := `SELECT ` + citationColumns + `, s.citation_status = 'included'
		FROM citations c
		JOIN studies s ON s.id = c.study_id
		WHERE c.review_id = $1 AND s.citation_status IN ('included', 'excluded')
		ORDER BY c.study_id`

	rows, err := r.db.Query(ctx, query, reviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to list labeled citations: %w", err)
	}
	defer rows.Close()

	var out []LabeledCitation
	for rows.Next() {
		var (
			dest     citationScanDest
			included bool
		)
		if err := rows.Scan(append(dest.destinations(), &included)...); err != nil {
			return nil, fmt.Errorf("failed to scan labeled citation: %w", err)
		}
		out = append(out, LabeledCitation{Citation: dest.finalize(), Included: included})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating labeled citations: %w", err)
	}
	return out, nil
}

// SaveFeatureVectors stores precomputed vectors in a single batch.
func (r *PgCitationRepository) SaveFeatureVectors(ctx context.Context, vectors map[int64][]float64) error {
	if len(vectors) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for studyID, vec := range vectors {
		batch.Queue(`UPDATE citations SET feature_vector = $2 WHERE study_id = $1`, studyID, vec)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to save feature vector %d: %w", i, err)
		}
	}
	return nil
}

func (r *PgCitationRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Citation, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list citations: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Citation, 0)
	for rows.Next() {
		var dest citationScanDest
		if err := rows.Scan(dest.destinations()...); err != nil {
			return nil, fmt.Errorf("failed to scan citation: %w", err)
		}
		out = append(out, dest.finalize())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating citations: %w", err)
	}
	return out, nil
}

// citationScanDest holds the destination pointers for scanning a Citation row.
type citationScanDest struct {
	citation domain.Citation
	pubYear  *int32
}

func (d *citationScanDest) destinations() []any {
	c := &d.citation
	return []any{
		&c.StudyID, &c.ReviewID, &c.Title, &c.Abstract, &c.Authors, &c.Keywords,
		&d.pubYear, &c.PubType, &c.DOI, &c.JournalName, &c.JournalVolume, &c.JournalIssue,
		&c.Pages, &c.URL, &c.Language, &c.FeatureVector, &c.CreatedAt,
	}
}

func (d *citationScanDest) finalize() *domain.Citation {
	if d.pubYear != nil {
		y := int(*d.pubYear)
		d.citation.PubYear = &y
	}
	return &d.citation
}
