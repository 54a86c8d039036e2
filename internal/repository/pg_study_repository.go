package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

// Compile-time interface verification.
var _ StudyRepository = (*PgStudyRepository)(nil)

// PgStudyRepository is a PostgreSQL implementation of StudyRepository.
type PgStudyRepository struct {
	db DBTX
}

// NewPgStudyRepository creates a new PostgreSQL study repository.
func NewPgStudyRepository(db DBTX) *PgStudyRepository {
	return &PgStudyRepository{db: db}
}

const studyColumns = `s.id, s.review_id, s.tags,
	s.dedupe_status, s.citation_status, s.fulltext_status, s.data_extraction_status,
	s.num_citation_reviewers, s.num_fulltext_reviewers,
	s.created_at, s.updated_at`

// Create inserts a study with its initial statuses.
func (r *PgStudyRepository) Create(ctx context.Context, study *domain.Study) error {
	if study == nil {
		return domain.NewValidationError("study", "study cannot be nil")
	}
	if study.ReviewID <= 0 {
		return domain.NewValidationError("review_id", "review ID is required")
	}
	if study.DedupeStatus == "" {
		study.DedupeStatus = domain.DedupeStatusNotDeduped
	}
	if study.CitationStatus == "" {
		study.CitationStatus = domain.ScreeningStatusNotScreened
	}
	if study.FulltextStatus == "" {
		study.FulltextStatus = domain.ScreeningStatusNotScreened
	}
	if study.DataExtractionStatus == "" {
		study.DataExtractionStatus = domain.DataExtractionStatusNotStarted
	}

	query := `
		INSERT INTO studies (
			review_id, tags, dedupe_status, citation_status, fulltext_status,
			data_extraction_status, num_citation_reviewers, num_fulltext_reviewers
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		study.ReviewID, nonNil(study.Tags), study.DedupeStatus, study.CitationStatus, study.FulltextStatus,
		study.DataExtractionStatus, study.NumCitationReviewers, study.NumFulltextReviewers,
	).Scan(&study.ID, &study.CreatedAt, &study.UpdatedAt)
	if err != nil {
		if isPgForeignKeyViolation(err) {
			return domain.NewNotFoundError("review", strconv.FormatInt(study.ReviewID, 10))
		}
		return fmt.Errorf("failed to create study: %w", err)
	}
	return nil
}

// Get retrieves a study by ID.
func (r *PgStudyRepository) Get(ctx context.Context, id int64) (*domain.Study, error) {
	return r.get(ctx, `SELECT `+studyColumns+` FROM studies s WHERE s.id = $1`, id)
}

// GetForUpdate retrieves a study and locks its row.
func (r *PgStudyRepository) GetForUpdate(ctx context.Context, id int64) (*domain.Study, error) {
	return r.get(ctx, `SELECT `+studyColumns+` FROM studies s WHERE s.id = $1 FOR UPDATE`, id)
}

func (r *PgStudyRepository) get(ctx context.Context, query string, id int64) (*domain.Study, error) {
	study, err := scanStudy(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("study", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("failed to get study: %w", err)
	}
	return study, nil
}

// UpdateStatuses persists the screening and data extraction statuses.
func (r *PgStudyRepository) UpdateStatuses(ctx context.Context, study *domain.Study) error {
	query := `
		UPDATE studies
		SET citation_status = $2,
			fulltext_status = $3,
			data_extraction_status = $4,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		study.ID, study.CitationStatus, study.FulltextStatus, study.DataExtractionStatus,
	).Scan(&study.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("study", strconv.FormatInt(study.ID, 10))
		}
		return fmt.Errorf("failed to update study statuses: %w", err)
	}
	return nil
}

// ApplyDedupeStatuses sets dedupe_status for every study covered by a run.
func (r *PgStudyRepository) ApplyDedupeStatuses(ctx context.Context, reviewID int64, asOf time.Time, duplicates []int64) (int64, error) {
	if duplicates == nil {
		duplicates = []int64{}
	}

	query := `
		UPDATE studies
		SET dedupe_status = CASE WHEN id = ANY($3) THEN 'duplicate' ELSE 'not_duplicate' END,
			updated_at = NOW()
		WHERE review_id = $1 AND created_at <= $2`

	result, err := r.db.Exec(ctx, query, reviewID, asOf, duplicates)
	if err != nil {
		return 0, fmt.Errorf("failed to apply dedupe statuses: %w", err)
	}
	return result.RowsAffected(), nil
}

// LatestCreatedAt returns the creation time of the review's newest study.
func (r *PgStudyRepository) LatestCreatedAt(ctx context.Context, reviewID int64) (*time.Time, error) {
	var latest *time.Time
	err := r.db.QueryRow(ctx, `SELECT MAX(created_at) FROM studies WHERE review_id = $1`, reviewID).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest study timestamp: %w", err)
	}
	return latest, nil
}

// ListWithCitations returns studies joined with their citations.
func (r *PgStudyRepository) ListWithCitations(ctx context.Context, reviewID int64, asOf time.Time) ([]StudyWithCitation, error) {
	query := `SELECT ` + studyColumns + `, ` + citationColumns + `
		FROM studies s
		JOIN citations c ON c.study_id = s.id
		WHERE s.review_id = $1 AND s.created_at <= $2
		ORDER BY s.id`

	rows, err := r.db.Query(ctx, query, reviewID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list studies with citations: %w", err)
	}
	defer rows.Close()

	var out []StudyWithCitation
	for rows.Next() {
		var (
			sd studyScanDest
			cd citationScanDest
		)
		if err := rows.Scan(append(sd.destinations(), cd.destinations()...)...); err != nil {
			return nil, fmt.Errorf("failed to scan study with citation: %w", err)
		}
		out = append(out, StudyWithCitation{Study: sd.finalize(), Citation: cd.finalize()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating studies: %w", err)
	}
	return out, nil
}

// ListQueueCandidates returns IDs of studies awaiting a citation decision
// from the reviewer.
func (r *PgStudyRepository) ListQueueCandidates(ctx context.Context, filter QueueFilter) ([]int64, error) {
	query := `
		SELECT s.id
		FROM studies s
		WHERE s.review_id = $1
			AND s.dedupe_status = 'not_duplicate'
			AND s.citation_status NOT IN ('included', 'excluded', 'conflict')
			AND ($3::text = '' OR $3::text = ANY(s.tags))
			AND NOT EXISTS (
				SELECT 1 FROM screenings sc
				WHERE sc.study_id = s.id AND sc.user_id = $2 AND sc.stage = 'citation'
			)
		ORDER BY s.id`

	rows, err := r.db.Query(ctx, query, filter.ReviewID, filter.UserID, filter.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue candidates: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue candidates: %w", err)
	}
	return ids, nil
}

// CountTerminal materialises the four counters from study statuses.
func (r *PgStudyRepository) CountTerminal(ctx context.Context, reviewID int64) (domain.ReviewCounters, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE citation_status = 'included'),
			COUNT(*) FILTER (WHERE citation_status = 'excluded'),
			COUNT(*) FILTER (WHERE fulltext_status = 'included'),
			COUNT(*) FILTER (WHERE fulltext_status = 'excluded')
		FROM studies
		WHERE review_id = $1`

	var c domain.ReviewCounters
	err := r.db.QueryRow(ctx, query, reviewID).
		Scan(&c.CitationsIncluded, &c.CitationsExcluded, &c.FulltextsIncluded, &c.FulltextsExcluded)
	if err != nil {
		return c, fmt.Errorf("failed to count terminal statuses: %w", err)
	}
	return c, nil
}

// studyScanDest holds the destination pointers for scanning a Study row.
type studyScanDest struct {
	study          domain.Study
	dedupeStatus   string
	citationStatus string
	fulltextStatus string
	extraction     string
}

func (d *studyScanDest) destinations() []any {
	return []any{
		&d.study.ID, &d.study.ReviewID, &d.study.Tags,
		&d.dedupeStatus, &d.citationStatus, &d.fulltextStatus, &d.extraction,
		&d.study.NumCitationReviewers, &d.study.NumFulltextReviewers,
		&d.study.CreatedAt, &d.study.UpdatedAt,
	}
}

func (d *studyScanDest) finalize() *domain.Study {
	d.study.DedupeStatus = domain.DedupeStatus(d.dedupeStatus)
	d.study.CitationStatus = domain.ScreeningStatus(d.citationStatus)
	d.study.FulltextStatus = domain.ScreeningStatus(d.fulltextStatus)
	d.study.DataExtractionStatus = domain.DataExtractionStatus(d.extraction)
	return &d.study
}

// scanStudy scans a single row into a Study.
func scanStudy(row pgx.Row) (*domain.Study, error) {
	var dest studyScanDest
	if err := row.Scan(dest.destinations()...); err != nil {
		return nil, err
	}
	return dest.finalize(), nil
}
