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
	_ ScreeningRepository      = (*PgScreeningRepository)(nil)
	_ FulltextRepository       = (*PgFulltextRepository)(nil)
	_ DataExtractionRepository = (*PgDataExtractionRepository)(nil)
)

// PgScreeningRepository is a PostgreSQL implementation of ScreeningRepository.
type PgScreeningRepository struct {
	db DBTX
}

// NewPgScreeningRepository creates a new PostgreSQL screening repository.
func NewPgScreeningRepository(db DBTX) *PgScreeningRepository {
	return &PgScreeningRepository{db: db}
}

const screeningColumns = `id, review_id, study_id, user_id, stage, status, exclude_reasons, created_at, updated_at`

// Create inserts a decision.
func (r *PgScreeningRepository) Create(ctx context.Context, s *domain.Screening) error {
	query := `
		INSERT INTO screenings (review_id, study_id, user_id, stage, status, exclude_reasons)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		s.ReviewID, s.StudyID, s.UserID, s.Stage, s.Status, nonNil(s.ExcludeReasons),
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewConflictError("screening", fmt.Sprintf(
				"user %d already screened study %d at %s stage", s.UserID, s.StudyID, s.Stage))
		}
		return fmt.Errorf("failed to create screening: %w", err)
	}
	return nil
}

// Get retrieves a reviewer's decision.
func (r *PgScreeningRepository) Get(ctx context.Context, studyID, userID int64, stage domain.Stage) (*domain.Screening, error) {
	query := `SELECT ` + screeningColumns + ` FROM screenings WHERE study_id = $1 AND user_id = $2 AND stage = $3`

	s, err := scanScreening(r.db.QueryRow(ctx, query, studyID, userID, stage))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, screeningNotFound(studyID, userID, stage)
		}
		return nil, fmt.Errorf("failed to get screening: %w", err)
	}
	return s, nil
}

// Update changes the decision and exclude reasons of an existing screening.
func (r *PgScreeningRepository) Update(ctx context.Context, s *domain.Screening) error {
	query := `
		UPDATE screenings
		SET status = $4, exclude_reasons = $5, updated_at = NOW()
		WHERE study_id = $1 AND user_id = $2 AND stage = $3
		RETURNING id, updated_at`

	err := r.db.QueryRow(ctx, query,
		s.StudyID, s.UserID, s.Stage, s.Status, nonNil(s.ExcludeReasons),
	).Scan(&s.ID, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return screeningNotFound(s.StudyID, s.UserID, s.Stage)
		}
		return fmt.Errorf("failed to update screening: %w", err)
	}
	return nil
}

// Delete removes a reviewer's decision.
func (r *PgScreeningRepository) Delete(ctx context.Context, studyID, userID int64, stage domain.Stage) error {
	result, err := r.db.Exec(ctx,
		`DELETE FROM screenings WHERE study_id = $1 AND user_id = $2 AND stage = $3`,
		studyID, userID, stage)
	if err != nil {
		return fmt.Errorf("failed to delete screening: %w", err)
	}
	if result.RowsAffected() == 0 {
		return screeningNotFound(studyID, userID, stage)
	}
	return nil
}

// ListForStudy returns all decisions for the study at the stage.
func (r *PgScreeningRepository) ListForStudy(ctx context.Context, studyID int64, stage domain.Stage) ([]*domain.Screening, error) {
	query := `SELECT ` + screeningColumns + ` FROM screenings WHERE study_id = $1 AND stage = $2 ORDER BY id`

	rows, err := r.db.Query(ctx, query, studyID, stage)
	if err != nil {
		return nil, fmt.Errorf("failed to list screenings: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Screening, 0)
	for rows.Next() {
		s, err := scanScreening(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan screening: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating screenings: %w", err)
	}
	return out, nil
}

// DeleteForStudy removes all decisions for the study at the stage.
func (r *PgScreeningRepository) DeleteForStudy(ctx context.Context, studyID int64, stage domain.Stage) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM screenings WHERE study_id = $1 AND stage = $2`, studyID, stage)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s screenings: %w", stage, err)
	}
	return result.RowsAffected(), nil
}

func screeningNotFound(studyID, userID int64, stage domain.Stage) *domain.NotFoundError {
	return domain.NewNotFoundError("screening", fmt.Sprintf("study=%d user=%d stage=%s", studyID, userID, stage))
}

// scanScreening scans a single row into a Screening. pgx.Rows satisfies pgx.Row.
func scanScreening(row pgx.Row) (*domain.Screening, error) {
	var (
		s      domain.Screening
		stage  string
		status string
	)
	if err := row.Scan(&s.ID, &s.ReviewID, &s.StudyID, &s.UserID, &stage, &status,
		&s.ExcludeReasons, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Stage = domain.Stage(stage)
	s.Status = domain.Decision(status)
	return &s, nil
}

// PgFulltextRepository is a PostgreSQL implementation of FulltextRepository.
type PgFulltextRepository struct {
	db DBTX
}

// NewPgFulltextRepository creates a new PostgreSQL fulltext repository.
func NewPgFulltextRepository(db DBTX) *PgFulltextRepository {
	return &PgFulltextRepository{db: db}
}

// Exists reports whether the study has a fulltext row.
func (r *PgFulltextRepository) Exists(ctx context.Context, studyID int64) (bool, error) {
	return exists(ctx, r.db, `SELECT EXISTS (SELECT 1 FROM fulltexts WHERE study_id = $1)`, studyID)
}

// Create inserts an empty fulltext for the study.
func (r *PgFulltextRepository) Create(ctx context.Context, studyID, reviewID int64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO fulltexts (study_id, review_id) VALUES ($1, $2)`, studyID, reviewID)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewConflictError("fulltext", "study "+strconv.FormatInt(studyID, 10)+" already has a fulltext")
		}
		return fmt.Errorf("failed to create fulltext: %w", err)
	}
	return nil
}

// Delete removes the study's fulltext and reports whether one existed.
func (r *PgFulltextRepository) Delete(ctx context.Context, studyID int64) (bool, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM fulltexts WHERE study_id = $1`, studyID)
	if err != nil {
		return false, fmt.Errorf("failed to delete fulltext: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// PgDataExtractionRepository is a PostgreSQL implementation of DataExtractionRepository.
type PgDataExtractionRepository struct {
	db DBTX
}

// NewPgDataExtractionRepository creates a new PostgreSQL data extraction repository.
func NewPgDataExtractionRepository(db DBTX) *PgDataExtractionRepository {
	return &PgDataExtractionRepository{db: db}
}

// Exists reports whether the study has a data extraction row.
func (r *PgDataExtractionRepository) Exists(ctx context.Context, studyID int64) (bool, error) {
	return exists(ctx, r.db, `SELECT EXISTS (SELECT 1 FROM data_extractions WHERE study_id = $1)`, studyID)
}

// Create inserts an empty extraction for the study.
func (r *PgDataExtractionRepository) Create(ctx context.Context, studyID, reviewID int64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO data_extractions (study_id, review_id) VALUES ($1, $2)`, studyID, reviewID)
	if err != nil {
		if isPgUniqueViolation(err) {
			return domain.NewConflictError("data_extraction", "study "+strconv.FormatInt(studyID, 10)+" already has a data extraction")
		}
		return fmt.Errorf("failed to create data extraction: %w", err)
	}
	return nil
}

// Save replaces the extraction data.
func (r *PgDataExtractionRepository) Save(ctx context.Context, de *domain.DataExtraction) error {
	data := de.Data
	if data == nil {
		data = map[string]any{}
	}

	err := r.db.QueryRow(ctx,
		`UPDATE data_extractions SET data = $2, updated_at = NOW() WHERE study_id = $1 RETURNING review_id, created_at, updated_at`,
		de.StudyID, data,
	).Scan(&de.ReviewID, &de.CreatedAt, &de.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NewNotFoundError("data_extraction", strconv.FormatInt(de.StudyID, 10))
		}
		return fmt.Errorf("failed to save data extraction: %w", err)
	}
	return nil
}

// Delete removes the study's extraction and reports whether one existed.
func (r *PgDataExtractionRepository) Delete(ctx context.Context, studyID int64) (bool, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM data_extractions WHERE study_id = $1`, studyID)
	if err != nil {
		return false, fmt.Errorf("failed to delete data extraction: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

func exists(ctx context.Context, db DBTX, query string, args ...any) (bool, error) {
	var ok bool
	if err := db.QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return ok, nil
}
