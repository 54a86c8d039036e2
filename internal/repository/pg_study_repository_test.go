package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

var studyRowColumns = []string{
	"id", "review_id", "tags",
	"dedupe_status", "citation_status", "fulltext_status", "data_extraction_status",
	"num_citation_reviewers", "num_fulltext_reviewers",
	"created_at", "updated_at",
}

func TestPgStudyRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("applies initial statuses", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now().UTC()
		mock.ExpectQuery("INSERT INTO studies").
			WithArgs(int64(1), []string{}, domain.DedupeStatusNotDeduped, domain.ScreeningStatusNotScreened,
				domain.ScreeningStatusNotScreened, domain.DataExtractionStatusNotStarted, pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(8), now, now))

		study := &domain.Study{ReviewID: 1}
		require.NoError(t, NewPgStudyRepository(mock).Create(ctx, study))
		assert.Equal(t, int64(8), study.ID)
		assert.Equal(t, domain.DedupeStatusNotDeduped, study.DedupeStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps missing review to not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("INSERT INTO studies").
			WithArgs(int64(99), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: "23503"})

		err = NewPgStudyRepository(mock).Create(ctx, &domain.Study{ReviewID: 99})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgStudyRepository_GetForUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("locks and scans the study", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now().UTC()
		three := 3
		mock.ExpectQuery("SELECT .* FROM studies s WHERE s.id = \\$1 FOR UPDATE").
			WithArgs(int64(5)).
			WillReturnRows(pgxmock.NewRows(studyRowColumns).AddRow(
				int64(5), int64(1), []string{"rct"},
				"not_duplicate", "included", "screened_once", "not_started",
				nil, &three, now, now))

		study, err := NewPgStudyRepository(mock).GetForUpdate(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, domain.ScreeningStatusIncluded, study.CitationStatus)
		assert.Equal(t, domain.ScreeningStatusScreenedOnce, study.FulltextStatus)
		assert.Nil(t, study.NumCitationReviewers)
		require.NotNil(t, study.NumFulltextReviewers)
		assert.Equal(t, 3, *study.NumFulltextReviewers)
		assert.True(t, study.HasTag("rct"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT .* FROM studies s WHERE s.id = \\$1 FOR UPDATE").
			WithArgs(int64(6)).
			WillReturnError(pgx.ErrNoRows)

		_, err = NewPgStudyRepository(mock).GetForUpdate(ctx, 6)
		var nf *domain.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "study", nf.Entity)
	})
}

func TestPgStudyRepository_UpdateStatuses(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	study := &domain.Study{
		ID:                   5,
		CitationStatus:       domain.ScreeningStatusIncluded,
		FulltextStatus:       domain.ScreeningStatusNotScreened,
		DataExtractionStatus: domain.DataExtractionStatusNotStarted,
	}

	mock.ExpectQuery("UPDATE studies").
		WithArgs(int64(5), domain.ScreeningStatusIncluded, domain.ScreeningStatusNotScreened, domain.DataExtractionStatusNotStarted).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))

	require.NoError(t, NewPgStudyRepository(mock).UpdateStatuses(context.Background(), study))
	assert.Equal(t, now, study.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStudyRepository_ApplyDedupeStatuses(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	asOf := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("UPDATE studies\\s+SET dedupe_status = CASE WHEN id = ANY\\(\\$3\\)").
		WithArgs(int64(2), asOf, []int64{}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	n, err := NewPgStudyRepository(mock).ApplyDedupeStatuses(context.Background(), 2, asOf, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStudyRepository_LatestCreatedAt(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil for empty review", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT MAX\\(created_at\\) FROM studies").
			WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(nil))

		latest, err := NewPgStudyRepository(mock).LatestCreatedAt(ctx, 1)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("returns newest timestamp", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		ts := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery("SELECT MAX\\(created_at\\) FROM studies").
			WithArgs(int64(1)).
			WillReturnRows(pgxmock.NewRows([]string{"max"}).AddRow(&ts))

		latest, err := NewPgStudyRepository(mock).LatestCreatedAt(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.True(t, ts.Equal(*latest))
	})
}

func TestPgStudyRepository_ListQueueCandidates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT s.id\\s+FROM studies s").
		WithArgs(int64(1), int64(42), "rct").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)).AddRow(int64(7)))

	ids, err := NewPgStudyRepository(mock).ListQueueCandidates(context.Background(), QueueFilter{ReviewID: 1, UserID: 42, Tag: "rct"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 7}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStudyRepository_CountTerminal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT\\s+COUNT\\(\\*\\) FILTER").
		WithArgs(int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"a", "b", "c", "d"}).AddRow(3, 2, 1, 0))

	c, err := NewPgStudyRepository(mock).CountTerminal(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewCounters{CitationsIncluded: 3, CitationsExcluded: 2, FulltextsIncluded: 1}, c)
}

func TestStudyScanDest(t *testing.T) {
	var sd studyScanDest
	var cd citationScanDest
	assert.Len(t, sd.destinations(), len(studyRowColumns))
	assert.Len(t, cd.destinations(), 17)

	year := int32(2019)
	cd.pubYear = &year
	assert.Equal(t, 2019, *cd.finalize().PubYear)
}
