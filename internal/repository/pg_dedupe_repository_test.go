package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

func TestPgDedupeRepository_ReplaceForReview(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes then inserts in one batch", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		dedupes := []*domain.Dedupe{
			{StudyID: 1, ReviewID: 7, DuplicateOf: 2, DuplicateScore: 0.93},
			{StudyID: 3, ReviewID: 7, DuplicateOf: 2, DuplicateScore: 0.88},
		}

		batch := mock.ExpectBatch()
		batch.ExpectExec("DELETE FROM dedupes WHERE review_id = \\$1").
			WithArgs(int64(7)).
			WillReturnResult(pgxmock.NewResult("DELETE", 5))
		for _, d := range dedupes {
			batch.ExpectExec("INSERT INTO dedupes").
				WithArgs(d.StudyID, d.ReviewID, d.DuplicateOf, d.DuplicateScore).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}

		require.NoError(t, NewPgDedupeRepository(mock).ReplaceForReview(ctx, 7, dedupes))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects rows from another review", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		err = NewPgDedupeRepository(mock).ReplaceForReview(ctx, 7, []*domain.Dedupe{{StudyID: 1, ReviewID: 8, DuplicateOf: 2}})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestPgDedupeRunRepository_Latest(t *testing.T) {
	ctx := context.Background()

	t.Run("returns most recent run", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now().UTC()
		mock.ExpectQuery("SELECT .* FROM dedupe_runs").
			WithArgs(int64(7)).
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "review_id", "records_as_of", "num_records", "num_clusters", "num_duplicates", "started_at", "finished_at",
			}).AddRow(int64(3), int64(7), now, 40, 5, 6, now, now))

		run, err := NewPgDedupeRunRepository(mock).Latest(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, 6, run.NumDuplicates)
		assert.True(t, run.Covers(now))
	})

	t.Run("returns not found without runs", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT .* FROM dedupe_runs").
			WithArgs(int64(7)).
			WillReturnError(pgx.ErrNoRows)

		_, err = NewPgDedupeRunRepository(mock).Latest(ctx, 7)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestPgKeytermRepository_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT term, polarity FROM keyterms").
		WithArgs(int64(7), domain.KeytermSourceSuggested).
		WillReturnRows(pgxmock.NewRows([]string{"term", "polarity"}).
			AddRow("mouse", "exclude").
			AddRow("randomised", "include"))

	set, err := NewPgKeytermRepository(mock).List(context.Background(), 7, domain.KeytermSourceSuggested)
	require.NoError(t, err)
	assert.Equal(t, []string{"randomised"}, set.Include)
	assert.Equal(t, []string{"mouse"}, set.Exclude)
}

func TestPgKeytermRepository_Replace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	batch := mock.ExpectBatch()
	batch.ExpectExec("DELETE FROM keyterms").
		WithArgs(int64(7), domain.KeytermSourceManual).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	batch.ExpectExec("INSERT INTO keyterms").
		WithArgs(int64(7), "statin", domain.KeytermSourceManual, domain.PolarityInclude, 1.0).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	batch.ExpectExec("INSERT INTO keyterms").
		WithArgs(int64(7), "cholesterol", domain.KeytermSourceManual, domain.PolarityInclude, 0.5).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewPgKeytermRepository(mock).Replace(context.Background(), 7, domain.KeytermSourceManual,
		domain.KeytermSet{Include: []string{"Statin", "cholesterol"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgClassifierModelRepository_Get(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT .* FROM classifier_models WHERE review_id = \\$1").
		WithArgs(int64(7)).
		WillReturnError(pgx.ErrNoRows)

	_, err = NewPgClassifierModelRepository(mock).Get(context.Background(), 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
