package ranking

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/observability"
)

func seedLabeled(f *rankFixture, n int) {
	for i := range n {
		f.addStudy(domain.ScreeningStatusIncluded, fmt.Sprintf("Statin therapy trial %d", i), "randomized older adults")
		f.addStudy(domain.ScreeningStatusExcluded, fmt.Sprintf("Mouse model %d", i), "animal study in mice")
	}
}

func TestTrainer_TrainClassifier(t *testing.T) {
	t.Parallel()
	f := newRankFixture(t)
	seedLabeled(f, 5)
	pending := f.addStudy("", "Statin therapy in adults", "")

	featurizer := NewFeaturizer(32)
	clf := NewLogisticClassifier(LogisticConfig{Epochs: 50})
	trainer := NewTrainer(f.store, clf, featurizer, TrainerConfig{}, zerolog.Nop(), nil)

	out, err := trainer.TrainClassifier(f.ctx, f.reviewID)
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.Equal(t, 5, out.NumIncluded)
	assert.Equal(t, 5, out.NumExcluded)
	assert.Equal(t, 11, out.NumFeaturized)

	model, err := f.store.Stores().Models.Get(f.ctx, f.reviewID)
	require.NoError(t, err)
	assert.Equal(t, BackendLogistic, model.Backend)
	assert.Equal(t, 32, model.FeatureDim)

	citations, err := f.store.Stores().Citations.ListByStudyIDs(f.ctx, f.reviewID, []int64{pending})
	require.NoError(t, err)
	require.Len(t, citations, 1)
	assert.Len(t, citations[0].FeatureVector, 32, "vectors persisted for unscreened records too")

	out, err = trainer.TrainClassifier(f.ctx, f.reviewID)
	require.NoError(t, err)
	assert.Zero(t, out.NumFeaturized, "stored vectors are reused")

	ranking, err := NewRanker(f.store.Stores(), clf, featurizer, zerolog.Nop(), nil).
		Rank(f.ctx, f.reviewID, []int64{pending}, OrderDesc)
	require.NoError(t, err)
	assert.Equal(t, SourceClassifier, ranking.Source)
}

func TestTrainer_TrainClassifierSkipsWithoutBothLabels(t *testing.T) {
	t.Parallel()
	f := newRankFixture(t)
	f.addStudy(domain.ScreeningStatusIncluded, "only included", "")
	metrics := observability.NewMetrics("ranking_skip_test")

	clf := new(mockClassifier)
	out, err := NewTrainer(f.store, clf, NewFeaturizer(8), TrainerConfig{}, zerolog.Nop(), metrics).
		TrainClassifier(f.ctx, f.reviewID)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, SkipInsufficientLabels, out.Reason)
	clf.AssertNotCalled(t, "Fit", mock.Anything, mock.Anything, mock.Anything)

	_, err = f.store.Stores().Models.Get(f.ctx, f.reviewID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TrainingRuns.WithLabelValues(string(domain.JobClassifierTraining), OutcomeSkipped)))
}

func TestTrainer_FitFailureWritesNothing(t *testing.T) {
	t.Parallel()
	f := newRankFixture(t)
	seedLabeled(f, 2)

	clf := new(mockClassifier)
	clf.On("Fit", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("out of memory"))

	_, err := NewTrainer(f.store, clf, NewFeaturizer(8), TrainerConfig{}, zerolog.Nop(), nil).
		TrainClassifier(f.ctx, f.reviewID)
	var ext *domain.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "fit", ext.Op)

	_, err = f.store.Stores().Models.Get(f.ctx, f.reviewID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	citations, err := f.store.Stores().Citations.ListByReview(f.ctx, f.reviewID)
	require.NoError(t, err)
	for _, c := range citations {
		assert.Nil(t, c.FeatureVector)
	}
}

func TestTrainer_SaveFailureRollsBack(t *testing.T) {
	t.Parallel()
	f := newRankFixture(t)
	seedLabeled(f, 2)
	boom := errors.New("disk full")
	f.store.FailOn("models.Save", boom)

	_, err := NewTrainer(f.store, NewLogisticClassifier(LogisticConfig{}), NewFeaturizer(8), TrainerConfig{}, zerolog.Nop(), nil).
		TrainClassifier(f.ctx, f.reviewID)
	assert.ErrorIs(t, err, boom)

	citations, err := f.store.Stores().Citations.ListByReview(f.ctx, f.reviewID)
	require.NoError(t, err)
	for _, c := range citations {
		assert.Nil(t, c.FeatureVector, "vectors roll back with the model")
	}
}

func TestTrainer_SuggestKeyterms(t *testing.T) {
	t.Parallel()
	f := newRankFixture(t)
	seedLabeled(f, 4)
	f.setKeyterms(domain.KeytermSourceSuggested, []string{"stale"}, nil)
	f.setKeyterms(domain.KeytermSourceManual, []string{"manual"}, nil)

	out, err := NewTrainer(f.store, nil, nil, TrainerConfig{TermsPerPolarity: 20}, zerolog.Nop(), nil).
		SuggestKeyterms(f.ctx, f.reviewID)
	require.NoError(t, err)
	require.False(t, out.Skipped)
	assert.Contains(t, out.Terms.Include, "statin therapy")
	assert.Contains(t, out.Terms.Exclude, "mice")

	stored, err := f.store.Stores().Keyterms.List(f.ctx, f.reviewID, domain.KeytermSourceSuggested)
	require.NoError(t, err)
	assert.Equal(t, out.Terms.Include, stored.Include)
	assert.NotContains(t, stored.Include, "stale")

	manual, err := f.store.Stores().Keyterms.List(f.ctx, f.reviewID, domain.KeytermSourceManual)
	require.NoError(t, err)
	assert.Equal(t, []string{"manual"}, manual.Include)
}

func TestTrainer_SuggestKeytermsSkips(t *testing.T) {
	t.Parallel()
	f := newRankFixture(t)
	f.addStudy(domain.ScreeningStatusExcluded, "only excluded", "")

	out, err := NewTrainer(f.store, nil, nil, TrainerConfig{}, zerolog.Nop(), nil).SuggestKeyterms(f.ctx, f.reviewID)
	require.NoError(t, err)
	assert.True(t, out.Skipped)

	_, err = NewTrainer(f.store, nil, nil, TrainerConfig{}, zerolog.Nop(), nil).SuggestKeyterms(f.ctx, f.reviewID+9)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
