package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/screening-workflow-service/internal/qdrant"
)

type mockVectorStore struct {
	mock.Mock
}

func (m *mockVectorStore) ResetCollection(ctx context.Context, collection string) error {
	return m.Called(ctx, collection).Error(0)
}

func (m *mockVectorStore) Upsert(ctx context.Context, collection string, points []qdrant.Point) error {
	return m.Called(ctx, collection, points).Error(0)
}

func (m *mockVectorStore) Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]qdrant.SearchResult, error) {
	args := m.Called(ctx, collection, vector, topK)
	res, _ := args.Get(0).([]qdrant.SearchResult)
	return res, args.Error(1)
}

func (m *mockVectorStore) CollectionName(reviewID int64) string {
	return m.Called(reviewID).String(0)
}

func (m *mockVectorStore) Close() error {
	return m.Called().Error(0)
}

func TestQdrantIndex_Build(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := new(mockVectorStore)

	store.On("CollectionName", int64(9)).Return("screening_review_9")
	store.On("ResetCollection", ctx, "screening_review_9").Return(nil)
	store.On("Upsert", ctx, "screening_review_9", []qdrant.Point{
		{ID: 2, Vector: []float32{0, 1}},
		{ID: 5, Vector: []float32{1, 0}},
	}).Return(nil)

	err := NewQdrantIndex(store).Build(ctx, 9, map[int64][]float32{5: {1, 0}, 2: {0, 1}})
	require.NoError(t, err)
	store.AssertExpectations(t)
}

func TestQdrantIndex_BuildResetFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := new(mockVectorStore)
	boom := errors.New("unavailable")

	store.On("CollectionName", int64(9)).Return("screening_review_9")
	store.On("ResetCollection", ctx, "screening_review_9").Return(boom)

	err := NewQdrantIndex(store).Build(ctx, 9, map[int64][]float32{1: {1}})
	assert.ErrorIs(t, err, boom)
	store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

func TestQdrantIndex_Nearest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := new(mockVectorStore)
	vec := []float32{1, 0}

	store.On("CollectionName", int64(9)).Return("screening_review_9")
	store.On("Search", ctx, "screening_review_9", vec, uint64(3)).Return([]qdrant.SearchResult{
		{ID: 5, Score: 0.99},
		{ID: 2, Score: 0.5},
	}, nil)

	ids, err := NewQdrantIndex(store).Nearest(ctx, 9, vec, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 2}, ids)

	none, err := NewQdrantIndex(store).Nearest(ctx, 9, vec, 0)
	require.NoError(t, err)
	assert.Nil(t, none)
}
