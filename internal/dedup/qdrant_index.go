package dedup

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/helixir/screening-workflow-service/internal/qdrant"
)

// Compile-time check that QdrantIndex implements CandidateIndex.
var _ CandidateIndex = (*QdrantIndex)(nil)

// QdrantIndex adapts the Qdrant VectorStore to the CandidateIndex used by the
// built-in matcher. Each review gets its own collection, rebuilt per run.
type QdrantIndex struct {
	store qdrant.VectorStore
}

// NewQdrantIndex creates a new QdrantIndex over store.
func NewQdrantIndex(store qdrant.VectorStore) *QdrantIndex {
	return &QdrantIndex{store: store}
}

// Build recreates the review's collection and upserts vectors.
func (x *QdrantIndex) Build(ctx context.Context, reviewID int64, vectors map[int64][]float32) error {
	collection := x.store.CollectionName(reviewID)
	if err := x.store.ResetCollection(ctx, collection); err != nil {
		return fmt.Errorf("qdrant index build: %w", err)
	}

	points := make([]qdrant.Point, 0, len(vectors))
	for id, v := range vectors {
		if id <= 0 {
			return fmt.Errorf("qdrant index build: invalid study id %d", id)
		}
		points = append(points, qdrant.Point{ID: uint64(id), Vector: v})
	}
	slices.SortFunc(points, func(a, b qdrant.Point) int { return cmp.Compare(a.ID, b.ID) })
	if err := x.store.Upsert(ctx, collection, points); err != nil {
		return fmt.Errorf("qdrant index build: %w", err)
	}
	return nil
}

// Nearest queries the review's collection.
func (x *QdrantIndex) Nearest(ctx context.Context, reviewID int64, vector []float32, k int) ([]int64, error) {
	if k <= 0 {
		return nil, nil
	}
	results, err := x.store.Search(ctx, x.store.CollectionName(reviewID), vector, uint64(k))
	if err != nil {
		return nil, fmt.Errorf("qdrant index search: %w", err)
	}

	ids := make([]int64, 0, len(results))
	for _, r := range results {
		ids = append(ids, int64(r.ID))
	}
	return ids, nil
}
