package dedup

import (
	"context"
	"math"
	"sort"
	"sync"
)

// CandidateIndex finds likely duplicates of a record among the records of
// one review, so only those pairs are scored.
type CandidateIndex interface {
	// Build replaces the review's indexed vectors.
	Build(ctx context.Context, reviewID int64, vectors map[int64][]float32) error
	// Nearest returns up to k study IDs closest to vector, most similar first.
	Nearest(ctx context.Context, reviewID int64, vector []float32, k int) ([]int64, error)
}

// Compile-time check that InMemoryIndex implements CandidateIndex.
var _ CandidateIndex = (*InMemoryIndex)(nil)

type indexedVector struct {
	id  int64
	vec []float32
}

// InMemoryIndex is a brute-force cosine index kept per review. It is the
// default when Qdrant is disabled.
type InMemoryIndex struct {
	mu      sync.RWMutex
	reviews map[int64][]indexedVector
}

// NewInMemoryIndex creates an empty index.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{reviews: make(map[int64][]indexedVector)}
}

// Build replaces the review's vectors.
func (x *InMemoryIndex) Build(_ context.Context, reviewID int64, vectors map[int64][]float32) error {
	entries := make([]indexedVector, 0, len(vectors))
	for id, v := range vectors {
		entries = append(entries, indexedVector{id: id, vec: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	x.mu.Lock()
	defer x.mu.Unlock()
	x.reviews[reviewID] = entries
	return nil
}

// Nearest ranks every indexed vector by cosine similarity. Ties break on
// the lower study ID so results are deterministic.
func (x *InMemoryIndex) Nearest(_ context.Context, reviewID int64, vector []float32, k int) ([]int64, error) {
	x.mu.RLock()
	entries := x.reviews[reviewID]
	x.mu.RUnlock()

	type scored struct {
		id    int64
		score float64
	}
	all := make([]scored, 0, len(entries))
	for _, e := range entries {
		all = append(all, scored{id: e.id, score: cosine(vector, e.vec)})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].id < all[j].id
	})
	if k < len(all) {
		all = all[:k]
	}

	ids := make([]int64, len(all))
	for i, s := range all {
		ids[i] = s.id
	}
	return ids, nil
}

// Drop forgets a review's vectors.
func (x *InMemoryIndex) Drop(reviewID int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.reviews, reviewID)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
