package dedup

import (
	"context"
	"hash/fnv"
	"math"
)

// TextEmbedder embeds a single text string into a vector representation.
type TextEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Compile-time check that HashingEmbedder implements TextEmbedder.
var _ TextEmbedder = (*HashingEmbedder)(nil)

// DefaultEmbeddingDim is the vector size used for candidate blocking.
const DefaultEmbeddingDim = 256

// HashingEmbedder maps the character trigrams of a normalized title into a
// fixed number of buckets and L2-normalises the counts. Near-identical
// titles land close together under cosine distance.
type HashingEmbedder struct {
	dim int
}

// NewHashingEmbedder creates an embedder producing dim-sized vectors.
func NewHashingEmbedder(dim int) *HashingEmbedder {
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}
	return &HashingEmbedder{dim: dim}
}

// Dim returns the vector size.
func (e *HashingEmbedder) Dim() int {
	return e.dim
}

// EmbedText embeds text. Empty input yields a nil vector.
func (e *HashingEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	vec := make([]float32, e.dim)
	h := fnv.New32a()
	for g, n := range trigrams(text) {
		h.Reset()
		_, _ = h.Write([]byte(g))
		vec[h.Sum32()%uint32(e.dim)] += float32(n)
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return nil, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
