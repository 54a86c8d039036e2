package ranking

import (
	"hash/fnv"
	"math"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

// DefaultFeatureDim is the hashed feature space size.
const DefaultFeatureDim = 1024

// Featurizer turns citations into hashed bag-of-words vectors over the
// unigrams and bigrams of title, abstract and keywords. Counts are
// log-scaled and the vector is L2-normalized.
type Featurizer struct {
	dim int
}

// NewFeaturizer creates a Featurizer producing dim-sized vectors.
func NewFeaturizer(dim int) *Featurizer {
	if dim <= 0 {
		dim = DefaultFeatureDim
	}
	return &Featurizer{dim: dim}
}

// Dim returns the vector size.
func (f *Featurizer) Dim() int {
	return f.dim
}

// Featurize computes the vector for one citation. A citation without text
// yields the zero vector.
func (f *Featurizer) Featurize(c *domain.Citation) []float64 {
	vec := make([]float64, f.dim)
	words := contentTokens(tokens(citationText(c)))
	h := fnv.New32a()
	add := func(term string) {
		h.Reset()
		_, _ = h.Write([]byte(term))
		vec[h.Sum32()%uint32(f.dim)]++
	}
	for i, w := range words {
		add(w)
		if i+1 < len(words) {
			add(joinTerm(words[i : i+2]))
		}
	}

	var norm float64
	for i, v := range vec {
		if v > 0 {
			vec[i] = 1 + math.Log(v)
			norm += vec[i] * vec[i]
		}
	}
	if norm > 0 {
		scale := 1 / math.Sqrt(norm)
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

// Vector returns the citation's stored vector when it matches the feature
// space, otherwise computes it.
func (f *Featurizer) Vector(c *domain.Citation) []float64 {
	if len(c.FeatureVector) == f.dim {
		return c.FeatureVector
	}
	return f.Featurize(c)
}
