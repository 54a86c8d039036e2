package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

func TestSuggestKeyterms(t *testing.T) {
	t.Parallel()

	included := []*domain.Citation{
		citation(1, "Statin therapy in older adults", "randomized trial of statin therapy"),
		citation(2, "Statin therapy and mortality", "a randomized trial in adults"),
		citation(3, "Cholesterol lowering with statin therapy", "trial outcomes"),
	}
	excluded := []*domain.Citation{
		citation(4, "Statin effects in mice", "an animal model in mice"),
		citation(5, "Lipid metabolism in mice", "mice were fed a diet"),
		citation(6, "Cell culture response", "an animal model of disease"),
	}

	set := SuggestKeyterms(included, excluded, 3)

	assert.Len(t, set.Include, 3)
	assert.Contains(t, set.Include, "statin therapy")
	assert.Contains(t, set.Include, "therapy")
	assert.Contains(t, set.Exclude, "mice")
	assert.Contains(t, set.Exclude, "animal model")
	assert.NotContains(t, set.Include, "mice")
	assert.NotContains(t, set.Exclude, "statin", "a term common to both labels carries no signal")

	assert.Equal(t, set, SuggestKeyterms(included, excluded, 3), "deterministic")
}

func TestSuggestKeyterms_NeedsBothLabels(t *testing.T) {
	t.Parallel()

	set := SuggestKeyterms([]*domain.Citation{citation(1, "a b", "")}, nil, 5)
	assert.Empty(t, set.Include)
	assert.Empty(t, set.Exclude)
	assert.NotNil(t, set.Include)
}

func TestSuggestKeyterms_RequiresRepeatedTerms(t *testing.T) {
	t.Parallel()

	set := SuggestKeyterms(
		[]*domain.Citation{citation(1, "unique inclusion words", "")},
		[]*domain.Citation{citation(2, "other exclusion words", "")},
		5,
	)
	assert.Empty(t, set.Include)
	assert.Empty(t, set.Exclude)
}
