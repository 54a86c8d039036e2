package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

func TestKeytermScore(t *testing.T) {
	t.Parallel()

	set := domain.KeytermSet{Include: []string{"randomized trial", "statin"}, Exclude: []string{"mice"}}

	tests := []struct {
		name     string
		text     string
		expected float64
	}{
		{name: "empty text", text: "", expected: 0},
		{name: "no matches", text: "a study of sleep", expected: 0},
		{name: "phrase and word", text: "Statin use: a Randomized Trial", expected: 2.0 / 5},
		{name: "exclusion subtracts", text: "statin in mice", expected: 0},
		{name: "only exclusion", text: "mice mice", expected: -1},
		{name: "phrase split across words does not match", text: "randomized controlled trial", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.expected, KeytermScore(tt.text, set), 1e-12)
		})
	}
}

func TestKeytermDensity(t *testing.T) {
	t.Parallel()

	set := domain.KeytermSet{Include: []string{"statin"}, Exclude: []string{"mice"}}

	assert.Zero(t, KeytermDensity("", set))
	assert.Zero(t, KeytermDensity("sleep quality", set))
	assert.InDelta(t, 2.0/3, KeytermDensity("statin in mice", set), 1e-12)
	assert.InDelta(t, 1.0, KeytermDensity("mice mice", set), 1e-12)
}

func TestTermMatcher_Empty(t *testing.T) {
	t.Parallel()

	assert.True(t, newTermMatcher(domain.KeytermSet{Include: []string{" ", "--"}}).empty())
	assert.False(t, newTermMatcher(domain.KeytermSet{Exclude: []string{"rats"}}).empty())
}
