package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "surname comma given", input: "Smith, John", expected: "smith j"},
		{name: "surname comma given and middle", input: "Smith, John A.", expected: "smith ja"},
		{name: "given first", input: "John A. Smith", expected: "smith ja"},
		{name: "dotted initials first", input: "J.A. Smith", expected: "smith ja"},
		{name: "medline", input: "Smith JA", expected: "smith ja"},
		{name: "medline spaced initials", input: "Smith J A", expected: "smith ja"},
		{name: "all caps medline", input: "LI J", expected: "li j"},
		{name: "hyphenated given name", input: "Jean-Pierre Dupont", expected: "dupont jp"},
		{name: "particle surname", input: "van der Berg, Anna", expected: "vanderberg a"},
		{name: "apostrophe surname", input: "O'Neil, Mary", expected: "oneil m"},
		{name: "accents folded", input: "Müller, Ånna", expected: "muller a"},
		{name: "surname only", input: "Smith", expected: "smith"},
		{name: "consortium", input: "Cochrane Collaboration", expected: "collaboration c"},
		{name: "blank", input: "   ", expected: ""},
		{name: "punctuation only", input: "., -", expected: ""},
		{name: "et al", input: "et al.", expected: ""},
		{name: "others", input: "Others", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, AuthorKey(tt.input))
		})
	}
}

func TestAuthorKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		[]string{"smith j", "muller a"},
		AuthorKeys([]string{"Smith, John", "", "Müller A", "et al."}),
	)
	assert.Nil(t, AuthorKeys(nil))
}

func TestAuthorMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{name: "same key", a: "smith ja", b: "smith ja", expected: 1},
		{name: "initials prefix", a: "smith j", b: "smith ja", expected: 1},
		{name: "initials missing on one side", a: "smith", b: "smith ja", expected: 0.75},
		{name: "same first initial, different middle", a: "smith ja", b: "smith jb", expected: 0.5},
		{name: "different first initial", a: "smith j", b: "smith m", expected: 0},
		{name: "different surname", a: "smith j", b: "smyth j", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, authorMatch(tt.a, tt.b))
			assert.Equal(t, tt.expected, authorMatch(tt.b, tt.a))
		})
	}
}

func TestAuthorOverlap(t *testing.T) {
	t.Parallel()

	// The same trial exported by two databases with different author styles.
	pubmed := AuthorKeys([]string{"Smith JA", "Muller A", "Chen X"})
	embase := AuthorKeys([]string{"Smith, John A.", "Müller, Anna", "Chen, Xiaoming"})

	tests := []struct {
		name    string
		a, b    []string
		atLeast float64
		atMost  float64
	}{
		{name: "same authors across export formats", a: pubmed, b: embase, atLeast: 1, atMost: 1},
		{name: "empty side", a: nil, b: embase, atMost: 0},
		{
			name:    "list truncated after first author",
			a:       []string{"smith ja"},
			b:       embase,
			atLeast: 0.74,
			atMost:  0.76,
		},
		{
			name:    "same authors, first author differs",
			a:       []string{"muller a", "smith ja", "chen x"},
			b:       embase,
			atLeast: 0.5,
			atMost:  0.5,
		},
		{name: "disjoint", a: []string{"garcia m", "rossi l"}, b: embase, atMost: 0},
		{
			name:    "only leading authors compared",
			a:       append([]string{"smith ja"}, repeatKey("lee k", 12)...),
			b:       append([]string{"smith ja"}, repeatKey("lee k", 9)...),
			atLeast: 1,
			atMost:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := AuthorOverlap(tt.a, tt.b)
			assert.GreaterOrEqual(t, got, tt.atLeast)
			assert.LessOrEqual(t, got, tt.atMost)
			assert.InDelta(t, got, AuthorOverlap(tt.b, tt.a), 1e-12, "must be symmetric")
		})
	}
}

func repeatKey(key string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = key
	}
	return out
}
