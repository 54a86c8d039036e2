package ranking

import (
	"strings"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

// termMatcher counts keyterm occurrences in tokenized text. Multi-word terms
// match as contiguous phrases.
type termMatcher struct {
	include [][]string
	exclude [][]string
}

func newTermMatcher(set domain.KeytermSet) termMatcher {
	split := func(terms []string) [][]string {
		out := make([][]string, 0, len(terms))
		for _, t := range terms {
			if words := tokens(t); len(words) > 0 {
				out = append(out, words)
			}
		}
		return out
	}
	return termMatcher{include: split(set.Include), exclude: split(set.Exclude)}
}

func (m termMatcher) empty() bool {
	return len(m.include) == 0 && len(m.exclude) == 0
}

// score is the inclusion-term match density minus the exclusion-term match
// density, both relative to the text length in words.
func (m termMatcher) score(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	n := float64(len(words))
	return float64(countMatches(words, m.include))/n - float64(countMatches(words, m.exclude))/n
}

// density is the match density of every term in the set regardless of
// polarity. Reviewer-entered terms only mark what to look for.
func (m termMatcher) density(words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	return float64(countMatches(words, m.include)+countMatches(words, m.exclude)) / float64(len(words))
}

func countMatches(words []string, terms [][]string) int {
	total := 0
	for _, term := range terms {
		for i := 0; i+len(term) <= len(words); i++ {
			if phraseAt(words, i, term) {
				total++
			}
		}
	}
	return total
}

func phraseAt(words []string, i int, term []string) bool {
	for j, w := range term {
		if words[i+j] != w {
			return false
		}
	}
	return true
}

// KeytermScore scores one text against a suggested keyterm set.
func KeytermScore(text string, set domain.KeytermSet) float64 {
	return newTermMatcher(set).score(tokens(text))
}

// KeytermDensity scores one text against manually entered keyterms.
func KeytermDensity(text string, set domain.KeytermSet) float64 {
	return newTermMatcher(set).density(tokens(text))
}

// joinTerm renders a phrase for storage.
func joinTerm(words []string) string {
	return strings.Join(words, " ")
}
