package ranking

import (
	"cmp"
	"math"
	"slices"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

// minDocFrequency is the number of sampled records a term must appear in
// before it can be suggested.
const minDocFrequency = 2

// SuggestKeyterms derives inclusion and exclusion terms from samples of
// included and excluded citations. Each unigram and bigram is scored by the
// smoothed log-odds of appearing in an included versus an excluded record;
// the perPolarity most positive terms become inclusion terms and the most
// negative exclusion terms. Ties break alphabetically.
func SuggestKeyterms(included, excluded []*domain.Citation, perPolarity int) domain.KeytermSet {
	set := domain.KeytermSet{Include: []string{}, Exclude: []string{}}
	if perPolarity <= 0 || len(included) == 0 || len(excluded) == 0 {
		return set
	}

	inc := documentFrequencies(included)
	excDF := documentFrequencies(excluded)
	nInc, nExc := float64(len(included)), float64(len(excluded))

	type scored struct {
		term  string
		score float64
	}
	var all []scored
	seen := make(map[string]bool, len(inc)+len(excDF))
	for _, df := range []map[string]int{inc, excDF} {
		for term := range df {
			if seen[term] {
				continue
			}
			seen[term] = true
			a, b := float64(inc[term]), float64(excDF[term])
			if a+b < minDocFrequency {
				continue
			}
			all = append(all, scored{term: term, score: logOdds(a, nInc) - logOdds(b, nExc)})
		}
	}

	byScore := func(sign float64) func(x, y scored) int {
		return func(x, y scored) int {
			if c := cmp.Compare(sign*y.score, sign*x.score); c != 0 {
				return c
			}
			return cmp.Compare(x.term, y.term)
		}
	}

	slices.SortFunc(all, byScore(1))
	for _, s := range all {
		if s.score <= 0 || len(set.Include) == perPolarity {
			break
		}
		set.Include = append(set.Include, s.term)
	}
	slices.SortFunc(all, byScore(-1))
	for _, s := range all {
		if s.score >= 0 || len(set.Exclude) == perPolarity {
			break
		}
		set.Exclude = append(set.Exclude, s.term)
	}
	return set
}

// logOdds is the add-half smoothed log-odds of a term appearing in k of n documents.
func logOdds(k, n float64) float64 {
	return math.Log((k + 0.5) / (n - k + 0.5))
}

// documentFrequencies counts the records each unigram and bigram occurs in.
func documentFrequencies(citations []*domain.Citation) map[string]int {
	df := make(map[string]int)
	for _, c := range citations {
		words := contentTokens(tokens(citationText(c)))
		seen := make(map[string]bool, 2*len(words))
		for i, w := range words {
			if !seen[w] {
				seen[w] = true
				df[w]++
			}
			if i+1 < len(words) {
				bigram := joinTerm(words[i : i+2])
				if !seen[bigram] {
					seen[bigram] = true
					df[bigram]++
				}
			}
		}
	}
	return df
}
