package dedup

import "math"

// Field weights of the built-in pair score. Only fields present on both
// records take part, and the score is renormalised over them.
const (
	weightTitle   = 0.6
	weightAuthors = 0.25
	weightYear    = 0.1
	weightJournal = 0.05
)

// Similarity scores how likely two records describe the same work, in [0,1].
// Matching DOIs decide outright; differing DOIs mean different works.
func Similarity(a, b Record) float64 {
	if a.DOI != "" && b.DOI != "" {
		if a.DOI == b.DOI {
			return 1
		}
		return 0
	}
	if a.Title == "" || b.Title == "" {
		return 0
	}

	total := weightTitle * TextSimilarity(a.Title, b.Title)
	weights := weightTitle

	if len(a.Authors) > 0 && len(b.Authors) > 0 {
		total += weightAuthors * AuthorOverlap(a.Authors, b.Authors)
		weights += weightAuthors
	}
	if a.PubYear != 0 && b.PubYear != 0 {
		total += weightYear * yearSimilarity(a.PubYear, b.PubYear)
		weights += weightYear
	}
	if a.Journal != "" && b.Journal != "" {
		total += weightJournal * TextSimilarity(a.Journal, b.Journal)
		weights += weightJournal
	}
	return math.Min(1, total/weights)
}

// TextSimilarity is the Sørensen–Dice coefficient over character trigrams.
func TextSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	ta, tb := trigrams(a), trigrams(b)
	na, nb := 0, 0
	for _, c := range ta {
		na += c
	}
	for _, c := range tb {
		nb += c
	}
	shared := 0
	for g, ca := range ta {
		shared += min(ca, tb[g])
	}
	return 2 * float64(shared) / float64(na+nb)
}

// trigrams counts the padded character trigrams of s.
func trigrams(s string) map[string]int {
	r := []rune("  " + s + " ")
	out := make(map[string]int, len(r))
	for i := 0; i+3 <= len(r); i++ {
		out[string(r[i:i+3])]++
	}
	return out
}

func yearSimilarity(a, b int) float64 {
	switch d := a - b; {
	case d == 0:
		return 1
	case d == 1 || d == -1:
		return 0.5
	default:
		return 0
	}
}
