package domain

import (
	"regexp"
	"strings"
	"time"
)

// whitespaceRegex matches one or more whitespace characters (spaces, tabs, newlines).
var whitespaceRegex = regexp.MustCompile(`\s+`)

// KeytermSource distinguishes reviewer-entered terms from learned ones.
type KeytermSource string

const (
	KeytermSourceManual    KeytermSource = "manual"
	KeytermSourceSuggested KeytermSource = "suggested"
)

// Polarity says whether a term signals inclusion or exclusion.
type Polarity string

const (
	PolarityInclude Polarity = "include"
	PolarityExclude Polarity = "exclude"
)

// Keyterm is a single scoring term attached to a review.
type Keyterm struct {
	ID        int64
	ReviewID  int64
	Term      string
	Source    KeytermSource
	Polarity  Polarity
	Weight    float64
	CreatedAt time.Time
}

// KeytermSet groups a review's terms of one source by polarity.
type KeytermSet struct {
	Include []string `json:"include"`
	Exclude []string `json:"exclude"`
}

// IsEmpty reports whether the set carries no terms at all.
func (s KeytermSet) IsEmpty() bool {
	return len(s.Include) == 0 && len(s.Exclude) == 0
}

// Terms flattens the set into Keyterm rows for persistence.
func (s KeytermSet) Terms(reviewID int64, source KeytermSource) []*Keyterm {
	out := make([]*Keyterm, 0, len(s.Include)+len(s.Exclude))
	seen := make(map[string]bool)
	add := func(term string, p Polarity) {
		term = NormalizeTerm(term)
		key := string(p) + "|" + term
		if term == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, &Keyterm{ReviewID: reviewID, Term: term, Source: source, Polarity: p, Weight: 1})
	}
	for _, t := range s.Include {
		add(t, PolarityInclude)
	}
	for _, t := range s.Exclude {
		add(t, PolarityExclude)
	}
	return out
}

// NormalizeTerm lowercases, trims and collapses internal whitespace.
func NormalizeTerm(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// ClassifierModel is the opaque trained artifact persisted per review.
type ClassifierModel struct {
	ReviewID    int64
	Backend     string
	FeatureDim  int
	Model       []byte
	NumIncluded int
	NumExcluded int
	TrainedAt   time.Time
}
