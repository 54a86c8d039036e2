package domain

import "time"

// Review is a review project and the owner of every study, screening and
// derived artifact.
type Review struct {
	ID     int64
	Name   string
	Status ReviewStatus

	// Default required-reviewer counts per stage. Studies may override them.
	NumCitationScreeningReviewers int
	NumFulltextScreeningReviewers int

	Counters ReviewCounters

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReviewCounters are the running counts of studies currently in a terminal
// status. They always equal the materialised counts.
type ReviewCounters struct {
	CitationsIncluded int `json:"num_citations_included"`
	CitationsExcluded int `json:"num_citations_excluded"`
	FulltextsIncluded int `json:"num_fulltexts_included"`
	FulltextsExcluded int `json:"num_fulltexts_excluded"`
}

// Stage returns the included and excluded counts for a stage.
func (c ReviewCounters) Stage(stage Stage) (included, excluded int) {
	if stage == StageFulltext {
		return c.FulltextsIncluded, c.FulltextsExcluded
	}
	return c.CitationsIncluded, c.CitationsExcluded
}

// Apply returns a copy of c with delta added to the stage counters.
func (c ReviewCounters) Apply(stage Stage, delta CounterDelta) ReviewCounters {
	if stage == StageFulltext {
		c.FulltextsIncluded += delta.Included
		c.FulltextsExcluded += delta.Excluded
		return c
	}
	c.CitationsIncluded += delta.Included
	c.CitationsExcluded += delta.Excluded
	return c
}

// CounterDelta is the change a single status transition makes to one
// stage's counters.
type CounterDelta struct {
	Included int
	Excluded int
}

// IsZero reports whether the delta changes nothing.
func (d CounterDelta) IsZero() bool {
	return d.Included == 0 && d.Excluded == 0
}

// TransitionDelta computes the counter delta for a move between statuses.
func TransitionDelta(from, to ScreeningStatus) CounterDelta {
	var d CounterDelta
	switch from {
	case ScreeningStatusIncluded:
		d.Included--
	case ScreeningStatusExcluded:
		d.Excluded--
	}
	switch to {
	case ScreeningStatusIncluded:
		d.Included++
	case ScreeningStatusExcluded:
		d.Excluded++
	}
	return d
}

// IsFrozen reports whether screening writes are locked.
func (r *Review) IsFrozen() bool {
	return r.Status == ReviewStatusFrozen
}

// DefaultReviewers returns the review-wide required-reviewer count for a stage.
func (r *Review) DefaultReviewers(stage Stage) int {
	if stage == StageFulltext {
		return r.NumFulltextScreeningReviewers
	}
	return r.NumCitationScreeningReviewers
}
