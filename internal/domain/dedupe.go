package domain

import "time"

// Dedupe marks a study as a duplicate of a canonical study in the same
// review. Canonical and non-duplicate studies have no row.
type Dedupe struct {
	StudyID        int64
	ReviewID       int64
	DuplicateOf    int64
	DuplicateScore float64
	CreatedAt      time.Time
}

// DedupeRun is the ledger entry written by every completed pipeline run.
type DedupeRun struct {
	ID            int64
	ReviewID      int64
	RecordsAsOf   time.Time
	NumRecords    int
	NumClusters   int
	NumDuplicates int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Covers reports whether the run already saw every record created up to latest.
func (r *DedupeRun) Covers(latest time.Time) bool {
	return r != nil && !latest.After(r.RecordsAsOf)
}
