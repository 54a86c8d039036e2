package domain

import (
	"strings"
	"time"
)

// Screening is one reviewer's decision on one study at one stage.
type Screening struct {
	ID             int64
	ReviewID       int64
	StudyID        int64
	UserID         int64
	Stage          Stage
	Status         Decision
	ExcludeReasons []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ScreeningInput carries a reviewer's decision into the status machine.
type ScreeningInput struct {
	// ReviewID, when set, must own the study.
	ReviewID       int64
	Stage          Stage
	StudyID        int64
	UserID         int64
	Status         Decision
	ExcludeReasons []string
}

// Validate checks the decision and normalises exclude reasons in place.
// Reasons are required exactly when the decision is excluded.
func (in *ScreeningInput) Validate() error {
	if in.Stage != StageCitation && in.Stage != StageFulltext {
		return NewValidationError("stage", "must be citation or fulltext")
	}
	if in.StudyID <= 0 {
		return NewValidationError("study_id", "must be positive")
	}
	if in.UserID <= 0 {
		return NewValidationError("user_id", "must be positive")
	}
	if !in.Status.Valid() {
		return NewValidationError("status", "must be included or excluded")
	}

	reasons := make([]string, 0, len(in.ExcludeReasons))
	for _, r := range in.ExcludeReasons {
		if r = strings.TrimSpace(r); r != "" {
			reasons = append(reasons, r)
		}
	}
	in.ExcludeReasons = reasons

	switch in.Status {
	case DecisionExcluded:
		if len(reasons) == 0 {
			return NewValidationError("exclude_reasons", "required when status is excluded")
		}
	case DecisionIncluded:
		if len(reasons) > 0 {
			return NewValidationError("exclude_reasons", "only allowed when status is excluded")
		}
	}
	return nil
}

// Decisions extracts the verdicts from a set of screenings.
func Decisions(screenings []*Screening) []Decision {
	out := make([]Decision, len(screenings))
	for i, s := range screenings {
		out[i] = s.Status
	}
	return out
}
