// Package consensus turns independent reviewer decisions for one study at one
// stage into a single stage status.
package consensus

import "github.com/helixir/screening-workflow-service/internal/domain"

// Resolve returns the consensus status for decisions given the number of
// reviewers required. The result does not depend on the order of decisions.
//
// Fewer decisions than required yield screened_once for exactly one decision
// and screened_partial otherwise. Once the requirement is met the result is
// included or excluded when unanimous and conflict on any disagreement.
func Resolve(decisions []domain.Decision, required int) domain.ScreeningStatus {
	n := len(decisions)
	if n == 0 {
		return domain.ScreeningStatusNotScreened
	}
	if required < domain.MinReviewers {
		required = domain.MinReviewers
	}
	if n < required {
		if n == 1 {
			return domain.ScreeningStatusScreenedOnce
		}
		return domain.ScreeningStatusPartial
	}

	var included, excluded int
	for _, d := range decisions {
		switch d {
		case domain.DecisionIncluded:
			included++
		case domain.DecisionExcluded:
			excluded++
		}
	}
	switch {
	case included == n:
		return domain.ScreeningStatusIncluded
	case excluded == n:
		return domain.ScreeningStatusExcluded
	default:
		return domain.ScreeningStatusConflict
	}
}

// ResolveScreenings is Resolve over persisted screenings.
func ResolveScreenings(screenings []*domain.Screening, required int) domain.ScreeningStatus {
	return Resolve(domain.Decisions(screenings), required)
}
