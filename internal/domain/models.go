// Package domain provides the entities, status enums and error taxonomy of
// the screening workflow engine.
package domain

import "fmt"

// ReviewStatus is the lifecycle state of a review project.
type ReviewStatus string

const (
	ReviewStatusActive ReviewStatus = "active"
	ReviewStatusFrozen ReviewStatus = "frozen"
)

// Stage identifies a screening stage.
type Stage string

const (
	StageCitation Stage = "citation"
	StageFulltext Stage = "fulltext"
)

// ParseStage converts a path or payload value into a Stage.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageCitation, StageFulltext:
		return Stage(s), nil
	default:
		return "", NewValidationError("stage", fmt.Sprintf("unknown stage %q", s))
	}
}

// Decision is a single reviewer's verdict on a study at one stage.
type Decision string

const (
	DecisionIncluded Decision = "included"
	DecisionExcluded Decision = "excluded"
)

// Valid reports whether d is a recognised decision.
func (d Decision) Valid() bool {
	return d == DecisionIncluded || d == DecisionExcluded
}

// ScreeningStatus is the consensus status of a study at one stage.
// These values must match the CHECK constraints on studies.
type ScreeningStatus string

const (
	ScreeningStatusNotScreened  ScreeningStatus = "not_screened"
	ScreeningStatusScreenedOnce ScreeningStatus = "screened_once"
	// ScreeningStatusPartial covers two or more decisions that are still
	// short of the required reviewer count.
	ScreeningStatusPartial  ScreeningStatus = "screened_partial"
	ScreeningStatusConflict ScreeningStatus = "conflict"
	ScreeningStatusIncluded ScreeningStatus = "included"
	ScreeningStatusExcluded ScreeningStatus = "excluded"
)

// IsTerminal returns true once enough reviewers have decided.
func (s ScreeningStatus) IsTerminal() bool {
	switch s {
	case ScreeningStatusIncluded, ScreeningStatusExcluded, ScreeningStatusConflict:
		return true
	default:
		return false
	}
}

// DedupeStatus is the deduplication outcome of a study.
type DedupeStatus string

const (
	DedupeStatusNotDeduped   DedupeStatus = "not_deduped"
	DedupeStatusNotDuplicate DedupeStatus = "not_duplicate"
	DedupeStatusDuplicate    DedupeStatus = "duplicate"
)

// DataExtractionStatus tracks progress of structured data extraction.
type DataExtractionStatus string

const (
	DataExtractionStatusNotStarted DataExtractionStatus = "not_started"
	DataExtractionStatusStarted    DataExtractionStatus = "started"
	DataExtractionStatusFinished   DataExtractionStatus = "finished"
)

// Reviewer count bounds accepted for a review or a per-study override.
const (
	MinReviewers = 1
	MaxReviewers = 3
)
