package domain

import (
	"strings"
	"time"
)

// Study is one bibliographic record's unit of work. Its status fields are
// mutated only by the status machine.
type Study struct {
	ID       int64
	ReviewID int64
	Tags     []string

	DedupeStatus         DedupeStatus
	CitationStatus       ScreeningStatus
	FulltextStatus       ScreeningStatus
	DataExtractionStatus DataExtractionStatus

	// Optional per-study overrides of the review's required-reviewer counts.
	NumCitationReviewers *int
	NumFulltextReviewers *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StageStatus returns the consensus status for a stage.
func (s *Study) StageStatus(stage Stage) ScreeningStatus {
	if stage == StageFulltext {
		return s.FulltextStatus
	}
	return s.CitationStatus
}

// SetStageStatus sets the consensus status for a stage.
func (s *Study) SetStageStatus(stage Stage, status ScreeningStatus) {
	if stage == StageFulltext {
		s.FulltextStatus = status
		return
	}
	s.CitationStatus = status
}

// RequiredReviewers resolves how many decisions the study needs at a stage,
// preferring its own override over the review default.
func (s *Study) RequiredReviewers(review *Review, stage Stage) int {
	override := s.NumCitationReviewers
	if stage == StageFulltext {
		override = s.NumFulltextReviewers
	}
	if override != nil && *override >= MinReviewers {
		return *override
	}
	return review.DefaultReviewers(stage)
}

// HasTag reports whether the study carries tag.
func (s *Study) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Citation is the bibliographic metadata attached 1:1 to a study.
type Citation struct {
	StudyID       int64
	ReviewID      int64
	Title         *string
	Abstract      *string
	Authors       []string
	Keywords      []string
	PubYear       *int
	PubType       *string
	DOI           *string
	JournalName   *string
	JournalVolume *string
	JournalIssue  *string
	Pages         *string
	URL           *string
	Language      *string

	// FeatureVector is the precomputed classifier input, nil until the
	// first training run featurises the citation.
	FeatureVector []float64

	CreatedAt time.Time
}

// Text joins the fields used for keyterm and classifier scoring.
func (c *Citation) Text() string {
	var b strings.Builder
	if c.Title != nil {
		b.WriteString(*c.Title)
	}
	if c.Abstract != nil {
		b.WriteByte(' ')
		b.WriteString(*c.Abstract)
	}
	for _, kw := range c.Keywords {
		b.WriteByte(' ')
		b.WriteString(kw)
	}
	return strings.TrimSpace(b.String())
}

// Fulltext is the uploaded document attached to a study whose citation
// status is included. It is created empty by the cascade.
type Fulltext struct {
	StudyID   int64
	ReviewID  int64
	Filename  *string
	Text      *string
	CreatedAt time.Time
}

// DataExtraction is the structured data attached to a study whose fulltext
// status is included.
type DataExtraction struct {
	StudyID   int64
	ReviewID  int64
	Data      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}
