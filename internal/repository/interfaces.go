package repository

import (
	"context"
	"time"

	"github.com/helixir/screening-workflow-service/internal/domain"
)

// ReviewRepository handles review rows and their aggregate counters.
type ReviewRepository interface {
	// Create inserts a review and fills in its ID and timestamps.
	Create(ctx context.Context, review *domain.Review) error

	// Get retrieves a review by ID.
	// Returns domain.ErrNotFound if no matching review exists.
	Get(ctx context.Context, id int64) (*domain.Review, error)

	// ApplyCounterDelta adds delta to the stage counters and returns the
	// counters after the change. The UPDATE holds the review row lock until
	// the enclosing transaction ends, so old = new - delta is exact.
	ApplyCounterDelta(ctx context.Context, id int64, stage domain.Stage, delta domain.CounterDelta) (domain.ReviewCounters, error)

	// SetCounters overwrites all four counters. Used only by reconciliation.
	SetCounters(ctx context.Context, id int64, counters domain.ReviewCounters) error

	// SetStatus changes the review lifecycle status.
	SetStatus(ctx context.Context, id int64, status domain.ReviewStatus) error

	// ListIDs returns every review ID in ascending order.
	ListIDs(ctx context.Context) ([]int64, error)
}

// StudyWithCitation pairs a study with its bibliographic record.
type StudyWithCitation struct {
	Study    *domain.Study
	Citation *domain.Citation
}

// QueueFilter selects citation-screening candidates for one reviewer.
type QueueFilter struct {
	ReviewID int64

	// UserID excludes studies this reviewer already screened.
	UserID int64

	// Tag restricts the queue to studies carrying the tag (optional).
	Tag string
}

// StudyRepository handles studies and their status tuple.
type StudyRepository interface {
	// Create inserts a study with its initial statuses.
	Create(ctx context.Context, study *domain.Study) error

	// Get retrieves a study by ID.
	Get(ctx context.Context, id int64) (*domain.Study, error)

	// GetForUpdate retrieves a study and locks its row until the
	// transaction ends. Serialises screening writes on the same study.
	GetForUpdate(ctx context.Context, id int64) (*domain.Study, error)

	// UpdateStatuses persists the citation, fulltext and data extraction statuses.
	UpdateStatuses(ctx context.Context, study *domain.Study) error

	// ApplyDedupeStatuses marks every study of the review created at or
	// before asOf as duplicate when listed in duplicates, otherwise as
	// not_duplicate. Returns the number of rows touched.
	ApplyDedupeStatuses(ctx context.Context, reviewID int64, asOf time.Time, duplicates []int64) (int64, error)

	// LatestCreatedAt returns the creation time of the review's newest
	// study, or nil when the review has none.
	LatestCreatedAt(ctx context.Context, reviewID int64) (*time.Time, error)

	// ListWithCitations returns the review's studies created at or before
	// asOf joined with their citations, ordered by study ID.
	ListWithCitations(ctx context.Context, reviewID int64, asOf time.Time) ([]StudyWithCitation, error)

	// ListQueueCandidates returns IDs of deduplicated studies still needing
	// a citation decision from filter.UserID, ordered by study ID.
	ListQueueCandidates(ctx context.Context, filter QueueFilter) ([]int64, error)

	// CountTerminal materialises the four counters from study statuses.
	CountTerminal(ctx context.Context, reviewID int64) (domain.ReviewCounters, error)
}

// LabeledCitation is a citation with its terminal citation decision.
type LabeledCitation struct {
	Citation *domain.Citation
	Included bool
}

// CitationRepository handles bibliographic metadata and feature vectors.
type CitationRepository interface {
	// Create inserts the citation of an existing study.
	Create(ctx context.Context, citation *domain.Citation) error

	// ListByStudyIDs returns citations for the given studies of one review.
	ListByStudyIDs(ctx context.Context, reviewID int64, studyIDs []int64) ([]*domain.Citation, error)

	// ListByReview returns every citation of the review ordered by study ID.
	ListByReview(ctx context.Context, reviewID int64) ([]*domain.Citation, error)

	// ListLabeled returns citations whose study is included or excluded at
	// the citation stage.
	ListLabeled(ctx context.Context, reviewID int64) ([]LabeledCitation, error)

	// Sample returns up to limit random citations whose study has status.
	Sample(ctx context.Context, reviewID int64, status domain.ScreeningStatus, limit int) ([]*domain.Citation, error)

	// SaveFeatureVectors stores precomputed vectors keyed by study ID.
	SaveFeatureVectors(ctx context.Context, vectors map[int64][]float64) error
}

// ScreeningRepository handles reviewer decisions.
type ScreeningRepository interface {
	// Create inserts a decision.
	// Returns *domain.ConflictError if the reviewer already screened the study at the stage.
	Create(ctx context.Context, screening *domain.Screening) error

	// Get retrieves a reviewer's decision.
	Get(ctx context.Context, studyID, userID int64, stage domain.Stage) (*domain.Screening, error)

	// Update changes the decision and exclude reasons of an existing screening.
	Update(ctx context.Context, screening *domain.Screening) error

	// Delete removes a reviewer's decision.
	// Returns domain.ErrNotFound if none exists.
	Delete(ctx context.Context, studyID, userID int64, stage domain.Stage) error

	// ListForStudy returns all decisions for the study at the stage.
	ListForStudy(ctx context.Context, studyID int64, stage domain.Stage) ([]*domain.Screening, error)

	// DeleteForStudy removes all decisions for the study at the stage.
	DeleteForStudy(ctx context.Context, studyID int64, stage domain.Stage) (int64, error)
}

// FulltextRepository handles fulltext rows created by the citation cascade.
type FulltextRepository interface {
	Exists(ctx context.Context, studyID int64) (bool, error)
	// Create inserts an empty fulltext for the study.
	Create(ctx context.Context, studyID, reviewID int64) error
	Delete(ctx context.Context, studyID int64) (bool, error)
}

// DataExtractionRepository handles data extraction rows created by the
// fulltext cascade.
type DataExtractionRepository interface {
	Exists(ctx context.Context, studyID int64) (bool, error)
	// Create inserts an empty extraction for the study.
	Create(ctx context.Context, studyID, reviewID int64) error
	// Save replaces the extraction data. Returns domain.ErrNotFound when
	// no row exists.
	Save(ctx context.Context, extraction *domain.DataExtraction) error
	Delete(ctx context.Context, studyID int64) (bool, error)
}

// DedupeRepository handles duplicate rows.
type DedupeRepository interface {
	// ReplaceForReview deletes every dedupe row of the review and inserts dedupes.
	ReplaceForReview(ctx context.Context, reviewID int64, dedupes []*domain.Dedupe) error

	// ListByReview returns the review's dedupe rows ordered by study ID.
	ListByReview(ctx context.Context, reviewID int64) ([]*domain.Dedupe, error)
}

// DedupeRunRepository handles the dedupe run ledger.
type DedupeRunRepository interface {
	Create(ctx context.Context, run *domain.DedupeRun) error

	// Latest returns the most recent run, or domain.ErrNotFound.
	Latest(ctx context.Context, reviewID int64) (*domain.DedupeRun, error)
}

// KeytermRepository handles manual and suggested keyterms.
type KeytermRepository interface {
	// List returns the review's terms of one source grouped by polarity.
	List(ctx context.Context, reviewID int64, source domain.KeytermSource) (domain.KeytermSet, error)

	// Replace swaps the review's terms of one source for set.
	Replace(ctx context.Context, reviewID int64, source domain.KeytermSource, set domain.KeytermSet) error
}

// ClassifierModelRepository handles trained ranking models.
type ClassifierModelRepository interface {
	// Get returns the review's model, or domain.ErrNotFound.
	Get(ctx context.Context, reviewID int64) (*domain.ClassifierModel, error)

	// Save inserts or replaces the review's model.
	Save(ctx context.Context, model *domain.ClassifierModel) error
}

// OutboxRepository handles the transactional outbox.
type OutboxRepository interface {
	// Insert appends an event. Must run in the producing transaction.
	Insert(ctx context.Context, event *domain.OutboxEvent) error

	// ClaimDue locks up to limit due, unpublished events below maxAttempts
	// with FOR UPDATE SKIP LOCKED. Must run inside a transaction.
	ClaimDue(ctx context.Context, limit, maxAttempts int) ([]*domain.OutboxEvent, error)

	MarkPublished(ctx context.Context, id int64) error

	// MarkFailed increments attempts and records the error message.
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}
