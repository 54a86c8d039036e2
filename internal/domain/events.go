package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobName identifies a background job run by the worker.
type JobName string

const (
	JobDedupe             JobName = "dedupe"
	JobClassifierTraining JobName = "classifier_training"
	JobKeytermSuggestion  JobName = "keyterm_suggestion"
)

// LockPrefix is the review-scoped lock namespace for the job.
func (j JobName) LockPrefix() string {
	switch j {
	case JobDedupe:
		return "dedupe"
	case JobClassifierTraining:
		return "train"
	case JobKeytermSuggestion:
		return "keyterms"
	default:
		return string(j)
	}
}

// LockKey returns the lock name guarding the job for one review.
func (j JobName) LockKey(reviewID int64) string {
	return j.LockPrefix() + ":" + strconv.FormatInt(reviewID, 10)
}

// EventType returns the outbox event type that schedules the job.
func (j JobName) EventType() string {
	return jobEventPrefix + string(j)
}

// Job triggers recorded with each enqueue.
const (
	TriggerThreshold = "threshold"
	TriggerManual    = "manual"
	TriggerImport    = "import"
)

const jobEventPrefix = "job."

// Domain event types relayed to Kafka.
const (
	EventTypeStudyStatusChanged = "study.status_changed"
	EventTypeDedupeCompleted    = "review.dedupe_completed"
)

// Aggregate types used on outbox rows.
const (
	AggregateReview = "review"
	AggregateStudy  = "study"
)

// JobArgs is the payload of every job.
type JobArgs struct {
	ReviewID int64  `json:"review_id"`
	Trigger  string `json:"trigger"`
}

// OutboxEvent is a row of the transactional outbox. Rows whose type starts
// with "job." schedule background jobs; the rest are domain events.
type OutboxEvent struct {
	ID            int64
	EventID       uuid.UUID
	EventType     string
	AggregateType string
	AggregateID   string
	Payload       []byte
	AvailableAt   time.Time
	Attempts      int
	LastError     *string
	PublishedAt   *time.Time
	CreatedAt     time.Time
}

// NewOutboxEvent creates a new outbox event with the given parameters.
// The payload is JSON-serialized automatically.
func NewOutboxEvent(eventType, aggregateType, aggregateID string, payload any) (*OutboxEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	now := time.Now().UTC()
	return &OutboxEvent{
		EventID:       uuid.New(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Payload:       payloadBytes,
		AvailableAt:   now,
		CreatedAt:     now,
	}, nil
}

// NewJobEvent builds the outbox row that schedules job after delay.
func NewJobEvent(job JobName, args JobArgs, delay time.Duration) (*OutboxEvent, error) {
	ev, err := NewOutboxEvent(job.EventType(), AggregateReview, strconv.FormatInt(args.ReviewID, 10), args)
	if err != nil {
		return nil, err
	}
	if delay > 0 {
		ev.AvailableAt = ev.AvailableAt.Add(delay)
	}
	return ev, nil
}

// Job returns the job the event schedules, if any.
func (e *OutboxEvent) Job() (JobName, bool) {
	name, ok := strings.CutPrefix(e.EventType, jobEventPrefix)
	if !ok {
		return "", false
	}
	return JobName(name), true
}

// StatusChangedPayload is the payload for study.status_changed events.
type StatusChangedPayload struct {
	ReviewID int64           `json:"review_id"`
	StudyID  int64           `json:"study_id"`
	Stage    Stage           `json:"stage"`
	From     ScreeningStatus `json:"from"`
	To       ScreeningStatus `json:"to"`
	UserID   int64           `json:"user_id,omitempty"`
}

// DedupeCompletedPayload is the payload for review.dedupe_completed events.
type DedupeCompletedPayload struct {
	ReviewID      int64 `json:"review_id"`
	RunID         int64 `json:"run_id"`
	NumRecords    int   `json:"num_records"`
	NumClusters   int   `json:"num_clusters"`
	NumDuplicates int   `json:"num_duplicates"`
}

// RecordsImportedMessage is consumed from the import topic after a batch of
// citations lands in a review.
type RecordsImportedMessage struct {
	ReviewID   int64 `json:"review_id"`
	NumRecords int   `json:"num_records"`
}
