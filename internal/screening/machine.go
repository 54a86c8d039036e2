// Package screening implements the study status machine: reviewer decisions
// are written, consensus is recomputed, and the resulting transition
// cascades to fulltext and data extraction rows, review counters, domain
// events and threshold-triggered jobs, all inside one transaction.
package screening

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/observability"
	"github.com/helixir/screening-workflow-service/internal/repository"
)

// Default citation counts at which background jobs are scheduled.
const (
	DefaultKeytermThreshold  = 25
	DefaultTrainingThreshold = 100
)

// Config holds the retraining thresholds. A threshold is crossed when both
// the included and the excluded citation counters reach it.
type Config struct {
	KeytermThreshold  int
	TrainingThreshold int
}

// Transition describes one stage status change of one study.
type Transition struct {
	ReviewID int64
	StudyID  int64
	Stage    domain.Stage
	From     domain.ScreeningStatus
	To       domain.ScreeningStatus
	// UserID is the reviewer whose action caused the change, zero for
	// cascaded transitions.
	UserID int64
}

// TransitionHook runs synchronously inside the transaction of every status
// change. Returning an error aborts the whole transition.
type TransitionHook func(ctx context.Context, s repository.Stores, t Transition) error

// Option configures a StateMachine.
type Option func(*StateMachine)

// WithTransitionHook registers an on-status-changed hook.
func WithTransitionHook(hook TransitionHook) Option {
	return func(m *StateMachine) {
		m.hooks = append(m.hooks, hook)
	}
}

// StateMachine owns every mutation of study statuses.
type StateMachine struct {
	tx      repository.Transactor
	cfg     Config
	hooks   []TransitionHook
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewStateMachine creates a StateMachine. Zero thresholds fall back to the defaults.
func NewStateMachine(tx repository.Transactor, cfg Config, logger zerolog.Logger, metrics *observability.Metrics, opts ...Option) *StateMachine {
	if cfg.KeytermThreshold <= 0 {
		cfg.KeytermThreshold = DefaultKeytermThreshold
	}
	if cfg.TrainingThreshold <= 0 {
		cfg.TrainingThreshold = DefaultTrainingThreshold
	}
	m := &StateMachine{
		tx:      tx,
		cfg:     cfg,
		logger:  logger.With().Str("component", "status_machine").Logger(),
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Result is the outcome of a screening write.
type Result struct {
	// Screening is the stored decision, nil after a delete.
	Screening *domain.Screening
	Study     *domain.Study
	Stage     domain.Stage
	Previous  domain.ScreeningStatus
	Status    domain.ScreeningStatus
	Counters  domain.ReviewCounters
}

// Changed reports whether the write moved the stage status.
func (r *Result) Changed() bool {
	return r.Previous != r.Status
}

// ScreeningRef identifies one reviewer's decision.
type ScreeningRef struct {
	// ReviewID, when set, must own the study.
	ReviewID int64
	Stage    domain.Stage
	StudyID  int64
	UserID   int64
}

// Validate checks the reference.
func (r ScreeningRef) Validate() error {
	if _, err := domain.ParseStage(string(r.Stage)); err != nil {
		return err
	}
	if r.StudyID <= 0 {
		return domain.NewValidationError("study_id", "must be positive")
	}
	if r.UserID <= 0 {
		return domain.NewValidationError("user_id", "must be positive")
	}
	return nil
}

// RecordScreening stores a new decision and returns the resulting stage status.
// Fails with ConflictError when the reviewer already screened the study at the stage.
func (m *StateMachine) RecordScreening(ctx context.Context, in domain.ScreeningInput) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	ref := ScreeningRef{ReviewID: in.ReviewID, Stage: in.Stage, StudyID: in.StudyID, UserID: in.UserID}

	return m.mutate(ctx, "record", ref, string(in.Status), true, func(ctx context.Context, u *unit) (*domain.Screening, error) {
		s := &domain.Screening{
			ReviewID:       u.study.ReviewID,
			StudyID:        in.StudyID,
			UserID:         in.UserID,
			Stage:          in.Stage,
			Status:         in.Status,
			ExcludeReasons: in.ExcludeReasons,
		}
		if err := u.s.Screenings.Create(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	})
}

// UpdateScreening changes an existing decision and recomputes consensus.
func (m *StateMachine) UpdateScreening(ctx context.Context, in domain.ScreeningInput) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	ref := ScreeningRef{ReviewID: in.ReviewID, Stage: in.Stage, StudyID: in.StudyID, UserID: in.UserID}

	return m.mutate(ctx, "update", ref, string(in.Status), true, func(ctx context.Context, u *unit) (*domain.Screening, error) {
		s, err := u.s.Screenings.Get(ctx, in.StudyID, in.UserID, in.Stage)
		if err != nil {
			return nil, err
		}
		s.Status = in.Status
		s.ExcludeReasons = in.ExcludeReasons
		if err := u.s.Screenings.Update(ctx, s); err != nil {
			return nil, err
		}
		return s, nil
	})
}

// DeleteScreening removes a decision and recomputes consensus.
// Fails with NotFoundError when the reviewer has no decision at the stage.
func (m *StateMachine) DeleteScreening(ctx context.Context, ref ScreeningRef) (*Result, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return m.mutate(ctx, "delete", ref, "", false, func(ctx context.Context, u *unit) (*domain.Screening, error) {
		return nil, u.s.Screenings.Delete(ctx, ref.StudyID, ref.UserID, ref.Stage)
	})
}

type writeFunc func(ctx context.Context, u *unit) (*domain.Screening, error)

// mutate runs write, the consensus read-back and the cascade in one
// transaction. Metrics are recorded only after commit.
func (m *StateMachine) mutate(ctx context.Context, op string, ref ScreeningRef, decision string, gated bool, write writeFunc) (*Result, error) {
	var (
		res *Result
		fx  *effects
	)
	err := m.tx.InTx(ctx, func(ctx context.Context, s repository.Stores) error {
		u, err := m.begin(ctx, s, ref.ReviewID, ref.StudyID)
		if err != nil {
			return err
		}
		fx = u.fx

		if u.review.IsFrozen() {
			return errReviewFrozen(u.review.ID)
		}
		if gated {
			if err := u.checkStageOpen(ctx, ref.Stage); err != nil {
				return err
			}
		}

		screening, err := write(ctx, u)
		if err != nil {
			return err
		}

		prev := u.study.StageStatus(ref.Stage)
		if err := u.recompute(ctx, ref.Stage, ref.UserID); err != nil {
			return err
		}
		if err := u.persist(ctx); err != nil {
			return err
		}

		res = &Result{
			Screening: screening,
			Study:     u.study,
			Stage:     ref.Stage,
			Previous:  prev,
			Status:    u.study.StageStatus(ref.Stage),
			Counters:  u.review.Counters,
		}
		return nil
	})
	if err != nil {
		m.fail(op, err)
		return nil, err
	}

	m.metrics.RecordScreening(string(ref.Stage), op, decision)
	m.publish(ref.StudyID, fx)
	return res, nil
}

// DataExtractionInput carries structured data for an included study.
type DataExtractionInput struct {
	// ReviewID, when set, must own the study.
	ReviewID int64
	StudyID  int64
	Data     map[string]any
	// Finished marks extraction complete; otherwise it is started.
	Finished bool
}

// SaveDataExtraction stores extraction data and advances data_extraction_status.
// Fails with ValidationError unless the study's fulltext status is included.
func (m *StateMachine) SaveDataExtraction(ctx context.Context, in DataExtractionInput) (*domain.Study, error) {
	if in.StudyID <= 0 {
		return nil, domain.NewValidationError("study_id", "must be positive")
	}
	if in.Data == nil {
		in.Data = map[string]any{}
	}

	var study *domain.Study
	err := m.tx.InTx(ctx, func(ctx context.Context, s repository.Stores) error {
		u, err := m.begin(ctx, s, in.ReviewID, in.StudyID)
		if err != nil {
			return err
		}
		if u.review.IsFrozen() {
			return errReviewFrozen(u.review.ID)
		}
		if u.study.FulltextStatus != domain.ScreeningStatusIncluded {
			return domain.NewValidationError("fulltext_status", "data extraction requires an included fulltext")
		}

		exists, err := s.Extractions.Exists(ctx, in.StudyID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.NewInvariantViolation("save_data_extraction",
				"study %d has fulltext_status=included but no data extraction row", in.StudyID)
		}

		if err := s.Extractions.Save(ctx, &domain.DataExtraction{StudyID: in.StudyID, Data: in.Data}); err != nil {
			return err
		}
		u.study.DataExtractionStatus = domain.DataExtractionStatusStarted
		if in.Finished {
			u.study.DataExtractionStatus = domain.DataExtractionStatusFinished
		}
		if err := s.Studies.UpdateStatuses(ctx, u.study); err != nil {
			return err
		}
		study = u.study
		return nil
	})
	if err != nil {
		m.fail("save_data_extraction", err)
		return nil, err
	}
	return study, nil
}

// begin loads and locks the study and its review.
func (m *StateMachine) begin(ctx context.Context, s repository.Stores, reviewID, studyID int64) (*unit, error) {
	study, err := s.Studies.GetForUpdate(ctx, studyID)
	if err != nil {
		return nil, err
	}
	if reviewID != 0 && study.ReviewID != reviewID {
		return nil, domain.NewNotFoundError("study", strconv.FormatInt(studyID, 10))
	}
	review, err := s.Reviews.Get(ctx, study.ReviewID)
	if err != nil {
		return nil, err
	}
	return &unit{m: m, s: s, review: review, study: study, fx: &effects{}}, nil
}

// fail logs invariant violations loudly. Caller errors are returned as is.
func (m *StateMachine) fail(op string, err error) {
	var iv *domain.InvariantViolation
	if errors.As(err, &iv) {
		m.metrics.RecordInvariantViolation(iv.Op)
		m.logger.Error().Err(err).Str("operation", op).Str("invariant_op", iv.Op).Msg("status machine invariant violated")
		return
	}
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrConflict) {
		return
	}
	m.logger.Warn().Err(err).Str("operation", op).Msg("status transition aborted")
}

// publish records the committed effects.
func (m *StateMachine) publish(studyID int64, fx *effects) {
	if fx == nil {
		return
	}
	for _, t := range fx.transitions {
		m.metrics.RecordStatusTransition(string(t.Stage), string(t.From), string(t.To))
		m.logger.Debug().
			Int64("review_id", t.ReviewID).
			Int64("study_id", t.StudyID).
			Str("stage", string(t.Stage)).
			Str("from", string(t.From)).
			Str("to", string(t.To)).
			Msg("study status changed")
	}
	for _, kind := range fx.cascades {
		m.metrics.RecordCascade(kind)
	}
	for _, job := range fx.jobs {
		m.metrics.RecordJobEnqueued(string(job), domain.TriggerThreshold)
		m.logger.Info().
			Int64("study_id", studyID).
			Str("job", string(job)).
			Msg("citation threshold crossed, job scheduled")
	}
}

// errReviewFrozen rejects decision writes on a frozen review.
func errReviewFrozen(reviewID int64) error {
	return domain.NewConflictError("review", fmt.Sprintf("review %d is frozen", reviewID))
}
