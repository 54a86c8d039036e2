package screening

import (
	"context"

	"github.com/helixir/screening-workflow-service/internal/consensus"
	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/outbox"
	"github.com/helixir/screening-workflow-service/internal/repository"
)

// Cascade kinds reported to metrics.
const (
	cascadeFulltextCreated   = "fulltext_created"
	cascadeFulltextDeleted   = "fulltext_deleted"
	cascadeExtractionCreated = "data_extraction_created"
	cascadeExtractionDeleted = "data_extraction_deleted"
)

// effects collects what a transaction did, for reporting after commit.
type effects struct {
	transitions []Transition
	cascades    []string
	jobs        []domain.JobName
}

// unit is one status machine transaction over a locked study.
type unit struct {
	m      *StateMachine
	s      repository.Stores
	review *domain.Review
	study  *domain.Study
	fx     *effects
}

// checkStageOpen rejects writes on a stage the study has not reached.
func (u *unit) checkStageOpen(ctx context.Context, stage domain.Stage) error {
	switch stage {
	case domain.StageCitation:
		if u.study.DedupeStatus != domain.DedupeStatusNotDuplicate {
			return domain.NewValidationError("dedupe_status",
				"citation screening requires dedupe_status="+string(domain.DedupeStatusNotDuplicate)+", got "+string(u.study.DedupeStatus))
		}
	case domain.StageFulltext:
		if u.study.CitationStatus != domain.ScreeningStatusIncluded {
			return domain.NewValidationError("citation_status", "fulltext screening requires an included citation")
		}
		exists, err := u.s.Fulltexts.Exists(ctx, u.study.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.NewValidationError("fulltext", "study has no fulltext")
		}
	}
	return nil
}

// recompute resolves the stage status from the screenings as written in
// this transaction and applies the transition if it changed.
func (u *unit) recompute(ctx context.Context, stage domain.Stage, userID int64) error {
	screenings, err := u.s.Screenings.ListForStudy(ctx, u.study.ID, stage)
	if err != nil {
		return err
	}
	next := consensus.ResolveScreenings(screenings, u.study.RequiredReviewers(u.review, stage))
	prev := u.study.StageStatus(stage)
	if next == prev {
		return nil
	}
	return u.transition(ctx, stage, prev, next, userID)
}

// transition is the on-status-changed hook. The new status is set first so
// cascade preconditions see it.
func (u *unit) transition(ctx context.Context, stage domain.Stage, from, to domain.ScreeningStatus, userID int64) error {
	u.study.SetStageStatus(stage, to)

	var err error
	switch {
	case stage == domain.StageCitation && to == domain.ScreeningStatusIncluded:
		err = u.createFulltext(ctx)
	case stage == domain.StageCitation && from == domain.ScreeningStatusIncluded:
		err = u.removeFulltext(ctx)
	case stage == domain.StageFulltext && to == domain.ScreeningStatusIncluded:
		err = u.createExtraction(ctx)
	case stage == domain.StageFulltext && from == domain.ScreeningStatusIncluded:
		err = u.removeExtraction(ctx)
	}
	if err != nil {
		return err
	}

	if err := u.applyCounters(ctx, stage, domain.TransitionDelta(from, to)); err != nil {
		return err
	}

	t := Transition{
		ReviewID: u.study.ReviewID,
		StudyID:  u.study.ID,
		Stage:    stage,
		From:     from,
		To:       to,
		UserID:   userID,
	}
	if _, err := outbox.NewEmitter(u.s.Outbox).EmitStatusChanged(ctx, domain.StatusChangedPayload{
		ReviewID: t.ReviewID,
		StudyID:  t.StudyID,
		Stage:    t.Stage,
		From:     t.From,
		To:       t.To,
		UserID:   t.UserID,
	}); err != nil {
		return err
	}
	for _, hook := range u.m.hooks {
		if err := hook(ctx, u.s, t); err != nil {
			return err
		}
	}
	u.fx.transitions = append(u.fx.transitions, t)
	return nil
}

func (u *unit) createFulltext(ctx context.Context) error {
	if u.study.CitationStatus != domain.ScreeningStatusIncluded {
		return domain.NewInvariantViolation("create_fulltext",
			"study %d has citation_status=%s", u.study.ID, u.study.CitationStatus)
	}
	exists, err := u.s.Fulltexts.Exists(ctx, u.study.ID)
	if err != nil || exists {
		return err
	}
	if err := u.s.Fulltexts.Create(ctx, u.study.ID, u.study.ReviewID); err != nil {
		return err
	}
	u.fx.cascades = append(u.fx.cascades, cascadeFulltextCreated)
	return nil
}

// removeFulltext tears down everything downstream of the citation stage:
// fulltext decisions, the fulltext status (with its counters and event),
// the data extraction and finally the fulltext row.
func (u *unit) removeFulltext(ctx context.Context) error {
	if _, err := u.s.Screenings.DeleteForStudy(ctx, u.study.ID, domain.StageFulltext); err != nil {
		return err
	}
	if prev := u.study.FulltextStatus; prev != domain.ScreeningStatusNotScreened {
		if err := u.transition(ctx, domain.StageFulltext, prev, domain.ScreeningStatusNotScreened, 0); err != nil {
			return err
		}
	}

	deleted, err := u.s.Fulltexts.Delete(ctx, u.study.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.NewInvariantViolation("delete_fulltext",
			"study %d left citation_status=included without a fulltext", u.study.ID)
	}
	u.fx.cascades = append(u.fx.cascades, cascadeFulltextDeleted)
	return nil
}

func (u *unit) createExtraction(ctx context.Context) error {
	if u.study.FulltextStatus != domain.ScreeningStatusIncluded || u.study.CitationStatus != domain.ScreeningStatusIncluded {
		return domain.NewInvariantViolation("create_data_extraction",
			"study %d has citation_status=%s fulltext_status=%s", u.study.ID, u.study.CitationStatus, u.study.FulltextStatus)
	}
	exists, err := u.s.Extractions.Exists(ctx, u.study.ID)
	if err != nil || exists {
		return err
	}
	if err := u.s.Extractions.Create(ctx, u.study.ID, u.study.ReviewID); err != nil {
		return err
	}
	u.study.DataExtractionStatus = domain.DataExtractionStatusNotStarted
	u.fx.cascades = append(u.fx.cascades, cascadeExtractionCreated)
	return nil
}

func (u *unit) removeExtraction(ctx context.Context) error {
	deleted, err := u.s.Extractions.Delete(ctx, u.study.ID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.NewInvariantViolation("delete_data_extraction",
			"study %d left fulltext_status=included without a data extraction", u.study.ID)
	}
	u.study.DataExtractionStatus = domain.DataExtractionStatusNotStarted
	u.fx.cascades = append(u.fx.cascades, cascadeExtractionDeleted)
	return nil
}

// applyCounters moves the review counters and, on the citation stage,
// schedules the jobs whose threshold this change crossed.
func (u *unit) applyCounters(ctx context.Context, stage domain.Stage, delta domain.CounterDelta) error {
	if delta.IsZero() {
		return nil
	}
	after, err := u.s.Reviews.ApplyCounterDelta(ctx, u.review.ID, stage, delta)
	if err != nil {
		return err
	}
	before := after.Apply(stage, domain.CounterDelta{Included: -delta.Included, Excluded: -delta.Excluded})
	u.review.Counters = after

	if stage != domain.StageCitation {
		return nil
	}
	oldInc, oldExc := before.Stage(stage)
	newInc, newExc := after.Stage(stage)

	thresholds := []struct {
		job       domain.JobName
		threshold int
	}{
		{domain.JobKeytermSuggestion, u.m.cfg.KeytermThreshold},
		{domain.JobClassifierTraining, u.m.cfg.TrainingThreshold},
	}
	for _, th := range thresholds {
		if !crossed(oldInc, oldExc, newInc, newExc, th.threshold) {
			continue
		}
		if _, err := outbox.NewEmitter(u.s.Outbox).Enqueue(ctx, th.job,
			domain.JobArgs{ReviewID: u.review.ID, Trigger: domain.TriggerThreshold}, 0); err != nil {
			return err
		}
		u.fx.jobs = append(u.fx.jobs, th.job)
	}
	return nil
}

// crossed reports whether both counters reach threshold now but did not
// both reach it before.
func crossed(oldInc, oldExc, newInc, newExc, threshold int) bool {
	wasMet := oldInc >= threshold && oldExc >= threshold
	isMet := newInc >= threshold && newExc >= threshold
	return !wasMet && isMet
}

func (u *unit) persist(ctx context.Context) error {
	return u.s.Studies.UpdateStatuses(ctx, u.study)
}
