package screening

import (
	"context"
	"time"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/outbox"
	"github.com/helixir/screening-workflow-service/internal/repository"
)

// DedupeResult is the outcome of one deduplication pipeline run.
type DedupeResult struct {
	ReviewID int64
	// RecordsAsOf is the newest study creation time the run saw. Studies
	// created later keep dedupe_status=not_deduped.
	RecordsAsOf time.Time
	StartedAt   time.Time
	NumRecords  int
	NumClusters int
	// Dedupes lists every non-canonical cluster member.
	Dedupes []*domain.Dedupe
}

// ApplyDedupeResult replaces the review's duplicate set wholesale and sets
// dedupe_status on every study the run covered, in one transaction.
func (m *StateMachine) ApplyDedupeResult(ctx context.Context, res DedupeResult) (*domain.DedupeRun, error) {
	duplicates, err := validateDedupes(res)
	if err != nil {
		return nil, err
	}

	var run *domain.DedupeRun
	err = m.tx.InTx(ctx, func(ctx context.Context, s repository.Stores) error {
		if _, err := s.Reviews.Get(ctx, res.ReviewID); err != nil {
			return err
		}
		if err := s.Dedupes.ReplaceForReview(ctx, res.ReviewID, res.Dedupes); err != nil {
			return err
		}
		touched, err := s.Studies.ApplyDedupeStatuses(ctx, res.ReviewID, res.RecordsAsOf, duplicates)
		if err != nil {
			return err
		}
		if int(touched) < len(duplicates) {
			return domain.NewInvariantViolation("apply_dedupe_result",
				"review %d: %d duplicates but only %d studies covered", res.ReviewID, len(duplicates), touched)
		}

		run = &domain.DedupeRun{
			ReviewID:      res.ReviewID,
			RecordsAsOf:   res.RecordsAsOf,
			NumRecords:    res.NumRecords,
			NumClusters:   res.NumClusters,
			NumDuplicates: len(duplicates),
			StartedAt:     res.StartedAt,
		}
		if err := s.DedupeRuns.Create(ctx, run); err != nil {
			return err
		}

		_, err = outbox.NewEmitter(s.Outbox).EmitDedupeCompleted(ctx, domain.DedupeCompletedPayload{
			ReviewID:      run.ReviewID,
			RunID:         run.ID,
			NumRecords:    run.NumRecords,
			NumClusters:   run.NumClusters,
			NumDuplicates: run.NumDuplicates,
		})
		return err
	})
	if err != nil {
		m.fail("apply_dedupe_result", err)
		return nil, err
	}

	m.logger.Info().
		Int64("review_id", run.ReviewID).
		Int64("run_id", run.ID).
		Int("records", run.NumRecords).
		Int("clusters", run.NumClusters).
		Int("duplicates", run.NumDuplicates).
		Msg("dedupe result applied")
	return run, nil
}

func validateDedupes(res DedupeResult) ([]int64, error) {
	if res.ReviewID <= 0 {
		return nil, domain.NewValidationError("review_id", "must be positive")
	}
	ids := make([]int64, 0, len(res.Dedupes))
	seen := make(map[int64]bool, len(res.Dedupes))
	for _, d := range res.Dedupes {
		switch {
		case d.ReviewID != res.ReviewID:
			return nil, domain.NewInvariantViolation("apply_dedupe_result",
				"dedupe of study %d belongs to review %d, not %d", d.StudyID, d.ReviewID, res.ReviewID)
		case d.StudyID == d.DuplicateOf:
			return nil, domain.NewInvariantViolation("apply_dedupe_result", "study %d marked duplicate of itself", d.StudyID)
		case d.DuplicateScore < 0 || d.DuplicateScore > 1:
			return nil, domain.NewInvariantViolation("apply_dedupe_result",
				"study %d has duplicate score %g outside [0,1]", d.StudyID, d.DuplicateScore)
		case seen[d.StudyID]:
			return nil, domain.NewInvariantViolation("apply_dedupe_result", "study %d listed twice", d.StudyID)
		}
		seen[d.StudyID] = true
		ids = append(ids, d.StudyID)
	}
	for _, d := range res.Dedupes {
		if seen[d.DuplicateOf] {
			return nil, domain.NewInvariantViolation("apply_dedupe_result",
				"study %d is a duplicate of duplicate %d", d.StudyID, d.DuplicateOf)
		}
	}
	return ids, nil
}
