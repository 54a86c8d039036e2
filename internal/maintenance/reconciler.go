// Package maintenance holds repair jobs that run outside the request path.
// Correctness never depends on them: they only detect and correct drift
// that a bug or manual data change left behind.
package maintenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/observability"
	"github.com/helixir/screening-workflow-service/internal/repository"
)

// ReconcileResult reports the counters of one review before and after
// reconciliation.
type ReconcileResult struct {
	ReviewID  int64                 `json:"review_id"`
	Before    domain.ReviewCounters `json:"before"`
	After     domain.ReviewCounters `json:"after"`
	Corrected int                   `json:"corrected"`
}

// ReconcileSummary aggregates a reconciliation pass over every review.
type ReconcileSummary struct {
	Reviews   int `json:"reviews"`
	Drifted   int `json:"drifted"`
	Corrected int `json:"corrected"`
	Failed    int `json:"failed"`
}

// Reconciler recomputes review counters from materialised study statuses.
type Reconciler struct {
	tx      repository.Transactor
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewReconciler creates a Reconciler.
func NewReconciler(tx repository.Transactor, logger zerolog.Logger, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{
		tx:      tx,
		logger:  logger.With().Str("component", "reconciler").Logger(),
		metrics: metrics,
	}
}

// Reconcile overwrites the counters of one review with the counts of its
// terminal studies. The review row is locked first so concurrent screening
// writes either finish before the count or wait until the correction
// commits.
func (r *Reconciler) Reconcile(ctx context.Context, reviewID int64) (*ReconcileResult, error) {
	if reviewID <= 0 {
		return nil, domain.NewValidationError("review_id", "must be positive")
	}

	var res *ReconcileResult
	err := r.tx.InTx(ctx, func(ctx context.Context, s repository.Stores) error {
		before, err := s.Reviews.ApplyCounterDelta(ctx, reviewID, domain.StageCitation, domain.CounterDelta{})
		if err != nil {
			return err
		}
		after, err := s.Studies.CountTerminal(ctx, reviewID)
		if err != nil {
			return fmt.Errorf("count terminal studies: %w", err)
		}

		res = &ReconcileResult{ReviewID: reviewID, Before: before, After: after, Corrected: diff(before, after)}
		if res.Corrected == 0 {
			return nil
		}
		return s.Reviews.SetCounters(ctx, reviewID, after)
	})
	if err != nil {
		return nil, err
	}

	if res.Corrected > 0 {
		r.metrics.RecordCounterDrift(res.Corrected)
		logger := observability.WithReviewContext(r.logger, reviewID)
		logger.Warn().
			Interface("before", res.Before).
			Interface("after", res.After).
			Int("corrected", res.Corrected).
			Msg("review counters drifted, corrected")
	}
	return res, nil
}

// ReconcileAll reconciles every review. A failing review is logged and
// skipped; the joined errors are returned with the summary.
func (r *Reconciler) ReconcileAll(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary

	var ids []int64
	err := r.tx.InTx(ctx, func(ctx context.Context, s repository.Stores) error {
		var err error
		ids, err = s.Reviews.ListIDs(ctx)
		return err
	})
	if err != nil {
		return summary, fmt.Errorf("list reviews: %w", err)
	}

	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		summary.Reviews++
		res, err := r.Reconcile(ctx, id)
		if err != nil {
			summary.Failed++
			logger := observability.WithReviewContext(r.logger, id)
			logger.Error().Err(err).Msg("reconcile review counters")
			errs = append(errs, fmt.Errorf("review %d: %w", id, err))
			continue
		}
		if res.Corrected > 0 {
			summary.Drifted++
			summary.Corrected += res.Corrected
		}
	}

	r.logger.Info().
		Int("reviews", summary.Reviews).
		Int("drifted", summary.Drifted).
		Int("failed", summary.Failed).
		Msg("counter reconciliation finished")
	return summary, errors.Join(errs...)
}

// diff counts the counters that differ.
func diff(a, b domain.ReviewCounters) int {
	n := 0
	for _, pair := range [][2]int{
		{a.CitationsIncluded, b.CitationsIncluded},
		{a.CitationsExcluded, b.CitationsExcluded},
		{a.FulltextsIncluded, b.FulltextsIncluded},
		{a.FulltextsExcluded, b.FulltextsExcluded},
	} {
		if pair[0] != pair[1] {
			n++
		}
	}
	return n
}
