package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/observability"
	"github.com/helixir/screening-workflow-service/internal/repository"
	"github.com/helixir/screening-workflow-service/internal/screening"
)

// Skip reasons reported when a run short-circuits.
const (
	SkipNoRecords = "no_records"
	SkipUpToDate  = "up_to_date"
)

// ResultApplier writes a run's outcome through the status machine.
type ResultApplier interface {
	ApplyDedupeResult(ctx context.Context, res screening.DedupeResult) (*domain.DedupeRun, error)
}

// Outcome describes one pipeline invocation.
type Outcome struct {
	Skipped bool
	Reason  string
	Run     *domain.DedupeRun
}

// Pipeline deduplicates the records of a review.
type Pipeline struct {
	stores  repository.Stores
	applier ResultApplier
	matcher Matcher
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewPipeline creates a Pipeline reading through stores.
func NewPipeline(stores repository.Stores, applier ResultApplier, matcher Matcher, logger zerolog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		stores:  stores,
		applier: applier,
		matcher: matcher,
		logger:  logger.With().Str("component", "dedupe_pipeline").Logger(),
		metrics: metrics,
		now:     time.Now,
	}
}

// Run clusters the review's records and replaces its duplicate set. Unless
// force is set, it returns early when there are no records or the latest
// run already covers every record. Reruns over unchanged records produce
// the same duplicate set.
func (p *Pipeline) Run(ctx context.Context, reviewID int64, force bool) (*Outcome, error) {
	started := p.now()
	logger := observability.WithReviewContext(p.logger, reviewID)

	out, err := p.run(ctx, reviewID, force, started)
	if err != nil {
		p.metrics.RecordDedupeFailed()
		logger.Error().Err(err).Msg("dedupe run failed")
		return nil, err
	}
	if out.Skipped {
		p.metrics.RecordDedupeSkipped()
		logger.Debug().Str("reason", out.Reason).Msg("dedupe run skipped")
		return out, nil
	}

	p.metrics.RecordDedupeCompleted(p.now().Sub(started).Seconds(), out.Run.NumClusters, out.Run.NumDuplicates)
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, reviewID int64, force bool, started time.Time) (*Outcome, error) {
	if _, err := p.stores.Reviews.Get(ctx, reviewID); err != nil {
		return nil, err
	}

	latest, err := p.stores.Studies.LatestCreatedAt(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return &Outcome{Skipped: true, Reason: SkipNoRecords}, nil
	}
	if !force {
		last, err := p.stores.DedupeRuns.Latest(ctx, reviewID)
		switch {
		case err == nil && last.Covers(*latest):
			return &Outcome{Skipped: true, Reason: SkipUpToDate}, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
	}

	rows, err := p.stores.Studies.ListWithCitations(ctx, reviewID, *latest)
	if err != nil {
		return nil, err
	}

	candidates := make(map[int64]Candidate, len(rows))
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		candidates[row.Study.ID] = Candidate{
			StudyID:        row.Study.ID,
			CitationStatus: row.Study.CitationStatus,
			Citation:       row.Citation,
		}
		if row.Citation == nil {
			continue
		}
		rec := NormalizeCitation(row.Citation)
		rec.StudyID = row.Study.ID
		if !rec.IsEmpty() {
			records = append(records, rec)
		}
	}

	var clusters []Cluster
	if len(records) > 1 {
		clusters, err = p.matcher.Cluster(ctx, reviewID, records)
		if err != nil {
			var ext *domain.ExternalServiceError
			if errors.As(err, &ext) || ctx.Err() != nil {
				return nil, err
			}
			return nil, domain.NewExternalServiceError("matcher", "cluster", err)
		}
	}

	dedupes, numClusters, err := p.resolve(reviewID, clusters, candidates)
	if err != nil {
		return nil, err
	}

	run, err := p.applier.ApplyDedupeResult(ctx, screening.DedupeResult{
		ReviewID:    reviewID,
		RecordsAsOf: *latest,
		StartedAt:   started,
		NumRecords:  len(rows),
		NumClusters: numClusters,
		Dedupes:     dedupes,
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Run: run}, nil
}

// resolve elects a canonical member per cluster and marks the rest as its
// duplicates. Malformed matcher output fails the run.
func (p *Pipeline) resolve(reviewID int64, clusters []Cluster, candidates map[int64]Candidate) ([]*domain.Dedupe, int, error) {
	seen := make(map[int64]bool)
	var (
		dedupes     []*domain.Dedupe
		numClusters int
	)
	for i, c := range clusters {
		if len(c.Members) < 2 {
			continue
		}
		members := make([]Candidate, 0, len(c.Members))
		scores := make(map[int64]float64, len(c.Members))
		for _, m := range c.Members {
			cand, ok := candidates[m.StudyID]
			if !ok || seen[m.StudyID] {
				return nil, 0, domain.NewExternalServiceError("matcher", "cluster",
					fmt.Errorf("cluster %d: study %d unknown or in more than one cluster", i, m.StudyID))
			}
			seen[m.StudyID] = true
			members = append(members, cand)
			scores[m.StudyID] = clampScore(m.Score)
		}

		canonical := ElectCanonical(members)
		for _, m := range members {
			if m.StudyID == canonical {
				continue
			}
			dedupes = append(dedupes, &domain.Dedupe{
				StudyID:        m.StudyID,
				ReviewID:       reviewID,
				DuplicateOf:    canonical,
				DuplicateScore: scores[m.StudyID],
			})
		}
		numClusters++
	}
	return dedupes, numClusters, nil
}

func clampScore(s float64) float64 {
	switch {
	case s < 0 || s != s:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
