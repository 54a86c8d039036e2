// Package ranking orders a review's unscreened citations for screening.
//
// The Ranker walks a fallback chain and uses the first source that has a
// signal for the review:
//
//  1. the review's trained classifier
//  2. suggested keyterms learned from screened records
//  3. manual keyterms entered by reviewers
//  4. a uniformly random order
//
// Each source returns Scores, which is either Scored with one value per
// candidate or Unscored. The random fallback is intentionally
// non-deterministic.
//
// The Trainer fits classifiers and derives suggested keyterms; both run as
// background jobs.
package ranking

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/rs/zerolog"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/observability"
	"github.com/helixir/screening-workflow-service/internal/repository"
)

// Source names the signal a ranking came from.
type Source string

const (
	SourceClassifier        Source = "classifier"
	SourceSuggestedKeyterms Source = "suggested_keyterms"
	SourceManualKeyterms    Source = "manual_keyterms"
	SourceRandom            Source = "random"
)

// Order is the requested sort direction of scored rankings.
type Order string

const (
	// OrderDesc puts the most relevant candidates first.
	OrderDesc Order = "desc"
	// OrderAsc puts the least relevant candidates first.
	OrderAsc Order = "asc"
)

// ParseOrder parses a query value. Empty means OrderDesc.
func ParseOrder(s string) (Order, error) {
	switch Order(s) {
	case "", OrderDesc:
		return OrderDesc, nil
	case OrderAsc:
		return OrderAsc, nil
	default:
		return "", domain.NewValidationError("order", fmt.Sprintf("must be %q or %q", OrderDesc, OrderAsc))
	}
}

// Scores is the result of one ranking source: a score per candidate, or
// no signal at all. A zero score is still a score.
type Scores struct {
	values map[int64]float64
	scored bool
}

// Scored wraps per-candidate scores.
func Scored(values map[int64]float64) Scores {
	return Scores{values: values, scored: true}
}

// Unscored reports that a source has no signal for the review.
func Unscored() Scores {
	return Scores{}
}

// IsScored reports whether the source produced scores.
func (s Scores) IsScored() bool {
	return s.scored
}

// Get returns the candidate's score.
func (s Scores) Get(studyID int64) float64 {
	return s.values[studyID]
}

// scorer is one link of the fallback chain.
type scorer interface {
	source() Source
	score(ctx context.Context, reviewID int64, candidates []*domain.Citation) (Scores, error)
}

// Ranking is an ordered candidate list and the source that ordered it.
type Ranking struct {
	StudyIDs []int64
	Source   Source
}

// Ranker orders citation screening candidates.
type Ranker struct {
	stores  repository.Stores
	chain   []scorer
	logger  zerolog.Logger
	metrics *observability.Metrics
	shuffle func([]int64)
}

// NewRanker creates a Ranker reading through stores. classifier may be nil,
// in which case the chain starts at suggested keyterms.
func NewRanker(stores repository.Stores, classifier Classifier, featurizer *Featurizer, logger zerolog.Logger, metrics *observability.Metrics) *Ranker {
	r := &Ranker{
		stores:  stores,
		logger:  logger.With().Str("component", "ranker").Logger(),
		metrics: metrics,
		shuffle: func(ids []int64) {
			rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		},
	}
	if classifier != nil {
		r.chain = append(r.chain, &classifierScorer{models: stores.Models, classifier: classifier, featurizer: featurizer})
	}
	r.chain = append(r.chain,
		&keytermScorer{keyterms: stores.Keyterms, kind: domain.KeytermSourceSuggested, src: SourceSuggestedKeyterms, polar: true},
		&keytermScorer{keyterms: stores.Keyterms, kind: domain.KeytermSourceManual, src: SourceManualKeyterms},
	)
	return r
}

// Rank orders studyIDs. Candidates without a citation score as empty text.
// An ExternalServiceError from a source falls through to the next one;
// any other error fails the call.
func (r *Ranker) Rank(ctx context.Context, reviewID int64, studyIDs []int64, order Order) (*Ranking, error) {
	ids := slices.Clone(studyIDs)
	if len(ids) == 0 {
		return &Ranking{StudyIDs: ids, Source: SourceRandom}, nil
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	found, err := r.stores.Citations.ListByStudyIDs(ctx, reviewID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*domain.Citation, len(found))
	for _, c := range found {
		byID[c.StudyID] = c
	}
	candidates := make([]*domain.Citation, len(ids))
	for i, id := range ids {
		if c, ok := byID[id]; ok {
			candidates[i] = c
		} else {
			candidates[i] = &domain.Citation{StudyID: id, ReviewID: reviewID}
		}
	}

	logger := observability.WithReviewContext(r.logger, reviewID)
	for _, s := range r.chain {
		scores, err := s.score(ctx, reviewID, candidates)
		if err != nil {
			var ext *domain.ExternalServiceError
			if !errors.As(err, &ext) {
				return nil, err
			}
			logger.Warn().Err(err).Str("source", string(s.source())).Msg("ranking source unavailable, falling back")
			continue
		}
		if !scores.IsScored() {
			continue
		}
		sortByScore(ids, scores, order)
		r.metrics.RecordRanking(string(s.source()))
		return &Ranking{StudyIDs: ids, Source: s.source()}, nil
	}

	r.shuffle(ids)
	r.metrics.RecordRanking(string(SourceRandom))
	return &Ranking{StudyIDs: ids, Source: SourceRandom}, nil
}

// sortByScore orders ids by score in the requested direction, breaking ties
// on the lower study ID.
func sortByScore(ids []int64, scores Scores, order Order) {
	slices.SortStableFunc(ids, func(a, b int64) int {
		c := cmp.Compare(scores.Get(b), scores.Get(a))
		if order == OrderAsc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
}

type classifierScorer struct {
	models     repository.ClassifierModelRepository
	classifier Classifier
	featurizer *Featurizer
}

func (s *classifierScorer) source() Source { return SourceClassifier }

func (s *classifierScorer) score(ctx context.Context, reviewID int64, candidates []*domain.Citation) (Scores, error) {
	model, err := s.models.Get(ctx, reviewID)
	if errors.Is(err, domain.ErrNotFound) {
		return Unscored(), nil
	}
	if err != nil {
		return Unscored(), err
	}
	if model.Backend != s.classifier.Backend() {
		return Unscored(), nil
	}

	featurizer := s.featurizer
	if featurizer == nil || featurizer.Dim() != model.FeatureDim {
		featurizer = NewFeaturizer(model.FeatureDim)
	}
	features := make([][]float64, len(candidates))
	for i, c := range candidates {
		features[i] = featurizer.Vector(c)
	}

	predicted, err := s.classifier.Predict(ctx, model.Model, features)
	if err != nil {
		return Unscored(), err
	}
	if len(predicted) != len(candidates) {
		return Unscored(), domain.NewExternalServiceError("classifier", "predict",
			fmt.Errorf("%d scores for %d candidates", len(predicted), len(candidates)))
	}
	values := make(map[int64]float64, len(candidates))
	for i, c := range candidates {
		values[c.StudyID] = predicted[i]
	}
	return Scored(values), nil
}

// keytermScorer scores suggested sets by inclusion minus exclusion density
// (polar) and manual sets by plain match density.
type keytermScorer struct {
	keyterms repository.KeytermRepository
	kind     domain.KeytermSource
	src      Source
	polar    bool
}

func (s *keytermScorer) source() Source { return s.src }

func (s *keytermScorer) score(ctx context.Context, reviewID int64, candidates []*domain.Citation) (Scores, error) {
	set, err := s.keyterms.List(ctx, reviewID, s.kind)
	if err != nil {
		return Unscored(), err
	}
	m := newTermMatcher(set)
	if m.empty() {
		return Unscored(), nil
	}
	values := make(map[int64]float64, len(candidates))
	for _, c := range candidates {
		words := tokens(citationText(c))
		if s.polar {
			values[c.StudyID] = m.score(words)
		} else {
			values[c.StudyID] = m.density(words)
		}
	}
	return Scored(values), nil
}
