package ranking

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/observability"
	"github.com/helixir/screening-workflow-service/internal/repository"
)

// Training outcomes reported in metrics and job results.
const (
	OutcomeTrained = "trained"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"

	SkipInsufficientLabels = "insufficient_labels"
)

// TrainerConfig holds keyterm suggestion settings.
type TrainerConfig struct {
	// SampleSize caps how many included and how many excluded citations
	// feed keyterm suggestion.
	SampleSize int
	// TermsPerPolarity is the number of inclusion and of exclusion terms kept.
	TermsPerPolarity int
}

// TrainingOutcome reports one classifier training run.
type TrainingOutcome struct {
	Skipped     bool   `json:"skipped"`
	Reason      string `json:"reason,omitempty"`
	NumIncluded int    `json:"num_included"`
	NumExcluded int    `json:"num_excluded"`
	// NumFeaturized counts citations whose stored vector was (re)computed.
	NumFeaturized int `json:"num_featurized"`
}

// SuggestionOutcome reports one keyterm suggestion run.
type SuggestionOutcome struct {
	Skipped bool              `json:"skipped"`
	Reason  string            `json:"reason,omitempty"`
	Terms   domain.KeytermSet `json:"terms"`
}

// Trainer runs the ranking background jobs.
type Trainer struct {
	tx         repository.Transactor
	classifier Classifier
	featurizer *Featurizer
	cfg        TrainerConfig
	logger     zerolog.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewTrainer creates a Trainer.
func NewTrainer(tx repository.Transactor, classifier Classifier, featurizer *Featurizer, cfg TrainerConfig, logger zerolog.Logger, metrics *observability.Metrics) *Trainer {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 500
	}
	if cfg.TermsPerPolarity <= 0 {
		cfg.TermsPerPolarity = 25
	}
	if featurizer == nil {
		featurizer = NewFeaturizer(DefaultFeatureDim)
	}
	return &Trainer{
		tx:         tx,
		classifier: classifier,
		featurizer: featurizer,
		cfg:        cfg,
		logger:     logger.With().Str("component", "trainer").Logger(),
		metrics:    metrics,
		now:        time.Now,
	}
}

// TrainClassifier featurizes every citation of the review, fits the
// classifier on the included and excluded ones and persists vectors and
// model together. Nothing is written when fitting fails.
func (t *Trainer) TrainClassifier(ctx context.Context, reviewID int64) (*TrainingOutcome, error) {
	job := string(domain.JobClassifierTraining)
	out, err := t.trainClassifier(ctx, reviewID)
	switch {
	case err != nil:
		t.metrics.RecordTrainingRun(job, OutcomeFailed)
		return nil, err
	case out.Skipped:
		t.metrics.RecordTrainingRun(job, OutcomeSkipped)
	default:
		t.metrics.RecordTrainingRun(job, OutcomeTrained)
	}
	return out, nil
}

func (t *Trainer) trainClassifier(ctx context.Context, reviewID int64) (*TrainingOutcome, error) {
	stores := t.tx.Stores()
	if _, err := stores.Reviews.Get(ctx, reviewID); err != nil {
		return nil, err
	}

	citations, err := stores.Citations.ListByReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	computed := make(map[int64][]float64)
	vectors := make(map[int64][]float64, len(citations))
	for _, c := range citations {
		if len(c.FeatureVector) == t.featurizer.Dim() {
			vectors[c.StudyID] = c.FeatureVector
			continue
		}
		v := t.featurizer.Featurize(c)
		vectors[c.StudyID] = v
		computed[c.StudyID] = v
	}

	labeled, err := stores.Citations.ListLabeled(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	out := &TrainingOutcome{NumFeaturized: len(computed)}
	features := make([][]float64, 0, len(labeled))
	labels := make([]bool, 0, len(labeled))
	for _, l := range labeled {
		v, ok := vectors[l.Citation.StudyID]
		if !ok {
			v = t.featurizer.Featurize(l.Citation)
		}
		features = append(features, v)
		labels = append(labels, l.Included)
		if l.Included {
			out.NumIncluded++
		} else {
			out.NumExcluded++
		}
	}

	logger := observability.WithReviewContext(t.logger, reviewID)
	if out.NumIncluded == 0 || out.NumExcluded == 0 {
		out.Skipped, out.Reason = true, SkipInsufficientLabels
		if len(computed) > 0 {
			if err := stores.Citations.SaveFeatureVectors(ctx, computed); err != nil {
				return nil, err
			}
		}
		logger.Info().Int("included", out.NumIncluded).Int("excluded", out.NumExcluded).Msg("classifier training skipped")
		return out, nil
	}

	model, err := t.classifier.Fit(ctx, features, labels)
	if err != nil {
		var ext *domain.ExternalServiceError
		if errors.As(err, &ext) || ctx.Err() != nil {
			return nil, err
		}
		return nil, domain.NewExternalServiceError("classifier", "fit", err)
	}

	err = t.tx.InTx(ctx, func(ctx context.Context, s repository.Stores) error {
		if len(computed) > 0 {
			if err := s.Citations.SaveFeatureVectors(ctx, computed); err != nil {
				return err
			}
		}
		return s.Models.Save(ctx, &domain.ClassifierModel{
			ReviewID:    reviewID,
			Backend:     t.classifier.Backend(),
			FeatureDim:  t.featurizer.Dim(),
			Model:       model,
			NumIncluded: out.NumIncluded,
			NumExcluded: out.NumExcluded,
			TrainedAt:   t.now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Int("included", out.NumIncluded).
		Int("excluded", out.NumExcluded).
		Int("featurized", out.NumFeaturized).
		Msg("classifier trained")
	return out, nil
}

// SuggestKeyterms samples screened citations, derives inclusion and
// exclusion terms and replaces the review's suggested keyterms.
func (t *Trainer) SuggestKeyterms(ctx context.Context, reviewID int64) (*SuggestionOutcome, error) {
	job := string(domain.JobKeytermSuggestion)
	out, err := t.suggestKeyterms(ctx, reviewID)
	switch {
	case err != nil:
		t.metrics.RecordTrainingRun(job, OutcomeFailed)
		return nil, err
	case out.Skipped:
		t.metrics.RecordTrainingRun(job, OutcomeSkipped)
	default:
		t.metrics.RecordTrainingRun(job, OutcomeTrained)
	}
	return out, nil
}

func (t *Trainer) suggestKeyterms(ctx context.Context, reviewID int64) (*SuggestionOutcome, error) {
	stores := t.tx.Stores()
	if _, err := stores.Reviews.Get(ctx, reviewID); err != nil {
		return nil, err
	}

	included, err := stores.Citations.Sample(ctx, reviewID, domain.ScreeningStatusIncluded, t.cfg.SampleSize)
	if err != nil {
		return nil, err
	}
	excluded, err := stores.Citations.Sample(ctx, reviewID, domain.ScreeningStatusExcluded, t.cfg.SampleSize)
	if err != nil {
		return nil, err
	}
	if len(included) == 0 || len(excluded) == 0 {
		return &SuggestionOutcome{Skipped: true, Reason: SkipInsufficientLabels, Terms: domain.KeytermSet{Include: []string{}, Exclude: []string{}}}, nil
	}

	terms := SuggestKeyterms(included, excluded, t.cfg.TermsPerPolarity)
	err = t.tx.InTx(ctx, func(ctx context.Context, s repository.Stores) error {
		return s.Keyterms.Replace(ctx, reviewID, domain.KeytermSourceSuggested, terms)
	})
	if err != nil {
		return nil, err
	}

	logger := observability.WithReviewContext(t.logger, reviewID)
	logger.Info().
		Int("sampled_included", len(included)).
		Int("sampled_excluded", len(excluded)).
		Int("include_terms", len(terms.Include)).
		Int("exclude_terms", len(terms.Exclude)).
		Msg("suggested keyterms replaced")
	return &SuggestionOutcome{Terms: terms}, nil
}
