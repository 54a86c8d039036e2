// Package app assembles the service's components from configuration. The
// server and worker binaries share this graph so both see the same
// backends, thresholds and lock settings.
package app

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/screening-workflow-service/internal/config"
	"github.com/helixir/screening-workflow-service/internal/coordinator"
	"github.com/helixir/screening-workflow-service/internal/dedup"
	"github.com/helixir/screening-workflow-service/internal/maintenance"
	"github.com/helixir/screening-workflow-service/internal/observability"
	"github.com/helixir/screening-workflow-service/internal/qdrant"
	"github.com/helixir/screening-workflow-service/internal/ranking"
	"github.com/helixir/screening-workflow-service/internal/remote"
	"github.com/helixir/screening-workflow-service/internal/repository"
	"github.com/helixir/screening-workflow-service/internal/screening"
)

// App holds the wired domain components.
type App struct {
	Tx          repository.Transactor
	Machine     *screening.StateMachine
	Pipeline    *dedup.Pipeline
	Trainer     *ranking.Trainer
	Queue       *ranking.Queue
	Coordinator *coordinator.Coordinator
	Reconciler  *maintenance.Reconciler

	closers []func() error
}

// New builds the component graph over tx. locker guards background jobs;
// pass a coordinator.PgLocker when more than one worker process runs.
func New(cfg *config.Config, tx repository.Transactor, locker coordinator.Locker, logger zerolog.Logger, metrics *observability.Metrics) (*App, error) {
	a := &App{Tx: tx}

	a.Machine = screening.NewStateMachine(tx, screening.Config{
		KeytermThreshold:  cfg.Pipeline.KeytermThreshold,
		TrainingThreshold: cfg.Pipeline.TrainingThreshold,
	}, logger, metrics)

	matcher, err := a.newMatcher(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Pipeline = dedup.NewPipeline(tx.Stores(), a.Machine, matcher, logger, metrics)

	classifier, err := newClassifier(cfg.Classifier)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	featurizer := ranking.NewFeaturizer(cfg.Classifier.FeatureDim)
	a.Trainer = ranking.NewTrainer(tx, classifier, featurizer, ranking.TrainerConfig{
		SampleSize:       cfg.Pipeline.SuggestionSampleSize,
		TermsPerPolarity: cfg.Pipeline.SuggestedTermsPerPolarity,
	}, logger, metrics)
	ranker := ranking.NewRanker(tx.Stores(), classifier, featurizer, logger, metrics)
	a.Queue = ranking.NewQueue(tx.Stores(), ranker, ranking.QueueConfig{
		DefaultPerPage: cfg.Pipeline.DefaultPerPage,
		MaxPerPage:     cfg.Pipeline.MaxPerPage,
	})

	a.Coordinator = coordinator.New(tx, locker, a.Pipeline, a.Trainer, coordinator.Config{
		LockAcquireTimeout: cfg.Pipeline.LockAcquireTimeout,
		LockHoldTimeout:    cfg.Pipeline.LockHoldTimeout,
	}, logger, metrics)
	a.Reconciler = maintenance.NewReconciler(tx, logger, metrics)

	logger.Info().
		Str("matcher_backend", cfg.Matcher.Backend).
		Str("classifier_backend", cfg.Classifier.Backend).
		Bool("qdrant_enabled", cfg.Qdrant.Enabled).
		Msg("components initialized")
	return a, nil
}

// Close releases connections held by remote backends.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) newMatcher(cfg *config.Config) (dedup.Matcher, error) {
	if cfg.Matcher.Backend == config.BackendRemote {
		client, err := remote.NewClient(remote.FromServiceConfig("matcher", cfg.Matcher.Remote))
		if err != nil {
			return nil, fmt.Errorf("create remote matcher: %w", err)
		}
		return remote.NewMatcher(client), nil
	}

	embedder := dedup.NewHashingEmbedder(dedup.DefaultEmbeddingDim)
	var index dedup.CandidateIndex = dedup.NewInMemoryIndex()
	if cfg.Qdrant.Enabled {
		store, err := qdrant.NewClient(qdrant.FromAppConfig(cfg.Qdrant, uint64(embedder.Dim())))
		if err != nil {
			return nil, fmt.Errorf("create qdrant client: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		index = dedup.NewQdrantIndex(store)
	}
	return dedup.NewBuiltinMatcher(embedder, index, dedup.BuiltinConfig{
		Threshold:           cfg.Matcher.Threshold,
		CandidatesPerRecord: cfg.Matcher.CandidatesPerRecord,
	}), nil
}

func newClassifier(cfg config.ClassifierConfig) (ranking.Classifier, error) {
	if cfg.Backend == config.BackendRemote {
		client, err := remote.NewClient(remote.FromServiceConfig("classifier", cfg.Remote))
		if err != nil {
			return nil, fmt.Errorf("create remote classifier: %w", err)
		}
		return remote.NewClassifier(client), nil
	}
	return ranking.NewLogisticClassifier(ranking.LogisticConfig{
		Epochs:       cfg.Epochs,
		LearningRate: cfg.LearningRate,
	}), nil
}
