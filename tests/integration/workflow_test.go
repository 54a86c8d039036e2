//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/screening-workflow-service/internal/app"
	"github.com/helixir/screening-workflow-service/internal/config"
	"github.com/helixir/screening-workflow-service/internal/coordinator"
	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/maintenance"
	"github.com/helixir/screening-workflow-service/internal/outbox"
	"github.com/helixir/screening-workflow-service/internal/repository"
	"github.com/helixir/screening-workflow-service/internal/screening"
)

func strPtr(s string) *string { return &s }

func seedReview(t *testing.T, tx repository.Transactor, reviewers int) *domain.Review {
	t.Helper()
	review := &domain.Review{Name: "integration", NumCitationScreeningReviewers: reviewers, NumFulltextScreeningReviewers: reviewers}
	require.NoError(t, tx.Stores().Reviews.Create(context.Background(), review))
	return review
}

func seedStudy(t *testing.T, tx repository.Transactor, reviewID int64, title string) int64 {
	t.Helper()
	ctx := context.Background()
	study := &domain.Study{ReviewID: reviewID, DedupeStatus: domain.DedupeStatusNotDuplicate}
	require.NoError(t, tx.Stores().Studies.Create(ctx, study))
	require.NoError(t, tx.Stores().Citations.Create(ctx, &domain.Citation{
		StudyID:  study.ID,
		ReviewID: reviewID,
		Title:    strPtr(title),
	}))
	return study.ID
}

func screenCitation(studyID, userID int64, d domain.Decision) domain.ScreeningInput {
	in := domain.ScreeningInput{Stage: domain.StageCitation, StudyID: studyID, UserID: userID, Status: d}
	if d == domain.DecisionExcluded {
		in.ExcludeReasons = []string{"wrong population"}
	}
	return in
}

func TestStateMachine_TwoReviewerConsensus(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	tx := repository.NewPgTransactor(db)
	sm := screening.NewStateMachine(tx, screening.Config{}, zerolog.Nop(), nil)

	review := seedReview(t, tx, 2)
	studyID := seedStudy(t, tx, review.ID, "Statins and dementia")

	res, err := sm.RecordScreening(ctx, screenCitation(studyID, 1, domain.DecisionIncluded))
	require.NoError(t, err)
	assert.Equal(t, domain.ScreeningStatusScreenedOnce, res.Status)

	res, err = sm.RecordScreening(ctx, screenCitation(studyID, 2, domain.DecisionExcluded))
	require.NoError(t, err)
	assert.Equal(t, domain.ScreeningStatusConflict, res.Status)
	assert.Equal(t, domain.ReviewCounters{}, res.Counters)

	_, err = sm.RecordScreening(ctx, screenCitation(studyID, 2, domain.DecisionIncluded))
	assert.ErrorIs(t, err, domain.ErrConflict)

	res, err = sm.UpdateScreening(ctx, screenCitation(studyID, 2, domain.DecisionIncluded))
	require.NoError(t, err)
	assert.Equal(t, domain.ScreeningStatusIncluded, res.Status)

	stored, err := tx.Stores().Reviews.Get(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Counters.CitationsIncluded)
	assert.Zero(t, stored.Counters.CitationsExcluded)

	counted, err := tx.Stores().Studies.CountTerminal(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Counters, counted)
	assert.Equal(t, 3, countOutbox(t, domain.EventTypeStudyStatusChanged))
}

func TestStateMachine_ConcurrentDecisionsKeepCountersExact(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	tx := repository.NewPgTransactor(db)
	sm := screening.NewStateMachine(tx, screening.Config{}, zerolog.Nop(), nil)

	review := seedReview(t, tx, 1)
	const studies = 12
	ids := make([]int64, studies)
	for i := range ids {
		ids[i] = seedStudy(t, tx, review.ID, "Record "+string(rune('A'+i)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, studies)
	for i, id := range ids {
		decision := domain.DecisionIncluded
		if i%3 == 0 {
			decision = domain.DecisionExcluded
		}
		wg.Add(1)
		go func(id int64, d domain.Decision) {
			defer wg.Done()
			_, err := sm.RecordScreening(ctx, screenCitation(id, 7, d))
			errs <- err
		}(id, decision)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := tx.Stores().Reviews.Get(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, stored.Counters.CitationsIncluded)
	assert.Equal(t, 4, stored.Counters.CitationsExcluded)
}

func TestCoordinator_DedupeJob(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	tx := repository.NewPgTransactor(db)

	cfg := &config.Config{
		Matcher:    config.MatcherConfig{Backend: config.BackendBuiltin},
		Classifier: config.ClassifierConfig{Backend: config.BackendBuiltin, FeatureDim: 128},
	}
	components, err := app.New(cfg, tx, coordinator.NewPgLocker(db, 50*time.Millisecond), zerolog.Nop(), nil)
	require.NoError(t, err)
	defer components.Close()

	review := seedReview(t, tx, 1)
	seedStudy(t, tx, review.ID, "Statin therapy in older adults")
	seedStudy(t, tx, review.ID, "Statin therapy in older adults")
	seedStudy(t, tx, review.ID, "Gut microbiome and depression")

	res, err := components.Coordinator.RunJob(ctx, domain.JobDedupe, domain.JobArgs{ReviewID: review.ID, Trigger: domain.TriggerImport})
	require.NoError(t, err)
	require.False(t, res.Skipped)

	run, err := tx.Stores().DedupeRuns.Latest(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, run.NumRecords)
	assert.Equal(t, 1, run.NumDuplicates)
	assert.Equal(t, 1, countOutbox(t, domain.EventTypeDedupeCompleted))

	res, err = components.Coordinator.RunJob(ctx, domain.JobDedupe, domain.JobArgs{ReviewID: review.ID, Trigger: domain.TriggerImport})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestPgLocker_MutualExclusion(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	locker := coordinator.NewPgLocker(db, 20*time.Millisecond)

	held, err := locker.Acquire(ctx, "dedupe:42", time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "dedupe:42", 150*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

	other, err := locker.Acquire(ctx, "dedupe:43", time.Second)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, held.Release(ctx))
	again, err := locker.Acquire(ctx, "dedupe:42", time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []string
	fail error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job domain.JobName, eventID string, _ domain.JobArgs) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.jobs = append(d.jobs, string(job)+"/"+eventID)
	return nil
}

func TestRelay_DeliversOnce(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	tx := repository.NewPgTransactor(db)
	review := seedReview(t, tx, 1)

	coord := coordinator.New(tx, coordinator.NewLocalLocker(), nil, nil, coordinator.Config{}, zerolog.Nop(), nil)
	ev, err := coord.TriggerTraining(ctx, review.ID)
	require.NoError(t, err)

	dispatcher := &recordingDispatcher{fail: errors.New("temporal down")}
	relay := outbox.NewRelay(tx, dispatcher, nil, config.OutboxConfig{BatchSize: 10, MaxAttempts: 3}, zerolog.Nop(), nil)

	n, err := relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, dispatcher.jobs)

	dispatcher.fail = nil
	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"classifier_training/" + ev.EventID.String()}, dispatcher.jobs)

	n, err = relay.RelayOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconciler_RepairsDrift(t *testing.T) {
	db := requireDB(t)
	ctx := context.Background()
	tx := repository.NewPgTransactor(db)
	sm := screening.NewStateMachine(tx, screening.Config{}, zerolog.Nop(), nil)

	review := seedReview(t, tx, 1)
	studyID := seedStudy(t, tx, review.ID, "Exercise and sleep")
	_, err := sm.RecordScreening(ctx, screenCitation(studyID, 3, domain.DecisionExcluded))
	require.NoError(t, err)

	require.NoError(t, tx.Stores().Reviews.SetCounters(ctx, review.ID, domain.ReviewCounters{CitationsIncluded: 5}))

	res, err := maintenance.NewReconciler(tx, zerolog.Nop(), nil).Reconcile(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Corrected)
	assert.Equal(t, domain.ReviewCounters{CitationsExcluded: 1}, res.After)

	stored, err := tx.Stores().Reviews.Get(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, res.After, stored.Counters)
}
