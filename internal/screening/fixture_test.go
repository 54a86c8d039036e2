package screening

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/repository/memory"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	sm     *StateMachine
	review *domain.Review
}

func newFixture(t *testing.T, citationReviewers, fulltextReviewers int, cfg Config, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	review := &domain.Review{
		Name:                          "Test review",
		NumCitationScreeningReviewers: citationReviewers,
		NumFulltextScreeningReviewers: fulltextReviewers,
	}
	require.NoError(t, store.Stores().Reviews.Create(ctx, review))

	return &fixture{
		t:      t,
		ctx:    ctx,
		store:  store,
		sm:     NewStateMachine(store, cfg, zerolog.Nop(), nil, opts...),
		review: review,
	}
}

func (f *fixture) addStudy() *domain.Study {
	f.t.Helper()
	return f.addStudyWith(domain.DedupeStatusNotDuplicate)
}

func (f *fixture) addStudyWith(dedupe domain.DedupeStatus) *domain.Study {
	f.t.Helper()
	study := &domain.Study{ReviewID: f.review.ID, DedupeStatus: dedupe}
	require.NoError(f.t, f.store.Stores().Studies.Create(f.ctx, study))
	return study
}

func (f *fixture) screen(stage domain.Stage, studyID, userID int64, decision domain.Decision) (*Result, error) {
	in := domain.ScreeningInput{
		ReviewID: f.review.ID,
		Stage:    stage,
		StudyID:  studyID,
		UserID:   userID,
		Status:   decision,
	}
	if decision == domain.DecisionExcluded {
		in.ExcludeReasons = []string{"REASON1"}
	}
	return f.sm.RecordScreening(f.ctx, in)
}

func (f *fixture) include(stage domain.Stage, studyID, userID int64) *Result {
	f.t.Helper()
	res, err := f.screen(stage, studyID, userID, domain.DecisionIncluded)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) exclude(stage domain.Stage, studyID, userID int64) *Result {
	f.t.Helper()
	res, err := f.screen(stage, studyID, userID, domain.DecisionExcluded)
	require.NoError(f.t, err)
	return res
}

func (f *fixture) remove(stage domain.Stage, studyID, userID int64) *Result {
	f.t.Helper()
	res, err := f.sm.DeleteScreening(f.ctx, ScreeningRef{ReviewID: f.review.ID, Stage: stage, StudyID: studyID, UserID: userID})
	require.NoError(f.t, err)
	return res
}

func (f *fixture) study(id int64) domain.Study {
	f.t.Helper()
	s, ok := f.store.Study(id)
	require.True(f.t, ok)
	return s
}

func (f *fixture) counters() domain.ReviewCounters {
	f.t.Helper()
	r, ok := f.store.Review(f.review.ID)
	require.True(f.t, ok)
	return r.Counters
}

func (f *fixture) countEvents(eventType string) int {
	n := 0
	for _, e := range f.store.OutboxEvents() {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

// assertInvariants checks the cross-entity invariants for every study.
func (f *fixture) assertInvariants() {
	f.t.Helper()
	for _, id := range f.store.StudyIDs(f.review.ID) {
		s := f.study(id)
		if s.FulltextStatus != domain.ScreeningStatusNotScreened {
			assert.Equal(f.t, domain.ScreeningStatusIncluded, s.CitationStatus, "study %d fulltext without included citation", id)
		}
		assert.Equal(f.t, s.CitationStatus == domain.ScreeningStatusIncluded, f.store.HasFulltext(id), "study %d fulltext row", id)
		assert.Equal(f.t, s.FulltextStatus == domain.ScreeningStatusIncluded, f.store.HasDataExtraction(id), "study %d extraction row", id)
		if s.FulltextStatus != domain.ScreeningStatusIncluded {
			assert.Equal(f.t, domain.DataExtractionStatusNotStarted, s.DataExtractionStatus, "study %d extraction status", id)
		}
	}

	materialised, err := f.store.Stores().Studies.CountTerminal(f.ctx, f.review.ID)
	require.NoError(f.t, err)
	assert.Equal(f.t, materialised, f.counters(), "counters drifted from materialised counts")
}
