package ranking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/repository/memory"
)

func strPtr(s string) *string { return &s }

func citation(id int64, title, abstract string) *domain.Citation {
	return &domain.Citation{StudyID: id, Title: strPtr(title), Abstract: strPtr(abstract)}
}

type rankFixture struct {
	t        *testing.T
	ctx      context.Context
	store    *memory.Store
	reviewID int64
}

func newRankFixture(t *testing.T) *rankFixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	review := &domain.Review{Name: "ranking", NumCitationScreeningReviewers: 1, NumFulltextScreeningReviewers: 1}
	require.NoError(t, store.Stores().Reviews.Create(ctx, review))
	return &rankFixture{t: t, ctx: ctx, store: store, reviewID: review.ID}
}

// addStudy creates a deduplicated study with a citation and returns its ID.
func (f *rankFixture) addStudy(status domain.ScreeningStatus, title, abstract string, tags ...string) int64 {
	f.t.Helper()
	s := f.store.Stores()
	study := &domain.Study{
		ReviewID:       f.reviewID,
		DedupeStatus:   domain.DedupeStatusNotDuplicate,
		CitationStatus: status,
		Tags:           tags,
	}
	require.NoError(f.t, s.Studies.Create(f.ctx, study))
	require.NoError(f.t, s.Citations.Create(f.ctx, &domain.Citation{
		StudyID:  study.ID,
		ReviewID: f.reviewID,
		Title:    strPtr(title),
		Abstract: strPtr(abstract),
	}))
	return study.ID
}

func (f *rankFixture) setKeyterms(source domain.KeytermSource, include, exclude []string) {
	f.t.Helper()
	require.NoError(f.t, f.store.Stores().Keyterms.Replace(f.ctx, f.reviewID, source,
		domain.KeytermSet{Include: include, Exclude: exclude}))
}
