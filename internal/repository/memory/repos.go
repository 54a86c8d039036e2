package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"time"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/repository"
)

// Compile-time interface verification.
var (
	_ repository.ReviewRepository          = reviewRepo{}
	_ repository.StudyRepository           = studyRepo{}
	_ repository.CitationRepository        = citationRepo{}
	_ repository.ScreeningRepository       = screeningRepo{}
	_ repository.FulltextRepository        = fulltextRepo{}
	_ repository.DataExtractionRepository  = extractionRepo{}
	_ repository.DedupeRepository          = dedupeRepo{}
	_ repository.DedupeRunRepository       = dedupeRunRepo{}
	_ repository.KeytermRepository         = keytermRepo{}
	_ repository.ClassifierModelRepository = modelRepo{}
	_ repository.OutboxRepository          = outboxRepo{}
)

func sortIDs(ids []int64) { slices.Sort(ids) }

func idString(id int64) string { return strconv.FormatInt(id, 10) }

type reviewRepo struct{ v *view }

func (r reviewRepo) Create(_ context.Context, review *domain.Review) error {
	st, release, err := r.v.acquire("reviews.Create")
	if err != nil {
		return err
	}
	defer release()

	if review.Status == "" {
		review.Status = domain.ReviewStatusActive
	}
	review.ID = st.id()
	review.CreatedAt = r.v.now(st)
	review.UpdatedAt = review.CreatedAt
	st.reviews[review.ID] = *review
	return nil
}

func (r reviewRepo) Get(_ context.Context, id int64) (*domain.Review, error) {
	st, release, err := r.v.acquire("reviews.Get")
	if err != nil {
		return nil, err
	}
	defer release()

	review, ok := st.reviews[id]
	if !ok {
		return nil, domain.NewNotFoundError("review", idString(id))
	}
	return &review, nil
}

func (r reviewRepo) ApplyCounterDelta(_ context.Context, id int64, stage domain.Stage, delta domain.CounterDelta) (domain.ReviewCounters, error) {
	st, release, err := r.v.acquire("reviews.ApplyCounterDelta")
	if err != nil {
		return domain.ReviewCounters{}, err
	}
	defer release()

	review, ok := st.reviews[id]
	if !ok {
		return domain.ReviewCounters{}, domain.NewNotFoundError("review", idString(id))
	}
	next := review.Counters.Apply(stage, delta)
	if next.CitationsIncluded < 0 || next.CitationsExcluded < 0 || next.FulltextsIncluded < 0 || next.FulltextsExcluded < 0 {
		return domain.ReviewCounters{}, fmt.Errorf("check constraint violated: negative counter on review %d", id)
	}
	review.Counters = next
	st.reviews[id] = review
	return next, nil
}

func (r reviewRepo) SetCounters(_ context.Context, id int64, counters domain.ReviewCounters) error {
	st, release, err := r.v.acquire("reviews.SetCounters")
	if err != nil {
		return err
	}
	defer release()

	review, ok := st.reviews[id]
	if !ok {
		return domain.NewNotFoundError("review", idString(id))
	}
	review.Counters = counters
	st.reviews[id] = review
	return nil
}

func (r reviewRepo) SetStatus(_ context.Context, id int64, status domain.ReviewStatus) error {
	st, release, err := r.v.acquire("reviews.SetStatus")
	if err != nil {
		return err
	}
	defer release()

	review, ok := st.reviews[id]
	if !ok {
		return domain.NewNotFoundError("review", idString(id))
	}
	review.Status = status
	st.reviews[id] = review
	return nil
}

func (r reviewRepo) ListIDs(_ context.Context) ([]int64, error) {
	st, release, err := r.v.acquire("reviews.ListIDs")
	if err != nil {
		return nil, err
	}
	defer release()

	ids := make([]int64, 0, len(st.reviews))
	for id := range st.reviews {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids, nil
}

type studyRepo struct{ v *view }

func (r studyRepo) Create(_ context.Context, study *domain.Study) error {
	st, release, err := r.v.acquire("studies.Create")
	if err != nil {
		return err
	}
	defer release()

	if _, ok := st.reviews[study.ReviewID]; !ok {
		return domain.NewNotFoundError("review", idString(study.ReviewID))
	}
	if study.DedupeStatus == "" {
		study.DedupeStatus = domain.DedupeStatusNotDeduped
	}
	if study.CitationStatus == "" {
		study.CitationStatus = domain.ScreeningStatusNotScreened
	}
	if study.FulltextStatus == "" {
		study.FulltextStatus = domain.ScreeningStatusNotScreened
	}
	if study.DataExtractionStatus == "" {
		study.DataExtractionStatus = domain.DataExtractionStatusNotStarted
	}
	study.ID = st.id()
	study.CreatedAt = r.v.now(st)
	study.UpdatedAt = study.CreatedAt
	st.studies[study.ID] = *study
	return nil
}

func (r studyRepo) Get(_ context.Context, id int64) (*domain.Study, error) {
	st, release, err := r.v.acquire("studies.Get")
	if err != nil {
		return nil, err
	}
	defer release()

	study, ok := st.studies[id]
	if !ok {
		return nil, domain.NewNotFoundError("study", idString(id))
	}
	return &study, nil
}

func (r studyRepo) GetForUpdate(ctx context.Context, id int64) (*domain.Study, error) {
	return r.Get(ctx, id)
}

func (r studyRepo) UpdateStatuses(_ context.Context, study *domain.Study) error {
	st, release, err := r.v.acquire("studies.UpdateStatuses")
	if err != nil {
		return err
	}
	defer release()

	cur, ok := st.studies[study.ID]
	if !ok {
		return domain.NewNotFoundError("study", idString(study.ID))
	}
	if study.FulltextStatus != domain.ScreeningStatusNotScreened && study.CitationStatus != domain.ScreeningStatusIncluded {
		return fmt.Errorf("check constraint studies_fulltext_requires_citation violated for study %d", study.ID)
	}
	if study.DataExtractionStatus != domain.DataExtractionStatusNotStarted && study.FulltextStatus != domain.ScreeningStatusIncluded {
		return fmt.Errorf("check constraint studies_extraction_requires_fulltext violated for study %d", study.ID)
	}
	cur.CitationStatus = study.CitationStatus
	cur.FulltextStatus = study.FulltextStatus
	cur.DataExtractionStatus = study.DataExtractionStatus
	cur.UpdatedAt = r.v.now(st)
	study.UpdatedAt = cur.UpdatedAt
	st.studies[study.ID] = cur
	return nil
}

func (r studyRepo) ApplyDedupeStatuses(_ context.Context, reviewID int64, asOf time.Time, duplicates []int64) (int64, error) {
	st, release, err := r.v.acquire("studies.ApplyDedupeStatuses")
	if err != nil {
		return 0, err
	}
	defer release()

	var n int64
	for id, study := range st.studies {
		if study.ReviewID != reviewID || study.CreatedAt.After(asOf) {
			continue
		}
		if slices.Contains(duplicates, id) {
			study.DedupeStatus = domain.DedupeStatusDuplicate
		} else {
			study.DedupeStatus = domain.DedupeStatusNotDuplicate
		}
		st.studies[id] = study
		n++
	}
	return n, nil
}

func (r studyRepo) LatestCreatedAt(_ context.Context, reviewID int64) (*time.Time, error) {
	st, release, err := r.v.acquire("studies.LatestCreatedAt")
	if err != nil {
		return nil, err
	}
	defer release()

	var latest *time.Time
	for _, study := range st.studies {
		if study.ReviewID != reviewID {
			continue
		}
		if latest == nil || study.CreatedAt.After(*latest) {
			t := study.CreatedAt
			latest = &t
		}
	}
	return latest, nil
}

func (r studyRepo) ListWithCitations(_ context.Context, reviewID int64, asOf time.Time) ([]repository.StudyWithCitation, error) {
	st, release, err := r.v.acquire("studies.ListWithCitations")
	if err != nil {
		return nil, err
	}
	defer release()

	var out []repository.StudyWithCitation
	for _, id := range st.studyIDs(reviewID) {
		study := st.studies[id]
		c, ok := st.citations[id]
		if !ok || study.CreatedAt.After(asOf) {
			continue
		}
		out = append(out, repository.StudyWithCitation{Study: &study, Citation: &c})
	}
	return out, nil
}

func (r studyRepo) ListQueueCandidates(_ context.Context, f repository.QueueFilter) ([]int64, error) {
	st, release, err := r.v.acquire("studies.ListQueueCandidates")
	if err != nil {
		return nil, err
	}
	defer release()

	screened := map[int64]bool{}
	for _, s := range st.screenings {
		if s.UserID == f.UserID && s.Stage == domain.StageCitation {
			screened[s.StudyID] = true
		}
	}

	out := make([]int64, 0)
	for _, id := range st.studyIDs(f.ReviewID) {
		study := st.studies[id]
		if study.DedupeStatus != domain.DedupeStatusNotDuplicate || study.CitationStatus.IsTerminal() || screened[id] {
			continue
		}
		if f.Tag != "" && !study.HasTag(f.Tag) {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (r studyRepo) CountTerminal(_ context.Context, reviewID int64) (domain.ReviewCounters, error) {
	st, release, err := r.v.acquire("studies.CountTerminal")
	if err != nil {
		return domain.ReviewCounters{}, err
	}
	defer release()

	var c domain.ReviewCounters
	for _, study := range st.studies {
		if study.ReviewID != reviewID {
			continue
		}
		c = c.Apply(domain.StageCitation, domain.TransitionDelta(domain.ScreeningStatusNotScreened, study.CitationStatus))
		c = c.Apply(domain.StageFulltext, domain.TransitionDelta(domain.ScreeningStatusNotScreened, study.FulltextStatus))
	}
	return c, nil
}

func (s *state) studyIDs(reviewID int64) []int64 {
	var ids []int64
	for id, study := range s.studies {
		if study.ReviewID == reviewID {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids
}

type citationRepo struct{ v *view }

func (r citationRepo) Create(_ context.Context, c *domain.Citation) error {
	st, release, err := r.v.acquire("citations.Create")
	if err != nil {
		return err
	}
	defer release()

	if _, ok := st.studies[c.StudyID]; !ok {
		return domain.NewNotFoundError("study", idString(c.StudyID))
	}
	if _, ok := st.citations[c.StudyID]; ok {
		return domain.NewConflictError("citation", "study "+idString(c.StudyID)+" already has a citation")
	}
	c.CreatedAt = r.v.now(st)
	st.citations[c.StudyID] = *c
	return nil
}

func (r citationRepo) ListByStudyIDs(_ context.Context, reviewID int64, studyIDs []int64) ([]*domain.Citation, error) {
	st, release, err := r.v.acquire("citations.ListByStudyIDs")
	if err != nil {
		return nil, err
	}
	defer release()

	ids := append([]int64(nil), studyIDs...)
	sortIDs(ids)
	out := make([]*domain.Citation, 0, len(ids))
	for _, id := range ids {
		if c, ok := st.citations[id]; ok && c.ReviewID == reviewID {
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r citationRepo) ListByReview(_ context.Context, reviewID int64) ([]*domain.Citation, error) {
	st, release, err := r.v.acquire("citations.ListByReview")
	if err != nil {
		return nil, err
	}
	defer release()

	out := make([]*domain.Citation, 0)
	for _, id := range st.studyIDs(reviewID) {
		if c, ok := st.citations[id]; ok {
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r citationRepo) ListLabeled(_ context.Context, reviewID int64) ([]repository.LabeledCitation, error) {
	st, release, err := r.v.acquire("citations.ListLabeled")
	if err != nil {
		return nil, err
	}
	defer release()

	var out []repository.LabeledCitation
	for _, id := range st.studyIDs(reviewID) {
		status := st.studies[id].CitationStatus
		c, ok := st.citations[id]
		if !ok || (status != domain.ScreeningStatusIncluded && status != domain.ScreeningStatusExcluded) {
			continue
		}
		out = append(out, repository.LabeledCitation{Citation: &c, Included: status == domain.ScreeningStatusIncluded})
	}
	return out, nil
}

func (r citationRepo) Sample(_ context.Context, reviewID int64, status domain.ScreeningStatus, limit int) ([]*domain.Citation, error) {
	st, release, err := r.v.acquire("citations.Sample")
	if err != nil {
		return nil, err
	}
	defer release()

	out := make([]*domain.Citation, 0)
	for _, id := range st.studyIDs(reviewID) {
		if st.studies[id].CitationStatus != status {
			continue
		}
		if c, ok := st.citations[id]; ok {
			out = append(out, &c)
		}
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r citationRepo) SaveFeatureVectors(_ context.Context, vectors map[int64][]float64) error {
	st, release, err := r.v.acquire("citations.SaveFeatureVectors")
	if err != nil {
		return err
	}
	defer release()

	for id, vec := range vectors {
		c, ok := st.citations[id]
		if !ok {
			continue
		}
		c.FeatureVector = append([]float64(nil), vec...)
		st.citations[id] = c
	}
	return nil
}

type screeningRepo struct{ v *view }

func (r screeningRepo) find(st *state, studyID, userID int64, stage domain.Stage) (int64, bool) {
	for id, s := range st.screenings {
		if s.StudyID == studyID && s.UserID == userID && s.Stage == stage {
			return id, true
		}
	}
	return 0, false
}

func (r screeningRepo) Create(_ context.Context, s *domain.Screening) error {
	st, release, err := r.v.acquire("screenings.Create")
	if err != nil {
		return err
	}
	defer release()

	if _, ok := r.find(st, s.StudyID, s.UserID, s.Stage); ok {
		return domain.NewConflictError("screening", fmt.Sprintf(
			"user %d already screened study %d at %s stage", s.UserID, s.StudyID, s.Stage))
	}
	s.ID = st.id()
	s.CreatedAt = r.v.now(st)
	s.UpdatedAt = s.CreatedAt
	st.screenings[s.ID] = *s
	return nil
}

func (r screeningRepo) Get(_ context.Context, studyID, userID int64, stage domain.Stage) (*domain.Screening, error) {
	st, release, err := r.v.acquire("screenings.Get")
	if err != nil {
		return nil, err
	}
	defer release()

	id, ok := r.find(st, studyID, userID, stage)
	if !ok {
		return nil, notFoundScreening(studyID, userID, stage)
	}
	s := st.screenings[id]
	return &s, nil
}

func (r screeningRepo) Update(_ context.Context, s *domain.Screening) error {
	st, release, err := r.v.acquire("screenings.Update")
	if err != nil {
		return err
	}
	defer release()

	id, ok := r.find(st, s.StudyID, s.UserID, s.Stage)
	if !ok {
		return notFoundScreening(s.StudyID, s.UserID, s.Stage)
	}
	cur := st.screenings[id]
	cur.Status = s.Status
	cur.ExcludeReasons = append([]string(nil), s.ExcludeReasons...)
	cur.UpdatedAt = r.v.now(st)
	st.screenings[id] = cur
	s.ID = id
	s.UpdatedAt = cur.UpdatedAt
	return nil
}

func (r screeningRepo) Delete(_ context.Context, studyID, userID int64, stage domain.Stage) error {
	st, release, err := r.v.acquire("screenings.Delete")
	if err != nil {
		return err
	}
	defer release()

	id, ok := r.find(st, studyID, userID, stage)
	if !ok {
		return notFoundScreening(studyID, userID, stage)
	}
	delete(st.screenings, id)
	return nil
}

func (r screeningRepo) ListForStudy(_ context.Context, studyID int64, stage domain.Stage) ([]*domain.Screening, error) {
	st, release, err := r.v.acquire("screenings.ListForStudy")
	if err != nil {
		return nil, err
	}
	defer release()

	var ids []int64
	for id, s := range st.screenings {
		if s.StudyID == studyID && s.Stage == stage {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	out := make([]*domain.Screening, 0, len(ids))
	for _, id := range ids {
		s := st.screenings[id]
		out = append(out, &s)
	}
	return out, nil
}

func (r screeningRepo) DeleteForStudy(_ context.Context, studyID int64, stage domain.Stage) (int64, error) {
	st, release, err := r.v.acquire("screenings.DeleteForStudy")
	if err != nil {
		return 0, err
	}
	defer release()

	var n int64
	for id, s := range st.screenings {
		if s.StudyID == studyID && s.Stage == stage {
			delete(st.screenings, id)
			n++
		}
	}
	return n, nil
}

func notFoundScreening(studyID, userID int64, stage domain.Stage) error {
	return domain.NewNotFoundError("screening", fmt.Sprintf("study=%d user=%d stage=%s", studyID, userID, stage))
}

type fulltextRepo struct{ v *view }

func (r fulltextRepo) Exists(_ context.Context, studyID int64) (bool, error) {
	st, release, err := r.v.acquire("fulltexts.Exists")
	if err != nil {
		return false, err
	}
	defer release()
	_, ok := st.fulltexts[studyID]
	return ok, nil
}

func (r fulltextRepo) Create(_ context.Context, studyID, reviewID int64) error {
	st, release, err := r.v.acquire("fulltexts.Create")
	if err != nil {
		return err
	}
	defer release()

	if _, ok := st.fulltexts[studyID]; ok {
		return domain.NewConflictError("fulltext", "study "+idString(studyID)+" already has a fulltext")
	}
	st.fulltexts[studyID] = domain.Fulltext{StudyID: studyID, ReviewID: reviewID, CreatedAt: r.v.now(st)}
	return nil
}

func (r fulltextRepo) Delete(_ context.Context, studyID int64) (bool, error) {
	st, release, err := r.v.acquire("fulltexts.Delete")
	if err != nil {
		return false, err
	}
	defer release()
	_, ok := st.fulltexts[studyID]
	delete(st.fulltexts, studyID)
	return ok, nil
}

type extractionRepo struct{ v *view }

func (r extractionRepo) Exists(_ context.Context, studyID int64) (bool, error) {
	st, release, err := r.v.acquire("extractions.Exists")
	if err != nil {
		return false, err
	}
	defer release()
	_, ok := st.extractions[studyID]
	return ok, nil
}

func (r extractionRepo) Create(_ context.Context, studyID, reviewID int64) error {
	st, release, err := r.v.acquire("extractions.Create")
	if err != nil {
		return err
	}
	defer release()

	if _, ok := st.extractions[studyID]; ok {
		return domain.NewConflictError("data_extraction", "study "+idString(studyID)+" already has a data extraction")
	}
	now := r.v.now(st)
	st.extractions[studyID] = domain.DataExtraction{StudyID: studyID, ReviewID: reviewID, Data: map[string]any{}, CreatedAt: now, UpdatedAt: now}
	return nil
}

func (r extractionRepo) Save(_ context.Context, de *domain.DataExtraction) error {
	st, release, err := r.v.acquire("extractions.Save")
	if err != nil {
		return err
	}
	defer release()

	cur, ok := st.extractions[de.StudyID]
	if !ok {
		return domain.NewNotFoundError("data_extraction", idString(de.StudyID))
	}
	cur.Data = cloneMap(de.Data)
	cur.UpdatedAt = r.v.now(st)
	st.extractions[de.StudyID] = cur
	de.ReviewID, de.CreatedAt, de.UpdatedAt = cur.ReviewID, cur.CreatedAt, cur.UpdatedAt
	return nil
}

func (r extractionRepo) Delete(_ context.Context, studyID int64) (bool, error) {
	st, release, err := r.v.acquire("extractions.Delete")
	if err != nil {
		return false, err
	}
	defer release()
	_, ok := st.extractions[studyID]
	delete(st.extractions, studyID)
	return ok, nil
}

type dedupeRepo struct{ v *view }

func (r dedupeRepo) ReplaceForReview(_ context.Context, reviewID int64, dedupes []*domain.Dedupe) error {
	st, release, err := r.v.acquire("dedupes.ReplaceForReview")
	if err != nil {
		return err
	}
	defer release()

	for id, d := range st.dedupes {
		if d.ReviewID == reviewID {
			delete(st.dedupes, id)
		}
	}
	for _, d := range dedupes {
		if d.ReviewID != reviewID {
			return domain.NewValidationError("review_id", fmt.Sprintf("dedupe for study %d belongs to review %d", d.StudyID, d.ReviewID))
		}
		if d.StudyID == d.DuplicateOf {
			return fmt.Errorf("check constraint dedupes_not_self violated for study %d", d.StudyID)
		}
		row := *d
		row.CreatedAt = r.v.now(st)
		st.dedupes[d.StudyID] = row
	}
	return nil
}

func (r dedupeRepo) ListByReview(_ context.Context, reviewID int64) ([]*domain.Dedupe, error) {
	st, release, err := r.v.acquire("dedupes.ListByReview")
	if err != nil {
		return nil, err
	}
	defer release()

	out := make([]*domain.Dedupe, 0)
	for _, id := range st.studyIDs(reviewID) {
		if d, ok := st.dedupes[id]; ok {
			out = append(out, &d)
		}
	}
	return out, nil
}

type dedupeRunRepo struct{ v *view }

func (r dedupeRunRepo) Create(_ context.Context, run *domain.DedupeRun) error {
	st, release, err := r.v.acquire("dedupeRuns.Create")
	if err != nil {
		return err
	}
	defer release()

	run.ID = st.id()
	run.FinishedAt = r.v.now(st)
	st.runs = append(st.runs, *run)
	return nil
}

func (r dedupeRunRepo) Latest(_ context.Context, reviewID int64) (*domain.DedupeRun, error) {
	st, release, err := r.v.acquire("dedupeRuns.Latest")
	if err != nil {
		return nil, err
	}
	defer release()

	for i := len(st.runs) - 1; i >= 0; i-- {
		if st.runs[i].ReviewID == reviewID {
			run := st.runs[i]
			return &run, nil
		}
	}
	return nil, domain.NewNotFoundError("dedupe_run", idString(reviewID))
}

type keytermRepo struct{ v *view }

func (r keytermRepo) List(_ context.Context, reviewID int64, source domain.KeytermSource) (domain.KeytermSet, error) {
	set := domain.KeytermSet{Include: []string{}, Exclude: []string{}}
	st, release, err := r.v.acquire("keyterms.List")
	if err != nil {
		return set, err
	}
	defer release()

	for _, kt := range st.keyterms {
		if kt.ReviewID != reviewID || kt.Source != source {
			continue
		}
		if kt.Polarity == domain.PolarityExclude {
			set.Exclude = append(set.Exclude, kt.Term)
		} else {
			set.Include = append(set.Include, kt.Term)
		}
	}
	return set, nil
}

func (r keytermRepo) Replace(_ context.Context, reviewID int64, source domain.KeytermSource, set domain.KeytermSet) error {
	st, release, err := r.v.acquire("keyterms.Replace")
	if err != nil {
		return err
	}
	defer release()

	if _, ok := st.reviews[reviewID]; !ok {
		return domain.NewNotFoundError("review", idString(reviewID))
	}
	kept := st.keyterms[:0:0]
	for _, kt := range st.keyterms {
		if kt.ReviewID != reviewID || kt.Source != source {
			kept = append(kept, kt)
		}
	}
	for _, kt := range set.Terms(reviewID, source) {
		kt.ID = st.id()
		kt.CreatedAt = r.v.now(st)
		kept = append(kept, *kt)
	}
	st.keyterms = kept
	return nil
}

type modelRepo struct{ v *view }

func (r modelRepo) Get(_ context.Context, reviewID int64) (*domain.ClassifierModel, error) {
	st, release, err := r.v.acquire("models.Get")
	if err != nil {
		return nil, err
	}
	defer release()

	m, ok := st.models[reviewID]
	if !ok {
		return nil, domain.NewNotFoundError("classifier_model", idString(reviewID))
	}
	return &m, nil
}

func (r modelRepo) Save(_ context.Context, m *domain.ClassifierModel) error {
	st, release, err := r.v.acquire("models.Save")
	if err != nil {
		return err
	}
	defer release()

	if _, ok := st.reviews[m.ReviewID]; !ok {
		return domain.NewNotFoundError("review", idString(m.ReviewID))
	}
	m.TrainedAt = r.v.now(st)
	row := *m
	row.Model = append([]byte(nil), m.Model...)
	st.models[m.ReviewID] = row
	return nil
}

type outboxRepo struct{ v *view }

func (r outboxRepo) Insert(_ context.Context, e *domain.OutboxEvent) error {
	st, release, err := r.v.acquire("outbox.Insert")
	if err != nil {
		return err
	}
	defer release()

	for _, existing := range st.outbox {
		if existing.EventID == e.EventID {
			return domain.NewConflictError("outbox_event", "duplicate event id "+e.EventID.String())
		}
	}
	e.ID = st.id()
	st.outbox = append(st.outbox, *e)
	return nil
}

func (r outboxRepo) ClaimDue(_ context.Context, limit, maxAttempts int) ([]*domain.OutboxEvent, error) {
	st, release, err := r.v.acquire("outbox.ClaimDue")
	if err != nil {
		return nil, err
	}
	defer release()

	now := r.v.store.clock()
	out := make([]*domain.OutboxEvent, 0, limit)
	for _, e := range st.outbox {
		if len(out) == limit {
			break
		}
		if e.PublishedAt != nil || e.AvailableAt.After(now) || e.Attempts >= maxAttempts {
			continue
		}
		ev := e
		out = append(out, &ev)
	}
	return out, nil
}

func (r outboxRepo) MarkPublished(_ context.Context, id int64) error {
	return r.update("outbox.MarkPublished", id, func(e *domain.OutboxEvent, now time.Time) {
		e.PublishedAt = &now
	})
}

func (r outboxRepo) MarkFailed(_ context.Context, id int64, errMsg string) error {
	return r.update("outbox.MarkFailed", id, func(e *domain.OutboxEvent, _ time.Time) {
		e.Attempts++
		e.LastError = &errMsg
	})
}

func (r outboxRepo) update(op string, id int64, fn func(*domain.OutboxEvent, time.Time)) error {
	st, release, err := r.v.acquire(op)
	if err != nil {
		return err
	}
	defer release()

	for i := range st.outbox {
		if st.outbox[i].ID == id {
			fn(&st.outbox[i], r.v.now(st))
			return nil
		}
	}
	return domain.NewNotFoundError("outbox_event", idString(id))
}
