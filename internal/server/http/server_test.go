package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/screening-workflow-service/internal/database"
	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/maintenance"
	"github.com/helixir/screening-workflow-service/internal/ranking"
	"github.com/helixir/screening-workflow-service/internal/repository/memory"
	"github.com/helixir/screening-workflow-service/internal/screening"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Get(ctx context.Context, req ranking.QueueRequest) (*ranking.QueuePage, error) {
	args := m.Called(ctx, req)
	page, _ := args.Get(0).(*ranking.QueuePage)
	return page, args.Error(1)
}

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) TriggerDedupe(ctx context.Context, reviewID int64) (*domain.OutboxEvent, error) {
	args := m.Called(ctx, reviewID)
	ev, _ := args.Get(0).(*domain.OutboxEvent)
	return ev, args.Error(1)
}

func (m *mockJobs) TriggerTraining(ctx context.Context, reviewID int64) (*domain.OutboxEvent, error) {
	args := m.Called(ctx, reviewID)
	ev, _ := args.Get(0).(*domain.OutboxEvent)
	return ev, args.Error(1)
}

type testServer struct {
	t        *testing.T
	store    *memory.Store
	queue    *mockQueue
	jobs     *mockJobs
	handler  http.Handler
	reviewID int64
	studyID  int64
}

func newTestServer(t *testing.T, deps ...func(*Deps)) *testServer {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	review := &domain.Review{Name: "statins", NumCitationScreeningReviewers: 1, NumFulltextScreeningReviewers: 1}
	require.NoError(t, store.Stores().Reviews.Create(ctx, review))
	study := &domain.Study{ReviewID: review.ID, DedupeStatus: domain.DedupeStatusNotDuplicate}
	require.NoError(t, store.Stores().Studies.Create(ctx, study))

	ts := &testServer{
		t:        t,
		store:    store,
		queue:    new(mockQueue),
		jobs:     new(mockJobs),
		reviewID: review.ID,
		studyID:  study.ID,
	}
	d := Deps{
		Tx:         store,
		Screening:  screening.NewStateMachine(store, screening.Config{}, zerolog.Nop(), nil),
		Queue:      ts.queue,
		Jobs:       ts.jobs,
		Reconciler: maintenance.NewReconciler(store, zerolog.Nop(), nil),
	}
	for _, fn := range deps {
		fn(&d)
	}
	ts.handler = NewServer(Config{}, d, zerolog.Nop()).Handler()
	return ts
}

func (ts *testServer) do(method, path, userID string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) reviewPath(suffix string) string {
	return "/api/v1/reviews/" + strconv.FormatInt(ts.reviewID, 10) + suffix
}

func (ts *testServer) screeningPath(stage string) string {
	return ts.reviewPath("/studies/" + strconv.FormatInt(ts.studyID, 10) + "/screenings/" + stage)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestScreeningEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, ts.screeningPath("citation"), "7", screeningRequest{Decision: "included"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[screeningResultResponse](t, rec)
	assert.Equal(t, "not_screened", res.PreviousStatus)
	assert.Equal(t, "included", res.Status)
	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.Counters.CitationsIncluded)
	require.NotNil(t, res.Screening)
	assert.Equal(t, int64(7), res.Screening.UserID)

	rec = ts.do(http.MethodPost, ts.screeningPath("citation"), "7", screeningRequest{Decision: "included"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodPut, ts.screeningPath("citation"), "7",
		screeningRequest{Decision: "excluded", ExcludeReasons: []string{"wrong population"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decode[screeningResultResponse](t, rec)
	assert.Equal(t, "excluded", res.Status)
	assert.Equal(t, 1, res.Counters.CitationsExcluded)
	assert.Zero(t, res.Counters.CitationsIncluded)

	rec = ts.do(http.MethodDelete, ts.screeningPath("citation"), "7", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decode[screeningResultResponse](t, rec)
	assert.Equal(t, "not_screened", res.Status)
	assert.Nil(t, res.Screening)
	assert.Equal(t, domain.ReviewCounters{}, res.Counters)
}

func TestScreeningEndpoints_Errors(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		want   int
	}{
		{"missing user header", http.MethodPost, ts.screeningPath("citation"), "", screeningRequest{Decision: "included"}, http.StatusUnauthorized},
		{"bad user header", http.MethodPost, ts.screeningPath("citation"), "abc", screeningRequest{Decision: "included"}, http.StatusUnauthorized},
		{"unknown stage", http.MethodPost, ts.screeningPath("abstract"), "7", screeningRequest{Decision: "included"}, http.StatusBadRequest},
		{"bad decision", http.MethodPost, ts.screeningPath("citation"), "7", screeningRequest{Decision: "maybe"}, http.StatusBadRequest},
		{"exclude without reasons", http.MethodPost, ts.screeningPath("citation"), "7", screeningRequest{Decision: "excluded"}, http.StatusBadRequest},
		{"fulltext before citation include", http.MethodPost, ts.screeningPath("fulltext"), "7", screeningRequest{Decision: "included"}, http.StatusBadRequest},
		{"update missing decision", http.MethodPut, ts.screeningPath("citation"), "7", screeningRequest{Decision: "included"}, http.StatusNotFound},
		{"unknown study", http.MethodPost, ts.reviewPath("/studies/999/screenings/citation"), "7", screeningRequest{Decision: "included"}, http.StatusNotFound},
		{"bad review id", http.MethodPost, "/api/v1/reviews/x/studies/1/screenings/citation", "7", screeningRequest{Decision: "included"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
		})
	}

	rec := ts.do(http.MethodPost, ts.screeningPath("citation"), "7", screeningRequest{Decision: "maybe"})
	body := decode[errorResponse](t, rec)
	assert.Contains(t, body.Fields, "decision")
}

func TestSaveDataExtraction_RequiresIncludedFulltext(t *testing.T) {
	ts := newTestServer(t)
	path := ts.reviewPath("/studies/" + strconv.FormatInt(ts.studyID, 10) + "/extraction")

	rec := ts.do(http.MethodPut, path, "", extractionRequest{Data: map[string]any{"n": 40}})
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPut, path, "", map[string]any{"finished": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Fields, "data")
}

func TestReviewEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, ts.reviewPath(""), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	review := decode[reviewResponse](t, rec)
	assert.Equal(t, "statins", review.Name)
	assert.Equal(t, 1, review.NumCitationScreeningReviewers)

	rec = ts.do(http.MethodGet, "/api/v1/reviews/404", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodGet, ts.reviewPath("/dedupe/latest"), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPut, ts.reviewPath("/keyterms"), "", keytermsRequest{Include: []string{"statin"}, Exclude: []string{"mice"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	set := decode[domain.KeytermSet](t, rec)
	assert.Equal(t, []string{"statin"}, set.Include)
	assert.Equal(t, []string{"mice"}, set.Exclude)

	rec = ts.do(http.MethodPut, ts.reviewPath("/keyterms"), "", keytermsRequest{Include: []string{""}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, ts.store.Stores().Reviews.SetCounters(context.Background(), ts.reviewID, domain.ReviewCounters{FulltextsExcluded: 3}))
	rec = ts.do(http.MethodPost, ts.reviewPath("/counters/reconcile"), "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[maintenance.ReconcileResult](t, rec)
	assert.Equal(t, 1, result.Corrected)
	assert.Equal(t, domain.ReviewCounters{}, result.After)
}

func TestJobTriggerEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ev, err := domain.NewJobEvent(domain.JobDedupe, domain.JobArgs{ReviewID: ts.reviewID, Trigger: domain.TriggerManual}, 0)
	require.NoError(t, err)

	ts.jobs.On("TriggerDedupe", mock.Anything, ts.reviewID).Return(ev, nil).Once()
	ts.jobs.On("TriggerTraining", mock.Anything, ts.reviewID).
		Return(nil, domain.NewExternalServiceError("postgres", "enqueue", errors.New("conn refused"))).Once()

	rec := ts.do(http.MethodPost, ts.reviewPath("/dedupe"), "", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode[jobAcceptedResponse](t, rec)
	assert.Equal(t, ev.EventID.String(), body.JobID)
	assert.Equal(t, "dedupe", body.Job)
	assert.Equal(t, ts.reviewID, body.ReviewID)

	rec = ts.do(http.MethodPost, ts.reviewPath("/training"), "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	ts.jobs.AssertExpectations(t)
}

func TestQueueEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.queue.On("Get", mock.Anything, ranking.QueueRequest{
		ReviewID: ts.reviewID,
		UserID:   9,
		Tag:      "rct",
		Order:    ranking.OrderAsc,
		Page:     2,
		PerPage:  10,
	}).Return(&ranking.QueuePage{StudyIDs: []int64{4, 2}, Source: ranking.SourceClassifier, Page: 2, PerPage: 10, Total: 12}, nil).Once()

	rec := ts.do(http.MethodGet, ts.reviewPath("/queue?order=asc&tag=rct&page=2&per_page=10"), "9", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[ranking.QueuePage](t, rec)
	assert.Equal(t, []int64{4, 2}, page.StudyIDs)
	assert.Equal(t, ranking.SourceClassifier, page.Source)

	rec = ts.do(http.MethodGet, ts.reviewPath("/queue?order=sideways"), "9", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(http.MethodGet, ts.reviewPath("/queue?page=two"), "9", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	ts.queue.AssertExpectations(t)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) {
		d.Liveness = map[string]HealthCheck{"database": func(context.Context) error { return nil }}
		d.Readiness = map[string]HealthCheck{"temporal": func(context.Context) error { return errors.New("unreachable") }}
	})

	rec := ts.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["database"])

	rec = ts.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, "unreachable", body["temporal"])
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

type fakePool struct {
	status database.HealthStatus
}

func (f fakePool) Health(context.Context) database.HealthStatus { return f.status }

func TestReadinessReportsPoolHealth(t *testing.T) {
	healthy := newTestServer(t, func(d *Deps) {
		d.Database = fakePool{status: database.HealthStatus{Status: "healthy", TotalConns: 2, IdleConns: 1, MaxConns: 10}}
	})

	rec := healthy.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ready", body["status"])
	pool, ok := body["database"].(map[string]any)
	require.True(t, ok, "database entry carries pool statistics")
	assert.Equal(t, "healthy", pool["status"])
	assert.Equal(t, float64(10), pool["max_conns"])
	assert.Equal(t, float64(2), pool["total_conns"])

	down := newTestServer(t, func(d *Deps) {
		d.Database = fakePool{status: database.HealthStatus{Status: "unhealthy", Error: "connection refused", MaxConns: 10}}
	})

	rec = down.do(http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body = decode[map[string]any](t, rec)
	assert.Equal(t, "not_ready", body["status"])
	pool, ok = body["database"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "connection refused", pool["error"])

	rec = down.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "liveness does not depend on the database")
}
