package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/observability"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "events", zerolog.Nop())

	ev, err := domain.NewOutboxEvent(domain.EventTypeStudyStatusChanged, domain.AggregateReview, "7",
		domain.StatusChangedPayload{ReviewID: 7, StudyID: 3})
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, domain.AggregateReview+":7", string(msg.Key))
	assert.JSONEq(t, string(ev.Payload), string(msg.Value))
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event_type", Value: []byte(domain.EventTypeStudyStatusChanged)})
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event_id", Value: []byte(ev.EventID.String())})
}

func TestPublisher_PublishError(t *testing.T) {
	p := newPublisher(&fakeWriter{err: errors.New("broker down")}, "events", zerolog.Nop())
	ev, err := domain.NewOutboxEvent(domain.EventTypeDedupeCompleted, domain.AggregateReview, "1", struct{}{})
	require.NoError(t, err)

	err = p.Publish(context.Background(), ev)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

// fakeReader serves queued messages, then blocks until cancelled.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	done      chan struct{}
}

func newFakeReader(values ...string) *fakeReader {
	r := &fakeReader{done: make(chan struct{})}
	for i, v := range values {
		r.queue = append(r.queue, kafka.Message{Offset: int64(i), Value: []byte(v)})
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.queue) == 0 {
		select {
		case <-r.done:
		default:
			close(r.done)
		}
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type mockImportHandler struct {
	mock.Mock
}

func (m *mockImportHandler) RecordsImported(ctx context.Context, reviewID int64) (*domain.OutboxEvent, error) {
	args := m.Called(ctx, reviewID)
	ev, _ := args.Get(0).(*domain.OutboxEvent)
	return ev, args.Error(1)
}

func runUntilDrained(t *testing.T, l *Listener, r *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not drain the queue")
	}
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestListener_Run(t *testing.T) {
	reader := newFakeReader(
		`{"review_id": 4, "num_records": 120}`,
		`not json`,
		`{"num_records": 3}`,
		`{"review_id": 99}`,
	)
	job, err := domain.NewJobEvent(domain.JobDedupe, domain.JobArgs{ReviewID: 4, Trigger: domain.TriggerImport}, 0)
	require.NoError(t, err)

	handler := new(mockImportHandler)
	handler.On("RecordsImported", mock.Anything, int64(4)).Return(job, nil).Once()
	handler.On("RecordsImported", mock.Anything, int64(99)).Return(nil, domain.NewNotFoundError("review", "99")).Once()

	metrics := observability.NewMetrics("events_listener_run")
	l := newListener(reader, handler, zerolog.Nop(), metrics)
	runUntilDrained(t, l, reader)

	handler.AssertExpectations(t)
	assert.Equal(t, []int64{0, 1, 2, 3}, reader.committed)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ImportMessages.WithLabelValues(OutcomeScheduled)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ImportMessages.WithLabelValues(OutcomeMalformed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ImportMessages.WithLabelValues(OutcomeRejected)))
}

func TestListener_RetriesTransientFailure(t *testing.T) {
	reader := newFakeReader(`{"review_id": 5}`)
	job, err := domain.NewJobEvent(domain.JobDedupe, domain.JobArgs{ReviewID: 5, Trigger: domain.TriggerImport}, 0)
	require.NoError(t, err)

	handler := new(mockImportHandler)
	handler.On("RecordsImported", mock.Anything, int64(5)).
		Return(nil, domain.NewExternalServiceError("postgres", "enqueue", errors.New("conn reset"))).Twice()
	handler.On("RecordsImported", mock.Anything, int64(5)).Return(job, nil).Once()

	l := newListener(reader, handler, zerolog.Nop(), nil)
	l.backoff = time.Millisecond
	runUntilDrained(t, l, reader)

	handler.AssertNumberOfCalls(t, "RecordsImported", 3)
	assert.Equal(t, []int64{0}, reader.committed)
}
