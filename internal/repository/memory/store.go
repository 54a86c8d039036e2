// Package memory provides an in-memory transactional implementation of every
// repository interface. Transactions work on a cloned snapshot that replaces
// the live state only on success, so rollback semantics match PostgreSQL.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/helixir/screening-workflow-service/internal/domain"
	"github.com/helixir/screening-workflow-service/internal/repository"
)

type state struct {
	nextID   int64
	lastTime time.Time

	reviews     map[int64]domain.Review
	studies     map[int64]domain.Study
	citations   map[int64]domain.Citation
	screenings  map[int64]domain.Screening
	fulltexts   map[int64]domain.Fulltext
	extractions map[int64]domain.DataExtraction
	dedupes     map[int64]domain.Dedupe
	runs        []domain.DedupeRun
	keyterms    []domain.Keyterm
	models      map[int64]domain.ClassifierModel
	outbox      []domain.OutboxEvent
}

func newState() *state {
	return &state{
		reviews:     map[int64]domain.Review{},
		studies:     map[int64]domain.Study{},
		citations:   map[int64]domain.Citation{},
		screenings:  map[int64]domain.Screening{},
		fulltexts:   map[int64]domain.Fulltext{},
		extractions: map[int64]domain.DataExtraction{},
		dedupes:     map[int64]domain.Dedupe{},
		models:      map[int64]domain.ClassifierModel{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		nextID:      s.nextID,
		lastTime:    s.lastTime,
		reviews:     cloneMap(s.reviews),
		studies:     cloneMap(s.studies),
		citations:   cloneMap(s.citations),
		screenings:  cloneMap(s.screenings),
		fulltexts:   cloneMap(s.fulltexts),
		extractions: cloneMap(s.extractions),
		dedupes:     cloneMap(s.dedupes),
		runs:        append([]domain.DedupeRun(nil), s.runs...),
		keyterms:    append([]domain.Keyterm(nil), s.keyterms...),
		models:      cloneMap(s.models),
		outbox:      append([]domain.OutboxEvent(nil), s.outbox...),
	}
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// Store is the in-memory database. The zero value is not usable; call New.
type Store struct {
	mu       sync.Mutex
	state    *state
	clock    func() time.Time
	failures map[string]error
}

// Compile-time interface verification.
var _ repository.Transactor = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		state:    newState(),
		clock:    time.Now,
		failures: map[string]error{},
	}
}

// SetClock overrides the source of created_at timestamps.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// FailOn makes the named operation (for example "reviews.ApplyCounterDelta")
// return err until cleared with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// InTx runs fn against a snapshot and publishes it only when fn succeeds.
// Transactions are fully serialised.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, st repository.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, s.stores(&view{store: s, tx: snapshot})); err != nil {
		return err
	}
	s.state = snapshot
	return nil
}

// Stores returns repositories operating on the live state.
func (s *Store) Stores() repository.Stores {
	return s.stores(&view{store: s})
}

func (s *Store) stores(v *view) repository.Stores {
	return repository.Stores{
		Reviews:     reviewRepo{v},
		Studies:     studyRepo{v},
		Citations:   citationRepo{v},
		Screenings:  screeningRepo{v},
		Fulltexts:   fulltextRepo{v},
		Extractions: extractionRepo{v},
		Dedupes:     dedupeRepo{v},
		DedupeRuns:  dedupeRunRepo{v},
		Keyterms:    keytermRepo{v},
		Models:      modelRepo{v},
		Outbox:      outboxRepo{v},
	}
}

// view binds repositories either to a transaction snapshot or to the live
// state guarded by the store mutex.
type view struct {
	store *Store
	tx    *state
}

// acquire returns the state to operate on and a release func. Inside a
// transaction the store mutex is already held by InTx.
func (v *view) acquire(op string) (*state, func(), error) {
	if v.tx != nil {
		if err := v.store.failures[op]; err != nil {
			return nil, nil, err
		}
		return v.tx, func() {}, nil
	}
	v.store.mu.Lock()
	if err := v.store.failures[op]; err != nil {
		v.store.mu.Unlock()
		return nil, nil, err
	}
	return v.store.state, v.store.mu.Unlock, nil
}

// now returns a strictly increasing timestamp so created_at ordering is total.
func (v *view) now(st *state) time.Time {
	t := v.store.clock().UTC()
	if !t.After(st.lastTime) {
		t = st.lastTime.Add(time.Microsecond)
	}
	st.lastTime = t
	return t
}

// Snapshot helpers for assertions in tests.

// Review returns a copy of the review.
func (s *Store) Review(id int64) (domain.Review, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.reviews[id]
	return r, ok
}

// Study returns a copy of the study.
func (s *Store) Study(id int64) (domain.Study, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state.studies[id]
	return st, ok
}

// HasFulltext reports whether the study has a fulltext row.
func (s *Store) HasFulltext(studyID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.fulltexts[studyID]
	return ok
}

// HasDataExtraction reports whether the study has a data extraction row.
func (s *Store) HasDataExtraction(studyID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.extractions[studyID]
	return ok
}

// StudyIDs returns the IDs of the review's studies in ascending order.
func (s *Store) StudyIDs(reviewID int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, st := range s.state.studies {
		if st.ReviewID == reviewID {
			ids = append(ids, id)
		}
	}
	sortIDs(ids)
	return ids
}

// OutboxEvents returns a copy of every outbox row in insertion order.
func (s *Store) OutboxEvents() []domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxEvent(nil), s.state.outbox...)
}
