package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/helixir/screening-workflow-service/internal/database"
	"github.com/helixir/screening-workflow-service/internal/domain"
)

// Lock is a held named lock.
type Lock interface {
	Key() string
	// Release frees the lock. Safe to call more than once.
	Release(ctx context.Context) error
}

// Locker acquires named locks, waiting up to timeout for a held lock to be
// released. A lock that cannot be acquired in time yields an
// ExternalServiceError wrapping domain.ErrLockNotAcquired.
type Locker interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error)
}

func lockTimeout(key string, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("%w: %s", domain.ErrLockNotAcquired, key)
	}
	return domain.NewExternalServiceError("lock", "acquire", cause)
}

// advisoryLocker is the part of database.DB the PgLocker needs.
type advisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key string) (*database.SessionLock, error)
}

// Compile-time check that PgLocker implements Locker.
var _ Locker = (*PgLocker)(nil)

// PgLocker takes PostgreSQL session advisory locks, so mutual exclusion
// holds across worker processes. Waiting polls pg_try_advisory_lock.
type PgLocker struct {
	db   advisoryLocker
	poll time.Duration
}

// NewPgLocker creates a PgLocker polling every poll while waiting.
func NewPgLocker(db *database.DB, poll time.Duration) *PgLocker {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &PgLocker{db: db, poll: poll}
}

// Acquire implements Locker.
func (l *PgLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		lock, err := l.db.TryAdvisoryLock(ctx, key)
		if err != nil {
			return nil, lockTimeout(key, err)
		}
		if lock != nil {
			return lock, nil
		}
		if !time.Now().Before(deadline) {
			return nil, lockTimeout(key, nil)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Compile-time check that LocalLocker implements Locker.
var _ Locker = (*LocalLocker)(nil)

// LocalLocker is an in-process Locker for single-worker deployments and tests.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

// Acquire implements Locker.
func (l *LocalLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Lock, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		l.mu.Lock()
		released, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			return &localLock{owner: l, key: key, done: done}, nil
		}
		l.mu.Unlock()

		select {
		case <-released:
		case <-timer.C:
			return nil, lockTimeout(key, nil)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type localLock struct {
	owner *LocalLocker
	key   string
	done  chan struct{}
	once  sync.Once
}

func (l *localLock) Key() string { return l.key }

func (l *localLock) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.held, l.key)
		l.owner.mu.Unlock()
		close(l.done)
	})
	return nil
}
