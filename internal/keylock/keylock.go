package keylock

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/seriesflow/types"
)

// DefaultTimeout bounds lock acquisition when the caller passes no timeout.
const DefaultTimeout = 10 * time.Second

type entry struct {
	sem  chan struct{} // capacity 1; holding the token means holding the lock
	refs int
}

// Manager hands out one lock per distinct key.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{locks: make(map[string]*entry)}
}

// Acquire blocks until the lock for key is held, the timeout elapses, or
// ctx is done. On success it returns a release function that must be called
// exactly once; calling it again is a no-op. On timeout it fails with a
// retryable LOCK_TIMEOUT error and leaves no residual lock state.
//
// A non-positive timeout falls back to DefaultTimeout.
func (m *Manager) Acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-e.sem
				m.unref(key, e)
			})
		}
		return release, nil

	case <-timer.C:
		m.unref(key, e)
		return nil, types.NewErrorf(types.ErrLockTimeout,
			"lock for key %q not acquired within %s", key, timeout).
			WithRetryable(true)

	case <-ctx.Done():
		m.unref(key, e)
		return nil, types.NewErrorf(types.ErrLockTimeout,
			"lock acquisition for key %q canceled", key).
			WithRetryable(true).
			WithCause(ctx.Err())
	}
}

func (m *Manager) unref(key string, e *entry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}

// Len returns the number of live lock entries. Exposed for tests asserting
// that timed-out or released acquisitions leave nothing behind.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
