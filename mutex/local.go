package mutex

import (
	"context"
	"sync"
	"time"
)

// Local is an in-process Locker. It gives the same contract as the
// distributed implementations within a single process: per-name FIFO-ish
// mutual exclusion, bounded wait, no cross-name contention. Useful for
// single-instance deployments and as the test double for the orchestrator.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	tok  chan struct{} // holds one token when the lock is free
	refs int
}

func NewLocal() *Local {
	return &Local{locks: make(map[string]*localLock)}
}

func (l *Local) Acquire(ctx context.Context, name string, wait time.Duration) (Handle, bool, error) {
	lk := l.retain(name)

	// fast path; also the only path when wait <= 0
	select {
	case <-lk.tok:
		return &localHandle{parent: l, name: name, lock: lk}, true, nil
	default:
	}
	if wait <= 0 {
		l.release(name, lk)
		return nil, false, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-lk.tok:
		return &localHandle{parent: l, name: name, lock: lk}, true, nil
	case <-timer.C:
		l.release(name, lk)
		return nil, false, nil
	case <-ctx.Done():
		l.release(name, lk)
		return nil, false, ctx.Err()
	}
}

// retain returns the lock entry for name, creating it on first use. Entries
// are reference-counted so the map does not grow with dead names.
func (l *Local) retain(name string) *localLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[name]
	if !ok {
		lk = &localLock{tok: make(chan struct{}, 1)}
		lk.tok <- struct{}{}
		l.locks[name] = lk
	}
	lk.refs++
	return lk
}

func (l *Local) release(name string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, name)
	}
}

type localHandle struct {
	parent *Local
	name   string
	lock   *localLock
	once   sync.Once
}

func (h *localHandle) Release(context.Context) error {
	released := false
	h.once.Do(func() {
		h.lock.tok <- struct{}{}
		h.parent.release(h.name, h.lock)
		released = true
	})
	if !released {
		return ErrNotHeld
	}
	return nil
}

func (h *localHandle) Name() string { return h.name }
