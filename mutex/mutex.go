// Package mutex provides the named-lock capability behind memolock's
// single-writer guarantee. A Locker grants cluster-wide (or, for Local,
// process-wide) exclusive ownership of a name for one invocation at a time.
//
// Acquisition is bounded: Acquire waits at most the given duration and
// reports ok=false on expiry. A timeout is a control-flow outcome, not an
// error; memolock reacts to it by executing uncached (fail-open). Context
// cancellation while waiting is an error and propagates.
package mutex

import (
	"context"
	"errors"
	"time"
)

// ErrNotHeld is returned by Release when the handle no longer owns the lock:
// it was already released, or (for Redsync) its expiry lapsed and another
// holder took over.
var ErrNotHeld = errors.New("mutex: lock not held")

// Handle is one successful acquisition. It is owned by the acquiring
// invocation, released exactly once, and never reused.
type Handle interface {
	// Release gives the lock up. Safe to call with an already-cancelled
	// context; implementations make a best effort to release anyway so the
	// lock does not dangle until expiry.
	Release(ctx context.Context) error

	// Name returns the lock name, for diagnostics.
	Name() string
}

// Locker acquires named locks with a bounded wait.
//
// Waiters for distinct names never contend with each other.
type Locker interface {
	// Acquire blocks until the lock is granted or wait elapses.
	// ok=false means the wait elapsed without a grant. err is reserved for
	// context cancellation and lock-service failures; (nil, false, nil) is
	// the normal contended outcome.
	Acquire(ctx context.Context, name string, wait time.Duration) (h Handle, ok bool, err error)
}
