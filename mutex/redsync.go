package mutex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	rsredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// ErrNilClient is returned by NewRedsync when no Redis client is supplied.
var ErrNilClient = errors.New("mutex: nil redis client")

// Redsync is a Locker backed by redsync over one or more Redis nodes.
// A single client gives a standard SET NX lock; several independent nodes
// give the Redlock algorithm (majority grant). Locks carry an expiry so a
// crashed holder cannot jam a key forever.
type Redsync struct {
	rs         *redsync.Redsync
	expiry     time.Duration
	retryDelay time.Duration
}

type RedsyncConfig struct {
	// Clients are the Redis nodes backing the lock. Required.
	// Their lifecycle stays with the caller.
	Clients []redis.UniversalClient

	// Expiry is the lock TTL; an abandoned lock frees itself after this.
	// Must comfortably exceed the slowest expected computation. 0 => 30s.
	Expiry time.Duration

	// RetryDelay is the pause between acquisition attempts while waiting.
	// 0 => 50ms.
	RetryDelay time.Duration
}

func NewRedsync(cfg RedsyncConfig) (*Redsync, error) {
	if len(cfg.Clients) == 0 {
		return nil, ErrNilClient
	}
	pools := make([]rsredis.Pool, len(cfg.Clients))
	for i, c := range cfg.Clients {
		if c == nil {
			return nil, ErrNilClient
		}
		pools[i] = goredis.NewPool(c)
	}

	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 30 * time.Second
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &Redsync{rs: redsync.New(pools...), expiry: expiry, retryDelay: delay}, nil
}

func (r *Redsync) Acquire(ctx context.Context, name string, wait time.Duration) (Handle, bool, error) {
	// Bound the whole acquisition by wait; redsync retries inside that
	// window. Tries is sized so the retry budget, not the deadline, is
	// never the binding constraint.
	tries := int(wait/r.retryDelay) + 1
	m := r.rs.NewMutex(name,
		redsync.WithExpiry(r.expiry),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(r.retryDelay),
	)

	acqCtx := ctx
	var cancel context.CancelFunc
	if wait > 0 {
		acqCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	err := m.LockContext(acqCtx)
	if err == nil {
		return &redsyncHandle{mutex: m, name: name}, true, nil
	}

	// redsync folds context errors into its own; recheck the caller's
	// context first so cancellation propagates instead of falling open.
	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}
	if acqCtx.Err() != nil {
		return nil, false, nil // wait elapsed
	}
	var taken *redsync.ErrTaken
	if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
		return nil, false, nil // retries exhausted while contended
	}
	return nil, false, fmt.Errorf("mutex: acquire %q: %w", name, err)
}

type redsyncHandle struct {
	mutex *redsync.Mutex
	name  string
}

// Release unlocks on the Redis nodes. When ctx is already done it retries
// with a short independent context so the lock is not left to expire.
func (h *redsyncHandle) Release(ctx context.Context) error {
	if ctx == nil || ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		if errors.Is(err, redsync.ErrLockAlreadyExpired) {
			return ErrNotHeld
		}
		return fmt.Errorf("mutex: release %q: %w", h.name, err)
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}

func (h *redsyncHandle) Name() string { return h.name }
