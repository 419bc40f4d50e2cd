package memolock

import "time"

// DefaultLockWait bounds lock acquisition when Spec.LockWait is zero.
const DefaultLockWait = 10 * time.Second

// Spec is the per-operation caching declaration: which region to use, how
// to derive the key, how long to wait for the lock, and the optional
// condition/unless predicates. Immutable once handed to New; shared by all
// invocations of the operation.
type Spec struct {
	// CacheName selects the cache region. Required.
	CacheName string

	// KeyExpression derives the cache key from the bound parameters,
	// e.g. "isbn" or "request.query + '-' + request.searchType".
	// Mutually exclusive with KeyGenerator.
	KeyExpression string

	// KeyGenerator names a registered KeyGenerator to derive the key from
	// (target, method, args). Mutually exclusive with KeyExpression.
	KeyGenerator string

	// LockWait bounds the distributed-lock acquisition. After it elapses
	// the invocation executes uncached (fail-open). 0 => DefaultLockWait;
	// negative is a configuration error.
	LockWait time.Duration

	// Condition gates the entire caching machinery. Evaluated against the
	// bound parameters before anything else touches cache or lock; when
	// false the callable runs directly. Empty means always cache.
	Condition string

	// Unless gates only the store. Evaluated against the parameters plus
	// "result" after the callable returns; when true the fresh result is
	// returned but not cached. Empty means always store.
	Unless string
}

func (s Spec) validate() error {
	if s.CacheName == "" {
		return configErr("", "cache name is required")
	}
	hasExpr := s.KeyExpression != ""
	hasGen := s.KeyGenerator != ""
	if hasExpr && hasGen {
		return configErr(s.CacheName, "cannot set both KeyExpression and KeyGenerator")
	}
	if !hasExpr && !hasGen {
		return configErr(s.CacheName, "one of KeyExpression or KeyGenerator is required")
	}
	if s.LockWait < 0 {
		return configErr(s.CacheName, "LockWait must be >= 0")
	}
	return nil
}

func (s Spec) lockWait() time.Duration {
	return coalesce(s.LockWait, DefaultLockWait)
}
