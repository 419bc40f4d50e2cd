package memolock

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/memolock/codec"
	"github.com/unkn0wn-root/memolock/expr"
	"github.com/unkn0wn-root/memolock/mutex"
)

// SetCostFunc computes the provider cost for a stored entry (Ristretto and
// friends); stores that ignore cost never see it.
type SetCostFunc func(key string, raw []byte) int64

// Memo is one registered cacheable operation. Do runs the double-checked
// locking protocol around fn and returns either the cached value, fn's
// result, or fn's own failure - never a new failure mode of its own beyond
// configuration and expression errors.
type Memo[V any] interface {
	// Do invokes the operation described by call. fn must wrap the original
	// computation; it runs at most once per invocation. ctx bounds the lock
	// wait and is passed through to fn; it does not bound fn's execution by
	// itself.
	Do(ctx context.Context, call *Call, fn func(context.Context) (V, error)) (V, error)

	Enabled() bool
}

// Options tune one Memo. Spec, Regions, Locker and Codec are required
// unless Disabled is set; the rest have defaults.
type Options[V any] struct {
	// Required
	Spec    Spec
	Regions *Regions
	Locker  mutex.Locker
	Codec   c.Codec[V]

	Logger     Logger               // nil => NopLogger
	Hooks      Hooks                // nil => NopHooks
	Generators *KeyGeneratorRegistry // nil => empty registry (generator specs then fail per call)
	Exprs      *expr.Registry       // functions/methods callable from expressions; nil => empty
	DefaultTTL time.Duration        // entry TTL when the region sets none; 0 => 10m

	// ResultBinding converts fn's result into the "result" value the Unless
	// predicate sees. nil => expr.Of. Required in practice for pointer
	// results whose nil must read as the null value.
	ResultBinding func(V) expr.Value

	ComputeSetCost SetCostFunc // nil => cost 1

	// ProcessDedup additionally collapses concurrent same-key invocations
	// within this process through singleflight before they reach the
	// distributed lock. Waiters share the leader's outcome - including the
	// fail-open result after a lock timeout.
	ProcessDedup bool

	// Disabled turns the whole cache path off: Do just executes fn.
	Disabled bool
}

// New validates the spec, compiles its expressions, and returns the Memo.
// Mutual exclusivity of KeyExpression/KeyGenerator and expression syntax are
// checked here; generator-name resolution is rechecked per call since
// registries are mutable.
func New[V any](opts Options[V]) (Memo[V], error) {
	return newMemo[V](opts)
}
