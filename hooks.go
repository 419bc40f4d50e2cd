package memolock

import "time"

// Hooks are lightweight callbacks for high-signal protocol events.
// Implementations MUST be cheap and non-blocking; the orchestrator calls
// them on hot paths. Wrap with hooks/async to move work off the request
// path, or use sloghooks / metrics/prom for ready-made sinks.
type Hooks interface {
	// The invocation was served from cache. doubleCheck marks hits found
	// after lock acquisition (someone else computed while this call waited).
	Hit(cache, key string, doubleCheck bool)

	// The wrapped callable executed (miss, bypass, or fallback).
	Computed(cache, key string)

	// The caching machinery was skipped for this invocation.
	// reason ∈ {"condition", "region_missing", "read_error", "lock_timeout", "lock_error"}
	Bypassed(cache, key, reason string)

	// The lock wait elapsed; the invocation fell open to direct execution.
	LockTimeout(cache, key string, wait time.Duration)

	// A fresh result was returned to the caller but not stored.
	// reason ∈ {"unless", "encode_error", "set_error"}
	StoreSkipped(cache, key, reason string)

	// The provider returned ok=false on Set (backpressure/eviction).
	StoreRejected(cache, key string)

	// An undecodable entry was deleted on read and treated as a miss.
	// reason ∈ {"value_decode"}
	SelfHeal(cache, key, reason string)

	// Releasing the lock failed; it will fall back to service-side expiry.
	ReleaseError(cache, key string, err error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) Hit(string, string, bool)                {}
func (NopHooks) Computed(string, string)                 {}
func (NopHooks) Bypassed(string, string, string)         {}
func (NopHooks) LockTimeout(string, string, time.Duration) {}
func (NopHooks) StoreSkipped(string, string, string)     {}
func (NopHooks) StoreRejected(string, string)            {}
func (NopHooks) SelfHeal(string, string, string)         {}
func (NopHooks) ReleaseError(string, string, error)      {}

// Bypass reasons reported through Hooks.Bypassed.
const (
	BypassCondition     = "condition"
	BypassRegionMissing = "region_missing"
	BypassReadError     = "read_error"
	BypassLockTimeout   = "lock_timeout"
	BypassLockError     = "lock_error"
)

// Store-skip reasons reported through Hooks.StoreSkipped.
const (
	SkipUnless      = "unless"
	SkipEncodeError = "encode_error"
	SkipSetError    = "set_error"
)
