// Package prom exports memoizer events as Prometheus counters.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/memolock"
)

// Adapter implements memolock.Hooks and exports Prometheus counters.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
//
// Per-key labels are deliberately not exported: cache keys are unbounded
// and would blow up series cardinality. Counters carry the cache name only.
type Adapter struct {
	hits          *prometheus.CounterVec
	computed      *prometheus.CounterVec
	bypassed      *prometheus.CounterVec
	lockTimeouts  *prometheus.CounterVec
	storeSkipped  *prometheus.CounterVec
	storeRejected *prometheus.CounterVec
	selfHeals     *prometheus.CounterVec
	releaseErrors *prometheus.CounterVec
}

// New constructs a Prometheus hooks adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels)
	}
	a := &Adapter{
		hits:          counter("hits_total", "Cache hits by check phase", "cache", "phase"),
		computed:      counter("computed_total", "Values computed under the lock", "cache"),
		bypassed:      counter("bypassed_total", "Invocations executed uncached by reason", "cache", "reason"),
		lockTimeouts:  counter("lock_timeouts_total", "Lock waits that expired", "cache"),
		storeSkipped:  counter("store_skipped_total", "Computed values not stored by reason", "cache", "reason"),
		storeRejected: counter("store_rejected_total", "Stores rejected by the provider", "cache"),
		selfHeals:     counter("self_heals_total", "Corrupt entries deleted on read", "cache", "reason"),
		releaseErrors: counter("release_errors_total", "Lock release failures", "cache"),
	}
	reg.MustRegister(
		a.hits, a.computed, a.bypassed, a.lockTimeouts,
		a.storeSkipped, a.storeRejected, a.selfHeals, a.releaseErrors,
	)
	return a
}

func (a *Adapter) Hit(cache, _ string, double bool) {
	phase := "first"
	if double {
		phase = "double"
	}
	a.hits.WithLabelValues(cache, phase).Inc()
}

func (a *Adapter) Computed(cache, _ string) {
	a.computed.WithLabelValues(cache).Inc()
}

func (a *Adapter) Bypassed(cache, _, reason string) {
	a.bypassed.WithLabelValues(cache, reason).Inc()
}

func (a *Adapter) LockTimeout(cache, _ string, _ time.Duration) {
	a.lockTimeouts.WithLabelValues(cache).Inc()
}

func (a *Adapter) StoreSkipped(cache, _, reason string) {
	a.storeSkipped.WithLabelValues(cache, reason).Inc()
}

func (a *Adapter) StoreRejected(cache, _ string) {
	a.storeRejected.WithLabelValues(cache).Inc()
}

func (a *Adapter) SelfHeal(cache, _, reason string) {
	a.selfHeals.WithLabelValues(cache, reason).Inc()
}

func (a *Adapter) ReleaseError(cache, _ string, _ error) {
	a.releaseErrors.WithLabelValues(cache).Inc()
}

var _ memolock.Hooks = (*Adapter)(nil)
