// Package asynchook decouples hook sinks from the request path: events are
// queued and delivered by background workers; the queue drops under
// pressure rather than blocking an invocation.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{BypassEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	m, _ := memolock.New[Book](memolock.Options[Book]{
//	    Spec:    spec,
//	    Regions: regions,
//	    Locker:  locker,
//	    Codec:   codec.JSON[Book]{},
//	    Hooks:   hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/memolock"
)

type Hooks struct {
	inner memolock.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ memolock.Hooks = (*Hooks)(nil)

func New(inner memolock.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) Hit(cache, key string, double bool) {
	h.try(func() { h.inner.Hit(cache, key, double) })
}
func (h *Hooks) Computed(cache, key string) {
	h.try(func() { h.inner.Computed(cache, key) })
}
func (h *Hooks) Bypassed(cache, key, reason string) {
	h.try(func() { h.inner.Bypassed(cache, key, reason) })
}
func (h *Hooks) LockTimeout(cache, key string, wait time.Duration) {
	h.try(func() { h.inner.LockTimeout(cache, key, wait) })
}
func (h *Hooks) StoreSkipped(cache, key, reason string) {
	h.try(func() { h.inner.StoreSkipped(cache, key, reason) })
}
func (h *Hooks) StoreRejected(cache, key string) {
	h.try(func() { h.inner.StoreRejected(cache, key) })
}
func (h *Hooks) SelfHeal(cache, key, reason string) {
	h.try(func() { h.inner.SelfHeal(cache, key, reason) })
}
func (h *Hooks) ReleaseError(cache, key string, err error) {
	h.try(func() { h.inner.ReleaseError(cache, key, err) })
}
