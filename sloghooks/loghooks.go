// Package sloghooks emits memoizer events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/memolock"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	HitEvery      uint64
	BypassEvery   uint64
	SelfHealEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	hitCtr      atomic.Uint64
	bypassCtr   atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ memolock.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Hit(cache, key string, double bool) {
	if h.l == nil || !sample(h.opts.HitEvery, &h.hitCtr) {
		return
	}
	h.l.Debug("memolock.hit",
		"cache", cache,
		"key", h.redact(key),
		"double_check", double)
}

func (h *Hooks) Computed(cache, key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("memolock.computed",
		"cache", cache,
		"key", h.redact(key))
}

func (h *Hooks) Bypassed(cache, key, reason string) {
	if h.l == nil || !sample(h.opts.BypassEvery, &h.bypassCtr) {
		return
	}
	h.l.Info("memolock.bypassed",
		"cache", cache,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) LockTimeout(cache, key string, wait time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Warn("memolock.lock_timeout",
		"cache", cache,
		"key", h.redact(key),
		"wait", wait)
}

func (h *Hooks) StoreSkipped(cache, key, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("memolock.store_skipped",
		"cache", cache,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) StoreRejected(cache, key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("memolock.store_rejected",
		"cache", cache,
		"key", h.redact(key))
}

func (h *Hooks) SelfHeal(cache, key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("memolock.self_heal",
		"cache", cache,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) ReleaseError(cache, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("memolock.release_error",
		"cache", cache,
		"key", h.redact(key),
		"err", err)
}
