package memolock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	c "github.com/unkn0wn-root/memolock/codec"
	"github.com/unkn0wn-root/memolock/expr"
	"github.com/unkn0wn-root/memolock/mutex"
	pr "github.com/unkn0wn-root/memolock/provider"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu sync.Mutex
	m  map[string]memEntry

	gets, sets, dels int
	getErr           error
	setOK            bool
	setErr           error
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider {
	return &memProvider{m: make(map[string]memEntry), setOK: true}
}

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gets++
	if p.getErr != nil {
		return nil, false, p.getErr
	}
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets++
	if p.setErr != nil {
		return false, p.setErr
	}
	if !p.setOK {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.m[key] = memEntry{v: value, exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dels++
	delete(p.m, key)
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) has(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.m[key]
	return ok
}

func (p *memProvider) put(key string, v []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[key] = memEntry{v: v}
}

// recLocker wraps a Locker and counts acquisitions and releases.
type recLocker struct {
	inner mutex.Locker

	mu       sync.Mutex
	acquires []string
	releases int

	// onAcquire runs while the caller waits, before delegating. Used to
	// simulate another process filling the cache during lock acquisition.
	onAcquire func(name string)
}

func (l *recLocker) Acquire(ctx context.Context, name string, wait time.Duration) (mutex.Handle, bool, error) {
	l.mu.Lock()
	l.acquires = append(l.acquires, name)
	cb := l.onAcquire
	l.mu.Unlock()
	if cb != nil {
		cb(name)
	}
	h, ok, err := l.inner.Acquire(ctx, name, wait)
	if h != nil {
		h = &recHandle{Handle: h, parent: l}
	}
	return h, ok, err
}

func (l *recLocker) acquireCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.acquires)
}

func (l *recLocker) releaseCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releases
}

type recHandle struct {
	mutex.Handle
	parent *recLocker
}

func (h *recHandle) Release(ctx context.Context) error {
	err := h.Handle.Release(ctx)
	h.parent.mu.Lock()
	h.parent.releases++
	h.parent.mu.Unlock()
	return err
}

// timeoutLocker never grants: every Acquire reports an elapsed wait.
type timeoutLocker struct{}

func (timeoutLocker) Acquire(context.Context, string, time.Duration) (mutex.Handle, bool, error) {
	return nil, false, nil
}

// errLocker simulates a lock-service outage.
type errLocker struct{ err error }

func (l errLocker) Acquire(context.Context, string, time.Duration) (mutex.Handle, bool, error) {
	return nil, false, l.err
}

// recHooks records every event as a formatted line.
type recHooks struct {
	mu     sync.Mutex
	events []string
}

var _ Hooks = (*recHooks)(nil)

func (h *recHooks) add(s string) {
	h.mu.Lock()
	h.events = append(h.events, s)
	h.mu.Unlock()
}

func (h *recHooks) Hit(cache, key string, double bool) {
	h.add(fmt.Sprintf("hit:%s:%s:%v", cache, key, double))
}
func (h *recHooks) Computed(cache, key string) { h.add("computed:" + cache + ":" + key) }
func (h *recHooks) Bypassed(cache, key, reason string) {
	h.add("bypassed:" + cache + ":" + key + ":" + reason)
}
func (h *recHooks) LockTimeout(cache, key string, _ time.Duration) {
	h.add("lock_timeout:" + cache + ":" + key)
}
func (h *recHooks) StoreSkipped(cache, key, reason string) {
	h.add("store_skipped:" + cache + ":" + key + ":" + reason)
}
func (h *recHooks) StoreRejected(cache, key string) { h.add("store_rejected:" + cache + ":" + key) }
func (h *recHooks) SelfHeal(cache, key, reason string) {
	h.add("self_heal:" + cache + ":" + key + ":" + reason)
}
func (h *recHooks) ReleaseError(cache, key string, _ error) {
	h.add("release_error:" + cache + ":" + key)
}

func (h *recHooks) count(prefix string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

type Book struct {
	ISBN  string `json:"isbn"`
	Title string `json:"title"`
}

func (b Book) String() string { return "Book[ISBN: " + b.ISBN + "]" }

func findBook(isbn string) Book { return Book{ISBN: isbn, Title: "Effective Java"} }

func newTestMemo(t *testing.T, mp pr.Provider, locker mutex.Locker, mod func(*Options[Book])) Memo[Book] {
	t.Helper()
	opts := Options[Book]{
		Spec: Spec{
			CacheName:     "books",
			KeyExpression: "isbn",
		},
		Regions: NewRegions(Region{Name: "books", Provider: mp}),
		Locker:  locker,
		Codec:   c.JSON[Book]{},
	}
	if mod != nil {
		mod(&opts)
	}
	m, err := New[Book](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func isbnCall(isbn string) *Call {
	return NewCall("getBookByIsbn").Bind("isbn", isbn)
}

// ==============================
// Miss, hit, and key layout
// ==============================

func TestMissComputesThenHits(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	hooks := &recHooks{}
	m := newTestMemo(t, mp, mutex.NewLocal(), func(o *Options[Book]) { o.Hooks = hooks })

	var calls atomic.Int32
	fn := func(context.Context) (Book, error) {
		calls.Add(1)
		return findBook("978-0134685991"), nil
	}

	got, err := m.Do(ctx, isbnCall("978-0134685991"), fn)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got.String() != "Book[ISBN: 978-0134685991]" {
		t.Fatalf("Do = %v", got)
	}
	if !mp.has("memo:books:978-0134685991") {
		t.Fatal("result should be stored under memo:books:<key>")
	}

	got2, err := m.Do(ctx, isbnCall("978-0134685991"), fn)
	if err != nil {
		t.Fatalf("Do (second): %v", err)
	}
	if got2 != got {
		t.Fatalf("cached value differs: %v vs %v", got2, got)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("computation ran %d times, want 1", n)
	}
	if hooks.count("computed:") != 1 || hooks.count("hit:books:978-0134685991:false") != 1 {
		t.Fatalf("unexpected hook trail: %v", hooks.events)
	}
}

// Ten concurrent callers of the same key: the computation runs exactly once,
// everyone gets the same value, and the lock is released as many times as it
// was granted.
func TestSingleWriterUnderContention(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	locker := &recLocker{inner: mutex.NewLocal()}
	m := newTestMemo(t, mp, locker, nil)

	var calls atomic.Int32
	fn := func(context.Context) (Book, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond) // force real contention
		return findBook("978-0134685991"), nil
	}

	const workers = 10
	results := make(chan string, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			b, err := m.Do(ctx, isbnCall("978-0134685991"), fn)
			errs <- err
			results <- b.String()
		}()
	}
	for i := 0; i < workers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Do: %v", err)
		}
		if got := <-results; got != "Book[ISBN: 978-0134685991]" {
			t.Fatalf("result = %q", got)
		}
	}

	if n := calls.Load(); n != 1 {
		t.Fatalf("computation ran %d times, want 1", n)
	}
	if a, r := locker.acquireCount(), locker.releaseCount(); a != r {
		t.Fatalf("acquired %d, released %d", a, r)
	}
	for _, name := range locker.acquires {
		if name != "books:lock:978-0134685991" {
			t.Fatalf("lock name = %q", name)
		}
	}
}

func TestIndependentKeysComputeIndependently(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	locker := &recLocker{inner: mutex.NewLocal()}
	m := newTestMemo(t, mp, locker, nil)

	for _, isbn := range []string{"isbn-a", "isbn-b"} {
		isbn := isbn
		b, err := m.Do(ctx, isbnCall(isbn), func(context.Context) (Book, error) {
			return findBook(isbn), nil
		})
		if err != nil {
			t.Fatalf("Do(%s): %v", isbn, err)
		}
		if b.ISBN != isbn {
			t.Fatalf("Do(%s) = %v", isbn, b)
		}
	}
	if !mp.has("memo:books:isbn-a") || !mp.has("memo:books:isbn-b") {
		t.Fatal("both keys should be cached separately")
	}
	if locker.acquires[0] == locker.acquires[1] {
		t.Fatalf("distinct keys share a lock name: %q", locker.acquires[0])
	}
}

// ==============================
// Condition and unless
// ==============================

// A false condition must short-circuit the whole machinery: no cache read,
// no lock, no store.
func TestConditionFalseSkipsAllCacheMachinery(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	locker := &recLocker{inner: mutex.NewLocal()}
	hooks := &recHooks{}
	m := newTestMemo(t, mp, locker, func(o *Options[Book]) {
		o.Spec.Condition = "isbn.length() > 5"
		o.Hooks = hooks
	})

	var calls atomic.Int32
	fn := func(context.Context) (Book, error) {
		calls.Add(1)
		return findBook("123"), nil
	}
	for i := 0; i < 2; i++ {
		if _, err := m.Do(ctx, isbnCall("123"), fn); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}

	if n := calls.Load(); n != 2 {
		t.Fatalf("computation ran %d times, want 2 (uncached)", n)
	}
	if locker.acquireCount() != 0 {
		t.Fatal("condition false must not touch the lock")
	}
	if mp.gets != 0 || mp.sets != 0 {
		t.Fatalf("condition false must not touch the cache: gets=%d sets=%d", mp.gets, mp.sets)
	}
	if hooks.count("bypassed:books:123:condition") != 2 {
		t.Fatalf("unexpected hook trail: %v", hooks.events)
	}
}

// Conditions may call functions registered on the expression registry.
func TestConditionWithRegisteredFunction(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	locker := &recLocker{inner: mutex.NewLocal()}

	exprs := expr.NewRegistry()
	exprs.RegisterFunc("paramLen", func(args []expr.Value) (expr.Value, error) {
		s, ok := args[0].Text()
		if !ok {
			return expr.Null(), errors.New("paramLen wants a string")
		}
		return expr.Int(int64(len(s))), nil
	})
	m := newTestMemo(t, mp, locker, func(o *Options[Book]) {
		o.Spec.Condition = "paramLen(isbn) > 10"
		o.Exprs = exprs
	})

	var calls atomic.Int32
	fn := func(isbn string) func(context.Context) (Book, error) {
		return func(context.Context) (Book, error) {
			calls.Add(1)
			return findBook(isbn), nil
		}
	}

	// short isbn: condition false, executes every time
	for i := 0; i < 2; i++ {
		if _, err := m.Do(ctx, isbnCall("123"), fn("123")); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("short isbn ran %d times, want 2", n)
	}
	if locker.acquireCount() != 0 || mp.sets != 0 {
		t.Fatal("condition false must not touch lock or cache")
	}

	// long isbn: cached after the first call
	calls.Store(0)
	for i := 0; i < 2; i++ {
		if _, err := m.Do(ctx, isbnCall("978-0134685991"), fn("978-0134685991")); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("long isbn ran %d times, want 1", n)
	}
}

func TestConditionTrueCachesNormally(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	m := newTestMemo(t, mp, mutex.NewLocal(), func(o *Options[Book]) {
		o.Spec.Condition = "isbn.length() > 5"
	})

	if _, err := m.Do(ctx, isbnCall("978-0134685991"), func(context.Context) (Book, error) {
		return findBook("978-0134685991"), nil
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !mp.has("memo:books:978-0134685991") {
		t.Fatal("condition true should cache the result")
	}
}

// Unless gates only the store: the fresh value is returned, nothing is
// cached, and the next call computes again.
func TestUnlessTrueReturnsButDoesNotStore(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	hooks := &recHooks{}

	opts := Options[*Book]{
		Spec: Spec{
			CacheName:     "books",
			KeyExpression: "isbn",
			Unless:        "result == null",
		},
		Regions: NewRegions(Region{Name: "books", Provider: mp}),
		Locker:  mutex.NewLocal(),
		Codec:   c.JSON[*Book]{},
		Hooks:   hooks,
		ResultBinding: func(b *Book) expr.Value {
			if b == nil {
				return expr.Null()
			}
			return expr.Str(b.ISBN)
		},
	}
	m, err := New[*Book](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var calls atomic.Int32
	lookup := func(isbn string) func(context.Context) (*Book, error) {
		return func(context.Context) (*Book, error) {
			calls.Add(1)
			if isbn == "invalid" {
				return nil, nil
			}
			b := findBook(isbn)
			return &b, nil
		}
	}

	// nil result: returned to the caller, never stored, recomputed next time
	for i := 0; i < 2; i++ {
		b, err := m.Do(ctx, isbnCall("invalid"), lookup("invalid"))
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		if b != nil {
			t.Fatalf("Do = %v, want nil", b)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("nil result cached: computation ran %d times, want 2", n)
	}
	if mp.has("memo:books:invalid") {
		t.Fatal("nil result must not be stored")
	}
	if hooks.count("store_skipped:books:invalid:unless") != 2 {
		t.Fatalf("unexpected hook trail: %v", hooks.events)
	}

	// non-nil result stores as usual
	if _, err := m.Do(ctx, isbnCall("978-1"), lookup("978-1")); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !mp.has("memo:books:978-1") {
		t.Fatal("non-nil result should be stored")
	}
}

// ==============================
// Configuration errors
// ==============================

func TestNewValidatesSpec(t *testing.T) {
	base := func() Options[Book] {
		return Options[Book]{
			Spec:    Spec{CacheName: "books", KeyExpression: "isbn"},
			Regions: NewRegions(Region{Name: "books", Provider: newMemProvider()}),
			Locker:  mutex.NewLocal(),
			Codec:   c.JSON[Book]{},
		}
	}

	cases := []struct {
		name string
		mod  func(*Options[Book])
	}{
		{"missing cache name", func(o *Options[Book]) { o.Spec.CacheName = "" }},
		{"both key strategies", func(o *Options[Book]) { o.Spec.KeyGenerator = "g" }},
		{"no key strategy", func(o *Options[Book]) { o.Spec.KeyExpression = "" }},
		{"negative lock wait", func(o *Options[Book]) { o.Spec.LockWait = -time.Second }},
		{"missing regions", func(o *Options[Book]) { o.Regions = nil }},
		{"missing locker", func(o *Options[Book]) { o.Locker = nil }},
		{"missing codec", func(o *Options[Book]) { o.Codec = nil }},
		{"bad key expression", func(o *Options[Book]) { o.Spec.KeyExpression = "isbn +" }},
		{"bad condition", func(o *Options[Book]) { o.Spec.Condition = "((" }},
		{"bad unless", func(o *Options[Book]) { o.Spec.Unless = "result ==" }},
	}
	for _, tc := range cases {
		opts := base()
		tc.mod(&opts)
		if _, err := New[Book](opts); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestConfigErrorType(t *testing.T) {
	_, err := New[Book](Options[Book]{
		Spec:    Spec{CacheName: "books", KeyExpression: "isbn", KeyGenerator: "g"},
		Regions: NewRegions(),
		Locker:  mutex.NewLocal(),
		Codec:   c.JSON[Book]{},
	})
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if ce.CacheName != "books" {
		t.Fatalf("ConfigError.CacheName = %q", ce.CacheName)
	}
}

// An unresolvable key generator fails before anything touches cache or lock.
func TestUnregisteredGeneratorFailsBeforeCacheTraffic(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	locker := &recLocker{inner: mutex.NewLocal()}
	m := newTestMemo(t, mp, locker, func(o *Options[Book]) {
		o.Spec.KeyExpression = ""
		o.Spec.KeyGenerator = "nope"
	})

	_, err := m.Do(ctx, isbnCall("978-1"), func(context.Context) (Book, error) {
		t.Fatal("computation must not run")
		return Book{}, nil
	})
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if mp.gets != 0 || locker.acquireCount() != 0 {
		t.Fatal("config error must precede cache and lock traffic")
	}
}

// An unbound name in a predicate fails the invocation; it must not silently
// degrade to "always cache" or "never cache".
func TestUnboundPredicateNameFailsInvocation(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	m := newTestMemo(t, mp, mutex.NewLocal(), func(o *Options[Book]) {
		o.Spec.Condition = "nonexistent > 1"
	})

	_, err := m.Do(ctx, isbnCall("978-1"), func(context.Context) (Book, error) {
		t.Fatal("computation must not run on an expression error")
		return Book{}, nil
	})
	var ee *expr.Error
	if !errors.As(err, &ee) {
		t.Fatalf("expected *expr.Error, got %v", err)
	}
	if mp.sets != 0 {
		t.Fatal("nothing may be stored after an expression error")
	}
}

// ==============================
// Degraded paths
// ==============================

// Lock wait elapsing falls open: compute uncached, store nothing, return the
// fresh value without error.
func TestLockTimeoutFallsOpen(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	hooks := &recHooks{}
	m := newTestMemo(t, mp, timeoutLocker{}, func(o *Options[Book]) {
		o.Spec.LockWait = 10 * time.Millisecond
		o.Hooks = hooks
	})

	b, err := m.Do(ctx, isbnCall("978-1"), func(context.Context) (Book, error) {
		return findBook("978-1"), nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if b.ISBN != "978-1" {
		t.Fatalf("Do = %v", b)
	}
	if mp.has("memo:books:978-1") {
		t.Fatal("fail-open execution must not store")
	}
	if hooks.count("lock_timeout:books:978-1") != 1 || hooks.count("bypassed:books:978-1:lock_timeout") != 1 {
		t.Fatalf("unexpected hook trail: %v", hooks.events)
	}
}

func TestLockServiceErrorFallsOpen(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	hooks := &recHooks{}
	m := newTestMemo(t, mp, errLocker{err: errors.New("redis down")}, func(o *Options[Book]) {
		o.Hooks = hooks
	})

	b, err := m.Do(ctx, isbnCall("978-1"), func(context.Context) (Book, error) {
		return findBook("978-1"), nil
	})
	if err != nil || b.ISBN != "978-1" {
		t.Fatalf("Do = %v, %v", b, err)
	}
	if hooks.count("bypassed:books:978-1:lock_error") != 1 {
		t.Fatalf("unexpected hook trail: %v", hooks.events)
	}
}

func TestCacheReadErrorFallsOpen(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	mp.getErr = errors.New("cache down")
	locker := &recLocker{inner: mutex.NewLocal()}
	hooks := &recHooks{}
	m := newTestMemo(t, mp, locker, func(o *Options[Book]) { o.Hooks = hooks })

	b, err := m.Do(ctx, isbnCall("978-1"), func(context.Context) (Book, error) {
		return findBook("978-1"), nil
	})
	if err != nil || b.ISBN != "978-1" {
		t.Fatalf("Do = %v, %v", b, err)
	}
	if locker.acquireCount() != 0 {
		t.Fatal("a failed first check must not proceed to the lock")
	}
	if hooks.count("bypassed:books:978-1:read_error") != 1 {
		t.Fatalf("unexpected hook trail: %v", hooks.events)
	}
}

func TestMissingRegionFallsOpen(t *testing.T) {
	ctx := context.Background()
	hooks := &recHooks{}
	m, err := New[Book](Options[Book]{
		Spec:    Spec{CacheName: "books", KeyExpression: "isbn"},
		Regions: NewRegions(), // nothing registered
		Locker:  mutex.NewLocal(),
		Codec:   c.JSON[Book]{},
		Hooks:   hooks,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b, derr := m.Do(ctx, isbnCall("978-1"), func(context.Context) (Book, error) {
		return findBook("978-1"), nil
	})
	if derr != nil || b.ISBN != "978-1" {
		t.Fatalf("Do = %v, %v", b, derr)
	}
	if hooks.count("bypassed:books:978-1:region_missing") != 1 {
		t.Fatalf("unexpected hook trail: %v", hooks.events)
	}
}

func TestStoreRejectedIsNotAnError(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	mp.setOK = false
	hooks := &recHooks{}
	m := newTestMemo(t, mp, mutex.NewLocal(), func(o *Options[Book]) { o.Hooks = hooks })

	b, err := m.Do(ctx, isbnCall("978-1"), func(context.Context) (Book, error) {
		return findBook("978-1"), nil
	})
	if err != nil || b.ISBN != "978-1" {
		t.Fatalf("Do = %v, %v", b, err)
	}
	if hooks.count("store_rejected:books:978-1") != 1 {
		t.Fatalf("unexpected hook trail: %v", hooks.events)
	}
}

func TestStoreErrorIsNotAnError(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	mp.setErr = errors.New("cache down")
	hooks := &recHooks{}
	m := newTestMemo(t, mp, mutex.NewLocal(), func(o *Options[Book]) { o.Hooks = hooks })

	b, err := m.Do(ctx, isbnCall("978-1"), func(context.Context) (Book, error) {
		return findBook("978-1"), nil
	})
	if err != nil || b.ISBN != "978-1" {
		t.Fatalf("Do = %v, %v", b, err)
	}
	if hooks.count("store_skipped:books:978-1:set_error") != 1 {
		t.Fatalf("unexpected hook trail: %v", hooks.events)
	}
}

// ==============================
// Double check and lock release
// ==============================

// If another writer stores the value while this call waits for the lock, the
// double check serves it and the computation never runs.
func TestDoubleCheckHit(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	filled := false
	locker := &recLocker{inner: mutex.NewLocal()}
	locker.onAcquire = func(string) {
		if !filled {
			filled = true
			raw, _ := c.JSON[Book]{}.Encode(findBook("978-1"))
			mp.put("memo:books:978-1", raw)
		}
	}
	hooks := &recHooks{}
	m := newTestMemo(t, mp, locker, func(o *Options[Book]) { o.Hooks = hooks })

	b, err := m.Do(ctx, isbnCall("978-1"), func(context.Context) (Book, error) {
		t.Fatal("computation must not run on a double-check hit")
		return Book{}, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if b.ISBN != "978-1" {
		t.Fatalf("Do = %v", b)
	}
	if hooks.count("hit:books:978-1:true") != 1 {
		t.Fatalf("unexpected hook trail: %v", hooks.events)
	}
	if locker.releaseCount() != 1 {
		t.Fatalf("lock released %d times, want 1", locker.releaseCount())
	}
}

// A failing computation propagates unchanged and still releases the lock.
func TestComputeErrorPropagatesAndReleasesLock(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	locker := &recLocker{inner: mutex.NewLocal()}
	m := newTestMemo(t, mp, locker, nil)

	boom := errors.New("backend down")
	_, err := m.Do(ctx, isbnCall("978-1"), func(context.Context) (Book, error) {
		return Book{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Do error = %v, want %v", err, boom)
	}
	if mp.has("memo:books:978-1") {
		t.Fatal("a failed computation must not be stored")
	}
	if locker.releaseCount() != 1 {
		t.Fatalf("lock released %d times, want 1", locker.releaseCount())
	}

	// the lock must be free again
	h, ok, err := locker.inner.Acquire(ctx, "books:lock:978-1", 10*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("lock still held after failed computation: ok=%v err=%v", ok, err)
	}
	_ = h.Release(ctx)
}

func TestContextCancellationDuringLockWait(t *testing.T) {
	local := mutex.NewLocal()
	holder, ok, err := local.Acquire(context.Background(), "books:lock:978-1", time.Second)
	if err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}
	defer holder.Release(context.Background())

	mp := newMemProvider()
	m := newTestMemo(t, mp, local, func(o *Options[Book]) {
		o.Spec.LockWait = time.Second
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, derr := m.Do(ctx, isbnCall("978-1"), func(context.Context) (Book, error) {
		t.Fatal("computation must not run after cancellation")
		return Book{}, nil
	})
	if derr == nil {
		t.Fatal("expected cancellation error")
	}
}

// ==============================
// Self heal
// ==============================

func TestCorruptEntrySelfHeals(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	mp.put("memo:books:978-1", []byte("{not json"))
	hooks := &recHooks{}
	m := newTestMemo(t, mp, mutex.NewLocal(), func(o *Options[Book]) { o.Hooks = hooks })

	b, err := m.Do(ctx, isbnCall("978-1"), func(context.Context) (Book, error) {
		return findBook("978-1"), nil
	})
	if err != nil || b.ISBN != "978-1" {
		t.Fatalf("Do = %v, %v", b, err)
	}
	if mp.dels == 0 {
		t.Fatal("corrupt entry should have been deleted")
	}
	if hooks.count("self_heal:books:978-1:value_decode") == 0 {
		t.Fatalf("unexpected hook trail: %v", hooks.events)
	}
	// fresh value replaces the corrupt one
	if !mp.has("memo:books:978-1") {
		t.Fatal("fresh result should be stored after self-heal")
	}
}

// ==============================
// Key derivation
// ==============================

type BookService struct{}

func TestKeyGeneratorPath(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	gens := NewKeyGeneratorRegistry()
	gens.Register("method", MethodKeyGenerator)
	m := newTestMemo(t, mp, mutex.NewLocal(), func(o *Options[Book]) {
		o.Spec.KeyExpression = ""
		o.Spec.KeyGenerator = "method"
		o.Generators = gens
	})

	call := NewCall("getBookByIsbn").
		WithTarget(&BookService{}).
		Bind("isbn", "978-1")
	if _, err := m.Do(ctx, call, func(context.Context) (Book, error) {
		return findBook("978-1"), nil
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	want := "memo:books:BookService.getBookByIsbn(978-1)"
	if !mp.has(want) {
		t.Fatalf("expected entry under %q", want)
	}
}

func TestMethodKeyGeneratorFormat(t *testing.T) {
	cases := []struct {
		target any
		method string
		args   []any
		want   string
	}{
		{&BookService{}, "get", []any{"a", 2}, "BookService.get(a,2)"},
		{nil, "get", []any{nil}, "get(null)"},
		{BookService{}, "all", nil, "BookService.all()"},
	}
	for _, tc := range cases {
		got, err := MethodKeyGenerator(tc.target, tc.method, tc.args)
		if err != nil {
			t.Fatalf("MethodKeyGenerator: %v", err)
		}
		if got != tc.want {
			t.Errorf("MethodKeyGenerator = %q, want %q", got, tc.want)
		}
	}
}

func TestNullKeyExpressionYieldsNullKey(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	m := newTestMemo(t, mp, mutex.NewLocal(), nil)

	call := NewCall("getBookByIsbn").Bind("isbn", nil)
	if _, err := m.Do(ctx, call, func(context.Context) (Book, error) {
		return findBook(""), nil
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !mp.has("memo:books:null") {
		t.Fatal("a null key expression result should map to the literal key \"null\"")
	}
}

func TestCompositeKeyExpression(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	m := newTestMemo(t, mp, mutex.NewLocal(), func(o *Options[Book]) {
		o.Spec.KeyExpression = "query + '-' + searchType"
	})

	call := NewCall("search").Bind("query", "golang").Bind("searchType", "title")
	if _, err := m.Do(ctx, call, func(context.Context) (Book, error) {
		return findBook("x"), nil
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !mp.has("memo:books:golang-title") {
		t.Fatal("composite key expression should concatenate parameters")
	}
}

// ==============================
// Switches
// ==============================

func TestDisabledExecutesDirectly(t *testing.T) {
	ctx := context.Background()
	m, err := New[Book](Options[Book]{
		Spec:     Spec{CacheName: "books", KeyExpression: "isbn"},
		Disabled: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Enabled() {
		t.Fatal("Enabled() should be false")
	}
	var calls atomic.Int32
	for i := 0; i < 2; i++ {
		if _, err := m.Do(ctx, isbnCall("978-1"), func(context.Context) (Book, error) {
			calls.Add(1)
			return findBook("978-1"), nil
		}); err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("disabled memo must always execute: ran %d times", n)
	}
}

func TestProcessDedupCollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	m := newTestMemo(t, mp, mutex.NewLocal(), func(o *Options[Book]) {
		o.ProcessDedup = true
	})

	var calls atomic.Int32
	fn := func(context.Context) (Book, error) {
		calls.Add(1)
		time.Sleep(30 * time.Millisecond)
		return findBook("978-1"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Do(ctx, isbnCall("978-1"), fn); err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := calls.Load(); n != 1 {
		t.Fatalf("computation ran %d times, want 1", n)
	}
}
