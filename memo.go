package memolock

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	c "github.com/unkn0wn-root/memolock/codec"
	"github.com/unkn0wn-root/memolock/expr"
	"github.com/unkn0wn-root/memolock/mutex"
)

const defaultTTL = 10 * time.Minute

type memo[V any] struct {
	spec    Spec
	regions *Regions
	locker  mutex.Locker
	codec   c.Codec[V]

	log        Logger
	hooks      Hooks
	generators *KeyGeneratorRegistry
	exprs      *expr.Registry
	ttl        time.Duration
	cost       SetCostFunc
	bindResult func(V) expr.Value

	keyProg    *expr.Program // nil when Spec.KeyGenerator is used
	condProg   *expr.Program // nil when Condition is empty (always true)
	unlessProg *expr.Program // nil when Unless is empty (always false)

	dedup   *singleflight.Group
	enabled bool
}

func newMemo[V any](opts Options[V]) (*memo[V], error) {
	if err := opts.Spec.validate(); err != nil {
		return nil, err
	}

	m := &memo[V]{
		spec:    opts.Spec,
		regions: opts.Regions,
		locker:  opts.Locker,
		codec:   opts.Codec,
		enabled: !opts.Disabled,
	}

	if m.enabled {
		if m.regions == nil {
			return nil, configErr(opts.Spec.CacheName, "regions are required")
		}
		if m.locker == nil {
			return nil, configErr(opts.Spec.CacheName, "locker is required")
		}
		if m.codec == nil {
			return nil, configErr(opts.Spec.CacheName, "codec is required")
		}
	}

	// defaults
	m.log = coalesce[Logger](opts.Logger, NopLogger{})
	m.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	m.ttl = coalesce(opts.DefaultTTL, defaultTTL)
	m.generators = opts.Generators
	if m.generators == nil {
		m.generators = NewKeyGeneratorRegistry()
	}
	m.exprs = opts.Exprs
	if m.exprs == nil {
		m.exprs = expr.NewRegistry()
	}
	if opts.ComputeSetCost != nil {
		m.cost = opts.ComputeSetCost
	} else {
		m.cost = func(string, []byte) int64 { return 1 }
	}
	m.bindResult = opts.ResultBinding
	if opts.ProcessDedup {
		m.dedup = new(singleflight.Group)
	}

	// compile expressions up front so syntax errors surface at registration
	var err error
	if s := opts.Spec.KeyExpression; s != "" {
		if m.keyProg, err = expr.Compile(s); err != nil {
			return nil, err
		}
	}
	if s := opts.Spec.Condition; s != "" {
		if m.condProg, err = expr.Compile(s); err != nil {
			return nil, err
		}
	}
	if s := opts.Spec.Unless; s != "" {
		if m.unlessProg, err = expr.Compile(s); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *memo[V]) Enabled() bool { return m.enabled }

func (m *memo[V]) Do(ctx context.Context, call *Call, fn func(context.Context) (V, error)) (V, error) {
	var zero V
	if !m.enabled {
		m.hooks.Computed(m.spec.CacheName, "")
		return fn(ctx)
	}
	if call == nil {
		call = NewCall("")
	}

	env, err := m.bindEnv(call)
	if err != nil {
		return zero, err
	}

	key, err := m.resolveKey(call, env)
	if err != nil {
		return zero, err
	}

	// condition gates everything: no lookup, no lock, no store
	if m.condProg != nil {
		ok, err := m.condProg.EvalBool(env)
		if err != nil {
			return zero, err
		}
		if !ok {
			m.log.Debug("condition false; executing uncached", Fields{"cache": m.spec.CacheName, "key": key})
			m.hooks.Bypassed(m.spec.CacheName, key, BypassCondition)
			return m.compute(ctx, key, fn)
		}
	}

	region, ok := m.regions.Lookup(m.spec.CacheName)
	if !ok {
		m.log.Warn("cache region not configured; executing uncached", Fields{"cache": m.spec.CacheName})
		m.hooks.Bypassed(m.spec.CacheName, key, BypassRegionMissing)
		return m.compute(ctx, key, fn)
	}

	storageKey := m.storageKey(key)

	// first check, before any lock traffic
	if v, found, err := m.lookup(ctx, region, key, storageKey); err != nil {
		m.log.Warn("cache read failed; executing uncached", Fields{"cache": m.spec.CacheName, "key": key, "err": err})
		m.hooks.Bypassed(m.spec.CacheName, key, BypassReadError)
		return m.compute(ctx, key, fn)
	} else if found {
		m.log.Debug("cache hit", Fields{"cache": m.spec.CacheName, "key": key})
		m.hooks.Hit(m.spec.CacheName, key, false)
		return v, nil
	}

	if m.dedup != nil {
		res, err, _ := m.dedup.Do(storageKey, func() (any, error) {
			return m.missPath(ctx, region, key, storageKey, env, fn)
		})
		if err != nil {
			return zero, err
		}
		return res.(V), nil
	}
	return m.missPath(ctx, region, key, storageKey, env, fn)
}

// missPath runs steps 4-8 of the protocol: acquire the lock, double-check,
// compute, apply unless, store, release.
func (m *memo[V]) missPath(ctx context.Context, region Region, key, storageKey string, env *expr.Env, fn func(context.Context) (V, error)) (V, error) {
	var zero V

	lockName := m.spec.CacheName + ":lock:" + key
	wait := m.spec.lockWait()
	h, ok, err := m.locker.Acquire(ctx, lockName, wait)
	if err != nil {
		if ctx.Err() != nil {
			return zero, err
		}
		m.log.Warn("lock service error; executing uncached", Fields{"lock": lockName, "err": err})
		m.hooks.Bypassed(m.spec.CacheName, key, BypassLockError)
		return m.compute(ctx, key, fn)
	}
	if !ok {
		m.log.Warn("lock wait elapsed; executing uncached", Fields{"lock": lockName, "wait": wait})
		m.hooks.LockTimeout(m.spec.CacheName, key, wait)
		m.hooks.Bypassed(m.spec.CacheName, key, BypassLockTimeout)
		return m.compute(ctx, key, fn)
	}
	m.log.Debug("lock acquired", Fields{"lock": lockName})
	defer func() {
		if rerr := h.Release(context.WithoutCancel(ctx)); rerr != nil {
			m.log.Warn("lock release failed", Fields{"lock": lockName, "err": rerr})
			m.hooks.ReleaseError(m.spec.CacheName, key, rerr)
		} else {
			m.log.Debug("lock released", Fields{"lock": lockName})
		}
	}()

	// double check: another holder may have stored while this call waited
	if v, found, err := m.lookup(ctx, region, key, storageKey); err != nil {
		m.log.Warn("cache read failed on double-check", Fields{"cache": m.spec.CacheName, "key": key, "err": err})
	} else if found {
		m.log.Debug("cache hit on double-check", Fields{"cache": m.spec.CacheName, "key": key})
		m.hooks.Hit(m.spec.CacheName, key, true)
		return v, nil
	}

	result, err := m.compute(ctx, key, fn)
	if err != nil {
		return zero, err
	}

	if m.unlessProg != nil {
		skip, err := m.unlessProg.EvalBool(env.With("result", m.resultValue(result)))
		if err != nil {
			return zero, err
		}
		if skip {
			m.log.Debug("unless true; result not stored", Fields{"cache": m.spec.CacheName, "key": key})
			m.hooks.StoreSkipped(m.spec.CacheName, key, SkipUnless)
			return result, nil
		}
	}

	m.store(ctx, region, key, storageKey, result)
	return result, nil
}

func (m *memo[V]) compute(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, error) {
	m.hooks.Computed(m.spec.CacheName, key)
	return fn(ctx)
}

// bindEnv converts the call's parameters into expression bindings. Skipped
// entirely for generator-keyed specs without predicates, so arguments that
// cannot be represented as expression values still work there.
func (m *memo[V]) bindEnv(call *Call) (*expr.Env, error) {
	if m.keyProg == nil && m.condProg == nil && m.unlessProg == nil {
		return nil, nil
	}
	env := expr.NewEnv(m.exprs)
	for i, name := range call.names {
		v, err := expr.Of(call.vals[i])
		if err != nil {
			return nil, &expr.Error{Pos: -1, Msg: fmt.Sprintf("parameter %q: %v", name, err)}
		}
		env.Bind(name, v)
	}
	return env, nil
}

func (m *memo[V]) resolveKey(call *Call, env *expr.Env) (string, error) {
	if m.keyProg != nil {
		v, err := m.keyProg.Eval(env)
		if err != nil {
			return "", err
		}
		return v.String(), nil
	}
	gen, ok := m.generators.lookup(m.spec.KeyGenerator)
	if !ok {
		return "", configErr(m.spec.CacheName, "key generator %q not registered", m.spec.KeyGenerator)
	}
	kv, err := gen(call.Target(), call.Method(), call.Args())
	if err != nil {
		return "", fmt.Errorf("memolock: key generator %q: %w", m.spec.KeyGenerator, err)
	}
	return keyString(kv), nil
}

func (m *memo[V]) resultValue(result V) expr.Value {
	if m.bindResult != nil {
		return m.bindResult(result)
	}
	v, err := expr.Of(result)
	if err != nil {
		// an unbindable result only matters to the unless predicate; let it
		// read as null rather than fail an otherwise-finished invocation
		m.log.Warn("result not bindable for unless; treated as null", Fields{"cache": m.spec.CacheName, "err": err})
		return expr.Null()
	}
	return v
}

func (m *memo[V]) lookup(ctx context.Context, region Region, key, storageKey string) (V, bool, error) {
	var zero V
	raw, ok, err := region.Provider.Get(ctx, storageKey)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := m.codec.Decode(raw)
	if err != nil {
		_ = region.Provider.Del(ctx, storageKey) // self-heal corrupt
		m.hooks.SelfHeal(m.spec.CacheName, key, "value_decode")
		return zero, false, nil
	}
	return v, true, nil
}

func (m *memo[V]) store(ctx context.Context, region Region, key, storageKey string, v V) {
	raw, err := m.codec.Encode(v)
	if err != nil {
		m.log.Warn("encode failed; result not stored", Fields{"cache": m.spec.CacheName, "key": key, "err": err})
		m.hooks.StoreSkipped(m.spec.CacheName, key, SkipEncodeError)
		return
	}
	ttl := coalesce(region.TTL, m.ttl)
	ok, err := region.Provider.Set(ctx, storageKey, raw, m.cost(storageKey, raw), ttl)
	if err != nil {
		m.log.Warn("cache write failed; result not stored", Fields{"cache": m.spec.CacheName, "key": key, "err": err})
		m.hooks.StoreSkipped(m.spec.CacheName, key, SkipSetError)
		return
	}
	if !ok {
		m.log.Debug("cache write rejected by provider (pressure)", Fields{"cache": m.spec.CacheName, "key": key})
		m.hooks.StoreRejected(m.spec.CacheName, key)
		return
	}
	m.log.Debug("result cached", Fields{"cache": m.spec.CacheName, "key": key})
}

func (m *memo[V]) storageKey(key string) string {
	// isolate cached entries from lock names and foreign writers
	return "memo:" + m.spec.CacheName + ":" + key
}
