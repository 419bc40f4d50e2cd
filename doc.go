// Package memolock implements stampede-safe memoization over a shared cache:
// when a value is missing, at most one invocation per key computes it while
// the rest wait on a distributed mutex and then read the stored result.
//
// Components:
//   - expr: predicate/key expression evaluator over call parameters and,
//     post-execution, the result.
//   - mutex: named-lock capability (Local in-process, Redsync cluster-wide).
//   - provider: byte store with TTL (Redis, BigCache, Ristretto).
//   - codec: (de)serializes V <-> []byte for stored entries.
//   - Memo[V]: the orchestrator running the double-checked locking protocol.
//
// Protocol per invocation: resolve key -> evaluate condition -> cache check
// -> acquire "cacheName:lock:key" with bounded wait -> re-check cache ->
// compute -> evaluate unless -> store -> release. A timed-out lock wait
// fails open: the invocation computes locally without caching, trading a
// duplicated computation for liveness.
//
// Keys:
//
//	memo:<cache>:<key>       - cached entries
//	<cache>:lock:<key>       - distributed lock names
//
// Usage:
//
//	m, _ := memolock.New[string](memolock.Options[string]{
//	    Spec: memolock.Spec{
//	        CacheName:     "books",
//	        KeyExpression: "isbn",
//	        Condition:     "isbn.length() > 10",
//	        Unless:        "result == null",
//	    },
//	    Regions: regions,
//	    Locker:  locker,
//	    Codec:   codec.String{},
//	})
//	book, err := m.Do(ctx, memolock.NewCall("getBookByIsbn").Bind("isbn", isbn),
//	    func(ctx context.Context) (string, error) { return fetchBook(ctx, isbn) })
package memolock
