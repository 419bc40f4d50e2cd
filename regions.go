package memolock

import (
	"context"
	"sync"
	"time"

	pr "github.com/unkn0wn-root/memolock/provider"
)

// Region is one named cache area: a provider plus its entry TTL. TTL and
// idle eviction beyond that are the store's own business; memolock only
// distinguishes present from absent.
type Region struct {
	Name     string
	Provider pr.Provider

	// TTL applies to entries written into this region. 0 => Options.DefaultTTL.
	TTL time.Duration
}

// Regions maps cache names to regions. A Spec naming an unregistered region
// is not an error: those invocations execute uncached with a warning, so an
// operation can ship before its region is provisioned.
type Regions struct {
	mu      sync.RWMutex
	regions map[string]Region
}

func NewRegions(regions ...Region) *Regions {
	r := &Regions{regions: make(map[string]Region, len(regions))}
	for _, reg := range regions {
		r.Add(reg)
	}
	return r
}

// Add registers or replaces a region. Regions with an empty name or nil
// provider are ignored rather than half-registered.
func (r *Regions) Add(reg Region) {
	if reg.Name == "" || reg.Provider == nil {
		return
	}
	r.mu.Lock()
	r.regions[reg.Name] = reg
	r.mu.Unlock()
}

// Lookup returns the named region.
func (r *Regions) Lookup(name string) (Region, bool) {
	r.mu.RLock()
	reg, ok := r.regions[name]
	r.mu.RUnlock()
	return reg, ok
}

// Exists reports whether the named region is registered.
func (r *Regions) Exists(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Close closes every registered provider, returning the first error.
func (r *Regions) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, reg := range r.regions {
		if err := reg.Provider.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
