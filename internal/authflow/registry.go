package authflow

import (
	"sync"
	"time"
)

// Surfaces.
const (
	SurfacePage  = "page"
	SurfaceModal = "modal"
	SurfaceAPI   = "api"
)

type flowKey struct {
	owner   string
	surface string
}

// Registry holds the mounted flow of each (browser, surface) pair. Mounting
// again replaces and releases the previous flow.
type Registry struct {
	mu    sync.Mutex
	flows map[flowKey]*Flow
	ttl   time.Duration
	now   func() time.Time
}

// NewRegistry returns a Registry whose Sweep releases flows unused for ttl.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		flows: make(map[flowKey]*Flow),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Mount creates a fresh flow for owner on surface.
func (r *Registry) Mount(owner, surface string, mode Mode) *Flow {
	f := NewFlow(surface, mode)
	r.mu.Lock()
	old := r.flows[flowKey{owner, surface}]
	r.flows[flowKey{owner, surface}] = f
	r.mu.Unlock()
	if old != nil {
		old.Release()
	}
	return f
}

// Get returns the mounted flow, if any.
func (r *Registry) Get(owner, surface string) (*Flow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flows[flowKey{owner, surface}]
	return f, ok
}

// Acquire returns the mounted flow, mounting one in mode if there is none.
func (r *Registry) Acquire(owner, surface string, mode Mode) *Flow {
	k := flowKey{owner, surface}
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.flows[k]; ok {
		return f
	}
	f := NewFlow(surface, mode)
	r.flows[k] = f
	return f
}

// Unmount releases and forgets the mounted flow.
func (r *Registry) Unmount(owner, surface string) {
	r.mu.Lock()
	f := r.flows[flowKey{owner, surface}]
	delete(r.flows, flowKey{owner, surface})
	r.mu.Unlock()
	if f != nil {
		f.Release()
	}
}

// Sweep releases flows that have been idle longer than the TTL and returns
// how many were removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)
	r.mu.Lock()
	var stale []*Flow
	for k, f := range r.flows {
		if f.idle(cutoff) {
			stale = append(stale, f)
			delete(r.flows, k)
		}
	}
	r.mu.Unlock()
	for _, f := range stale {
		f.Release()
	}
	return len(stale)
}

// Len returns the number of mounted flows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}
