// Package timer keeps cancellable deferred callbacks keyed by name.
// Timers live in process memory only; anything that must survive a restart is
// re-derived from persisted state at startup.
package timer

import (
	"sync"
	"time"
)

// Registry schedules and cancels callbacks by key.
// Scheduling an existing key replaces the pending callback. Cancel is idempotent:
// cancelling a fired, cancelled or never-scheduled key is a no-op.
type Registry interface {
	Schedule(key string, after time.Duration, fn func())
	Cancel(key string)
}

type entry struct {
	t   *time.Timer
	gen uint64
}

type MemoryRegistry struct {
	mu      sync.Mutex
	timers  map[string]entry
	nextGen uint64
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{timers: make(map[string]entry)}
}

func (r *MemoryRegistry) Schedule(key string, after time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.timers[key]; ok {
		prev.t.Stop()
	}
	r.nextGen++
	gen := r.nextGen
	t := time.AfterFunc(after, func() {
		r.mu.Lock()
		// a replacement may have been scheduled under the same key
		if cur, ok := r.timers[key]; ok && cur.gen == gen {
			delete(r.timers, key)
		}
		r.mu.Unlock()
		fn()
	})
	r.timers[key] = entry{t: t, gen: gen}
}

func (r *MemoryRegistry) Cancel(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.timers[key]; ok {
		e.t.Stop()
		delete(r.timers, key)
	}
}

// Pending reports whether key has a scheduled, unfired callback.
func (r *MemoryRegistry) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key]
	return ok
}

// Stop cancels every pending callback.
func (r *MemoryRegistry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.timers {
		e.t.Stop()
		delete(r.timers, key)
	}
}
