// Package bmsregistry tracks the last time each BMU on the bus was heard
// from, as a diagnostic aid separate from the telemetry data itself.
package bmsregistry

import (
	"sync"
	"time"
)

// Key identifies a single BMU by its position in the string/pack hierarchy.
type Key struct {
	StringID    int
	PackID      int
	BMSIDInPack int
}

// Registry is a thread-safe last-seen tracker, keyed by BMU position.
type Registry struct {
	mu       sync.RWMutex
	lastSeen map[Key]time.Time

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		lastSeen: make(map[Key]time.Time),
		nowFn:    time.Now,
	}
}

// Touch records that key was just heard from.
func (r *Registry) Touch(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeen[key] = r.nowFn()
}

// LastSeen returns the last time key was heard from, and whether it has
// ever been seen.
func (r *Registry) LastSeen(key Key) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.lastSeen[key]
	return t, ok
}

// Stale returns every known key whose last-seen time is older than
// maxAge, relative to now().
func (r *Registry) Stale(maxAge time.Duration) []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.nowFn()
	var stale []Key
	for k, t := range r.lastSeen {
		if now.Sub(t) > maxAge {
			stale = append(stale, k)
		}
	}
	return stale
}

// Count returns the number of BMUs ever seen.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lastSeen)
}
