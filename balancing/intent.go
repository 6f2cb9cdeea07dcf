// Package balancing holds the pending balancing request latched between
// query cycles and the planner that turns it into CAN command frames.
package balancing

import "sync"

// Intent is a balancing request for a single pack: which cells (1..104,
// pack-relative) to discharge, and at what target current. An empty Cells
// slice means "stop balancing" (I4).
type Intent struct {
	PackID      int
	Cells       []int
	CurrentAmps float32
}

// IntentLatch holds a single pending Intent, read only at cycle boundaries
// so a balancing request submitted mid-cycle cannot interleave with a
// query phase already in progress.
type IntentLatch struct {
	mu        sync.Mutex
	pending   *Intent
	requested bool
}

// NewIntentLatch creates an empty latch.
func NewIntentLatch() *IntentLatch {
	return &IntentLatch{}
}

// Latch records a new balancing intent, replacing any not yet consumed.
func (l *IntentLatch) Latch(intent Intent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending = &intent
	l.requested = true
}

// Requested reports whether a balancing intent is waiting to be consumed.
// Intended to be read only at a cycle boundary.
func (l *IntentLatch) Requested() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requested
}

// Consume returns the latched intent and clears it. Returns ok=false if
// nothing was latched.
func (l *IntentLatch) Consume() (intent Intent, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.requested || l.pending == nil {
		return Intent{}, false
	}
	intent = *l.pending
	l.pending = nil
	l.requested = false
	return intent, true
}
