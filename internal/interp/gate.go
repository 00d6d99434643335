package interp

import (
	"sync"
	"time"
)

// DefaultGateInterval collapses bursts of tool calls to at most one notice
// per second.
const DefaultGateInterval = time.Second

// Gate rate-limits activity emission by a minimum interval. An activity
// arriving while the gate is closed is dropped, not queued: when a burst of
// tool calls passes, only the ones landing on an open gate are emitted.
// Emission-rate policy lives here, separate from extraction.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewGate creates a gate with the given minimum interval between emissions.
func NewGate(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultGateInterval
	}
	return &Gate{interval: interval, now: time.Now}
}

// Allow reports whether an emission may happen now, and if so closes the
// gate for the configured interval. The first call always passes.
func (g *Gate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if !g.last.IsZero() && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	return true
}

// Filter wraps an activity consumer with the gate's drop policy.
func (g *Gate) Filter(emit func(Activity)) func(Activity) {
	return func(a Activity) {
		if g.Allow() {
			emit(a)
		}
	}
}
