package guard

import (
	"fmt"
	"sync"
	"time"
)

// DefaultRateLimit is the per-sender message budget per window.
const DefaultRateLimit = 30

// rateWindow is fixed, not rolling: the window opens at a sender's first
// message and the counter resets when it expires.
const rateWindow = time.Hour

type rateCounter struct {
	count       int
	windowStart time.Time
}

// RateLimiter holds in-memory per-sender counters. Counters are scoped to
// the process lifetime; a restart resets them. That is an accepted
// limitation, not a bug.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	counters map[string]*rateCounter
	now      func() time.Time
}

// NewRateLimiter creates a limiter allowing limit messages per sender per hour.
func NewRateLimiter(limit int) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	return &RateLimiter{
		limit:    limit,
		counters: make(map[string]*rateCounter),
		now:      time.Now,
	}
}

// CheckRate counts one message for senderID and reports whether it is within
// budget, plus the remaining allowance. Rate limiting is security-relevant,
// so any internal failure denies rather than allows.
func (g *Guard) CheckRate(senderID string) (allowed bool, remaining int) {
	defer func() {
		if r := recover(); r != nil {
			allowed, remaining = false, 0
		}
	}()

	allowed, remaining = g.limiter.take(senderID)
	if !allowed {
		emit(g.audit, EventRateLimitExceeded, fmt.Sprintf("sender=%s limit=%d", senderID, g.limiter.limit))
	}
	return allowed, remaining
}

func (l *RateLimiter) take(senderID string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c := l.counters[senderID]
	if c == nil || now.Sub(c.windowStart) >= rateWindow {
		c = &rateCounter{windowStart: now}
		l.counters[senderID] = c
	}
	c.count++
	remaining := l.limit - c.count
	if remaining < 0 {
		remaining = 0
	}
	return c.count <= l.limit, remaining
}
