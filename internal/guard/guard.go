package guard

// Guard bundles the content-safety checks behind one handle so the
// orchestrator carries a single dependency. Explicit state, no globals:
// multiple guards can coexist in tests.
type Guard struct {
	limiter *RateLimiter
	audit   AuditSink
}

// New creates a guard. sink may be nil (audit disabled).
func New(rateLimit int, sink AuditSink) *Guard {
	return &Guard{
		limiter: NewRateLimiter(rateLimit),
		audit:   sink,
	}
}

// Audit exposes the sink so callers outside the guard (config permission
// fixes) can emit events through the same path.
func (g *Guard) Audit(kind, details string) {
	emit(g.audit, kind, details)
}
