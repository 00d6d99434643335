// Package guard implements the layered content-safety gate applied to every
// inbound turn before it can reach the agent: sanitization, per-sender rate
// limiting, and advisory suspicious-content scanning, each emitting
// structured audit events.
package guard

import "log/slog"

// Audit event kinds.
const (
	EventContentSanitized  = "content_sanitized"
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventSuspiciousContent = "suspicious_content_detected"
	EventConfigPermsFixed  = "config_permissions_fixed"
)

// AuditSink receives structured audit events. The store's audit_events table
// is the primary implementation.
type AuditSink interface {
	Append(kind, details string) error
}

// MultiSink fans one event out to several sinks. A failing sink is logged
// and skipped so audit mirroring can never block the primary path.
type MultiSink []AuditSink

func (m MultiSink) Append(kind, details string) error {
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Append(kind, details); err != nil {
			slog.Warn("Audit sink append failed", "kind", kind, "error", err)
		}
	}
	return nil
}

// emit writes an audit event, tolerating a nil sink and sink failures.
// The guard never lets audit plumbing break message flow.
func emit(sink AuditSink, kind, details string) {
	if sink == nil {
		return
	}
	if err := sink.Append(kind, details); err != nil {
		slog.Warn("Audit emit failed", "kind", kind, "error", err)
	}
}
