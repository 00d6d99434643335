package store

import "time"

// ConversationRecord is one entry of a sender's conversation history.
type ConversationRecord struct {
	ID        int64     `json:"id"`
	SenderID  string    `json:"sender_id"`
	Role      string    `json:"role"` // "user" or "agent"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// QueuedTurn is a turn held durably while the agent is busy.
type QueuedTurn struct {
	Position  int64     `json:"position"`
	Channel   string    `json:"channel"`
	SenderID  string    `json:"sender_id"`
	ChatID    string    `json:"chat_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// RunningTask is the single-flight marker for the in-flight turn.
// At most one instance exists system-wide.
type RunningTask struct {
	TaskID      string    `json:"task_id"`
	Description string    `json:"description"`
	StartedAt   time.Time `json:"started_at"`
	PID         int       `json:"pid,omitempty"`
}

// AuditEvent is an append-only record of a content-safety decision.
type AuditEvent struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// ApprovalRecord tracks a pending-approval lifecycle for audit continuity.
type ApprovalRecord struct {
	ApprovalID string    `json:"approval_id"`
	SenderID   string    `json:"sender_id"`
	Content    string    `json:"content"`
	Status     string    `json:"status"` // pending, approved, denied, expired
	CreatedAt  time.Time `json:"created_at"`
}

// Schema is the base database schema. Migrations for older databases are
// applied best-effort in New.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_conversations_sender ON conversations(sender_id, id);

CREATE TABLE IF NOT EXISTS queue (
	position INTEGER PRIMARY KEY AUTOINCREMENT,
	channel TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS running_task (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	task_id TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	pid INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS dedup (
	handle TEXT PRIMARY KEY,
	seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS audit_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_events(kind);

CREATE TABLE IF NOT EXISTS approvals (
	approval_id TEXT PRIMARY KEY,
	sender_id TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_approvals_sender ON approvals(sender_id, status);
`
