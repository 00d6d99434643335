// Package store provides durable state for relayclaw: conversation history,
// the turn queue, the running-task marker, settings, the inbound dedup
// ledger, and the audit event log.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrTaskExists is returned by SetRunningTask when a task is already marked.
var ErrTaskExists = errors.New("a running task already exists")

type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the state database at dbPath.
func New(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migrations for existing dbs (no-op when the column exists).
	_, _ = db.Exec(`ALTER TABLE queue ADD COLUMN channel TEXT NOT NULL DEFAULT 'whatsapp'`)
	_, _ = db.Exec(`ALTER TABLE running_task ADD COLUMN pid INTEGER NOT NULL DEFAULT 0`)
	_, _ = db.Exec(`ALTER TABLE approvals ADD COLUMN content TEXT NOT NULL DEFAULT ''`)

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Conversation history
// ---------------------------------------------------------------------------

// AppendConversation appends one record to a sender's history.
func (s *Store) AppendConversation(senderID, role, content string) error {
	_, err := s.db.Exec(
		`INSERT INTO conversations (sender_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		senderID, role, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

// RecentConversation returns up to n most recent records for a sender in
// chronological order.
func (s *Store) RecentConversation(senderID string, n int) ([]ConversationRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, sender_id, role, content, created_at
		 FROM conversations WHERE sender_id = ?
		 ORDER BY id DESC LIMIT ?`, senderID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	defer rows.Close()

	var records []ConversationRecord
	for rows.Next() {
		var r ConversationRecord
		if err := rows.Scan(&r.ID, &r.SenderID, &r.Role, &r.Content, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// TrimConversation deletes all but the most recent window records for a sender.
func (s *Store) TrimConversation(senderID string, window int) error {
	_, err := s.db.Exec(
		`DELETE FROM conversations WHERE sender_id = ? AND id NOT IN (
			SELECT id FROM conversations WHERE sender_id = ? ORDER BY id DESC LIMIT ?
		)`, senderID, senderID, window,
	)
	if err != nil {
		return fmt.Errorf("trim conversation: %w", err)
	}
	return nil
}

// ClearConversation deletes a sender's entire history.
func (s *Store) ClearConversation(senderID string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE sender_id = ?`, senderID)
	return err
}

// ---------------------------------------------------------------------------
// Durable turn queue
// ---------------------------------------------------------------------------

// Enqueue appends a turn to the durable queue and returns its 1-based
// position among the turns currently waiting.
func (s *Store) Enqueue(channel, senderID, chatID, content string) (int64, error) {
	_, err := s.db.Exec(
		`INSERT INTO queue (channel, sender_id, chat_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		channel, senderID, chatID, content, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	var pos int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM queue`).Scan(&pos); err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	return pos, nil
}

// PeekNext returns the oldest queued turn, or nil when the queue is empty.
func (s *Store) PeekNext() (*QueuedTurn, error) {
	row := s.db.QueryRow(
		`SELECT position, channel, sender_id, chat_id, content, created_at
		 FROM queue ORDER BY position LIMIT 1`,
	)
	var q QueuedTurn
	err := row.Scan(&q.Position, &q.Channel, &q.SenderID, &q.ChatID, &q.Content, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek queue: %w", err)
	}
	return &q, nil
}

// Remove deletes a queued turn by position.
func (s *Store) Remove(position int64) error {
	_, err := s.db.Exec(`DELETE FROM queue WHERE position = ?`, position)
	return err
}

// QueueLength returns the number of queued turns.
func (s *Store) QueueLength() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM queue`).Scan(&n)
	return n, err
}

// ListQueue returns up to limit queued turns in FIFO order.
func (s *Store) ListQueue(limit int) ([]QueuedTurn, error) {
	rows, err := s.db.Query(
		`SELECT position, channel, sender_id, chat_id, content, created_at
		 FROM queue ORDER BY position LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueuedTurn
	for rows.Next() {
		var q QueuedTurn
		if err := rows.Scan(&q.Position, &q.Channel, &q.SenderID, &q.ChatID, &q.Content, &q.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Running task (single-flight marker)
// ---------------------------------------------------------------------------

// SetRunningTask marks a task as in flight. Returns ErrTaskExists when one is
// already marked; the at-most-one invariant is enforced by the singleton row.
func (s *Store) SetRunningTask(t *RunningTask) error {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO running_task (id, task_id, description, pid, started_at) VALUES (1, ?, ?, ?, ?)`,
		t.TaskID, t.Description, t.PID, t.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("set running task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskExists
	}
	return nil
}

// GetRunningTask returns the in-flight task, or nil when idle.
func (s *Store) GetRunningTask() (*RunningTask, error) {
	row := s.db.QueryRow(`SELECT task_id, description, pid, started_at FROM running_task WHERE id = 1`)
	var t RunningTask
	err := row.Scan(&t.TaskID, &t.Description, &t.PID, &t.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get running task: %w", err)
	}
	return &t, nil
}

// ClearRunningTask removes the in-flight marker. Idempotent.
func (s *Store) ClearRunningTask() error {
	_, err := s.db.Exec(`DELETE FROM running_task WHERE id = 1`)
	return err
}

// ---------------------------------------------------------------------------
// Settings (generic key-value state)
// ---------------------------------------------------------------------------

// GetSetting returns the value for key, or "" when unset.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetSetting upserts a key-value pair.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return err
}

// ---------------------------------------------------------------------------
// Inbound dedup ledger
// ---------------------------------------------------------------------------

// SeenHandle reports whether a transport handle was already ingested.
func (s *Store) SeenHandle(handle string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM dedup WHERE handle = ?`, handle).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// MarkHandle records a transport handle as ingested.
func (s *Store) MarkHandle(handle string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO dedup (handle, seen_at) VALUES (?, ?)`, handle, time.Now().UTC())
	return err
}

// PurgeHandles removes ledger entries older than ttl and returns the count.
func (s *Store) PurgeHandles(ttl time.Duration) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM dedup WHERE seen_at < ?`, time.Now().UTC().Add(-ttl))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---------------------------------------------------------------------------
// Audit events
// ---------------------------------------------------------------------------

// Append writes one audit event. Implements the guard's AuditSink.
func (s *Store) Append(kind, details string) error {
	_, err := s.db.Exec(
		`INSERT INTO audit_events (kind, details, created_at) VALUES (?, ?, ?)`,
		kind, details, time.Now().UTC(),
	)
	return err
}

// RecentAudit returns up to n most recent audit events, newest first.
func (s *Store) RecentAudit(n int) ([]AuditEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, kind, details, created_at FROM audit_events ORDER BY id DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.Kind, &e.Details, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountAudit returns the number of stored events of a given kind.
func (s *Store) CountAudit(kind string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM audit_events WHERE kind = ?`, kind).Scan(&n)
	return n, err
}

// ---------------------------------------------------------------------------
// Approvals
// ---------------------------------------------------------------------------

// InsertApproval records a new pending approval.
func (s *Store) InsertApproval(approvalID, senderID, content string) error {
	_, err := s.db.Exec(
		`INSERT INTO approvals (approval_id, sender_id, content, status, created_at) VALUES (?, ?, ?, 'pending', ?)`,
		approvalID, senderID, content, time.Now().UTC(),
	)
	return err
}

// UpdateApprovalStatus transitions an approval's lifecycle state.
func (s *Store) UpdateApprovalStatus(approvalID, status string) error {
	_, err := s.db.Exec(`UPDATE approvals SET status = ? WHERE approval_id = ?`, status, approvalID)
	return err
}

// ExpirePendingApprovals marks all pending approvals expired. Used at startup
// for leftovers from a previous process.
func (s *Store) ExpirePendingApprovals() error {
	_, err := s.db.Exec(`UPDATE approvals SET status = 'expired' WHERE status = 'pending'`)
	return err
}
