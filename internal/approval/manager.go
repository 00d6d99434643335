// Package approval gates turns with destructive intent behind an explicit
// yes/no from the sender.
package approval

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/RelayClaw/RelayClaw/internal/bus"
)

const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusExpired  = "expired"
)

// Pending is an inbound turn held until its sender approves or denies it.
type Pending struct {
	ApprovalID string
	Turn       bus.Turn
	Reason     string
	CreatedAt  time.Time
}

// Ledger persists approval records. The store implements it.
type Ledger interface {
	InsertApproval(id, senderID, content string) error
	UpdateApprovalStatus(id, status string) error
	ExpirePendingApprovals() error
}

// Manager holds at most one pending approval per sender.
type Manager struct {
	mu      sync.Mutex
	pending map[string]*Pending // keyed by sender ID
	ledger  Ledger
}

// NewManager creates an approval manager. ledger may be nil.
// Any approvals left pending by a previous process are expired on startup.
func NewManager(ledger Ledger) *Manager {
	m := &Manager{
		pending: make(map[string]*Pending),
		ledger:  ledger,
	}
	if ledger != nil {
		_ = ledger.ExpirePendingApprovals()
	}
	return m
}

// Create parks a turn pending its sender's decision and returns the
// approval ID. A newer request from the same sender replaces the old one,
// which is marked expired.
func (m *Manager) Create(turn bus.Turn, reason string) string {
	id := newApprovalID()
	p := &Pending{
		ApprovalID: id,
		Turn:       turn,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}

	m.mu.Lock()
	prev := m.pending[turn.SenderID]
	m.pending[turn.SenderID] = p
	m.mu.Unlock()

	if m.ledger != nil {
		if prev != nil {
			_ = m.ledger.UpdateApprovalStatus(prev.ApprovalID, StatusExpired)
		}
		_ = m.ledger.InsertApproval(id, turn.SenderID, turn.Content)
	}
	return id
}

// Get returns the sender's pending approval, or nil.
func (m *Manager) Get(senderID string) *Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[senderID]
}

// Resolve removes the sender's pending approval and records the decision.
// It returns the parked turn so an approved one can be dispatched.
func (m *Manager) Resolve(senderID string, approved bool) (*Pending, error) {
	m.mu.Lock()
	p, ok := m.pending[senderID]
	if ok {
		delete(m.pending, senderID)
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no pending approval for sender %s", senderID)
	}

	status := StatusDenied
	if approved {
		status = StatusApproved
	}
	if m.ledger != nil {
		_ = m.ledger.UpdateApprovalStatus(p.ApprovalID, status)
	}
	return p, nil
}

func newApprovalID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return fmt.Sprintf("appr-%d", time.Now().UnixNano())
}
