package approval

import (
	"testing"

	"github.com/RelayClaw/RelayClaw/internal/bus"
)

type fakeLedger struct {
	inserted []string
	statuses map[string]string
	expired  bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{statuses: make(map[string]string)}
}

func (l *fakeLedger) InsertApproval(id, senderID, content string) error {
	l.inserted = append(l.inserted, id)
	l.statuses[id] = StatusPending
	return nil
}

func (l *fakeLedger) UpdateApprovalStatus(id, status string) error {
	l.statuses[id] = status
	return nil
}

func (l *fakeLedger) ExpirePendingApprovals() error {
	l.expired = true
	return nil
}

func TestManagerExpiresStaleOnStartup(t *testing.T) {
	ledger := newFakeLedger()
	NewManager(ledger)
	if !ledger.expired {
		t.Error("stale approvals not expired at startup")
	}
}

func TestCreateGetResolve(t *testing.T) {
	ledger := newFakeLedger()
	m := NewManager(ledger)

	turn := bus.Turn{Channel: "slack", SenderID: "alice", ChatID: "C1", Content: "rm -rf build"}
	id := m.Create(turn, "rm -rf")
	if id == "" {
		t.Fatal("empty approval id")
	}

	p := m.Get("alice")
	if p == nil || p.Turn.Content != "rm -rf build" {
		t.Fatalf("Get = %v", p)
	}
	if m.Get("bob") != nil {
		t.Error("approvals must be per sender")
	}

	resolved, err := m.Resolve("alice", true)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Turn.SenderID != "alice" {
		t.Errorf("resolved turn = %+v", resolved.Turn)
	}
	if ledger.statuses[id] != StatusApproved {
		t.Errorf("ledger status = %q, want approved", ledger.statuses[id])
	}

	// Pending slot is consumed.
	if m.Get("alice") != nil {
		t.Error("approval survived resolution")
	}
	if _, err := m.Resolve("alice", true); err == nil {
		t.Error("resolving twice should fail")
	}
}

func TestNewRequestReplacesOldOne(t *testing.T) {
	ledger := newFakeLedger()
	m := NewManager(ledger)

	first := m.Create(bus.Turn{SenderID: "alice", Content: "old"}, "r1")
	second := m.Create(bus.Turn{SenderID: "alice", Content: "new"}, "r2")

	if p := m.Get("alice"); p == nil || p.Turn.Content != "new" {
		t.Fatalf("pending = %v, want the newer request", p)
	}
	if ledger.statuses[first] != StatusExpired {
		t.Errorf("replaced approval status = %q, want expired", ledger.statuses[first])
	}
	if ledger.statuses[second] != StatusPending {
		t.Errorf("new approval status = %q, want pending", ledger.statuses[second])
	}
}

func TestDenyRecordsDenied(t *testing.T) {
	ledger := newFakeLedger()
	m := NewManager(ledger)

	id := m.Create(bus.Turn{SenderID: "alice", Content: "drop table users"}, "sql")
	if _, err := m.Resolve("alice", false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ledger.statuses[id] != StatusDenied {
		t.Errorf("status = %q, want denied", ledger.statuses[id])
	}
}
