package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversationAppendAndRecent(t *testing.T) {
	s := newTestStore(t)

	turns := []struct{ role, content string }{
		{RoleUser, "first question"},
		{RoleAgent, "first answer"},
		{RoleUser, "second question"},
	}
	for _, turn := range turns {
		if err := s.AppendConversation("alice", turn.role, turn.content); err != nil {
			t.Fatalf("AppendConversation: %v", err)
		}
	}

	got, err := s.RecentConversation("alice", 10)
	if err != nil {
		t.Fatalf("RecentConversation: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	// Chronological order, oldest first.
	if got[0].Content != "first question" || got[2].Content != "second question" {
		t.Errorf("wrong order: %v", got)
	}

	// Limits apply from the newest end.
	got, err = s.RecentConversation("alice", 2)
	if err != nil {
		t.Fatalf("RecentConversation: %v", err)
	}
	if len(got) != 2 || got[0].Content != "first answer" {
		t.Errorf("window = %v", got)
	}

	// Senders are isolated.
	if got, _ := s.RecentConversation("bob", 10); len(got) != 0 {
		t.Errorf("bob should have no history, got %v", got)
	}
}

func TestTrimConversation(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 10; i++ {
		if err := s.AppendConversation("alice", RoleUser, "msg"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.TrimConversation("alice", 4); err != nil {
		t.Fatalf("TrimConversation: %v", err)
	}
	got, _ := s.RecentConversation("alice", 100)
	if len(got) != 4 {
		t.Errorf("after trim: %d records, want 4", len(got))
	}
}

func TestClearConversation(t *testing.T) {
	s := newTestStore(t)
	_ = s.AppendConversation("alice", RoleUser, "msg")
	if err := s.ClearConversation("alice"); err != nil {
		t.Fatalf("ClearConversation: %v", err)
	}
	if got, _ := s.RecentConversation("alice", 10); len(got) != 0 {
		t.Errorf("history not cleared: %v", got)
	}
}

func TestQueueFIFO(t *testing.T) {
	s := newTestStore(t)

	p1, err := s.Enqueue("slack", "alice", "C1", "first")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	p2, _ := s.Enqueue("slack", "bob", "C2", "second")
	if p2 <= p1 {
		t.Fatalf("positions not increasing: %d then %d", p1, p2)
	}

	if n, _ := s.QueueLength(); n != 2 {
		t.Fatalf("QueueLength = %d, want 2", n)
	}

	next, err := s.PeekNext()
	if err != nil || next == nil {
		t.Fatalf("PeekNext: %v %v", next, err)
	}
	if next.Content != "first" {
		t.Errorf("PeekNext = %q, want first", next.Content)
	}
	if err := s.Remove(next.Position); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	next, _ = s.PeekNext()
	if next == nil || next.Content != "second" {
		t.Errorf("after remove, PeekNext = %v", next)
	}
	_ = s.Remove(next.Position)

	next, err = s.PeekNext()
	if err != nil {
		t.Fatalf("PeekNext on empty: %v", err)
	}
	if next != nil {
		t.Errorf("empty queue should peek nil, got %v", next)
	}
}

func TestQueuePositionResetsAfterDrain(t *testing.T) {
	s := newTestStore(t)

	if pos, _ := s.Enqueue("slack", "alice", "C1", "first"); pos != 1 {
		t.Fatalf("first position = %d, want 1", pos)
	}
	next, _ := s.PeekNext()
	if err := s.Remove(next.Position); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	// An empty queue reports position 1 again for the next arrival.
	if pos, _ := s.Enqueue("slack", "bob", "C2", "second"); pos != 1 {
		t.Errorf("position after drain = %d, want 1", pos)
	}
	if pos, _ := s.Enqueue("slack", "carol", "C3", "third"); pos != 2 {
		t.Errorf("second waiting position = %d, want 2", pos)
	}
}

func TestRunningTaskSingleFlight(t *testing.T) {
	s := newTestStore(t)

	if task, err := s.GetRunningTask(); err != nil || task != nil {
		t.Fatalf("idle state: task=%v err=%v", task, err)
	}

	first := &RunningTask{TaskID: "t1", Description: "build", StartedAt: time.Now()}
	if err := s.SetRunningTask(first); err != nil {
		t.Fatalf("SetRunningTask: %v", err)
	}
	err := s.SetRunningTask(&RunningTask{TaskID: "t2", Description: "other", StartedAt: time.Now()})
	if !errors.Is(err, ErrTaskExists) {
		t.Fatalf("second task err = %v, want ErrTaskExists", err)
	}

	task, err := s.GetRunningTask()
	if err != nil || task == nil || task.TaskID != "t1" {
		t.Fatalf("GetRunningTask = %v, %v", task, err)
	}

	if err := s.ClearRunningTask(); err != nil {
		t.Fatalf("ClearRunningTask: %v", err)
	}
	// Idempotent.
	if err := s.ClearRunningTask(); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if task, _ := s.GetRunningTask(); task != nil {
		t.Errorf("task survived clear: %v", task)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)

	if v, err := s.GetSetting("missing"); err != nil || v != "" {
		t.Fatalf("unset key: %q, %v", v, err)
	}
	if err := s.SetSetting("workdir", "/tmp/a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting("workdir", "/tmp/b"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if v, _ := s.GetSetting("workdir"); v != "/tmp/b" {
		t.Errorf("GetSetting = %q, want /tmp/b", v)
	}
}

func TestDedupLedger(t *testing.T) {
	s := newTestStore(t)

	if seen, err := s.SeenHandle("wa:1"); err != nil || seen {
		t.Fatalf("fresh handle: seen=%v err=%v", seen, err)
	}
	if err := s.MarkHandle("wa:1"); err != nil {
		t.Fatal(err)
	}
	// Marking twice is fine.
	if err := s.MarkHandle("wa:1"); err != nil {
		t.Fatalf("re-mark: %v", err)
	}
	if seen, _ := s.SeenHandle("wa:1"); !seen {
		t.Error("marked handle not seen")
	}

	if _, err := s.PurgeHandles(time.Nanosecond); err != nil {
		t.Fatalf("PurgeHandles: %v", err)
	}
}

func TestAuditEvents(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("content_sanitized", "patterns=from_me_flag"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	_ = s.Append("rate_limit_exceeded", "sender=alice")

	events, err := s.RecentAudit(10)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}

	if n, _ := s.CountAudit("content_sanitized"); n != 1 {
		t.Errorf("CountAudit = %d, want 1", n)
	}
}

func TestApprovals(t *testing.T) {
	s := newTestStore(t)

	if err := s.InsertApproval("a1", "alice", "rm -rf build"); err != nil {
		t.Fatalf("InsertApproval: %v", err)
	}
	if err := s.UpdateApprovalStatus("a1", "approved"); err != nil {
		t.Fatalf("UpdateApprovalStatus: %v", err)
	}
	if err := s.ExpirePendingApprovals(); err != nil {
		t.Fatalf("ExpirePendingApprovals: %v", err)
	}
}
