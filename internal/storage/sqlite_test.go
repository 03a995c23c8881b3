package storage

import (
	"errors"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetState("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetState(missing) = %v, want ErrNotFound", err)
	}

	if err := s.SetState("k", "v1"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := s.SetState("k", "v2"); err != nil {
		t.Fatalf("SetState upsert: %v", err)
	}
	v, err := s.GetState("k")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if v != "v2" {
		t.Errorf("value = %q, want %q", v, "v2")
	}
}

func TestSetupCompletedFlag(t *testing.T) {
	s := openTestStore(t)

	done, err := s.SetupCompleted()
	if err != nil {
		t.Fatalf("SetupCompleted: %v", err)
	}
	if done {
		t.Error("fresh store should not report setup completed")
	}

	if err := s.MarkSetupCompleted(); err != nil {
		t.Fatalf("MarkSetupCompleted: %v", err)
	}
	done, err = s.SetupCompleted()
	if err != nil {
		t.Fatalf("SetupCompleted: %v", err)
	}
	if !done {
		t.Error("flag not persisted")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.LoadSession("default"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadSession(missing) = %v, want ErrNotFound", err)
	}

	if err := s.SaveSession("default", 2, `{"children":[]}`); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.SaveSession("default", 3, `{"children":[{"name":"Mia"}]}`); err != nil {
		t.Fatalf("SaveSession upsert: %v", err)
	}

	ws, err := s.LoadSession("default")
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if ws.Step != 3 {
		t.Errorf("step = %d, want 3", ws.Step)
	}
	if ws.StateJSON != `{"children":[{"name":"Mia"}]}` {
		t.Errorf("state = %q", ws.StateJSON)
	}

	if err := s.DeleteSession("default"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := s.LoadSession("default"); !errors.Is(err, ErrNotFound) {
		t.Error("session should be gone after delete")
	}
}

func TestPendingDeleteLifecycle(t *testing.T) {
	s := openTestStore(t)

	if d, err := s.ClaimNextDelete(); err != nil || d != nil {
		t.Fatalf("empty queue: d=%v err=%v", d, err)
	}

	if err := s.EnqueueDelete(PendingDelete{ID: "pd-1", ChildID: "7"}); err != nil {
		t.Fatalf("EnqueueDelete: %v", err)
	}

	d, err := s.ClaimNextDelete()
	if err != nil {
		t.Fatalf("ClaimNextDelete: %v", err)
	}
	if d == nil || d.ChildID != "7" || d.Status != "running" {
		t.Fatalf("claimed = %+v", d)
	}

	// A running entry cannot be claimed again.
	if again, err := s.ClaimNextDelete(); err != nil || again != nil {
		t.Fatalf("double claim: d=%v err=%v", again, err)
	}

	if err := s.CompleteDelete(d.ID); err != nil {
		t.Fatalf("CompleteDelete: %v", err)
	}
	if err := s.CompleteDelete("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteDelete(missing) = %v, want ErrNotFound", err)
	}
}

func TestFailDeleteBacksOffThenFails(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueDelete(PendingDelete{ID: "pd-1", ChildID: "7", MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueDelete: %v", err)
	}
	d, err := s.ClaimNextDelete()
	if err != nil || d == nil {
		t.Fatalf("claim: d=%v err=%v", d, err)
	}

	// First failure re-queues with a future run_after.
	if err := s.FailDelete(d.ID, "boom"); err != nil {
		t.Fatalf("FailDelete: %v", err)
	}
	if again, err := s.ClaimNextDelete(); err != nil || again != nil {
		t.Fatalf("backoff not honored: d=%v err=%v", again, err)
	}

	// Second failure exhausts max_attempts.
	var status string
	if err := s.FailDelete(d.ID, "boom again"); err != nil {
		t.Fatalf("FailDelete: %v", err)
	}
	if err := s.db.QueryRow("SELECT status FROM pending_deletes WHERE id = ?", d.ID).Scan(&status); err != nil {
		t.Fatalf("querying status: %v", err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want failed", status)
	}
}
