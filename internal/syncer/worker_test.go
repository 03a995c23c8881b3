package syncer

import (
	"context"
	"errors"
	"testing"

	"github.com/nestapp/nest/internal/api"
	"github.com/nestapp/nest/internal/storage"
)

// mockQueue is an in-memory DeleteQueue with a single claimable entry.
type mockQueue struct {
	entries   []storage.PendingDelete
	completed []string
	failed    map[string]string
}

func newMockQueue() *mockQueue {
	return &mockQueue{failed: map[string]string{}}
}

func (m *mockQueue) EnqueueDelete(d storage.PendingDelete) error {
	d.Status = "pending"
	m.entries = append(m.entries, d)
	return nil
}

func (m *mockQueue) ClaimNextDelete() (*storage.PendingDelete, error) {
	for i := range m.entries {
		if m.entries[i].Status == "pending" {
			m.entries[i].Status = "running"
			d := m.entries[i]
			return &d, nil
		}
	}
	return nil, nil
}

func (m *mockQueue) CompleteDelete(id string) error {
	m.completed = append(m.completed, id)
	return nil
}

func (m *mockQueue) FailDelete(id string, errMsg string) error {
	m.failed[id] = errMsg
	return nil
}

type mockBackend struct {
	err   error
	calls []string
}

func (m *mockBackend) DeleteChild(ctx context.Context, id string) error {
	m.calls = append(m.calls, id)
	return m.err
}

func TestRunOnceEmptyQueue(t *testing.T) {
	w := NewWorker(newMockQueue(), &mockBackend{}, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("done = true on an empty queue")
	}
}

func TestRunOnceReplaysDelete(t *testing.T) {
	q := newMockQueue()
	q.EnqueueDelete(storage.PendingDelete{ID: "pd-1", ChildID: "7"})
	backend := &mockBackend{}
	w := NewWorker(q, backend, 0)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("done = false with a queued entry")
	}
	if len(backend.calls) != 1 || backend.calls[0] != "7" {
		t.Errorf("backend calls = %v", backend.calls)
	}
	if len(q.completed) != 1 || q.completed[0] != "pd-1" {
		t.Errorf("completed = %v", q.completed)
	}
}

func TestRunOnceFailureRecordsError(t *testing.T) {
	q := newMockQueue()
	q.EnqueueDelete(storage.PendingDelete{ID: "pd-1", ChildID: "7"})
	backend := &mockBackend{err: &api.APIError{StatusCode: 500, Detail: "database unavailable"}}
	w := NewWorker(q, backend, 0)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("done = false")
	}
	if len(q.completed) != 0 {
		t.Error("failed delete must not be completed")
	}
	if _, ok := q.failed["pd-1"]; !ok {
		t.Errorf("failure not recorded: %v", q.failed)
	}
}

func TestRunOnceTreats404AsSuccess(t *testing.T) {
	q := newMockQueue()
	q.EnqueueDelete(storage.PendingDelete{ID: "pd-1", ChildID: "7"})
	backend := &mockBackend{err: &api.APIError{StatusCode: 404, Detail: "child not found"}}
	w := NewWorker(q, backend, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(q.completed) != 1 {
		t.Error("404 should complete the entry, the child is already gone")
	}
	if len(q.failed) != 0 {
		t.Errorf("404 recorded as failure: %v", q.failed)
	}
}

func TestRunOnceTransportErrorIsRetried(t *testing.T) {
	q := newMockQueue()
	q.EnqueueDelete(storage.PendingDelete{ID: "pd-1", ChildID: "7"})
	backend := &mockBackend{err: errors.New("dial tcp: connection refused")}
	w := NewWorker(q, backend, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(q.completed) != 0 {
		t.Error("transport failure must not complete the entry")
	}
	if q.failed["pd-1"] == "" {
		t.Error("transport failure should be recorded for backoff")
	}
}

func TestQueueDeleterEnqueues(t *testing.T) {
	q := newMockQueue()
	d := NewQueueDeleter(q)

	if err := d.DeleteChild(context.Background(), "7"); err != nil {
		t.Fatalf("DeleteChild: %v", err)
	}
	if len(q.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(q.entries))
	}
	if q.entries[0].ChildID != "7" {
		t.Errorf("child id = %q", q.entries[0].ChildID)
	}
	if q.entries[0].ID == "" {
		t.Error("entry id must be assigned")
	}
}
