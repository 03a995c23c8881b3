// Package syncer drains the local pending-deletes queue against the nest
// backend. Child deletes issued from the wizard are recorded locally first
// so they survive crashes and flaky connectivity, then replayed here.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nestapp/nest/internal/api"
	"github.com/nestapp/nest/internal/storage"
)

// DeleteQueue abstracts the pending-delete queue operations.
type DeleteQueue interface {
	EnqueueDelete(d storage.PendingDelete) error
	ClaimNextDelete() (*storage.PendingDelete, error)
	CompleteDelete(id string) error
	FailDelete(id string, errMsg string) error
}

// BackendDeleter issues the DELETE request to the backend.
type BackendDeleter interface {
	DeleteChild(ctx context.Context, id string) error
}

// Worker replays queued child deletes against the backend.
type Worker struct {
	queue   DeleteQueue
	backend BackendDeleter
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 2s.
func NewWorker(queue DeleteQueue, backend BackendDeleter, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Worker{
		queue:   queue,
		backend: backend,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("delete worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and replays a single pending delete. Returns true if an
// entry was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	d, err := w.queue.ClaimNextDelete()
	if err != nil {
		return false, fmt.Errorf("claiming pending delete: %w", err)
	}
	if d == nil {
		return false, nil
	}

	if err := w.deleteChild(ctx, d.ChildID); err != nil {
		w.logger.Warn("child delete failed", "child_id", d.ChildID, "error", err)
		if failErr := w.queue.FailDelete(d.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to record delete failure", "id", d.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.queue.CompleteDelete(d.ID); err != nil {
		return true, fmt.Errorf("completing delete %s: %w", d.ID, err)
	}
	return true, nil
}

// deleteChild issues the backend delete. A 404 means the child is already
// gone, which is the outcome we wanted.
func (w *Worker) deleteChild(ctx context.Context, childID string) error {
	err := w.backend.DeleteChild(ctx, childID)
	if err == nil {
		return nil
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
		w.logger.Info("child already deleted on backend", "child_id", childID)
		return nil
	}
	return err
}

// QueueDeleter adapts the pending-delete queue to the draft store's deleter
// interface: deleting a persisted child from the wizard enqueues the backend
// call rather than issuing it inline.
type QueueDeleter struct {
	queue DeleteQueue
}

// NewQueueDeleter creates a QueueDeleter.
func NewQueueDeleter(queue DeleteQueue) *QueueDeleter {
	return &QueueDeleter{queue: queue}
}

// DeleteChild schedules a backend delete for the child.
func (q *QueueDeleter) DeleteChild(ctx context.Context, id string) error {
	if err := q.queue.EnqueueDelete(storage.PendingDelete{
		ID:      uuid.NewString(),
		ChildID: id,
	}); err != nil {
		return fmt.Errorf("scheduling delete for child %s: %w", id, err)
	}
	return nil
}
