package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// StateSetupCompleted is the client state key flipped to "true" once the
// setup wizard has committed successfully.
const StateSetupCompleted = "setup_completed"

// WizardSession is a persisted snapshot of an in-progress setup wizard so
// an abandoned session can be resumed.
type WizardSession struct {
	ID        string
	Step      int
	StateJSON string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PendingDelete is a scheduled backend delete for a persisted child. The
// queue retries with exponential backoff until max attempts is reached.
type PendingDelete struct {
	ID          string
	ChildID     string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
