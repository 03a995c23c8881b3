// Package wizard owns the fixed-step profile-setup flow: step progression,
// validation gating, and the staged-commit protocol around the draft store.
// Nothing is persisted to the backend until Complete on the final step,
// with one exception: deleting an already-persisted child, which the draft
// store routes to its deleter immediately.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nestapp/nest/internal/api"
	"github.com/nestapp/nest/internal/commit"
	"github.com/nestapp/nest/internal/draft"
)

// Wizard steps, in order. There are no skipped-step transitions; Skip jumps
// straight to the terminal state.
const (
	StepParent   = 1
	StepAddress  = 2
	StepChildren = 3
	StepReview   = 4

	MaxStep = StepReview
)

// ValidationMode selects how strictly required fields are enforced before
// advancing or completing.
type ValidationMode string

const (
	// ValidationStrict requires a parent nickname and, per child, a name
	// and birthdate.
	ValidationStrict ValidationMode = "strict"
	// ValidationLenient treats every field as optional.
	ValidationLenient ValidationMode = "lenient"
)

var (
	// ErrBusy is returned when an operation arrives while a network
	// request is in flight; the loading flag is the mutual-exclusion gate.
	ErrBusy = errors.New("wizard: operation already in progress")
	// ErrSessionEnded is returned for operations after Skip or a
	// successful Complete; the session's state has been discarded.
	ErrSessionEnded = errors.New("wizard: session has ended")
	// ErrNotFinalStep is returned when Complete is called before the
	// review step.
	ErrNotFinalStep = errors.New("wizard: complete is only available on the final step")
)

// genericFailureMessage is what the user sees for transport failures and
// server errors that carry no detail.
const genericFailureMessage = "Something went wrong while saving your profile. Please try again."

// Committer flushes the staged drafts to the backend.
type Committer interface {
	Flush(ctx context.Context, drafts *draft.Store) (commit.Result, error)
}

// Navigator performs the terminal navigation away from the wizard.
type Navigator interface {
	NavigateHome()
}

// CompletionStore records the persistent setup-completed flag.
type CompletionStore interface {
	MarkSetupCompleted() error
}

// SessionStore persists wizard snapshots so an abandoned session can be
// resumed. Implementations may be nil-safe no-ops in tests.
type SessionStore interface {
	SaveSession(id string, step int, stateJSON string) error
	DeleteSession(id string) error
}

// Fetcher loads existing backend state to pre-fill the drafts.
type Fetcher interface {
	FetchParent(ctx context.Context) (*api.Parent, error)
	FetchChildren(ctx context.Context) ([]api.Child, error)
}

// Config wires a Controller.
type Config struct {
	Drafts     *draft.Store
	Committer  Committer
	Navigator  Navigator
	Completion CompletionStore
	Sessions   SessionStore // optional
	SessionID  string
	Mode       ValidationMode
	Logger     *slog.Logger
}

// Controller sequences the user through the setup steps. It owns the
// WizardState for exactly one session; after Skip or a successful Complete
// the controller is dead and every operation returns ErrSessionEnded.
type Controller struct {
	drafts     *draft.Store
	committer  Committer
	nav        Navigator
	completion CompletionStore
	sessions   SessionStore
	sessionID  string
	mode       ValidationMode
	logger     *slog.Logger

	step        int
	loading     bool
	lastError   string
	highlighted string
	ended       bool
}

// New creates a Controller positioned on the first step.
func New(cfg Config) *Controller {
	mode := cfg.Mode
	if mode == "" {
		mode = ValidationStrict
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	return &Controller{
		drafts:     cfg.Drafts,
		committer:  cfg.Committer,
		nav:        cfg.Navigator,
		completion: cfg.Completion,
		sessions:   cfg.Sessions,
		sessionID:  sessionID,
		mode:       mode,
		logger:     logger,
		step:       StepParent,
	}
}

// Step returns the current step (1..MaxStep).
func (c *Controller) Step() int { return c.step }

// Loading reports whether a network operation is in flight.
func (c *Controller) Loading() bool { return c.loading }

// LastError returns the user-visible message from the most recent failed
// operation, empty when the last operation succeeded.
func (c *Controller) LastError() string { return c.lastError }

// Highlighted returns the id of the most recently added child, for UI
// highlighting.
func (c *Controller) Highlighted() string { return c.highlighted }

// Ended reports whether the session has reached its terminal state.
func (c *Controller) Ended() bool { return c.ended }

// Drafts exposes the staged entity set.
func (c *Controller) Drafts() *draft.Store { return c.drafts }

// LoadExisting pre-fills the drafts from the backend: the existing parent
// profile (if any) and previously persisted children. Fetches are issued
// sequentially; a 401 on either simply yields empty state.
func (c *Controller) LoadExisting(ctx context.Context, f Fetcher) error {
	if err := c.gate(); err != nil {
		return err
	}
	c.loading = true
	defer func() { c.loading = false }()

	parent, err := f.FetchParent(ctx)
	if err != nil {
		c.lastError = userMessage(err)
		return fmt.Errorf("loading existing profile: %w", err)
	}
	if parent != nil {
		c.drafts.SetParent(draft.ParentProfile{
			Nickname:  parent.Nickname,
			Role:      parent.Role,
			BirthYear: parent.BirthYear,
			Region:    parent.Region,
			Language:  parent.Language,
		})
		c.drafts.SetAddress(draft.Address{
			Line1:      parent.AddressLine1,
			Line2:      parent.AddressLine2,
			City:       parent.City,
			State:      parent.State,
			PostalCode: parent.PostalCode,
			Country:    parent.Country,
		})
	}

	children, err := f.FetchChildren(ctx)
	if err != nil {
		c.lastError = userMessage(err)
		return fmt.Errorf("loading existing children: %w", err)
	}
	for _, child := range children {
		tempID := c.drafts.AddChild(draft.Child{
			Name:           child.Name,
			Gender:         child.Gender,
			Birthdate:      child.Birthdate,
			Stage:          child.Stage,
			Education:      child.Education,
			Interests:      child.Interests,
			Traits:         child.Traits,
			Considerations: child.Considerations,
			Challenges:     child.Challenges,
		})
		if err := c.drafts.MarkPersisted(tempID, string(child.ID)); err != nil {
			return fmt.Errorf("registering persisted child %s: %w", child.ID, err)
		}
	}
	c.lastError = ""
	return nil
}

// Advance moves to the next step, clamping at the final one. Leaving the
// parent step validates and stages the parent draft first; every advance
// snapshots the session for resume.
func (c *Controller) Advance(ctx context.Context) error {
	if err := c.gate(); err != nil {
		return err
	}
	if c.step == StepParent && c.mode == ValidationStrict {
		if strings.TrimSpace(c.drafts.Parent().Nickname) == "" {
			c.lastError = "Please tell us what to call you before continuing."
			return errors.New("wizard: parent nickname is required")
		}
	}
	if c.step < MaxStep {
		c.step++
	}
	c.lastError = ""
	c.saveSnapshot()
	return nil
}

// Retreat moves to the previous step, clamping at the first. No staged data
// is discarded.
func (c *Controller) Retreat() error {
	if err := c.gate(); err != nil {
		return err
	}
	if c.step > StepParent {
		c.step--
	}
	c.lastError = ""
	return nil
}

// Skip terminates the wizard immediately, abandoning all uncommitted drafts
// and navigating to the post-setup destination.
func (c *Controller) Skip() error {
	if err := c.gate(); err != nil {
		return err
	}
	c.drafts.Reset()
	c.discardSession()
	c.ended = true
	c.nav.NavigateHome()
	return nil
}

// AddChild stages a new child and highlights it. Gated on the loading flag
// like every submit-triggering action.
func (c *Controller) AddChild(fields draft.Child) (string, error) {
	if err := c.gate(); err != nil {
		return "", err
	}
	if c.mode == ValidationStrict {
		if strings.TrimSpace(fields.Name) == "" {
			c.lastError = "A name is required for each child."
			return "", errors.New("wizard: child name is required")
		}
		if strings.TrimSpace(fields.Birthdate) == "" {
			c.lastError = "A birthdate is required for each child."
			return "", errors.New("wizard: child birthdate is required")
		}
	}
	id := c.drafts.AddChild(fields)
	c.highlighted = id
	c.lastError = ""
	c.saveSnapshot()
	return id, nil
}

// EditChild replaces a staged child in place.
func (c *Controller) EditChild(id string, fields draft.Child) error {
	if err := c.gate(); err != nil {
		return err
	}
	if err := c.drafts.EditChild(id, fields); err != nil {
		return err
	}
	c.lastError = ""
	c.saveSnapshot()
	return nil
}

// DeleteChild removes a staged child; persisted children are also deleted
// from the backend via the draft store's deleter.
func (c *Controller) DeleteChild(ctx context.Context, id string) error {
	if err := c.gate(); err != nil {
		return err
	}
	c.loading = true
	defer func() { c.loading = false }()
	if err := c.drafts.DeleteChild(ctx, id); err != nil {
		if !errors.Is(err, draft.ErrNotFound) {
			c.lastError = userMessage(err)
		}
		return err
	}
	if c.highlighted == id {
		c.highlighted = ""
	}
	c.lastError = ""
	c.saveSnapshot()
	return nil
}

// SetChildTags normalizes and stores a tag set on a staged child.
func (c *Controller) SetChildTags(id string, field draft.TagField, values []string) error {
	if err := c.gate(); err != nil {
		return err
	}
	return c.drafts.SetChildTags(id, field, values)
}

// Complete runs the staged-commit protocol from the final step. On success
// the setup-completed flag is persisted, all drafts are discarded, and the
// session navigates away. On failure the wizard stays on the final step
// with every draft intact for retry; nothing retries automatically.
func (c *Controller) Complete(ctx context.Context) error {
	if err := c.gate(); err != nil {
		return err
	}
	if c.step != MaxStep {
		return ErrNotFinalStep
	}
	if c.mode == ValidationStrict {
		for _, child := range c.drafts.Children() {
			if strings.TrimSpace(child.Name) == "" || strings.TrimSpace(child.Birthdate) == "" {
				c.lastError = "Every child needs a name and a birthdate before finishing."
				return errors.New("wizard: incomplete child draft")
			}
		}
	}

	c.loading = true
	defer func() { c.loading = false }()

	if _, err := c.committer.Flush(ctx, c.drafts); err != nil {
		c.lastError = userMessage(err)
		c.saveSnapshot()
		return err
	}

	if err := c.completion.MarkSetupCompleted(); err != nil {
		// The backend state is committed; a local flag failure must not
		// strand the user in the wizard.
		c.logger.Warn("persisting setup-completed flag failed", "error", err)
	}
	c.drafts.Reset()
	c.discardSession()
	c.lastError = ""
	c.ended = true
	c.nav.NavigateHome()
	return nil
}

// Resume restores a saved snapshot into the drafts and repositions the
// step. Used by setup --resume.
func (c *Controller) Resume(step int, snapshot []byte) error {
	if err := c.gate(); err != nil {
		return err
	}
	if err := c.drafts.Restore(snapshot); err != nil {
		return err
	}
	if step < StepParent {
		step = StepParent
	}
	if step > MaxStep {
		step = MaxStep
	}
	c.step = step
	return nil
}

// gate rejects operations once the session ended or while a request is in
// flight. State updates after the terminal transition would mutate a
// discarded session.
func (c *Controller) gate() error {
	if c.ended {
		return ErrSessionEnded
	}
	if c.loading {
		return ErrBusy
	}
	return nil
}

func (c *Controller) saveSnapshot() {
	if c.sessions == nil {
		return
	}
	data, err := c.drafts.Snapshot()
	if err != nil {
		c.logger.Warn("snapshotting wizard session failed", "error", err)
		return
	}
	if err := c.sessions.SaveSession(c.sessionID, c.step, string(data)); err != nil {
		c.logger.Warn("saving wizard session failed", "error", err)
	}
}

func (c *Controller) discardSession() {
	if c.sessions == nil {
		return
	}
	if err := c.sessions.DeleteSession(c.sessionID); err != nil {
		c.logger.Warn("discarding wizard session failed", "error", err)
	}
}

// userMessage maps an error to the single user-visible string: a server's
// detail field verbatim when present, a generic message otherwise.
func userMessage(err error) string {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return genericFailureMessage
}
