// Package commit flushes staged wizard drafts to the nest backend in a
// fixed order: the merged parent profile first, then each temp child, one
// request at a time. Requests are never issued in parallel; the low
// operation count makes deterministic ordering worth the latency.
package commit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nestapp/nest/internal/api"
	"github.com/nestapp/nest/internal/draft"
)

// Backend is the subset of the REST client the coordinator drives.
type Backend interface {
	SaveParent(ctx context.Context, payload api.ParentPayload) (*api.Parent, error)
	CreateChild(ctx context.Context, child api.Child, idempotencyKey string) (*api.Child, error)
}

// Result reports how far a flush got.
type Result struct {
	ParentSaved bool
	// Created maps each temp identifier to its backend-issued one.
	Created map[string]string
	// FailedChildID is the temp identifier of the child whose create
	// failed, empty on success or parent-stage failure.
	FailedChildID string
}

// Coordinator performs the commit sequence.
type Coordinator struct {
	backend Backend
	logger  *slog.Logger
}

// New creates a Coordinator.
func New(backend Backend) *Coordinator {
	return &Coordinator{backend: backend, logger: slog.Default()}
}

// Flush persists all staged state. The parent profile and address merge
// into a single create-or-update request; if it fails, no child request is
// issued and the drafts stay intact for retry. Temp children then go out in
// array order, each carrying its stable idempotency key; the first failure
// stops the sequence. Children created before the failure are marked
// persisted in the store so a retry skips them.
func (c *Coordinator) Flush(ctx context.Context, drafts *draft.Store) (Result, error) {
	var res Result

	if _, err := c.backend.SaveParent(ctx, MergeParentPayload(drafts.Parent(), drafts.Address())); err != nil {
		return res, fmt.Errorf("saving parent profile: %w", err)
	}
	res.ParentSaved = true
	res.Created = make(map[string]string)

	for _, child := range drafts.TempChildren() {
		created, err := c.backend.CreateChild(ctx, childPayload(child), child.IdempotencyKey)
		if err != nil {
			res.FailedChildID = child.ID
			return res, fmt.Errorf("creating child %q: %w", child.Name, err)
		}
		serverID := string(created.ID)
		if err := drafts.MarkPersisted(child.ID, serverID); err != nil {
			// The draft vanished mid-flush; log and keep going, the
			// backend write already happened.
			c.logger.Warn("created child missing from draft store", "temp_id", child.ID, "server_id", serverID)
		}
		res.Created[child.ID] = serverID
	}
	return res, nil
}

// MergeParentPayload folds the parent profile and the independently staged
// address into the single body POST /profile/parent expects.
func MergeParentPayload(p draft.ParentProfile, a draft.Address) api.ParentPayload {
	return api.ParentPayload{
		Nickname:  p.Nickname,
		Role:      p.Role,
		BirthYear: p.BirthYear,
		Region:    p.Region,
		Language:  p.Language,

		AddressLine1: a.Line1,
		AddressLine2: a.Line2,
		City:         a.City,
		State:        a.State,
		PostalCode:   a.PostalCode,
		Country:      a.Country,
	}
}

// childPayload converts a draft child to its wire form with the temporary
// identifier stripped.
func childPayload(c draft.Child) api.Child {
	return api.Child{
		Name:           c.Name,
		Gender:         c.Gender,
		Birthdate:      c.Birthdate,
		Stage:          c.Stage,
		Education:      c.Education,
		Interests:      c.Interests,
		Traits:         c.Traits,
		Considerations: c.Considerations,
		Challenges:     c.Challenges,
	}
}
