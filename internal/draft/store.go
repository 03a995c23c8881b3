package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an edit or delete targets a child id that is
// not in the store. Callers can distinguish "nothing changed" from "target
// did not exist".
var ErrNotFound = errors.New("draft: child not found")

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ChildDeleter issues (or schedules) the backend delete for a child that
// was already persisted. Deleting temp drafts never reaches it.
type ChildDeleter interface {
	DeleteChild(ctx context.Context, id string) error
}

// Store is the staged entity set for one setup session: the parent profile,
// the address, and the ordered children. It is owned by a single wizard
// session and mutated only on user-initiated events, so it carries no lock.
type Store struct {
	clock   Clock
	deleter ChildDeleter
	newKey  func() string

	parent   ParentProfile
	address  Address
	children []Child
	seq      int
}

// NewStore creates a Store that routes persisted-child deletes through
// deleter. Pass nil if the session can never hold persisted children.
func NewStore(deleter ChildDeleter) *Store {
	return &Store{
		clock:   realClock{},
		deleter: deleter,
		newKey:  uuid.NewString,
	}
}

// NewStoreWithClock creates a Store with a custom clock and idempotency key
// generator (for testing).
func NewStoreWithClock(deleter ChildDeleter, clock Clock, newKey func() string) *Store {
	return &Store{
		clock:   clock,
		deleter: deleter,
		newKey:  newKey,
	}
}

// Parent returns the staged parent profile.
func (s *Store) Parent() ParentProfile { return s.parent }

// SetParent replaces the staged parent profile.
func (s *Store) SetParent(p ParentProfile) { s.parent = p }

// Address returns the staged address.
func (s *Store) Address() Address { return s.address }

// SetAddress replaces the staged address.
func (s *Store) SetAddress(a Address) { s.address = a }

// Children returns a copy of the ordered child drafts. Tag slices are
// copied too, so callers cannot mutate staged state through the result.
func (s *Store) Children() []Child {
	out := make([]Child, len(s.children))
	for i, c := range s.children {
		out[i] = c.clone()
	}
	return out
}

// TempChildren returns, in order, the children that still carry temporary
// identifiers and therefore need a create call at commit time.
func (s *Store) TempChildren() []Child {
	var out []Child
	for _, c := range s.children {
		if IsTempID(c.ID) {
			out = append(out, c.clone())
		}
	}
	return out
}

// Child returns the draft with the given id.
func (s *Store) Child(id string) (Child, error) {
	i := s.index(id)
	if i < 0 {
		return Child{}, ErrNotFound
	}
	return s.children[i].clone(), nil
}

// AddChild stages a new child, assigning a temporary identifier and an
// idempotency key. Tag sets are normalized on the way in. Returns the new
// identifier so the UI can highlight the entry.
func (s *Store) AddChild(fields Child) string {
	fields.ID = s.nextTempID()
	if fields.IdempotencyKey == "" {
		fields.IdempotencyKey = s.newKey()
	}
	normalizeChildTags(&fields)
	s.children = append(s.children, fields)
	return fields.ID
}

// EditChild replaces the draft matching id in place, preserving its
// identifier and idempotency key. Returns ErrNotFound if id is absent.
func (s *Store) EditChild(id string, fields Child) error {
	i := s.index(id)
	if i < 0 {
		return ErrNotFound
	}
	fields.ID = s.children[i].ID
	fields.IdempotencyKey = s.children[i].IdempotencyKey
	normalizeChildTags(&fields)
	s.children[i] = fields
	return nil
}

// DeleteChild removes the draft locally. For a persisted child the backend
// delete is handed to the deleter as well; temp drafts never touch the
// network.
func (s *Store) DeleteChild(ctx context.Context, id string) error {
	i := s.index(id)
	if i < 0 {
		return ErrNotFound
	}
	s.children = append(s.children[:i], s.children[i+1:]...)
	if IsTempID(id) || s.deleter == nil {
		return nil
	}
	if err := s.deleter.DeleteChild(ctx, id); err != nil {
		return fmt.Errorf("deleting child %s: %w", id, err)
	}
	return nil
}

// SetChildTags normalizes values and stores them on the named tag field.
func (s *Store) SetChildTags(id string, field TagField, values []string) error {
	i := s.index(id)
	if i < 0 {
		return ErrNotFound
	}
	normalized := NormalizeTags(values)
	switch field {
	case FieldInterests:
		s.children[i].Interests = normalized
	case FieldTraits:
		s.children[i].Traits = normalized
	case FieldConsiderations:
		s.children[i].Considerations = normalized
	case FieldChallenges:
		s.children[i].Challenges = normalized
	default:
		return fmt.Errorf("unknown tag field %q", field)
	}
	return nil
}

// MarkPersisted swaps a temporary identifier for the backend-issued one
// after a successful create, so a retried commit skips the child.
func (s *Store) MarkPersisted(tempID, serverID string) error {
	i := s.index(tempID)
	if i < 0 {
		return ErrNotFound
	}
	s.children[i].ID = serverID
	return nil
}

// Reset discards all staged state.
func (s *Store) Reset() {
	s.parent = ParentProfile{}
	s.address = Address{}
	s.children = nil
}

// sessionState is the serialized form of the store used for resumable
// wizard sessions.
type sessionState struct {
	Parent   ParentProfile `json:"parent"`
	Address  Address       `json:"address"`
	Children []Child       `json:"children"`
}

// Snapshot serializes the staged state for local persistence.
func (s *Store) Snapshot() ([]byte, error) {
	return json.Marshal(sessionState{
		Parent:   s.parent,
		Address:  s.address,
		Children: s.children,
	})
}

// Restore replaces the staged state with a previously taken snapshot.
func (s *Store) Restore(data []byte) error {
	var st sessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("restoring session snapshot: %w", err)
	}
	s.parent = st.Parent
	s.address = st.Address
	s.children = st.Children
	return nil
}

func (s *Store) index(id string) int {
	for i, c := range s.children {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// nextTempID builds a temp_-prefixed token from the creation timestamp. The
// sequence counter keeps ids unique when two drafts are created inside the
// clock's resolution.
func (s *Store) nextTempID() string {
	s.seq++
	return fmt.Sprintf("%s%d_%d", TempIDPrefix, s.clock.Now().UnixMilli(), s.seq)
}

// clone copies c's tag slices so the returned value does not alias the
// store's entry.
func (c Child) clone() Child {
	c.Interests = append([]string(nil), c.Interests...)
	c.Traits = append([]string(nil), c.Traits...)
	c.Considerations = append([]string(nil), c.Considerations...)
	c.Challenges = append([]string(nil), c.Challenges...)
	return c
}

func normalizeChildTags(c *Child) {
	c.Interests = NormalizeTags(c.Interests)
	c.Traits = NormalizeTags(c.Traits)
	c.Considerations = NormalizeTags(c.Considerations)
	c.Challenges = NormalizeTags(c.Challenges)
}
