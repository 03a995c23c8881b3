package wizard

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nestapp/nest/internal/api"
	"github.com/nestapp/nest/internal/commit"
	"github.com/nestapp/nest/internal/draft"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type mockCommitter struct {
	err   error
	calls int
	// persist marks every temp child persisted, mimicking a full flush.
	persist bool
}

func (m *mockCommitter) Flush(ctx context.Context, drafts *draft.Store) (commit.Result, error) {
	m.calls++
	if m.err != nil {
		return commit.Result{}, m.err
	}
	res := commit.Result{ParentSaved: true, Created: map[string]string{}}
	if m.persist {
		for i, c := range drafts.TempChildren() {
			serverID := fmt.Sprintf("%d", 100+i)
			drafts.MarkPersisted(c.ID, serverID)
			res.Created[c.ID] = serverID
		}
	}
	return res, nil
}

type mockNavigator struct{ homeCalls int }

func (m *mockNavigator) NavigateHome() { m.homeCalls++ }

type mockCompletion struct {
	err   error
	calls int
}

func (m *mockCompletion) MarkSetupCompleted() error {
	m.calls++
	return m.err
}

type mockSessions struct {
	saved   map[string]string
	steps   map[string]int
	deleted []string
}

func newMockSessions() *mockSessions {
	return &mockSessions{saved: map[string]string{}, steps: map[string]int{}}
}

func (m *mockSessions) SaveSession(id string, step int, stateJSON string) error {
	m.saved[id] = stateJSON
	m.steps[id] = step
	return nil
}

func (m *mockSessions) DeleteSession(id string) error {
	m.deleted = append(m.deleted, id)
	delete(m.saved, id)
	return nil
}

type mockFetcher struct {
	parent   *api.Parent
	children []api.Child
}

func (m *mockFetcher) FetchParent(ctx context.Context) (*api.Parent, error) { return m.parent, nil }
func (m *mockFetcher) FetchChildren(ctx context.Context) ([]api.Child, error) {
	return m.children, nil
}

type harness struct {
	ctrl       *Controller
	drafts     *draft.Store
	committer  *mockCommitter
	nav        *mockNavigator
	completion *mockCompletion
	sessions   *mockSessions
}

func newHarness(t *testing.T, mode ValidationMode) *harness {
	t.Helper()
	n := 0
	drafts := draft.NewStoreWithClock(nil, fixedClock{now: time.Unix(1717243200, 0)}, func() string {
		n++
		return fmt.Sprintf("key-%d", n)
	})
	h := &harness{
		drafts:     drafts,
		committer:  &mockCommitter{persist: true},
		nav:        &mockNavigator{},
		completion: &mockCompletion{},
		sessions:   newMockSessions(),
	}
	h.ctrl = New(Config{
		Drafts:     drafts,
		Committer:  h.committer,
		Navigator:  h.nav,
		Completion: h.completion,
		Sessions:   h.sessions,
		Mode:       mode,
	})
	return h
}

func (h *harness) toStep(t *testing.T, step int) {
	t.Helper()
	if h.drafts.Parent().Nickname == "" {
		h.drafts.SetParent(draft.ParentProfile{Nickname: "Sam"})
	}
	for h.ctrl.Step() < step {
		if err := h.ctrl.Advance(context.Background()); err != nil {
			t.Fatalf("Advance to step %d: %v", step, err)
		}
	}
}

func TestAdvanceAndRetreatClampAtBounds(t *testing.T) {
	h := newHarness(t, ValidationLenient)
	ctx := context.Background()

	if h.ctrl.Step() != StepParent {
		t.Fatalf("initial step = %d, want %d", h.ctrl.Step(), StepParent)
	}
	if err := h.ctrl.Retreat(); err != nil {
		t.Fatalf("Retreat: %v", err)
	}
	if h.ctrl.Step() != StepParent {
		t.Errorf("retreat below first step: %d", h.ctrl.Step())
	}

	for i := 0; i < MaxStep+2; i++ {
		if err := h.ctrl.Advance(ctx); err != nil {
			t.Fatalf("Advance: %v", err)
		}
	}
	if h.ctrl.Step() != StepReview {
		t.Errorf("advance past final step: %d, want %d", h.ctrl.Step(), StepReview)
	}
}

func TestAdvanceFromParentStepRequiresNickname(t *testing.T) {
	h := newHarness(t, ValidationStrict)

	if err := h.ctrl.Advance(context.Background()); err == nil {
		t.Fatal("expected validation error with empty nickname")
	}
	if h.ctrl.Step() != StepParent {
		t.Errorf("step moved despite validation failure: %d", h.ctrl.Step())
	}
	if h.ctrl.LastError() == "" {
		t.Error("validation failure should surface a user message")
	}

	h.drafts.SetParent(draft.ParentProfile{Nickname: "Sam"})
	if err := h.ctrl.Advance(context.Background()); err != nil {
		t.Fatalf("Advance after fixing nickname: %v", err)
	}
	if h.ctrl.Step() != StepAddress {
		t.Errorf("step = %d, want %d", h.ctrl.Step(), StepAddress)
	}
	if h.ctrl.LastError() != "" {
		t.Error("successful advance should clear the last error")
	}
}

func TestLenientModeSkipsValidation(t *testing.T) {
	h := newHarness(t, ValidationLenient)

	if err := h.ctrl.Advance(context.Background()); err != nil {
		t.Fatalf("lenient Advance with empty nickname: %v", err)
	}
	if _, err := h.ctrl.AddChild(draft.Child{}); err != nil {
		t.Fatalf("lenient AddChild with empty fields: %v", err)
	}
}

func TestAdvanceSnapshotsSession(t *testing.T) {
	h := newHarness(t, ValidationLenient)
	h.drafts.SetParent(draft.ParentProfile{Nickname: "Sam"})

	if err := h.ctrl.Advance(context.Background()); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if h.sessions.steps["default"] != StepAddress {
		t.Errorf("saved step = %d, want %d", h.sessions.steps["default"], StepAddress)
	}
	if h.sessions.saved["default"] == "" {
		t.Error("no snapshot saved on advance")
	}
}

func TestResumeRestoresDraftsAndStep(t *testing.T) {
	h := newHarness(t, ValidationLenient)
	h.drafts.SetParent(draft.ParentProfile{Nickname: "Sam"})
	id, err := h.ctrl.AddChild(draft.Child{Name: "Mia", Birthdate: "2020-01-01"})
	if err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	snap, err := h.drafts.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	fresh := newHarness(t, ValidationLenient)
	if err := fresh.ctrl.Resume(StepChildren, snap); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if fresh.ctrl.Step() != StepChildren {
		t.Errorf("resumed step = %d, want %d", fresh.ctrl.Step(), StepChildren)
	}
	if got := fresh.drafts.Parent().Nickname; got != "Sam" {
		t.Errorf("resumed nickname = %q", got)
	}
	child, err := fresh.drafts.Child(id)
	if err != nil {
		t.Fatalf("resumed child missing: %v", err)
	}
	if child.Name != "Mia" {
		t.Errorf("resumed child = %+v", child)
	}
}

func TestSkipDiscardsEverythingAndNavigates(t *testing.T) {
	h := newHarness(t, ValidationLenient)
	h.drafts.SetParent(draft.ParentProfile{Nickname: "Sam"})
	h.ctrl.AddChild(draft.Child{Name: "Mia"})

	if err := h.ctrl.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if h.nav.homeCalls != 1 {
		t.Errorf("navigations = %d, want 1", h.nav.homeCalls)
	}
	if h.committer.calls != 0 {
		t.Error("skip must not flush anything")
	}
	if h.completion.calls != 0 {
		t.Error("skip must not mark setup completed")
	}
	if len(h.drafts.Children()) != 0 || h.drafts.Parent().Nickname != "" {
		t.Error("drafts not discarded")
	}
	if len(h.sessions.deleted) != 1 {
		t.Errorf("session deletes = %d, want 1", len(h.sessions.deleted))
	}

	// The session is terminal: every further operation is rejected.
	if err := h.ctrl.Advance(context.Background()); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Advance after skip = %v, want ErrSessionEnded", err)
	}
	if _, err := h.ctrl.AddChild(draft.Child{Name: "Leo"}); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("AddChild after skip = %v, want ErrSessionEnded", err)
	}
}

func TestCompleteOnlyFromFinalStep(t *testing.T) {
	h := newHarness(t, ValidationLenient)

	if err := h.ctrl.Complete(context.Background()); !errors.Is(err, ErrNotFinalStep) {
		t.Errorf("Complete from step 1 = %v, want ErrNotFinalStep", err)
	}
	if h.committer.calls != 0 {
		t.Error("no flush may happen before the final step")
	}
}

func TestCompleteSuccessMarksAndNavigates(t *testing.T) {
	h := newHarness(t, ValidationStrict)
	h.toStep(t, StepReview)
	if _, err := h.ctrl.AddChild(draft.Child{Name: "Mia", Birthdate: "2020-01-01"}); err != nil {
		t.Fatalf("AddChild: %v", err)
	}

	if err := h.ctrl.Complete(context.Background()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if h.committer.calls != 1 {
		t.Errorf("flushes = %d, want 1", h.committer.calls)
	}
	if h.completion.calls != 1 {
		t.Errorf("MarkSetupCompleted calls = %d, want 1", h.completion.calls)
	}
	if h.nav.homeCalls != 1 {
		t.Errorf("navigations = %d, want 1", h.nav.homeCalls)
	}
	if !h.ctrl.Ended() {
		t.Error("session should have ended")
	}
	if len(h.drafts.Children()) != 0 {
		t.Error("drafts should be discarded after completion")
	}
	if len(h.sessions.deleted) != 1 {
		t.Error("resumable session should be discarded after completion")
	}
}

func TestCompleteFailureStaysWithDraftsIntact(t *testing.T) {
	h := newHarness(t, ValidationStrict)
	h.toStep(t, StepReview)
	if _, err := h.ctrl.AddChild(draft.Child{Name: "Mia", Birthdate: "2020-01-01"}); err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	h.committer.err = &api.APIError{StatusCode: 422, Detail: "birthdate is in the future"}

	if err := h.ctrl.Complete(context.Background()); err == nil {
		t.Fatal("expected Complete to fail")
	}
	if h.ctrl.Step() != StepReview {
		t.Errorf("step after failure = %d, want %d", h.ctrl.Step(), StepReview)
	}
	if h.ctrl.Ended() {
		t.Error("session must survive a failed commit")
	}
	if h.completion.calls != 0 {
		t.Error("setup must not be marked completed on failure")
	}
	if h.nav.homeCalls != 0 {
		t.Error("no navigation on failure")
	}
	if len(h.drafts.Children()) != 1 {
		t.Error("drafts must stay intact for retry")
	}
	// The server's detail text reaches the user verbatim.
	if got := h.ctrl.LastError(); got != "birthdate is in the future" {
		t.Errorf("LastError = %q", got)
	}

	// A retry goes through once the backend recovers.
	h.committer.err = nil
	if err := h.ctrl.Complete(context.Background()); err != nil {
		t.Fatalf("retry Complete: %v", err)
	}
	if h.ctrl.LastError() != "" {
		t.Error("error should clear on success")
	}
}

func TestCompleteGenericMessageForTransportErrors(t *testing.T) {
	h := newHarness(t, ValidationLenient)
	h.toStep(t, StepReview)
	h.committer.err = errors.New("dial tcp: connection refused")

	if err := h.ctrl.Complete(context.Background()); err == nil {
		t.Fatal("expected Complete to fail")
	}
	if got := h.ctrl.LastError(); got != genericFailureMessage {
		t.Errorf("LastError = %q, want the generic message", got)
	}
}

func TestCompletionFlagFailureStillNavigates(t *testing.T) {
	h := newHarness(t, ValidationLenient)
	h.toStep(t, StepReview)
	h.completion.err = errors.New("disk full")

	if err := h.ctrl.Complete(context.Background()); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if h.nav.homeCalls != 1 {
		t.Error("a local flag failure must not strand the user in the wizard")
	}
}

func TestCompleteStrictValidatesChildren(t *testing.T) {
	h := newHarness(t, ValidationStrict)
	h.toStep(t, StepReview)
	// Seed a child that bypassed AddChild validation (e.g. restored from a
	// lenient session).
	snap, _ := draftSnapshotWithChild(t, draft.Child{Name: "Mia"})
	if err := h.drafts.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if err := h.ctrl.Complete(context.Background()); err == nil {
		t.Fatal("expected strict validation to reject a child without birthdate")
	}
	if h.committer.calls != 0 {
		t.Error("no flush on validation failure")
	}
}

func draftSnapshotWithChild(t *testing.T, c draft.Child) ([]byte, string) {
	t.Helper()
	s := draft.NewStoreWithClock(nil, fixedClock{now: time.Unix(1717243200, 0)}, func() string { return "k" })
	id := s.AddChild(c)
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap, id
}

func TestAddChildHighlightsAndValidates(t *testing.T) {
	h := newHarness(t, ValidationStrict)
	h.toStep(t, StepChildren)

	if _, err := h.ctrl.AddChild(draft.Child{Birthdate: "2020-01-01"}); err == nil {
		t.Error("expected name requirement")
	}
	if _, err := h.ctrl.AddChild(draft.Child{Name: "Mia"}); err == nil {
		t.Error("expected birthdate requirement")
	}

	id, err := h.ctrl.AddChild(draft.Child{Name: "Mia", Birthdate: "2020-01-01"})
	if err != nil {
		t.Fatalf("AddChild: %v", err)
	}
	if h.ctrl.Highlighted() != id {
		t.Errorf("Highlighted = %q, want %q", h.ctrl.Highlighted(), id)
	}
}

func TestDeleteChildClearsHighlight(t *testing.T) {
	h := newHarness(t, ValidationLenient)
	id, err := h.ctrl.AddChild(draft.Child{Name: "Mia"})
	if err != nil {
		t.Fatalf("AddChild: %v", err)
	}

	if err := h.ctrl.DeleteChild(context.Background(), id); err != nil {
		t.Fatalf("DeleteChild: %v", err)
	}
	if h.ctrl.Highlighted() != "" {
		t.Errorf("highlight not cleared: %q", h.ctrl.Highlighted())
	}
	if err := h.ctrl.DeleteChild(context.Background(), id); !errors.Is(err, draft.ErrNotFound) {
		t.Errorf("double delete = %v, want ErrNotFound", err)
	}
}

func TestLoadExistingPrefillsDrafts(t *testing.T) {
	h := newHarness(t, ValidationLenient)
	fetcher := &mockFetcher{
		parent: &api.Parent{
			Nickname:     "Sam",
			Role:         "guardian",
			AddressLine1: "Main 1",
			City:         "Utrecht",
		},
		children: []api.Child{
			{ID: "7", Name: "Mia", Birthdate: "2020-01-01", Interests: []string{"reading"}},
			{ID: "8", Name: "Leo"},
		},
	}

	if err := h.ctrl.LoadExisting(context.Background(), fetcher); err != nil {
		t.Fatalf("LoadExisting: %v", err)
	}
	if got := h.drafts.Parent().Nickname; got != "Sam" {
		t.Errorf("nickname = %q", got)
	}
	if got := h.drafts.Address().City; got != "Utrecht" {
		t.Errorf("city = %q", got)
	}

	children := h.drafts.Children()
	if len(children) != 2 {
		t.Fatalf("children = %d, want 2", len(children))
	}
	wantIDs := []string{"7", "8"}
	gotIDs := []string{children[0].ID, children[1].ID}
	if diff := cmp.Diff(wantIDs, gotIDs); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	// Pre-filled children are persisted, not temp: a commit skips them.
	if len(h.drafts.TempChildren()) != 0 {
		t.Errorf("prefilled children must not be temp: %v", h.drafts.TempChildren())
	}
}

func TestLoadExistingWithNoProfileLeavesDraftsEmpty(t *testing.T) {
	h := newHarness(t, ValidationLenient)

	if err := h.ctrl.LoadExisting(context.Background(), &mockFetcher{}); err != nil {
		t.Fatalf("LoadExisting: %v", err)
	}
	if h.drafts.Parent() != (draft.ParentProfile{}) {
		t.Errorf("parent = %+v, want zero", h.drafts.Parent())
	}
	if len(h.drafts.Children()) != 0 {
		t.Error("children should be empty for a first-time user")
	}
}
