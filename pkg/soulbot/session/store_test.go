package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// newTestStore opens a store over a throwaway database file.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDatabase(filepath.Join(t.TempDir(), "soulbot.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db, nil)
}

func TestGetOrCreateIdempotentResume(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "u1", "chat1", TypeDiagnostic)
	if err != nil {
		t.Fatalf("first GetOrCreate: %v", err)
	}
	if !first.Active || first.State != StateWaitingForResponse {
		t.Fatalf("new session not active/waiting: %+v", first)
	}
	if first.QuestionCount != 0 || len(first.History) != 0 {
		t.Fatalf("new session not empty: %+v", first)
	}

	if err := store.AddTurn(ctx, first.ID, RoleUser, "hello"); err != nil {
		t.Fatalf("add user turn: %v", err)
	}
	if err := store.AddTurn(ctx, first.ID, RoleAssistant, "welcome"); err != nil {
		t.Fatalf("add assistant turn: %v", err)
	}

	second, err := store.GetOrCreate(ctx, "u1", "chat1", TypeDiagnostic)
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected resume of %s, got new session %s", first.ID, second.ID)
	}
	if second.QuestionCount != 1 {
		t.Fatalf("question count = %d, want 1", second.QuestionCount)
	}
	if len(second.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(second.History))
	}
}

func TestGetOrCreateRejectsUnknownType(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetOrCreate(context.Background(), "u1", "c", Type("astral")); err == nil {
		t.Fatal("expected error for unknown session type")
	}
}

func TestAddTurnQuestionCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "u1", "c", TypeProvocative)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	turns := []struct {
		role Role
		want int
	}{
		{RoleUser, 0},
		{RoleAssistant, 1},
		{RoleUser, 1},
		{RoleAssistant, 2},
	}
	for i, tc := range turns {
		if err := store.AddTurn(ctx, sess.ID, tc.role, "turn"); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		got, err := store.Get(ctx, sess.ID)
		if err != nil {
			t.Fatalf("get after turn %d: %v", i, err)
		}
		if got.QuestionCount != tc.want {
			t.Fatalf("after turn %d: question count = %d, want %d", i, got.QuestionCount, tc.want)
		}
	}
}

func TestAddTurnUnknownSession(t *testing.T) {
	store := newTestStore(t)
	err := store.AddTurn(context.Background(), "no-such-id", RoleUser, "hi")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateDataPartial(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "u1", "c", TypeHealing)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	issue := "fear of visibility"
	if err := store.UpdateData(ctx, sess.ID, Update{
		Patterns:  []string{"avoidance", "self-blame"},
		CoreIssue: &issue,
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Second partial update: patterns merge (no duplicates), core issue
	// untouched, profile set.
	deep := StateDeepWork
	if err := store.UpdateData(ctx, sess.ID, Update{
		Patterns: []string{"avoidance", "perfectionism"},
		Profile:  &MetaphysicalProfile{DominantSphere: "relationships", Archetype: "caretaker"},
		State:    &deep,
		Extra:    map[string]string{"checkpoint_note": "opening up"},
	}); err != nil {
		t.Fatalf("second update: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Patterns) != 3 {
		t.Fatalf("patterns = %v, want 3 unique entries", got.Patterns)
	}
	if got.CoreIssue != issue {
		t.Fatalf("core issue = %q, want %q (must not be cleared)", got.CoreIssue, issue)
	}
	if got.Profile == nil || got.Profile.DominantSphere != "relationships" {
		t.Fatalf("profile not persisted: %+v", got.Profile)
	}
	if got.State != StateDeepWork {
		t.Fatalf("state = %q, want deep_work", got.State)
	}
	if got.Data["checkpoint_note"] != "opening up" {
		t.Fatalf("extra data not merged: %v", got.Data)
	}
}

func TestDeactivateIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "u1", "c", TypeDiagnostic); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	n, err := store.Deactivate(ctx, "u1", TypeDiagnostic)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if n != 1 {
		t.Fatalf("first deactivate affected %d, want 1", n)
	}

	n, err = store.Deactivate(ctx, "u1", TypeDiagnostic)
	if err != nil {
		t.Fatalf("second deactivate: %v", err)
	}
	if n != 0 {
		t.Fatalf("second deactivate affected %d, want 0", n)
	}

	active, err := store.GetActive(ctx, "u1", "")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active session, got %s", active.ID)
	}
}

func TestCompleteIsTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "u1", "c", TypeProvocative)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := store.Complete(ctx, sess.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active {
		t.Fatal("completed session still active")
	}
	if got.State != StateCompleted {
		t.Fatalf("state = %q, want completed", got.State)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not recorded")
	}

	if err := store.Complete(ctx, "no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestRestoreAllActiveMirrorsStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, _ := store.GetOrCreate(ctx, "u1", "c1", TypeDiagnostic)
	b, _ := store.GetOrCreate(ctx, "u2", "c2", TypeProvocative)
	done, _ := store.GetOrCreate(ctx, "u3", "c3", TypeHealing)

	if err := store.AddTurn(ctx, a.ID, RoleUser, "hi"); err != nil {
		t.Fatalf("add turn: %v", err)
	}
	if err := store.Complete(ctx, done.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	restored, err := store.RestoreAllActive(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(restored) != 2 {
		t.Fatalf("restored %d sessions, want 2", len(restored))
	}

	byID := map[string]*Session{}
	for _, s := range restored {
		byID[s.ID] = s
	}
	if _, ok := byID[done.ID]; ok {
		t.Fatal("completed session must not be restored")
	}
	if got, ok := byID[a.ID]; !ok || len(got.History) != 1 {
		t.Fatalf("session %s restored without history", a.ID)
	}
	if _, ok := byID[b.ID]; !ok {
		t.Fatalf("session %s missing from restore", b.ID)
	}
}

func TestListByUserFiltering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, _ := store.GetOrCreate(ctx, "u1", "c", TypeDiagnostic)
	if err := store.Complete(ctx, first.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := store.GetOrCreate(ctx, "u1", "c", TypeProvocative); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	all, err := store.ListByUser(ctx, "u1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("listed %d sessions, want 2", len(all))
	}

	diag, err := store.ListByUser(ctx, "u1", TypeDiagnostic)
	if err != nil {
		t.Fatalf("list diagnostic: %v", err)
	}
	if len(diag) != 1 || diag[0].ID != first.ID {
		t.Fatalf("diagnostic listing wrong: %+v", diag)
	}
}
