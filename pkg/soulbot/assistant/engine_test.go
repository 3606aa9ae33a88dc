package assistant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/soulpath/soulbot/pkg/soulbot/session"
)

// fakeGen is a scripted Generator that records what it was called with.
type fakeGen struct {
	reply string
	err   error

	calls      int
	lastPrompt string
	lastTurns  []session.Turn
	lastParams GenerationParams
}

func (f *fakeGen) Generate(_ context.Context, systemPrompt string, turns []session.Turn, params GenerationParams) (string, error) {
	f.calls++
	f.lastPrompt = systemPrompt
	f.lastTurns = turns
	f.lastParams = params
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	db, err := session.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return session.NewStore(db, testLogger())
}

func newTestEngine(t *testing.T, store *session.Store, gen Generator) *Engine {
	t.Helper()
	engine, err := NewEngine(store, gen, EngineConfig{
		HistoryWindow:      10,
		TurnTimeoutSeconds: 5,
		CacheSize:          16,
	}, testLogger())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestRespondSlidingWindow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gen := &fakeGen{reply: "mm."}
	engine := newTestEngine(t, store, gen)

	sess, err := store.GetOrCreate(ctx, "u1", "c1", session.TypeHealing)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	for i := 0; i < 15; i++ {
		role := session.RoleUser
		if i%2 == 1 {
			role = session.RoleAssistant
		}
		if err := store.AddTurn(ctx, sess.ID, role, string(rune('a'+i))); err != nil {
			t.Fatalf("seed turn %d: %v", i, err)
		}
	}
	sess, err = store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}

	if _, err := engine.Respond(ctx, "u1", "next", RespondOptions{Session: sess}); err != nil {
		t.Fatalf("respond: %v", err)
	}

	// The generator must see exactly the last 10 history turns plus the
	// new user message, oldest first.
	if got := len(gen.lastTurns); got != 11 {
		t.Fatalf("generator saw %d turns, want 11", got)
	}
	if gen.lastTurns[0].Content != string(rune('a'+5)) {
		t.Errorf("oldest turn in window = %q, want %q", gen.lastTurns[0].Content, string(rune('a'+5)))
	}
	last := gen.lastTurns[len(gen.lastTurns)-1]
	if last.Role != session.RoleUser || last.Content != "next" {
		t.Errorf("last turn = %+v, want the new user message", last)
	}
}

func TestRespondPersistsExchange(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gen := &fakeGen{reply: "In a past life this pattern may have begun."}
	engine := newTestEngine(t, store, gen)

	sess, err := store.GetOrCreate(ctx, "u1", "c1", session.TypeDiagnostic)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	resp, err := engine.Respond(ctx, "u1", "I keep dreaming of a past life", RespondOptions{Session: sess})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resp.Topic != TopicPastLives {
		t.Errorf("topic = %s, want %s", resp.Topic, TopicPastLives)
	}
	if resp.Text != gen.reply {
		t.Errorf("text = %q, want generator reply", resp.Text)
	}

	// In-memory session advanced alongside the store.
	if len(sess.History) != 2 {
		t.Errorf("in-memory history has %d turns, want 2", len(sess.History))
	}
	if sess.QuestionCount != 1 {
		t.Errorf("in-memory question count = %d, want 1", sess.QuestionCount)
	}

	stored, err := store.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if len(stored.History) != 2 {
		t.Fatalf("stored history has %d turns, want 2", len(stored.History))
	}
	if stored.History[0].Role != session.RoleUser || stored.History[1].Role != session.RoleAssistant {
		t.Errorf("stored roles = %s,%s, want user,assistant", stored.History[0].Role, stored.History[1].Role)
	}
	if stored.QuestionCount != 1 {
		t.Errorf("stored question count = %d, want 1", stored.QuestionCount)
	}
}

func TestRespondFailureLeavesHistoryUnmutated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gen := &fakeGen{err: &LLMError{Kind: LLMErrorFatal, Message: "bad request"}}
	engine := newTestEngine(t, store, gen)

	sess, err := store.GetOrCreate(ctx, "u1", "c1", session.TypeHealing)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := store.AddTurn(ctx, sess.ID, session.RoleUser, "hello"); err != nil {
		t.Fatalf("seed turn: %v", err)
	}
	sess, _ = store.Get(ctx, sess.ID)

	_, err = engine.Respond(ctx, "u1", "are you there", RespondOptions{Session: sess})
	if err == nil {
		t.Fatal("expected generation error")
	}
	var llmErr *LLMError
	if !errors.As(err, &llmErr) {
		t.Fatalf("error = %v, want *LLMError", err)
	}

	if len(sess.History) != 1 {
		t.Errorf("in-memory history mutated: %d turns, want 1", len(sess.History))
	}
	stored, _ := store.Get(ctx, sess.ID)
	if len(stored.History) != 1 {
		t.Errorf("stored history mutated: %d turns, want 1", len(stored.History))
	}
}

func TestRespondForcedTopicWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gen := &fakeGen{reply: "ok"}
	engine := newTestEngine(t, store, gen)

	resp, err := engine.Respond(ctx, "u1", "my business is failing", RespondOptions{
		ForcedTopic: TopicEnergy,
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if resp.Topic != TopicEnergy {
		t.Errorf("topic = %s, want forced %s", resp.Topic, TopicEnergy)
	}
	if gen.lastParams != ParamsFor(TopicEnergy) {
		t.Errorf("params = %+v, want energy params", gen.lastParams)
	}
}

// Outside a session, exchanges accumulate only in the cache and carry
// across turns until Forget.
func TestRespondCasualUsesCache(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	gen := &fakeGen{reply: "hello there"}
	engine := newTestEngine(t, store, gen)

	if _, err := engine.Respond(ctx, "u1", "I feel drained", RespondOptions{}); err != nil {
		t.Fatalf("first respond: %v", err)
	}
	if _, err := engine.Respond(ctx, "u1", "still here", RespondOptions{}); err != nil {
		t.Fatalf("second respond: %v", err)
	}
	// Second call sees the first exchange plus its own message.
	if got := len(gen.lastTurns); got != 3 {
		t.Fatalf("second call saw %d turns, want 3", got)
	}

	engine.Forget("u1")
	if _, err := engine.Respond(ctx, "u1", "and now?", RespondOptions{}); err != nil {
		t.Fatalf("third respond: %v", err)
	}
	if got := len(gen.lastTurns); got != 1 {
		t.Fatalf("after Forget, call saw %d turns, want 1", got)
	}
}
