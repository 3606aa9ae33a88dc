// Package assistant – engine.go implements the conversation engine: it
// resolves the topic, composes the prompt, calls the text-generation
// collaborator with a bounded history window, and persists the exchange.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/soulpath/soulbot/pkg/soulbot/session"
)

// Response is the outcome of one conversational turn.
type Response struct {
	Text  string
	Topic Topic
}

// RespondOptions carries the optional inputs of a turn.
type RespondOptions struct {
	// Session is the active session the turn belongs to. Nil means a
	// casual exchange outside any session: history then lives only in
	// the in-memory cache.
	Session *session.Session

	// Profile is the user's stored metaphysical profile, if any.
	Profile *session.MetaphysicalProfile

	// ForcedTopic, when set by an administrator, wins over the
	// classifier.
	ForcedTopic Topic
}

// Engine drives conversational turns. The per-user history cache is an
// acceleration layer only: the persisted session is authoritative, the
// cache is LRU-bounded, starts empty after restart, and repopulates from
// sessions on demand.
type Engine struct {
	store   *session.Store
	gen     Generator
	cache   *lru.Cache[string, []session.Turn]
	window  int
	timeout time.Duration
	logger  *slog.Logger
}

// NewEngine creates a conversation engine.
func NewEngine(store *session.Store, gen Generator, cfg EngineConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, []session.Turn](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create history cache: %w", err)
	}
	return &Engine{
		store:   store,
		gen:     gen,
		cache:   cache,
		window:  cfg.HistoryWindow,
		timeout: cfg.TurnTimeout(),
		logger:  logger.With("component", "engine"),
	}, nil
}

// Window returns the history window size.
func (e *Engine) Window() int { return e.window }

// Respond runs one conversational turn for the user. Each call is a
// distinct turn — repeating identical text produces a new exchange. On
// generation failure the history is left unmutated and the error is
// returned for the caller to convert into a neutral user message.
func (e *Engine) Respond(ctx context.Context, userID, message string, opts RespondOptions) (*Response, error) {
	history := e.historyFor(userID, opts.Session)

	topic := opts.ForcedTopic
	if topic == "" {
		topic = DetectTopic(message, history, opts.Profile)
	}

	systemPrompt := CombinedPrompt(topic, true)
	params := ParamsFor(topic)

	// Fixed-size sliding window, oldest dropped — no summarization.
	turns := lastN(history, e.window)
	turns = append(turns, session.Turn{Role: session.RoleUser, Content: message})

	genCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	reply, err := e.gen.Generate(genCtx, systemPrompt, turns, params)
	if err != nil {
		e.logger.Warn("generation failed", "user", userID, "topic", topic, "err", err)
		return nil, err
	}

	userTurn := session.Turn{Role: session.RoleUser, Content: message}
	botTurn := session.Turn{Role: session.RoleAssistant, Content: reply}

	if opts.Session != nil {
		if err := e.store.AddTurn(ctx, opts.Session.ID, session.RoleUser, message); err != nil {
			return nil, fmt.Errorf("persist user turn: %w", err)
		}
		if err := e.store.AddTurn(ctx, opts.Session.ID, session.RoleAssistant, reply); err != nil {
			return nil, fmt.Errorf("persist assistant turn: %w", err)
		}
		opts.Session.History = append(opts.Session.History, userTurn, botTurn)
		opts.Session.QuestionCount++
	}

	// Refresh the acceleration cache, trimmed to the window.
	history = append(history, userTurn, botTurn)
	e.cache.Add(userID, lastN(history, e.window))

	return &Response{Text: reply, Topic: topic}, nil
}

// Forget drops the user's cached history (e.g. after session end).
func (e *Engine) Forget(userID string) {
	e.cache.Remove(userID)
}

// historyFor resolves the turn history for a user: the session history
// when a session is supplied (and reseeds the cache from it), otherwise
// whatever the cache holds.
func (e *Engine) historyFor(userID string, sess *session.Session) []session.Turn {
	if sess != nil {
		return sess.History
	}
	if cached, ok := e.cache.Get(userID); ok {
		return cached
	}
	return nil
}

func lastN(turns []session.Turn, n int) []session.Turn {
	if len(turns) <= n {
		out := make([]session.Turn, len(turns))
		copy(out, turns)
		return out
	}
	out := make([]session.Turn, n)
	copy(out, turns[len(turns)-n:])
	return out
}
