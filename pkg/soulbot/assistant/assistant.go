// Package assistant – assistant.go wires the session store, conflict
// guard, conversation engine, and analyzer behind the chat transport.
// All services are constructed once here and passed by reference: no
// package-level singletons, so tests substitute fakes freely.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/soulpath/soulbot/pkg/soulbot/channels"
	"github.com/soulpath/soulbot/pkg/soulbot/session"
)

// neutralErrorReply is the single user-visible message for store and
// generation failures. The failed turn is not recorded.
const neutralErrorReply = "Something went wrong on my side. Give me a moment and try again."

// Assistant is the message-handling core of SoulBot.
type Assistant struct {
	cfg      *Config
	logger   *slog.Logger
	store    *session.Store
	guard    *session.Guard
	engine   *Engine
	analyzer *Analyzer
	channel  channels.Channel

	// forcedTopics holds administrator-set per-user topic overrides.
	forcedTopics map[string]Topic
	forcedMu     sync.RWMutex

	// busy serializes turns per user so concurrent messages cannot
	// interleave writes to the same session.
	busy   map[string]bool
	busyMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs the assistant over an already-open store.
func New(cfg *Config, store *session.Store, gen Generator, logger *slog.Logger) (*Assistant, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine, err := NewEngine(store, gen, cfg.Engine, logger)
	if err != nil {
		return nil, err
	}
	activity := NewActivityClient(cfg.Activity, logger)

	return &Assistant{
		cfg:          cfg,
		logger:       logger.With("component", "assistant"),
		store:        store,
		guard:        session.NewGuard(store, logger),
		engine:       engine,
		analyzer:     NewAnalyzer(store, gen, activity, logger),
		forcedTopics: make(map[string]Topic),
		busy:         make(map[string]bool),
	}, nil
}

// Store exposes the session store (for the sweeper and CLI commands).
func (a *Assistant) Store() *session.Store { return a.store }

// Engine exposes the conversation engine.
func (a *Assistant) Engine() *Engine { return a.engine }

// Start restores active sessions, connects the channel, and begins
// processing messages. Blocks until ctx is cancelled.
func (a *Assistant) Start(ctx context.Context, ch channels.Channel) error {
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.channel = ch

	// Rehydrate in-memory routing from the durable store; the cache
	// starts empty after restart and must exactly mirror persistence.
	restored, err := a.store.RestoreAllActive(a.ctx)
	if err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}
	a.logger.Info("assistant starting", "active_sessions", len(restored))

	if err := ch.Connect(a.ctx); err != nil {
		return fmt.Errorf("connect channel: %w", err)
	}

	for {
		select {
		case msg, ok := <-ch.Receive():
			if !ok {
				return nil
			}
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				a.handleIncoming(msg)
			}()
		case <-a.ctx.Done():
			return nil
		}
	}
}

// Stop cancels processing and waits for in-flight turns.
func (a *Assistant) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if a.channel != nil {
		_ = a.channel.Disconnect()
	}
}

// handleIncoming processes one transport event and sends the reply.
func (a *Assistant) handleIncoming(msg *channels.IncomingMessage) {
	logger := a.logger.With("user", msg.From, "chat_id", msg.ChatID, "msg_id", msg.ID)
	logger.Info("incoming message", "preview", truncate(msg.Content, 50))

	if pc, ok := a.channel.(channels.PresenceChannel); ok {
		_ = pc.SendTyping(a.ctx, msg.ChatID)
	}

	reply := a.Handle(a.ctx, msg.From, msg.ChatID, msg.Content)
	if reply == "" {
		return
	}
	if err := a.channel.Send(a.ctx, msg.ChatID, reply); err != nil {
		logger.Error("failed to send reply", "err", err)
	}
}

// Handle processes one inbound text event and returns the outbound
// reply. This is the transport-independent entry point used by the
// Telegram loop, the local chat command, and tests.
func (a *Assistant) Handle(ctx context.Context, userID, chatID, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if !a.trySetBusy(userID) {
		return "One moment — I'm still working on your previous message."
	}
	defer a.clearBusy(userID)

	if strings.HasPrefix(text, "/") {
		return a.handleCommand(ctx, userID, chatID, text)
	}
	return a.handleTurn(ctx, userID, chatID, text)
}

// ---------- commands ----------

var sessionCommands = map[string]session.Type{
	"/diagnostic":  session.TypeDiagnostic,
	"/provocative": session.TypeProvocative,
	"/healing":     session.TypeHealing,
}

func (a *Assistant) handleCommand(ctx context.Context, userID, chatID, text string) string {
	parts := strings.Fields(text)
	cmd := strings.ToLower(parts[0])

	if typ, ok := sessionCommands[cmd]; ok {
		return a.startSession(ctx, userID, chatID, typ)
	}

	switch cmd {
	case "/start", "/help":
		return a.helpText()
	case "/end":
		return a.endSession(ctx, userID)
	case "/summary":
		return a.summarize(ctx, userID)
	case "/readiness":
		return a.readiness(ctx, userID)
	case "/profile":
		return a.profileText(ctx, userID)
	case "/topic":
		return a.handleTopicCommand(userID, parts[1:])
	default:
		return "I don't know that command. Try /help."
	}
}

// startSession runs the conflict guard and resolves the session for a
// session-starting command. The guard re-reads the store on every call.
func (a *Assistant) startSession(ctx context.Context, userID, chatID string, typ session.Type) string {
	res := a.guard.Check(ctx, userID, typ)
	switch res.Outcome {
	case session.OutcomeBlocked:
		if res.Err != nil {
			return neutralErrorReply
		}
		return fmt.Sprintf(
			"You already have an active %s session. Finish it with /end before starting a %s session.",
			res.ActiveType, typ)

	case session.OutcomeResume:
		a.logger.Info("session resumed", "user", userID, "type", typ, "id", res.Session.ID)
		return fmt.Sprintf(
			"Your %s session is still open — we pick up right where we left off. What's on your mind?",
			typ)
	}

	sess, err := a.store.GetOrCreate(ctx, userID, chatID, typ)
	if err != nil {
		a.logger.Error("session start failed", "user", userID, "type", typ, "err", err)
		return neutralErrorReply
	}
	a.logger.Info("session started", "user", userID, "type", typ, "id", sess.ID)

	switch typ {
	case session.TypeDiagnostic:
		return "Let's begin the diagnostic. First: how would you describe your life right now, in a few sentences?"
	case session.TypeProvocative:
		return "Provocative session open. I will push back on what you say — that's the point. Where do you feel most stuck?"
	default:
		return "Healing session open. Take a breath. What wants attention today?"
	}
}

// endSession completes the active session: final summary first, then
// the terminal state transition.
func (a *Assistant) endSession(ctx context.Context, userID string) string {
	sess, err := a.store.GetActive(ctx, userID, "")
	if err != nil {
		return neutralErrorReply
	}
	if sess == nil {
		return "You have no active session. Start one with /diagnostic, /provocative, or /healing."
	}

	var rendered string
	summary, err := a.analyzer.Finalize(ctx, sess)
	if err != nil {
		// The summary is best-effort; the session still closes.
		a.logger.Warn("final summary failed", "session", sess.ID, "err", err)
		rendered = "I couldn't prepare the summary this time."
	} else {
		rendered = renderSummary(summary)
	}

	if err := a.store.Complete(ctx, sess.ID); err != nil {
		a.logger.Error("complete failed", "session", sess.ID, "err", err)
		return neutralErrorReply
	}
	a.engine.Forget(userID)

	return fmt.Sprintf("Your %s session is complete.\n\n%s", sess.Type, rendered)
}

func (a *Assistant) summarize(ctx context.Context, userID string) string {
	sess, err := a.store.GetActive(ctx, userID, "")
	if err != nil {
		return neutralErrorReply
	}
	if sess == nil {
		return "No active session to summarize."
	}
	if len(sess.History) == 0 {
		return "We haven't talked yet in this session."
	}
	summary, err := a.analyzer.Finalize(ctx, sess)
	if err != nil {
		return neutralErrorReply
	}
	return renderSummary(summary)
}

func (a *Assistant) readiness(ctx context.Context, userID string) string {
	sess, err := a.store.GetActive(ctx, userID, "")
	if err != nil {
		return neutralErrorReply
	}
	if sess == nil {
		// Fall back to the most recent completed session.
		all, err := a.store.ListByUser(ctx, userID, "")
		if err != nil {
			return neutralErrorReply
		}
		if len(all) == 0 {
			return "I need at least one session before I can gauge readiness. Start with /diagnostic."
		}
		sess, err = a.store.Get(ctx, all[0].ID)
		if err != nil {
			return neutralErrorReply
		}
	}

	tracks, err := a.analyzer.Readiness(ctx, sess)
	if err != nil {
		return neutralErrorReply
	}
	if len(tracks) == 0 {
		return "I couldn't rank the tracks yet — let's talk a bit more first."
	}

	var b strings.Builder
	b.WriteString("Program tracks, most ready first:\n")
	for i, t := range tracks {
		fmt.Fprintf(&b, "%d. %s", i+1, t.Track)
		if t.Evidence != "" {
			fmt.Fprintf(&b, " — %s", t.Evidence)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (a *Assistant) profileText(ctx context.Context, userID string) string {
	profile := a.latestProfile(ctx, userID)
	if profile == nil {
		return "No profile yet — it forms during diagnostic sessions."
	}
	var b strings.Builder
	b.WriteString("Your profile so far:\n")
	if profile.DominantSphere != "" {
		fmt.Fprintf(&b, "Dominant sphere: %s\n", profile.DominantSphere)
	}
	if profile.Archetype != "" {
		fmt.Fprintf(&b, "Archetype: %s\n", profile.Archetype)
	}
	for _, s := range profile.Strengths {
		fmt.Fprintf(&b, "Strength: %s\n", s)
	}
	for _, bl := range profile.Blocks {
		fmt.Fprintf(&b, "Block: %s\n", bl)
	}
	return b.String()
}

// handleTopicCommand implements the admin override: /topic <user> <topic>
// forces a topic for a user, /topic clear <user> removes it.
func (a *Assistant) handleTopicCommand(callerID string, args []string) string {
	if !a.cfg.IsAdmin(callerID) {
		return "This command is for administrators."
	}
	if len(args) == 2 && strings.EqualFold(args[0], "clear") {
		a.ClearForcedTopic(args[1])
		return fmt.Sprintf("Forced topic cleared for %s.", args[1])
	}
	if len(args) != 2 {
		return "Usage: /topic <user_id> <topic> or /topic clear <user_id>"
	}
	topic := Topic(strings.ToLower(args[1]))
	if !topic.Valid() {
		return fmt.Sprintf("Unknown topic %q. Known: energy, relationships, past_lives, business, general, diagnostic.", args[1])
	}
	a.SetForcedTopic(args[0], topic)
	return fmt.Sprintf("Topic %s forced for %s.", topic, args[0])
}

// SetForcedTopic sets an administrator topic override for a user.
func (a *Assistant) SetForcedTopic(userID string, topic Topic) {
	a.forcedMu.Lock()
	defer a.forcedMu.Unlock()
	a.forcedTopics[userID] = topic
}

// ClearForcedTopic removes a user's topic override.
func (a *Assistant) ClearForcedTopic(userID string) {
	a.forcedMu.Lock()
	defer a.forcedMu.Unlock()
	delete(a.forcedTopics, userID)
}

func (a *Assistant) forcedTopic(userID string) Topic {
	a.forcedMu.RLock()
	defer a.forcedMu.RUnlock()
	return a.forcedTopics[userID]
}

// ---------- free-text turns ----------

// handleTurn routes a free-text message into the user's active session,
// or runs a casual cache-only exchange when no session is open.
func (a *Assistant) handleTurn(ctx context.Context, userID, chatID, text string) string {
	sess, err := a.store.GetActive(ctx, userID, "")
	if err != nil {
		a.logger.Error("active-session lookup failed", "user", userID, "err", err)
		return neutralErrorReply
	}

	opts := RespondOptions{
		Session:     sess,
		Profile:     a.latestProfile(ctx, userID),
		ForcedTopic: a.forcedTopic(userID),
	}

	// First contact outside any session gets a pointer to /diagnostic.
	nudge := false
	if sess == nil && !a.engine.cache.Contains(userID) {
		if prior, perr := a.store.ListByUser(ctx, userID, ""); perr == nil && len(prior) == 0 {
			nudge = true
		}
	}

	resp, err := a.engine.Respond(ctx, userID, text, opts)
	if err != nil {
		var llmErr *LLMError
		if errors.As(err, &llmErr) {
			a.logger.Warn("turn failed", "user", userID, "kind", llmErr.Kind.String())
		} else {
			a.logger.Error("turn failed", "user", userID, "err", err)
		}
		return neutralErrorReply
	}

	if sess != nil && ShouldCheckpoint(sess.QuestionCount) {
		// Checkpoint failures never reach the user.
		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := a.analyzer.Checkpoint(cctx, sess); err != nil {
			a.logger.Warn("checkpoint failed", "session", sess.ID, "err", err)
		}
		cancel()
	}

	if nudge {
		return resp.Text + "\n\nWhen you're ready to go deeper, /diagnostic opens a full diagnostic session."
	}
	return resp.Text
}

// latestProfile returns the most recent stored profile across the user's
// sessions, or nil.
func (a *Assistant) latestProfile(ctx context.Context, userID string) *session.MetaphysicalProfile {
	all, err := a.store.ListByUser(ctx, userID, "")
	if err != nil {
		return nil
	}
	for _, s := range all {
		if s.Profile != nil {
			return s.Profile
		}
	}
	return nil
}

func (a *Assistant) trySetBusy(userID string) bool {
	a.busyMu.Lock()
	defer a.busyMu.Unlock()
	if a.busy[userID] {
		return false
	}
	a.busy[userID] = true
	return true
}

func (a *Assistant) clearBusy(userID string) {
	a.busyMu.Lock()
	defer a.busyMu.Unlock()
	delete(a.busy, userID)
}

func (a *Assistant) helpText() string {
	return fmt.Sprintf(`%s — your guide between sessions.

/diagnostic — structured intake session
/provocative — session that challenges your narratives
/healing — gentle deep-work session
/end — finish the current session (with summary)
/summary — summary of the session so far
/readiness — which program tracks fit you now
/profile — what I've learned about you

Outside a session, just write to me and we'll talk.`, a.cfg.Name)
}

// renderSummary renders the parsed summary for the user. Empty fields
// are simply skipped.
func renderSummary(s *SessionSummary) string {
	var b strings.Builder
	writeList := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString(title + ":\n")
		for _, it := range items {
			b.WriteString("• " + it + "\n")
		}
	}
	writeList("Insights", s.Insights)
	writeList("Patterns", s.Patterns)
	if s.CoreIssue != "" {
		b.WriteString("Core issue: " + s.CoreIssue + "\n")
	}
	writeList("Difficulties", s.Difficulties)
	writeList("Themes", s.Themes)
	writeList("Next steps", s.NextSteps)
	if s.HealingPath != "" {
		b.WriteString("Healing path: " + s.HealingPath + "\n")
	}
	if b.Len() == 0 {
		return "The summary came back empty this time."
	}
	return strings.TrimRight(b.String(), "\n")
}
