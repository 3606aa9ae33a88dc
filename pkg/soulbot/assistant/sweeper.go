package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/soulpath/soulbot/pkg/soulbot/session"
)

// Notify delivers an out-of-band message to a chat. The Telegram
// channel's Send satisfies it directly.
type Notify func(ctx context.Context, chatID, text string) error

// Sweeper runs the scheduled maintenance passes: auto-completing
// sessions that went quiet, and nudging users who finished their last
// session a while ago. Uses robfig/cron for expression parsing and
// firing.
type Sweeper struct {
	cfg      SweeperConfig
	store    *session.Store
	analyzer *Analyzer
	engine   *Engine
	notify   Notify
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewSweeper builds a sweeper. notify may be nil, in which case stale
// sessions are still completed but users get no farewell or nudge.
func NewSweeper(cfg SweeperConfig, store *session.Store, analyzer *Analyzer, engine *Engine, notify Notify, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		cfg:      cfg,
		store:    store,
		analyzer: analyzer,
		engine:   engine,
		notify:   notify,
		logger:   logger.With("component", "sweeper"),
	}
}

// Start registers the cron entries and begins firing. No-op when the
// sweeper is disabled in config.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Info("sweeper disabled")
		return nil
	}

	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	if _, err := s.cron.AddFunc(s.cfg.SweepCron, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.SweepCron, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.NudgeCron, func() { s.NudgeIdle(ctx) }); err != nil {
		return fmt.Errorf("invalid nudge schedule %q: %w", s.cfg.NudgeCron, err)
	}

	s.cron.Start()
	s.logger.Info("sweeper started",
		"sweep_cron", s.cfg.SweepCron,
		"nudge_cron", s.cfg.NudgeCron,
		"idle_ttl", s.cfg.IdleTTL().String(),
	)
	return nil
}

// Stop halts the cron scheduler and waits briefly for a running pass.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		s.logger.Warn("sweeper stop timed out")
	}
}

// Sweep completes every active session whose last activity is older
// than the idle TTL. Each session gets a best-effort final summary and,
// when a notifier is wired, a farewell message.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.IdleTTL())
	stale, err := s.store.StaleActive(ctx, cutoff)
	if err != nil {
		s.logger.Error("sweep query failed", "err", err)
		return
	}
	if len(stale) == 0 {
		return
	}
	s.logger.Info("sweeping stale sessions", "count", len(stale))

	for _, sess := range stale {
		// Finalize needs history; StaleActive returns bare rows.
		full, err := s.store.Get(ctx, sess.ID)
		if err != nil {
			s.logger.Error("sweep load failed", "session", sess.ID, "err", err)
			continue
		}

		var farewell string
		if summary, err := s.analyzer.Finalize(ctx, full); err != nil {
			s.logger.Warn("sweep summary failed", "session", full.ID, "err", err)
			farewell = fmt.Sprintf("I've closed your %s session since we haven't spoken in a while. Come back whenever you're ready.", full.Type)
		} else {
			farewell = fmt.Sprintf(
				"I've closed your %s session since we haven't spoken in a while. Here's where we left off:\n\n%s",
				full.Type, renderSummary(summary))
		}

		if err := s.store.Complete(ctx, full.ID); err != nil {
			s.logger.Error("sweep complete failed", "session", full.ID, "err", err)
			continue
		}
		if s.engine != nil {
			s.engine.Forget(full.UserID)
		}
		s.logger.Info("stale session completed", "session", full.ID, "user", full.UserID, "type", full.Type)

		if s.notify != nil && full.ChatID != "" {
			if err := s.notify(ctx, full.ChatID, farewell); err != nil {
				s.logger.Warn("farewell send failed", "session", full.ID, "err", err)
			}
		}
	}
}

// NudgeIdle sends a check-in to users whose last session ended and who
// have been quiet for the idle TTL.
func (s *Sweeper) NudgeIdle(ctx context.Context) {
	if s.notify == nil {
		return
	}
	cutoff := time.Now().Add(-s.cfg.IdleTTL())
	users, err := s.store.IdleUsers(ctx, cutoff)
	if err != nil {
		s.logger.Error("nudge query failed", "err", err)
		return
	}
	for _, u := range users {
		if u.ChatID == "" {
			continue
		}
		text := "It's been a little while. If something has shifted, or nothing has, a /diagnostic session is a good place to check in."
		if err := s.notify(ctx, u.ChatID, text); err != nil {
			s.logger.Warn("nudge send failed", "user", u.UserID, "err", err)
			continue
		}
		s.logger.Info("nudge sent", "user", u.UserID)
	}
}
