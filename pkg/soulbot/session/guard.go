// Package session – guard.go enforces the single-active-session policy:
// a user may hold history in several session types, but at most one
// session is active at any time, across all types.
package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultGuardTimeout bounds the store read on the hot path of every
// session-starting command. On timeout the guard fails safe and denies
// the start instead of hanging the handler.
const DefaultGuardTimeout = 3 * time.Second

// Outcome is the guard's decision for a session-starting command.
type Outcome int

const (
	// OutcomeStart means no session is active; the caller may create one.
	OutcomeStart Outcome = iota

	// OutcomeResume means a session of the requested type is already
	// active; the caller must pass it to the handler, not recreate it.
	OutcomeResume

	// OutcomeBlocked means a session of a different type is active (or
	// the store could not be consulted); the start is denied.
	OutcomeBlocked
)

// Result carries the guard decision. A blocked start is ordinary control
// flow, not an error: ActiveType tells the user which session to end.
type Result struct {
	Outcome Outcome

	// Session is the active session to resume (OutcomeResume only).
	Session *Session

	// ActiveType is the type of the conflicting session (OutcomeBlocked
	// due to a cross-type conflict).
	ActiveType Type

	// Err is set when the store was unreachable and the guard denied the
	// start as a precaution.
	Err error
}

// Guard intercepts session-starting commands. It holds no state of its
// own: every check re-reads the store, so restarts and multiple workers
// never act on a stale view of "active".
type Guard struct {
	store   *Store
	timeout time.Duration
	logger  *slog.Logger
}

// NewGuard creates a conflict guard over the store.
func NewGuard(store *Store, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		store:   store,
		timeout: DefaultGuardTimeout,
		logger:  logger.With("component", "conflict-guard"),
	}
}

// Check decides whether the user may start a session of the given type.
// Policy: no active session → start; active session of the same type →
// resume it; active session of another type → blocked.
func (g *Guard) Check(ctx context.Context, userID string, typ Type) Result {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	active, err := g.store.GetActive(ctx, userID, "")
	if err != nil {
		g.logger.Warn("guard check failed, denying start", "user", userID, "type", typ, "err", err)
		return Result{Outcome: OutcomeBlocked, Err: err}
	}

	if active == nil {
		return Result{Outcome: OutcomeStart}
	}
	if active.Type == typ {
		return Result{Outcome: OutcomeResume, Session: active}
	}

	g.logger.Info("session start blocked",
		"user", userID, "requested", typ, "active", active.Type)
	return Result{Outcome: OutcomeBlocked, ActiveType: active.Type}
}
