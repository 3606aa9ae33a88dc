// Package session implements durable conversation sessions for SoulBot.
// Each user may accumulate history across several session types but holds
// at most one active session at a time; the SQLite store is the single
// source of truth and survives process restarts.
package session

import (
	"errors"
	"time"
)

// Sentinel errors for the store. Callers distinguish a missing session
// from an unreachable store with errors.Is.
var (
	// ErrNotFound is returned when a session ID does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrStoreUnavailable is returned when the persistence layer cannot
	// be reached. Callers must surface it, never fabricate session state.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Type is the session category. Types are mutually exclusive: starting a
// session of one type while another type is active is denied.
type Type string

const (
	TypeDiagnostic  Type = "diagnostic"
	TypeProvocative Type = "provocative"
	TypeHealing     Type = "healing"
)

// KnownTypes lists all valid session types.
var KnownTypes = []Type{TypeDiagnostic, TypeProvocative, TypeHealing}

// Valid reports whether t is a known session type.
func (t Type) Valid() bool {
	for _, k := range KnownTypes {
		if t == k {
			return true
		}
	}
	return false
}

// State is the position of a session in its dialogue flow.
type State string

const (
	StateWaitingForResponse State = "waiting_for_response"
	StateDeepWork           State = "deep_work"
	StateChoosingStream     State = "choosing_stream"
	StateCompleted          State = "completed"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in a session's conversation history.
type Turn struct {
	Role    Role
	Content string
}

// MetaphysicalProfile is the structured profile derived from diagnostic
// sessions: the spheres of life the user's questions gravitate to and
// the archetype the analyzer assigned.
type MetaphysicalProfile struct {
	DominantSphere string   `json:"dominant_sphere,omitempty"`
	Archetype      string   `json:"archetype,omitempty"`
	Strengths      []string `json:"strengths,omitempty"`
	Blocks         []string `json:"blocks,omitempty"`
}

// CoreTrauma is the structured record of the central unresolved theme
// identified during deep work.
type CoreTrauma struct {
	Theme       string `json:"theme,omitempty"`
	Origin      string `json:"origin,omitempty"`
	Description string `json:"description,omitempty"`
}

// Session is the durable record of one ongoing or finished dialogue of a
// given type for one user. History only grows while the session is
// active; completed sessions are retained for audit and summaries.
type Session struct {
	ID     string
	UserID string
	ChatID string
	Type   Type
	Active bool
	State  State

	// History is the ordered, append-only list of conversation turns.
	History []Turn

	// QuestionCount increments only on assistant turns.
	QuestionCount int

	// Patterns is the set of behavior patterns the analyzer has
	// identified so far. It only grows.
	Patterns []string

	CoreIssue string
	Profile   *MetaphysicalProfile
	Trauma    *CoreTrauma

	// Data is the open extension map for forward-compatible values
	// (summaries, readiness results, checkpoint notes).
	Data map[string]string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// HasPattern reports whether the pattern set already contains p.
func (s *Session) HasPattern(p string) bool {
	for _, existing := range s.Patterns {
		if existing == p {
			return true
		}
	}
	return false
}

// LastTurns returns up to n most recent turns, oldest first.
func (s *Session) LastTurns(n int) []Turn {
	if len(s.History) <= n {
		out := make([]Turn, len(s.History))
		copy(out, s.History)
		return out
	}
	out := make([]Turn, n)
	copy(out, s.History[len(s.History)-n:])
	return out
}

// Update describes a partial mutation of a session's derived fields.
// Nil fields are left unchanged; a field is never cleared implicitly.
type Update struct {
	// Patterns are merged into the existing set (deduplicated).
	Patterns []string

	CoreIssue *string
	Profile   *MetaphysicalProfile
	Trauma    *CoreTrauma
	State     *State

	// Extra entries are merged into the session's extension map.
	Extra map[string]string
}
