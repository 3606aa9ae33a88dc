// Package session – store.go implements the SQLite-backed session store.
// All mutations go through here; the in-memory history cache in the
// assistant package is an acceleration layer only.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store persists sessions and conversation turns in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates a session store over an open database.
// The tables must already exist (created by OpenDatabase).
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "session-store")}
}

// GetOrCreate returns the active session of the given type for the user,
// creating and persisting a fresh one if none exists. Calling it twice
// without an intervening Deactivate returns the same session (resume).
// The check-then-insert runs inside one transaction so concurrent calls
// for the same user cannot each create a session.
func (s *Store) GetOrCreate(ctx context.Context, userID, chatID string, typ Type) (*Session, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown session type %q", typ)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.unavailable("get or create: begin", err)
	}
	defer tx.Rollback()

	existing, err := s.queryActive(ctx, tx, userID, typ)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.loadHistory(ctx, existing); err != nil {
			return nil, err
		}
		return existing, tx.Commit()
	}

	sess := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		ChatID:    chatID,
		Type:      typ,
		Active:    true,
		State:     StateWaitingForResponse,
		History:   []Turn{},
		Patterns:  []string{},
		Data:      map[string]string{},
		CreatedAt: time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, chat_id, session_type, is_active, state, created_at)
		VALUES (?, ?, ?, ?, 1, ?, ?)`,
		sess.ID, userID, chatID, string(typ), string(sess.State),
		sess.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, s.unavailable("get or create: insert", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.unavailable("get or create: commit", err)
	}

	s.logger.Info("session created", "id", sess.ID, "user", userID, "type", typ)
	return sess, nil
}

// AddTurn appends one conversation turn to the session. The question
// counter increments only on assistant turns. Returns ErrNotFound if the
// session ID is unknown.
func (s *Store) AddTurn(ctx context.Context, id string, role Role, content string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.unavailable("add turn: begin", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM sessions WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("add turn: session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return s.unavailable("add turn: lookup", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session_turns (session_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`,
		id, string(role), content, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return s.unavailable("add turn: insert", err)
	}

	if role == RoleAssistant {
		if _, err := tx.ExecContext(ctx,
			"UPDATE sessions SET question_count = question_count + 1 WHERE id = ?", id,
		); err != nil {
			return s.unavailable("add turn: count", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.unavailable("add turn: commit", err)
	}
	return nil
}

// UpdateData applies a partial update to a session's derived fields.
// Nil fields in upd are left untouched; patterns and extra data are
// merged, never replaced.
func (s *Store) UpdateData(ctx context.Context, id string, upd Update) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.unavailable("update data: begin", err)
	}
	defer tx.Rollback()

	sess, err := s.queryByID(ctx, tx, id)
	if err != nil {
		return err
	}

	for _, p := range upd.Patterns {
		if !sess.HasPattern(p) {
			sess.Patterns = append(sess.Patterns, p)
		}
	}
	if upd.CoreIssue != nil {
		sess.CoreIssue = *upd.CoreIssue
	}
	if upd.Profile != nil {
		sess.Profile = upd.Profile
	}
	if upd.Trauma != nil {
		sess.Trauma = upd.Trauma
	}
	if upd.State != nil {
		sess.State = *upd.State
	}
	if sess.Data == nil {
		sess.Data = map[string]string{}
	}
	for k, v := range upd.Extra {
		sess.Data[k] = v
	}

	patternsJSON, _ := json.Marshal(sess.Patterns)
	dataJSON, _ := json.Marshal(sess.Data)
	profileJSON := ""
	if sess.Profile != nil {
		b, _ := json.Marshal(sess.Profile)
		profileJSON = string(b)
	}
	traumaJSON := ""
	if sess.Trauma != nil {
		b, _ := json.Marshal(sess.Trauma)
		traumaJSON = string(b)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions
		SET patterns = ?, core_issue = ?, profile = ?, trauma = ?, state = ?, data = ?
		WHERE id = ?`,
		string(patternsJSON), sess.CoreIssue, profileJSON, traumaJSON,
		string(sess.State), string(dataJSON), id,
	)
	if err != nil {
		return s.unavailable("update data: write", err)
	}
	return tx.Commit()
}

// Deactivate sets is_active=false on the user's sessions. An empty type
// matches all types. Idempotent; returns the number of sessions affected.
func (s *Store) Deactivate(ctx context.Context, userID string, typ Type) (int, error) {
	var (
		res sql.Result
		err error
	)
	if typ == "" {
		res, err = s.db.ExecContext(ctx,
			"UPDATE sessions SET is_active = 0 WHERE user_id = ? AND is_active = 1", userID)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE sessions SET is_active = 0 WHERE user_id = ? AND session_type = ? AND is_active = 1",
			userID, string(typ))
	}
	if err != nil {
		return 0, s.unavailable("deactivate", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("sessions deactivated", "user", userID, "type", typ, "count", n)
	}
	return int(n), nil
}

// Complete moves the session to its terminal state: inactive, state
// completed, completion timestamp recorded. Distinct from a deactivation
// caused by a conflicting start.
func (s *Store) Complete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET is_active = 0, state = ?, completed_at = ?
		WHERE id = ?`,
		string(StateCompleted), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return s.unavailable("complete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("complete: session %s: %w", id, ErrNotFound)
	}
	s.logger.Info("session completed", "id", id)
	return nil
}

// Get returns the session with its full history, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.queryByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// GetActive returns the user's most recently created active session of
// the given type (any type when empty), or nil if there is none.
func (s *Store) GetActive(ctx context.Context, userID string, typ Type) (*Session, error) {
	sess, err := s.queryActive(ctx, s.db, userID, typ)
	if err != nil || sess == nil {
		return nil, err
	}
	if err := s.loadHistory(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// RestoreAllActive loads every active session with history, for
// rehydrating in-memory state after a restart. The result exactly
// mirrors the durable store.
func (s *Store) RestoreAllActive(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		sessionColumns+" FROM sessions WHERE is_active = 1 ORDER BY created_at ASC")
	if err != nil {
		return nil, s.unavailable("restore all active", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, s.unavailable("restore all active: scan", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, s.unavailable("restore all active: iterate", err)
	}

	for _, sess := range out {
		if err := s.loadHistory(ctx, sess); err != nil {
			return nil, err
		}
	}

	s.logger.Info("active sessions restored", "count", len(out))
	return out, nil
}

// StaleActive returns active sessions whose last activity, the most
// recent turn or session creation when no turns exist, is older than
// cutoff. Used by the sweeper to auto-complete abandoned sessions.
func (s *Store) StaleActive(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		sessionColumns+` FROM sessions
		 WHERE is_active = 1
		   AND COALESCE(
		         (SELECT MAX(created_at) FROM session_turns WHERE session_id = sessions.id),
		         created_at) < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, s.unavailable("stale active", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, s.unavailable("stale active: scan", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, s.unavailable("stale active: iterate", err)
	}
	return out, nil
}

// IdleUser is a user with no active session whose last session started
// before the sweep cutoff.
type IdleUser struct {
	UserID string
	ChatID string
}

// IdleUsers returns users eligible for a check-in nudge: no active
// session, and the newest session older than cutoff. ChatID comes from
// the user's most recent session.
func (s *Store) IdleUsers(ctx context.Context, cutoff time.Time) ([]IdleUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, chat_id, MAX(created_at) AS last
		  FROM sessions
		 GROUP BY user_id
		HAVING SUM(is_active) = 0 AND last < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, s.unavailable("idle users", err)
	}
	defer rows.Close()

	var out []IdleUser
	for rows.Next() {
		var u IdleUser
		var last string
		if err := rows.Scan(&u.UserID, &u.ChatID, &last); err != nil {
			return nil, s.unavailable("idle users: scan", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, s.unavailable("idle users: iterate", err)
	}
	return out, nil
}

// ListByUser returns all of the user's sessions of the given type (any
// type when empty), newest first, without history.
func (s *Store) ListByUser(ctx context.Context, userID string, typ Type) ([]*Session, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if typ == "" {
		rows, err = s.db.QueryContext(ctx,
			sessionColumns+" FROM sessions WHERE user_id = ? ORDER BY created_at DESC", userID)
	} else {
		rows, err = s.db.QueryContext(ctx,
			sessionColumns+" FROM sessions WHERE user_id = ? AND session_type = ? ORDER BY created_at DESC",
			userID, string(typ))
	}
	if err != nil {
		return nil, s.unavailable("list by user", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, s.unavailable("list by user: scan", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ---------- internals ----------

const sessionColumns = `SELECT id, user_id, chat_id, session_type, is_active, state,
	question_count, patterns, core_issue, profile, trauma, data, created_at, completed_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) queryActive(ctx context.Context, q querier, userID string, typ Type) (*Session, error) {
	var row *sql.Row
	if typ == "" {
		row = q.QueryRowContext(ctx,
			sessionColumns+` FROM sessions
			WHERE user_id = ? AND is_active = 1
			ORDER BY created_at DESC LIMIT 1`, userID)
	} else {
		row = q.QueryRowContext(ctx,
			sessionColumns+` FROM sessions
			WHERE user_id = ? AND session_type = ? AND is_active = 1
			ORDER BY created_at DESC LIMIT 1`, userID, string(typ))
	}

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.unavailable("query active", err)
	}
	return sess, nil
}

func (s *Store) queryByID(ctx context.Context, q querier, id string) (*Session, error) {
	row := q.QueryRowContext(ctx, sessionColumns+" FROM sessions WHERE id = ?", id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, s.unavailable("query by id", err)
	}
	return sess, nil
}

func (s *Store) loadHistory(ctx context.Context, sess *Session) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM session_turns
		WHERE session_id = ?
		ORDER BY id ASC`, sess.ID)
	if err != nil {
		return s.unavailable("load history", err)
	}
	defer rows.Close()

	sess.History = sess.History[:0]
	for rows.Next() {
		var t Turn
		var role string
		if err := rows.Scan(&role, &t.Content); err != nil {
			return s.unavailable("load history: scan", err)
		}
		t.Role = Role(role)
		sess.History = append(sess.History, t)
	}
	return rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess                              Session
		typ, state, createdAt             string
		active                            int
		patternsJSON, profileJSON         string
		traumaJSON, dataJSON, completedAt sql.NullString
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.ChatID, &typ, &active, &state,
		&sess.QuestionCount, &patternsJSON, &sess.CoreIssue, &profileJSON,
		&traumaJSON, &dataJSON, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}

	sess.Type = Type(typ)
	sess.Active = active == 1
	sess.State = State(state)
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	if completedAt.Valid && completedAt.String != "" {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err == nil {
			sess.CompletedAt = &t
		}
	}

	_ = json.Unmarshal([]byte(patternsJSON), &sess.Patterns)
	if sess.Patterns == nil {
		sess.Patterns = []string{}
	}
	if profileJSON != "" {
		var p MetaphysicalProfile
		if json.Unmarshal([]byte(profileJSON), &p) == nil {
			sess.Profile = &p
		}
	}
	if traumaJSON.Valid && traumaJSON.String != "" {
		var t CoreTrauma
		if json.Unmarshal([]byte(traumaJSON.String), &t) == nil {
			sess.Trauma = &t
		}
	}
	if dataJSON.Valid && dataJSON.String != "" {
		_ = json.Unmarshal([]byte(dataJSON.String), &sess.Data)
	}
	if sess.Data == nil {
		sess.Data = map[string]string{}
	}
	if sess.History == nil {
		sess.History = []Turn{}
	}

	return &sess, nil
}

func (s *Store) unavailable(op string, err error) error {
	s.logger.Error("store operation failed", "op", op, "err", err)
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
