// Package session – db.go provides the SQLite database for SoulBot.
// A single soulbot.db file holds the session records and their
// conversation turns.
package session

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
-- Session records (one row per session, never deleted).
CREATE TABLE IF NOT EXISTS sessions (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL,
    chat_id        TEXT DEFAULT '',
    session_type   TEXT NOT NULL,
    is_active      INTEGER NOT NULL DEFAULT 1,
    state          TEXT NOT NULL DEFAULT 'waiting_for_response',
    question_count INTEGER NOT NULL DEFAULT 0,
    patterns       TEXT DEFAULT '[]',
    core_issue     TEXT DEFAULT '',
    profile        TEXT DEFAULT '',
    trauma         TEXT DEFAULT '',
    data           TEXT DEFAULT '{}',
    created_at     TEXT NOT NULL,
    completed_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_active ON sessions(user_id, is_active);
CREATE INDEX IF NOT EXISTS idx_sessions_user_type_created ON sessions(user_id, session_type, created_at);

-- Conversation turns (append-only, one row per turn).
CREATE TABLE IF NOT EXISTS session_turns (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_turns_sid ON session_turns(session_id);
`

// OpenDatabase opens (or creates) soulbot.db at the given path.
// It enables WAL mode for concurrent read performance and creates all tables.
func OpenDatabase(path string) (*sql.DB, error) {
	if path == "" {
		path = "./data/soulbot.db"
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	// Verify connectivity.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Create schema (idempotent).
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return db, nil
}
