// Package store persists the conversation→agent-session correlation that
// makes a chat thread a multi-turn conversation, plus a record per run.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store handles database operations
type Store struct {
	db *sql.DB
}

// Open creates a new database store and initializes schema
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		channel TEXT NOT NULL,
		thread TEXT NOT NULL DEFAULT '',
		agent_session_id TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (channel, thread)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		channel TEXT NOT NULL,
		thread TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		exit_code INTEGER,
		duration_ms INTEGER,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// SessionID looks up the agent session id for a conversation. Returns an
// empty string when no session has been recorded yet.
func (s *Store) SessionID(channel, thread string) (string, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT agent_session_id FROM sessions WHERE channel = ? AND thread = ?`,
		channel, thread,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query session: %w", err)
	}
	return id, nil
}

// SetSessionID stores the agent session id for a conversation, replacing any
// previous one.
func (s *Store) SetSessionID(channel, thread, sessionID string) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (channel, thread, agent_session_id)
		VALUES (?, ?, ?)
		ON CONFLICT(channel, thread) DO UPDATE SET
			agent_session_id = excluded.agent_session_id,
			updated_at = CURRENT_TIMESTAMP
	`, channel, thread, sessionID)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// BeginRun records a run in the running state.
func (s *Store) BeginRun(id, channel, thread string, startedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO runs (id, channel, thread, outcome, started_at)
		VALUES (?, ?, ?, 'running', ?)
	`, id, channel, thread, startedAt)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// FinishRun records a run's terminal outcome.
func (s *Store) FinishRun(id, outcome string, exitCode int, duration time.Duration) error {
	_, err := s.db.Exec(`
		UPDATE runs
		SET outcome = ?, exit_code = ?, duration_ms = ?, finished_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, outcome, exitCode, duration.Milliseconds(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// CloseInterrupted marks runs still recorded as running after a crash or
// shutdown as interrupted. Returns the number of rows closed.
func (s *Store) CloseInterrupted() (int64, error) {
	res, err := s.db.Exec(`
		UPDATE runs
		SET outcome = 'interrupted', finished_at = CURRENT_TIMESTAMP
		WHERE outcome = 'running'
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to close interrupted runs: %w", err)
	}
	return res.RowsAffected()
}
