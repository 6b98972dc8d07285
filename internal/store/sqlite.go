// Package store persists decisions, debate turns and audio manifests in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoActiveRun is returned when a turn is saved before a run began.
	ErrNoActiveRun = errors.New("no active debate run")
)

// Store is the SQLite-backed repository.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at dbPath and applies the
// schema.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("store: create database directory: %w", err)
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// a single writer connection avoids SQLITE_BUSY between the debate and
	// audio goroutines
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}

	s := &Store{db: db, logger: logger, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		summary_json TEXT,
		user_choice TEXT,
		user_choice_reasoning TEXT,
		outcome TEXT,
		outcome_date INTEGER,
		debate_brief TEXT,
		debate_started_at INTEGER,
		debate_completed_at INTEGER,
		current_run_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_updated ON decisions(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS debate_runs (
		id TEXT PRIMARY KEY,
		decision_id TEXT NOT NULL REFERENCES decisions(id) ON DELETE CASCADE,
		quick_mode INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		archived_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_debate_runs_decision ON debate_runs(decision_id, started_at);

	CREATE TABLE IF NOT EXISTS debate_turns (
		id TEXT PRIMARY KEY,
		decision_id TEXT NOT NULL REFERENCES decisions(id) ON DELETE CASCADE,
		run_id TEXT NOT NULL REFERENCES debate_runs(id) ON DELETE CASCADE,
		round_number INTEGER NOT NULL,
		exchange_number INTEGER NOT NULL,
		agent TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_debate_turns_run ON debate_turns(run_id, round_number, exchange_number);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_debate_turns_slot
		ON debate_turns(run_id, round_number, exchange_number, agent) WHERE agent <> 'moderator';

	CREATE TABLE IF NOT EXISTS debate_audio (
		decision_id TEXT PRIMARY KEY REFERENCES decisions(id) ON DELETE CASCADE,
		manifest_json TEXT NOT NULL,
		total_duration_ms INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) nowMilli() int64 {
	return s.now().UnixMilli()
}

func fromMilli(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMilli(v.Int64)
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
