// Package store persists bot runs, logs and state to SQLite.
//
// The activation core never depends on persistence succeeding: callers go
// through Tolerant, which retries transient failures and ultimately logs
// and swallows. The operator CLI reads the same database directly.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"covey/internal/config"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set store journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set store busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize store schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS bot_runs (
	run_id TEXT PRIMARY KEY,
	bot TEXT NOT NULL,
	triggered_by TEXT NOT NULL,
	status TEXT NOT NULL,
	output TEXT NOT NULL DEFAULT '',
	in_tokens INTEGER NOT NULL DEFAULT 0,
	out_tokens INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0,
	started_at TEXT NOT NULL,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_bot_runs_bot ON bot_runs(bot, started_at DESC);
CREATE TABLE IF NOT EXISTS bot_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	level TEXT NOT NULL,
	event_type TEXT NOT NULL,
	message TEXT NOT NULL,
	data TEXT,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS bots (
	name TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	config_json TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'waiting',
	last_run_at TEXT,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	user_id TEXT PRIMARY KEY
);
`

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateBotRun records the start of a run.
func (s *Store) CreateBotRun(ctx context.Context, runID, bot, trigger string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_runs (run_id, bot, triggered_by, status, started_at) VALUES (?, ?, ?, 'running', ?)`,
		runID, bot, trigger, startedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create bot run %q: %w", runID, err)
	}
	return nil
}

// CompleteBotRun records the final status and usage of a run.
func (s *Store) CompleteBotRun(ctx context.Context, runID, status, output string, inTokens, outTokens int, cost float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE bot_runs SET status = ?, output = ?, in_tokens = ?, out_tokens = ?, cost = ?, completed_at = ?
		 WHERE run_id = ?`,
		status, output, inTokens, outTokens, cost,
		time.Now().UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("complete bot run %q: %w", runID, err)
	}
	return nil
}

// CreateBotLog appends one structured log line for a run.
func (s *Store) CreateBotLog(ctx context.Context, runID, level, eventType, message string, data map[string]any) error {
	var dataJSON sql.NullString
	if len(data) > 0 {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal bot log data: %w", err)
		}
		dataJSON = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_logs (run_id, level, event_type, message, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, level, eventType, message, dataJSON,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create bot log for run %q: %w", runID, err)
	}
	return nil
}

// UpsertBotRecord saves the bot's identity and configuration.
func (s *Store) UpsertBotRecord(ctx context.Context, name, displayName string, cfg config.Bot) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal bot config %q: %w", name, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO bots (name, display_name, config_json, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		 display_name = excluded.display_name,
		 config_json = excluded.config_json,
		 updated_at = excluded.updated_at`,
		name, displayName, string(payload),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert bot record %q: %w", name, err)
	}
	return nil
}

// UpdateBotState saves the bot's current status and, when provided, its
// last run time.
func (s *Store) UpdateBotState(ctx context.Context, name, status string, lastRunAt *time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var err error
	if lastRunAt != nil {
		_, err = s.db.ExecContext(ctx,
			`UPDATE bots SET status = ?, last_run_at = ?, updated_at = ? WHERE name = ?`,
			status, lastRunAt.UTC().Format(time.RFC3339Nano), now, name)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE bots SET status = ?, updated_at = ? WHERE name = ?`,
			status, now, name)
	}
	if err != nil {
		return fmt.Errorf("update bot state %q: %w", name, err)
	}
	return nil
}

// DeleteBotRecord removes a bot row. Used when a custom bot is deleted.
func (s *Store) DeleteBotRecord(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete bot record %q: %w", name, err)
	}
	return nil
}

// BotRecord is one row of the bots table.
type BotRecord struct {
	Name        string
	DisplayName string
	Status      string
	LastRunAt   string
	UpdatedAt   string
}

// ListBots returns all bot records ordered by name.
func (s *Store) ListBots(ctx context.Context) ([]BotRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, display_name, status, COALESCE(last_run_at, ''), updated_at FROM bots ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	var out []BotRecord
	for rows.Next() {
		var r BotRecord
		if err := rows.Scan(&r.Name, &r.DisplayName, &r.Status, &r.LastRunAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bot row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bot rows: %w", err)
	}
	return out, nil
}

// RunRecord is one row of the bot_runs table.
type RunRecord struct {
	RunID       string
	Bot         string
	Trigger     string
	Status      string
	Output      string
	InTokens    int
	OutTokens   int
	Cost        float64
	StartedAt   string
	CompletedAt string
}

// ListRuns returns the most recent runs, newest first. An empty bot
// selects runs for all bots.
func (s *Store) ListRuns(ctx context.Context, bot string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT run_id, bot, triggered_by, status, in_tokens, out_tokens, cost, started_at, COALESCE(completed_at, '')
	          FROM bot_runs`
	args := []any{}
	if bot != "" {
		query += ` WHERE bot = ?`
		args = append(args, bot)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.Bot, &r.Trigger, &r.Status, &r.InTokens, &r.OutTokens, &r.Cost, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run rows: %w", err)
	}
	return out, nil
}

// GetRun fetches one run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, bool, error) {
	var r RunRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, bot, triggered_by, status, output, in_tokens, out_tokens, cost, started_at, COALESCE(completed_at, '')
		 FROM bot_runs WHERE run_id = ?`, runID).
		Scan(&r.RunID, &r.Bot, &r.Trigger, &r.Status, &r.Output, &r.InTokens, &r.OutTokens, &r.Cost, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, false, nil
		}
		return RunRecord{}, false, fmt.Errorf("query run %q: %w", runID, err)
	}
	return r, true, nil
}

// ListUserIDs returns the known platform user ids. The pulse runner falls
// back to a single empty id when the table is empty.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return out, nil
}
