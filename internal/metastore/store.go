// SPDX-License-Identifier: MIT

// Package metastore persists recorded sessions and named presets to a local
// SQLite database, backing the CLI's "preset" surface. This
// is interface-completeness only: the CLI commands wired to it accept and
// validate arguments but the richer Microsoft Graph-backed preset catalog
// they mirror is out of scope.
package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no CGO

	"github.com/devproxy-oss/devproxy/internal/model"
)

// Store provides SQLite persistence for recorded sessions and presets.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the metadata database at dbPath and
// runs its migrations.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("metastore: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // single-writer: this is a local CLI database, not a server pool

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metastore: ping: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		recorded_at TEXT NOT NULL,
		line_count  INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_lines (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		method     TEXT NOT NULL,
		url        TEXT NOT NULL,
		message_type TEXT NOT NULL,
		PRIMARY KEY (session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS presets (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveSession persists a named recording snapshot.
func (s *Store) SaveSession(ctx context.Context, id string, lines []model.RequestLog) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, recorded_at, line_count) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET recorded_at = excluded.recorded_at, line_count = excluded.line_count`,
		id, time.Now().UTC().Format(time.RFC3339), len(lines),
	)
	if err != nil {
		return fmt.Errorf("metastore: save session %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_lines WHERE session_id = ?`, id); err != nil {
		return err
	}
	for i, line := range lines {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_lines (session_id, seq, method, url, message_type) VALUES (?, ?, ?, ?, ?)`,
			id, i, line.Method, line.URL, string(line.MessageType),
		); err != nil {
			return fmt.Errorf("metastore: save session line %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// SessionSummary is a session's metadata without its recorded lines.
type SessionSummary struct {
	ID         string
	RecordedAt time.Time
	LineCount  int
}

// ListSessions returns every recorded session, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, recorded_at, line_count FROM sessions ORDER BY recorded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []SessionSummary
	for rows.Next() {
		var summary SessionSummary
		var recordedAt string
		if err := rows.Scan(&summary.ID, &recordedAt, &summary.LineCount); err != nil {
			return nil, err
		}
		summary.RecordedAt, _ = time.Parse(time.RFC3339, recordedAt)
		out = append(out, summary)
	}
	return out, rows.Err()
}

// SavePreset stores a named plugin/config preset as raw JSON.
func (s *Store) SavePreset(ctx context.Context, id, name, configJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO presets (id, name, config_json, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, config_json = excluded.config_json`,
		id, name, configJSON, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetPreset retrieves a preset's raw JSON config by ID. Returns
// ("", sql.ErrNoRows) if no such preset exists.
func (s *Store) GetPreset(ctx context.Context, id string) (string, error) {
	var configJSON string
	err := s.db.QueryRowContext(ctx, `SELECT config_json FROM presets WHERE id = ?`, id).Scan(&configJSON)
	return configJSON, err
}
