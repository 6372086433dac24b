// This file implements an SQLite-backed store for the turn log and inbound dedup.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer; serializing through one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

// RecordTurn appends a turn to the log.
func (s *SQLiteStore) RecordTurn(ctx context.Context, rec TurnRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, step, message, reply, outcome, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Step, rec.Message, rec.Reply, rec.Outcome, rec.CreatedAt.UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore RecordTurn failed", "error", err, "session_id", rec.SessionID)
		return fmt.Errorf("failed to insert turn for session %s: %w", rec.SessionID, err)
	}
	slog.Debug("SQLiteStore RecordTurn succeeded", "session_id", rec.SessionID, "outcome", rec.Outcome)
	return nil
}

// ListTurns returns the turns of a session in the order they were recorded.
func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, step, message, reply, outcome, created_at FROM turns WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		slog.Error("SQLiteStore ListTurns query failed", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// PruneTurns deletes turns recorded before the cutoff.
func (s *SQLiteStore) PruneTurns(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE created_at < ?`, before.UTC())
	if err != nil {
		slog.Error("SQLiteStore PruneTurns failed", "error", err, "before", before)
		return 0, fmt.Errorf("failed to prune turns: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned turns: %w", err)
	}
	slog.Debug("SQLiteStore PruneTurns succeeded", "removed", n, "before", before)
	return n, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}

// scanTurns reads every row of a turns query.
func scanTurns(rows *sql.Rows) ([]TurnRecord, error) {
	turns := []TurnRecord{}
	for rows.Next() {
		var t TurnRecord
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Step, &t.Message, &t.Reply, &t.Outcome, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn rows: %w", err)
	}
	return turns, nil
}
