// This file implements a PostgreSQL-backed store for the turn log and inbound dedup.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// RecordTurn appends a turn to the log.
func (s *PostgresStore) RecordTurn(ctx context.Context, rec TurnRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, step, message, reply, outcome, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.SessionID, rec.Step, rec.Message, rec.Reply, rec.Outcome, rec.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore RecordTurn failed", "error", err, "session_id", rec.SessionID)
		return fmt.Errorf("failed to insert turn for session %s: %w", rec.SessionID, err)
	}
	slog.Debug("PostgresStore RecordTurn succeeded", "session_id", rec.SessionID, "outcome", rec.Outcome)
	return nil
}

// ListTurns returns the turns of a session in the order they were recorded.
func (s *PostgresStore) ListTurns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, step, message, reply, outcome, created_at FROM turns WHERE session_id = $1 ORDER BY id`,
		sessionID,
	)
	if err != nil {
		slog.Error("PostgresStore ListTurns query failed", "error", err, "session_id", sessionID)
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()
	return scanTurns(rows)
}

// PruneTurns deletes turns recorded before the cutoff.
func (s *PostgresStore) PruneTurns(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE created_at < $1`, before)
	if err != nil {
		slog.Error("PostgresStore PruneTurns failed", "error", err, "before", before)
		return 0, fmt.Errorf("failed to prune turns: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned turns: %w", err)
	}
	slog.Debug("PostgresStore PruneTurns succeeded", "removed", n, "before", before)
	return n, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
