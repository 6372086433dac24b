package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var _ DedupRepo = (*PostgresStore)(nil)

func (s *PostgresStore) GetInbound(messageID string) (*DedupRecord, error) {
	var rec DedupRecord
	var processed sql.NullTime
	err := s.db.QueryRow(
		`SELECT message_id, sender, reply, received_at, processed_at FROM inbound_dedup WHERE message_id = $1`, messageID,
	).Scan(&rec.MessageID, &rec.Sender, &rec.Reply, &rec.ReceivedAt, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dedup lookup failed: %w", err)
	}
	if processed.Valid {
		rec.ProcessedAt = &processed.Time
	}
	return &rec, nil
}

func (s *PostgresStore) RecordInbound(messageID, sender string) (bool, error) {
	result, err := s.db.Exec(
		`INSERT INTO inbound_dedup (message_id, sender, received_at) VALUES ($1, $2, $3) ON CONFLICT (message_id) DO NOTHING`,
		messageID, sender, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("dedup rows affected check failed: %w", err)
	}
	if n == 0 {
		slog.Debug("PostgresStore.RecordInbound: duplicate message", "message_id", messageID)
	}
	return n > 0, nil
}

func (s *PostgresStore) SaveReply(messageID, reply string) error {
	_, err := s.db.Exec(`UPDATE inbound_dedup SET reply = $1 WHERE message_id = $2`, reply, messageID)
	if err != nil {
		return fmt.Errorf("save reply failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`, time.Now(), messageID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

// PruneInbound deletes dedup records received before the cutoff.
func (s *PostgresStore) PruneInbound(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM inbound_dedup WHERE received_at < $1`, before)
	if err != nil {
		slog.Error("PostgresStore PruneInbound failed", "error", err, "before", before)
		return 0, fmt.Errorf("failed to prune inbound records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned inbound records: %w", err)
	}
	slog.Debug("PostgresStore PruneInbound succeeded", "removed", n, "before", before)
	return n, nil
}
