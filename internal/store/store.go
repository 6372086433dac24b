// Package store provides storage backends for TripPipe.
//
// It keeps an append-only log of conversation turns and the inbound message dedup table
// used by the chat channels. Sessions themselves are never persisted here.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// TurnRecord is one handled conversation turn.
type TurnRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Reply     string    `json:"reply"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// TurnLog records conversation turns.
type TurnLog interface {
	RecordTurn(ctx context.Context, rec TurnRecord) error
	ListTurns(ctx context.Context, sessionID string) ([]TurnRecord, error)
}

// Pruner deletes turns and inbound dedup records older than a cutoff and reports how
// many were removed.
type Pruner interface {
	PruneTurns(ctx context.Context, before time.Time) (int64, error)
	PruneInbound(ctx context.Context, before time.Time) (int64, error)
}

// Store is the full storage backend used by the application.
type Store interface {
	TurnLog
	DedupRepo
	Pruner
	Close() error
}

// Opts holds configuration options for database-backed stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for database-backed stores.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns the database/sql driver name for a DSN: "postgres" for
// PostgreSQL URLs and key/value strings, "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") || strings.Contains(d, "host=") {
		return "postgres"
	}
	if fields := strings.Fields(d); len(fields) > 1 {
		for _, f := range fields {
			if !strings.Contains(f, "=") {
				return "sqlite3"
			}
		}
		return "postgres"
	}
	return "sqlite3"
}

// Open returns the backend selected by the DSN. An empty DSN selects the in-memory store.
func Open(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		slog.Debug("store.Open: using in-memory store")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(dsn) {
	case "postgres":
		s, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	}
}

// InMemoryStore is a simple in-memory store for turns and dedup records.
type InMemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	turns  []TurnRecord
	dedup  map[string]*DedupRecord
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{dedup: make(map[string]*DedupRecord)}
}

// RecordTurn appends a turn to the log.
func (s *InMemoryStore) RecordTurn(ctx context.Context, rec TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	s.turns = append(s.turns, rec)
	return nil
}

// ListTurns returns the turns of a session in the order they were recorded.
func (s *InMemoryStore) ListTurns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []TurnRecord{}
	for _, t := range s.turns {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

// PruneTurns drops turns recorded before the cutoff.
func (s *InMemoryStore) PruneTurns(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.turns[:0]
	for _, t := range s.turns {
		if !t.CreatedAt.Before(before) {
			kept = append(kept, t)
		}
	}
	removed := int64(len(s.turns) - len(kept))
	s.turns = kept
	return removed, nil
}

func (s *InMemoryStore) GetInbound(messageID string) (*DedupRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *InMemoryStore) RecordInbound(messageID, sender string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, Sender: sender, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) SaveReply(messageID, reply string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[messageID]; ok {
		rec.Reply = reply
	}
	return nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[messageID]; ok {
		now := time.Now()
		rec.ProcessedAt = &now
	}
	return nil
}

// PruneInbound drops dedup records received before the cutoff.
func (s *InMemoryStore) PruneInbound(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, rec := range s.dedup {
		if rec.ReceivedAt.Before(before) {
			delete(s.dedup, id)
			removed++
		}
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
