// Package session provides the process-wide keyed store of conversation sessions.
//
// Sessions live in memory with a sliding expiry. Each session carries its own mutex so
// concurrent turns on the same session id are serialized, and every turn works on a deep
// copy that is committed only when the turn succeeds.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const (
	// DefaultTTL is how long an idle session is kept.
	DefaultTTL = 2 * time.Hour
	// DefaultCleanupInterval is how often expired sessions are purged.
	DefaultCleanupInterval = 10 * time.Minute
)

// ErrNotFound is returned for unknown, cleared or expired session ids.
var ErrNotFound = errors.New("session not found")

// Opts holds configuration options for the session store.
type Opts struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	IDGenerator     func() string
}

// Option defines a configuration option for the session store.
type Option func(*Opts)

// WithTTL sets the idle expiry of sessions.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithCleanupInterval sets how often expired sessions are purged.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *Opts) { o.CleanupInterval = d }
}

// WithIDGenerator overrides session id generation (tests only).
func WithIDGenerator(gen func() string) Option {
	return func(o *Opts) { o.IDGenerator = gen }
}

type entry struct {
	mu      sync.Mutex
	session *models.Session
	cleared bool
}

// Store keeps sessions keyed by an opaque identifier.
type Store struct {
	cache *cache.Cache
	ttl   time.Duration
	newID func() string
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	cfg := Opts{TTL: DefaultTTL, CleanupInterval: DefaultCleanupInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = uuid.NewString
	}
	c := cache.New(cfg.TTL, cfg.CleanupInterval)
	c.OnEvicted(func(id string, _ interface{}) {
		slog.Debug("SessionStore: session evicted", "session_id", id)
	})
	slog.Debug("SessionStore created", "ttl", cfg.TTL, "cleanup_interval", cfg.CleanupInterval)
	return &Store{cache: c, ttl: cfg.TTL, newID: cfg.IDGenerator}
}

// Create makes a new session at the first step and returns its id.
func (s *Store) Create() string {
	for {
		id := s.newID()
		e := &entry{session: models.NewSession(id)}
		if err := s.cache.Add(id, e, cache.DefaultExpiration); err != nil {
			slog.Warn("SessionStore.Create: id collision, regenerating", "session_id", id)
			continue
		}
		slog.Debug("SessionStore.Create: session created", "session_id", id)
		return id
	}
}

// Get returns a snapshot of the session. Mutating the snapshot has no effect on the store.
func (s *Store) Get(id string) (*models.Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cleared {
		return nil, ErrNotFound
	}
	return e.session.Clone(), nil
}

// Update runs fn on a copy of the session while holding the session's lock. The copy
// replaces the stored session only when fn returns commit=true and a nil error; otherwise
// the stored session is left exactly as it was.
func (s *Store) Update(id string, fn func(sess *models.Session) (commit bool, err error)) error {
	e, ok := s.lookup(id)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cleared {
		return ErrNotFound
	}

	working := e.session.Clone()
	commit, err := fn(working)
	if err != nil {
		return err
	}
	if commit {
		working.ID = id
		working.UpdatedAt = time.Now()
		e.session = working
	}
	// Refresh the sliding expiry.
	s.cache.Set(id, e, cache.DefaultExpiration)
	return nil
}

// Clear destroys a session. Clearing an unknown id is a no-op.
func (s *Store) Clear(id string) {
	e, ok := s.lookup(id)
	if !ok {
		return
	}
	e.mu.Lock()
	e.cleared = true
	e.mu.Unlock()
	s.cache.Delete(id)
	slog.Debug("SessionStore.Clear: session cleared", "session_id", id)
}

// Len returns the number of live sessions, including expired ones not yet purged.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}

func (s *Store) lookup(id string) (*entry, bool) {
	if id == "" {
		return nil, false
	}
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	e, ok := v.(*entry)
	return e, ok
}
