// Package store provides the durable record store for LifeStation.
//
// It holds each user's current target (last write wins) and the append-only mood log.
// Backends: in-memory, SQLite, PostgreSQL, Redis and DynamoDB. Every storage I/O failure
// is reported as a *PersistenceError.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BTreeMap/LifeStation/internal/models"
)

// ErrPersistence matches any *PersistenceError with errors.Is.
var ErrPersistence = errors.New("persistence error")

// PersistenceError reports a storage I/O failure for one logical operation.
type PersistenceError struct {
	Op     string // SaveTarget, GetTarget, AppendMood, ListMoods, RecordInbound, ForgetInbound
	UserID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s for user %s: %v", e.Op, e.UserID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPersistence) true for every PersistenceError.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func persistErr(op, userID string, err error) error {
	return &PersistenceError{Op: op, UserID: userID, Err: err}
}

// RecordStore is the durable per-user state consumed by the dialog router.
type RecordStore interface {
	// SaveTarget replaces the user's target. Empty text is a valid target.
	SaveTarget(ctx context.Context, userID, text string) error
	// GetTarget returns the user's target, or nil when none was ever saved.
	GetTarget(ctx context.Context, userID string) (*models.TargetRecord, error)
	// AppendMood inserts one mood entry dated date (YYYY-MM-DD).
	AppendMood(ctx context.Context, userID, text, date string) error
	// ListMoods returns up to limit most recent entries in chronological order. limit <= 0 means all.
	ListMoods(ctx context.Context, userID string, limit int) ([]models.MoodLogEntry, error)
	Close() error
}

// Deduper records inbound event ids so redelivered events are applied once.
type Deduper interface {
	// RecordInbound returns false if eventID was already recorded.
	RecordInbound(ctx context.Context, eventID, userID string) (bool, error)
	// ForgetInbound drops eventID so a redelivery is accepted. Used when a recorded event was never applied.
	ForgetInbound(ctx context.Context, eventID string) error
}

// Pruner drops inbound event ids older than a cutoff, for backends without native expiry.
type Pruner interface {
	PruneInbound(ctx context.Context, cutoff time.Time) (int64, error)
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN         string        // SQLite path, Postgres URL, redis:// URL, dynamodb://table or memory:
	RedisPrefix string        // key prefix for the Redis backend
	Table       string        // DynamoDB table name
	DedupTTL    time.Duration // retention of inbound event ids where the backend supports expiry
}

// Option defines a function for configuring store options.
type Option func(*Opts)

// WithDSN sets the backend DSN; Open picks the backend from it.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(path string) Option {
	return WithDSN(path)
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithRedisURL sets the redis:// URL.
func WithRedisURL(url string) Option {
	return WithDSN(url)
}

// WithRedisPrefix sets the Redis key prefix.
func WithRedisPrefix(prefix string) Option {
	return func(o *Opts) { o.RedisPrefix = prefix }
}

// WithDynamoDBTable sets the DynamoDB table name.
func WithDynamoDBTable(table string) Option {
	return func(o *Opts) { o.Table = table }
}

// WithDedupTTL sets how long inbound event ids are kept by expiring backends.
func WithDedupTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.DedupTTL = ttl }
}

func applyOpts(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// InMemoryStore keeps records in process memory. Records do not survive restarts.
type InMemoryStore struct {
	mu      sync.RWMutex
	targets map[string]models.TargetRecord
	moods   map[string][]models.MoodLogEntry
	inbound map[string]time.Time
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		targets: make(map[string]models.TargetRecord),
		moods:   make(map[string][]models.MoodLogEntry),
		inbound: make(map[string]time.Time),
	}
}

func (s *InMemoryStore) SaveTarget(_ context.Context, userID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[userID] = models.TargetRecord{UserID: userID, Text: text, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *InMemoryStore) GetTarget(_ context.Context, userID string) (*models.TargetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.targets[userID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *InMemoryStore) AppendMood(_ context.Context, userID, text, date string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moods[userID] = append(s.moods[userID], models.MoodLogEntry{
		UserID:    userID,
		MoodText:  text,
		Date:      date,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *InMemoryStore) ListMoods(_ context.Context, userID string, limit int) ([]models.MoodLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.moods[userID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]models.MoodLogEntry(nil), entries...), nil
}

func (s *InMemoryStore) RecordInbound(_ context.Context, eventID, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.inbound[eventID]; seen {
		return false, nil
	}
	s.inbound[eventID] = time.Now().UTC()
	return true, nil
}

func (s *InMemoryStore) ForgetInbound(_ context.Context, eventID string) error {
	s.mu.Lock()
	delete(s.inbound, eventID)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) PruneInbound(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, at := range s.inbound {
		if at.Before(cutoff) {
			delete(s.inbound, id)
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) Close() error { return nil }

// Compile-time checks that every backend implements RecordStore and Deduper.
var (
	_ RecordStore = (*InMemoryStore)(nil)
	_ Deduper     = (*InMemoryStore)(nil)
	_ Pruner      = (*InMemoryStore)(nil)
	_ RecordStore = (*SQLiteStore)(nil)
	_ Deduper     = (*SQLiteStore)(nil)
	_ Pruner      = (*SQLiteStore)(nil)
	_ RecordStore = (*PostgresStore)(nil)
	_ Deduper     = (*PostgresStore)(nil)
	_ Pruner      = (*PostgresStore)(nil)
	_ RecordStore = (*RedisStore)(nil)
	_ Deduper     = (*RedisStore)(nil)
	_ RecordStore = (*DynamoDBStore)(nil)
	_ Deduper     = (*DynamoDBStore)(nil)
)
