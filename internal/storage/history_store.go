package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crypto-temple/internal/types"
)

// DefaultHistoryKey is the document key the history collection lives under
const DefaultHistoryKey = "temple_history"

// HistoryStore persists the whole history collection as one document.
// There are no partial updates: callers load, modify and save.
type HistoryStore interface {
	Load(ctx context.Context) ([]types.HistoryRecord, error)
	Save(ctx context.Context, records []types.HistoryRecord) error
}

// decodeHistory treats a missing document as an empty collection
func decodeHistory(data []byte) ([]types.HistoryRecord, error) {
	if len(data) == 0 {
		return []types.HistoryRecord{}, nil
	}
	var records []types.HistoryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	if records == nil {
		records = []types.HistoryRecord{}
	}
	return records, nil
}

func encodeHistory(records []types.HistoryRecord) ([]byte, error) {
	if records == nil {
		records = []types.HistoryRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	return data, nil
}

// MemoryHistoryStore keeps the encoded document in process
type MemoryHistoryStore struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemoryHistoryStore creates an empty in-memory store
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{}
}

// Load implements HistoryStore
func (s *MemoryHistoryStore) Load(_ context.Context) ([]types.HistoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return decodeHistory(s.data)
}

// Save implements HistoryStore
func (s *MemoryHistoryStore) Save(_ context.Context, records []types.HistoryRecord) error {
	data, err := encodeHistory(records)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
	return nil
}

// RedisHistoryStore keeps the document under a single Redis string key
type RedisHistoryStore struct {
	redis *RedisCache
	key   string
}

// NewRedisHistoryStore creates a Redis-backed store
func NewRedisHistoryStore(redis *RedisCache, key string) *RedisHistoryStore {
	if key == "" {
		key = DefaultHistoryKey
	}
	return &RedisHistoryStore{redis: redis, key: key}
}

// Load implements HistoryStore
func (s *RedisHistoryStore) Load(ctx context.Context) ([]types.HistoryRecord, error) {
	data, err := s.redis.Get(ctx, s.key)
	if errors.Is(err, ErrCacheMiss) {
		return []types.HistoryRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return decodeHistory(data)
}

// Save implements HistoryStore
func (s *RedisHistoryStore) Save(ctx context.Context, records []types.HistoryRecord) error {
	data, err := encodeHistory(records)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key, data, 0); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// PostgresHistoryStore keeps the document as a JSONB row in
// history_documents
type PostgresHistoryStore struct {
	pool *pgxpool.Pool
	key  string
}

// NewPostgresHistoryStore creates a Postgres-backed store
func NewPostgresHistoryStore(db *PostgresDB, key string) *PostgresHistoryStore {
	if key == "" {
		key = DefaultHistoryKey
	}
	return &PostgresHistoryStore{pool: db.Pool(), key: key}
}

// Load implements HistoryStore
func (s *PostgresHistoryStore) Load(ctx context.Context) ([]types.HistoryRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM history_documents WHERE key = $1`, s.key,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return []types.HistoryRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return decodeHistory(data)
}

// Save implements HistoryStore
func (s *PostgresHistoryStore) Save(ctx context.Context, records []types.HistoryRecord) error {
	data, err := encodeHistory(records)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO history_documents (key, document, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET document = EXCLUDED.document, updated_at = NOW()`,
		s.key, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// NewHistoryStore builds the configured history backend
func NewHistoryStore(backend, key string, redis *RedisCache, pg *PostgresDB) (HistoryStore, error) {
	switch backend {
	case "", "memory":
		return NewMemoryHistoryStore(), nil
	case "redis":
		if redis == nil {
			return nil, fmt.Errorf("redis history store requires a redis connection")
		}
		return NewRedisHistoryStore(redis, key), nil
	case "postgres":
		if pg == nil {
			return nil, fmt.Errorf("postgres history store requires a postgres connection")
		}
		return NewPostgresHistoryStore(pg, key), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", backend)
	}
}
