package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coocood/freecache"
	json "github.com/goccy/go-json"

	"github.com/crypto-temple/internal/logging"
	"github.com/crypto-temple/internal/types"
)

// DefaultSnapshotTTL is how long a snapshot stays fresh
const DefaultSnapshotTTL = 60 * time.Second

const snapshotKeyPrefix = "temple:snapshot:"

// SnapshotCache holds recently fetched wallet snapshots keyed by address.
// Keys are case-insensitive.
type SnapshotCache interface {
	Get(ctx context.Context, address string) (*types.WalletSnapshot, bool, error)
	Set(ctx context.Context, snapshot *types.WalletSnapshot) error
	Invalidate(ctx context.Context, address string) error
}

// SnapshotKey normalizes an address into a cache key
func SnapshotKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// clockTimer adapts a wall clock to freecache's second-resolution timer
type clockTimer func() time.Time

func (c clockTimer) Now() uint32 {
	return uint32(c().Unix()) // #nosec G115 - unix seconds fit until 2106
}

// MemorySnapshotCache is a bounded in-process cache backed by freecache.
// Oldest entries are evicted once the configured size is reached.
type MemorySnapshotCache struct {
	cache *freecache.Cache
	ttl   int
}

// NewMemorySnapshotCache creates a cache of sizeMB megabytes. now may be nil.
func NewMemorySnapshotCache(sizeMB int, ttl time.Duration, now func() time.Time) *MemorySnapshotCache {
	if sizeMB <= 0 {
		sizeMB = 1
	}
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemorySnapshotCache{
		cache: freecache.NewCacheCustomTimer(sizeMB*1024*1024, clockTimer(now)),
		ttl:   max(int(ttl/time.Second), 1),
	}
}

// Get implements SnapshotCache
func (c *MemorySnapshotCache) Get(_ context.Context, address string) (*types.WalletSnapshot, bool, error) {
	data, err := c.cache.Get([]byte(SnapshotKey(address)))
	if errors.Is(err, freecache.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return decodeSnapshot(data)
}

// Set implements SnapshotCache
func (c *MemorySnapshotCache) Set(_ context.Context, snapshot *types.WalletSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return c.cache.Set([]byte(SnapshotKey(snapshot.Address)), data, c.ttl)
}

// Invalidate implements SnapshotCache
func (c *MemorySnapshotCache) Invalidate(_ context.Context, address string) error {
	c.cache.Del([]byte(SnapshotKey(address)))
	return nil
}

// EntryCount returns the number of live entries
func (c *MemorySnapshotCache) EntryCount() int64 {
	return c.cache.EntryCount()
}

// RedisSnapshotCache shares snapshots between server instances
type RedisSnapshotCache struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewRedisSnapshotCache creates a Redis-backed snapshot cache
func NewRedisSnapshotCache(redis *RedisCache, ttl time.Duration) *RedisSnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisSnapshotCache{redis: redis, ttl: ttl}
}

// Get implements SnapshotCache
func (c *RedisSnapshotCache) Get(ctx context.Context, address string) (*types.WalletSnapshot, bool, error) {
	data, err := c.redis.Get(ctx, snapshotKeyPrefix+SnapshotKey(address))
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get from cache: %w", err)
	}
	return decodeSnapshot(data)
}

// Set implements SnapshotCache
func (c *RedisSnapshotCache) Set(ctx context.Context, snapshot *types.WalletSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return c.redis.Set(ctx, snapshotKeyPrefix+SnapshotKey(snapshot.Address), data, c.ttl)
}

// Invalidate implements SnapshotCache
func (c *RedisSnapshotCache) Invalidate(ctx context.Context, address string) error {
	return c.redis.Del(ctx, snapshotKeyPrefix+SnapshotKey(address))
}

func decodeSnapshot(data []byte) (*types.WalletSnapshot, bool, error) {
	var snapshot types.WalletSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached snapshot: %w", err)
	}
	return &snapshot, true, nil
}

// CacheMetrics receives hit and miss counts
type CacheMetrics interface {
	IncCacheHits()
	IncCacheMisses()
}

// InstrumentedSnapshotCache counts hits and misses of the wrapped cache
type InstrumentedSnapshotCache struct {
	inner   SnapshotCache
	metrics CacheMetrics
}

// NewInstrumentedSnapshotCache wraps inner with metrics
func NewInstrumentedSnapshotCache(inner SnapshotCache, metrics CacheMetrics) *InstrumentedSnapshotCache {
	return &InstrumentedSnapshotCache{inner: inner, metrics: metrics}
}

// Get implements SnapshotCache
func (c *InstrumentedSnapshotCache) Get(ctx context.Context, address string) (*types.WalletSnapshot, bool, error) {
	snapshot, ok, err := c.inner.Get(ctx, address)
	if ok {
		c.metrics.IncCacheHits()
	} else {
		c.metrics.IncCacheMisses()
	}
	return snapshot, ok, err
}

// Set implements SnapshotCache
func (c *InstrumentedSnapshotCache) Set(ctx context.Context, snapshot *types.WalletSnapshot) error {
	return c.inner.Set(ctx, snapshot)
}

// Invalidate implements SnapshotCache
func (c *InstrumentedSnapshotCache) Invalidate(ctx context.Context, address string) error {
	return c.inner.Invalidate(ctx, address)
}

// NewSnapshotCache builds the configured cache backend. redis may be nil
// for the memory backend.
func NewSnapshotCache(backend string, sizeMB int, ttl time.Duration, redis *RedisCache) (SnapshotCache, error) {
	switch backend {
	case "", "memory":
		logging.WithComponent("storage").Infof("Snapshot cache: memory, %dMB, TTL=%s", sizeMB, ttl)
		return NewMemorySnapshotCache(sizeMB, ttl, nil), nil
	case "redis":
		if redis == nil {
			return nil, fmt.Errorf("redis snapshot cache requires a redis connection")
		}
		logging.WithComponent("storage").Infof("Snapshot cache: redis, TTL=%s", ttl)
		return NewRedisSnapshotCache(redis, ttl), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
