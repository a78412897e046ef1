package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"board-api/domain"
)

type backend interface {
	FetchSnapshot(ctx context.Context) (domain.Snapshot, error)
	LastModified(ctx context.Context) (time.Time, error)
	UpdateStatus(ctx context.Context, id int64, statusID int) error
	UpdatePosition(ctx context.Context, id int64, position float64) error
	UpdateDueDate(ctx context.Context, id int64, due *string) error
	TouchTask(ctx context.Context, id int64) error
}

const (
	snapshotCacheKey = "board:snapshot"
	lastModCacheKey  = "board:lastmod"
)

// Cache wraps a Storage instance with short-lived Redis caching for the
// snapshot read so a fleet of 2-second stream tickers does not multiply
// identical queries. Every mutation evicts the cached snapshot.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client
// and TTL. A nil client or zero TTL degrades to pass-through reads.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchSnapshot(ctx context.Context) (domain.Snapshot, error) {
	if snap, ok := c.loadSnapshotFromCache(ctx); ok {
		return snap, nil
	}

	snap, err := c.base.FetchSnapshot(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}

	c.storeSnapshot(ctx, snap)
	return snap, nil
}

func (c *Cache) LastModified(ctx context.Context) (time.Time, error) {
	if c.redis != nil {
		if raw, err := c.redis.Get(ctx, lastModCacheKey).Result(); err == nil {
			if ts, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
				return ts, nil
			}
			_ = c.redis.Del(ctx, lastModCacheKey).Err()
		}
	}

	ts, err := c.base.LastModified(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if c.redis != nil && c.ttl > 0 {
		_ = c.redis.Set(ctx, lastModCacheKey, ts.Format(time.RFC3339Nano), c.ttl).Err()
	}
	return ts, nil
}

func (c *Cache) UpdateStatus(ctx context.Context, id int64, statusID int) error {
	if err := c.base.UpdateStatus(ctx, id, statusID); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) UpdatePosition(ctx context.Context, id int64, position float64) error {
	if err := c.base.UpdatePosition(ctx, id, position); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) UpdateDueDate(ctx context.Context, id int64, due *string) error {
	if err := c.base.UpdateDueDate(ctx, id, due); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) TouchTask(ctx context.Context, id int64) error {
	if err := c.base.TouchTask(ctx, id); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) loadSnapshotFromCache(ctx context.Context) (domain.Snapshot, bool) {
	if c.redis == nil {
		return domain.Snapshot{}, false
	}
	data, err := c.redis.Get(ctx, snapshotCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, snapshotCacheKey).Err()
		}
		return domain.Snapshot{}, false
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		_ = c.redis.Del(ctx, snapshotCacheKey).Err()
		return domain.Snapshot{}, false
	}
	return snap, true
}

func (c *Cache) storeSnapshot(ctx context.Context, snap domain.Snapshot) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, snapshotCacheKey, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, snapshotCacheKey, lastModCacheKey).Result()
}
