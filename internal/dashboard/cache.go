package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/qiniu/fedmon/internal/config"
)

const snapshotKey = "fedmon:dashboard:snapshot"

// NewRedisClientFromConfig constructs a redis client from app config.
func NewRedisClientFromConfig(c *config.RedisConfig) *redis.Client {
	if c == nil {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	})
}

// Cache keeps the marshaled dataset in Redis so the adapter service can
// serve reads without touching the database.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// StoreSnapshot is best-effort; a missing or unreachable Redis only logs.
func (c *Cache) StoreSnapshot(ctx context.Context, ds *Dataset) {
	if c == nil || c.rdb == nil {
		return
	}
	b, err := json.Marshal(ds)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal dashboard snapshot")
		return
	}
	if err := c.rdb.Set(ctx, snapshotKey, b, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("failed to store dashboard snapshot")
	}
}

// LoadSnapshot returns (nil, nil) when nothing is cached.
func (c *Cache) LoadSnapshot(ctx context.Context) (*Dataset, error) {
	if c == nil || c.rdb == nil {
		return nil, nil
	}
	b, err := c.rdb.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ds Dataset
	if err := json.Unmarshal(b, &ds); err != nil {
		return nil, fmt.Errorf("decode dashboard snapshot: %w", err)
	}
	return &ds, nil
}

type SchedulerDeps struct {
	Exporter *Exporter
	Cache    *Cache
	Interval time.Duration
}

// StartSnapshotScheduler refreshes the cached dataset on a fixed cadence,
// starting with an immediate snapshot.
func StartSnapshotScheduler(ctx context.Context, deps SchedulerDeps) {
	if deps.Interval <= 0 {
		deps.Interval = 10 * time.Minute
	}
	t := time.NewTicker(deps.Interval)
	defer t.Stop()

	refreshSnapshot(ctx, deps)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			refreshSnapshot(ctx, deps)
		}
	}
}

func refreshSnapshot(ctx context.Context, deps SchedulerDeps) {
	ds, err := deps.Exporter.Build(ctx)
	if err != nil {
		log.Error().Err(err).Msg("dashboard snapshot build failed")
		return
	}
	deps.Cache.StoreSnapshot(ctx, ds)
	log.Debug().
		Int("key_metrics", len(ds.KeyMetrics)).
		Int("charts", len(ds.Charts)).
		Msg("dashboard snapshot refreshed")
}
