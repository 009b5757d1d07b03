package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/project-tktt/immo-crawler/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Cache stores resolved locations by key
type Cache interface {
	Get(ctx context.Context, key string) (*domain.ResolvedLocation, bool)
	Set(ctx context.Context, key string, loc domain.ResolvedLocation)
}

// MemoryCache is a process-scoped cache. Reads dominate, inserts are guarded.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]domain.ResolvedLocation
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]domain.ResolvedLocation)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*domain.ResolvedLocation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	loc, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return &loc, true
}

func (c *MemoryCache) Set(_ context.Context, key string, loc domain.ResolvedLocation) {
	c.mu.Lock()
	c.entries[key] = loc
	c.mu.Unlock()
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisCache shares resolutions between processes
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "immo:geo"
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*domain.ResolvedLocation, bool) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var loc domain.ResolvedLocation
	if err := json.Unmarshal(data, &loc); err != nil {
		return nil, false
	}
	return &loc, true
}

func (c *RedisCache) Set(ctx context.Context, key string, loc domain.ResolvedLocation) {
	data, err := json.Marshal(loc)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.key(key), data, c.ttl)
}

func (c *RedisCache) key(k string) string {
	return fmt.Sprintf("%s:%s", c.prefix, k)
}

// TieredCache reads the local tier first and back-fills it from the shared tier
type TieredCache struct {
	local  Cache
	shared Cache
}

func NewTieredCache(local, shared Cache) *TieredCache {
	return &TieredCache{local: local, shared: shared}
}

func (c *TieredCache) Get(ctx context.Context, key string) (*domain.ResolvedLocation, bool) {
	if loc, ok := c.local.Get(ctx, key); ok {
		return loc, true
	}
	loc, ok := c.shared.Get(ctx, key)
	if ok {
		c.local.Set(ctx, key, *loc)
	}
	return loc, ok
}

func (c *TieredCache) Set(ctx context.Context, key string, loc domain.ResolvedLocation) {
	c.local.Set(ctx, key, loc)
	c.shared.Set(ctx, key, loc)
}
