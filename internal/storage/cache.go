package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedSlots is a group listing together with the directory modification time it was built from.
type CachedSlots struct {
	ModTime int64         `json:"modTime"`
	Records []ImageRecord `json:"records"`
}

// SlotCache stores group listings. Implementations treat backend failures as cache misses.
type SlotCache interface {
	Get(ctx context.Context, group string) (*CachedSlots, bool)
	Set(ctx context.Context, group string, entry *CachedSlots)
	Invalidate(ctx context.Context, group string)
}

type CacheOptions struct {
	Type     string
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// NewSlotCache returns nil for the "none" type; GroupStore then lists every time.
func NewSlotCache(options CacheOptions) (SlotCache, error) {
	switch options.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryCache(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     options.Address,
			Password: options.Password,
			DB:       options.DB,
		})
		return NewRedisCache(client, options.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", options.Type)
	}
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*CachedSlots
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*CachedSlots)}
}

func (c *MemoryCache) Get(_ context.Context, group string) (*CachedSlots, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[group]
	if !ok {
		return nil, false
	}
	copied := *entry
	copied.Records = append([]ImageRecord(nil), entry.Records...)
	return &copied, true
}

func (c *MemoryCache) Set(_ context.Context, group string, entry *CachedSlots) {
	copied := *entry
	copied.Records = append([]ImageRecord(nil), entry.Records...)
	c.mu.Lock()
	c.entries[group] = &copied
	c.mu.Unlock()
}

func (c *MemoryCache) Invalidate(_ context.Context, group string) {
	c.mu.Lock()
	delete(c.entries, group)
	c.mu.Unlock()
}

const redisKeyPrefix = "hourframe:slots:"

// RedisCache shares listings between replicas mounting the same volume.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, group string) (*CachedSlots, bool) {
	data, err := c.client.Get(ctx, redisKeyPrefix+group).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("slot cache read failed", "group", group, "error", err)
		}
		return nil, false
	}
	var entry CachedSlots
	if err := json.Unmarshal(data, &entry); err != nil {
		slog.Warn("slot cache entry is corrupt", "group", group, "error", err)
		return nil, false
	}
	return &entry, true
}

func (c *RedisCache) Set(ctx context.Context, group string, entry *CachedSlots) {
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("failed to encode slot cache entry", "group", group, "error", err)
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+group, data, c.ttl).Err(); err != nil {
		slog.Warn("slot cache write failed", "group", group, "error", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, group string) {
	if err := c.client.Del(ctx, redisKeyPrefix+group).Err(); err != nil {
		slog.Warn("slot cache invalidation failed", "group", group, "error", err)
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
