// Package redis is a cache.Store backed by Redis, for caches shared between
// relay instances.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pario-ai/relay/pkg/models"
)

// DefaultPrefix namespaces relay keys in a shared Redis database.
const DefaultPrefix = "relay:cache:"

// Config holds Redis connection settings.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Cache stores responses as JSON under prefixed keys with native Redis expiry.
type Cache struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

type storedEntry struct {
	Response  models.Response `json:"response"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl"`
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client. An empty prefix uses DefaultPrefix.
func NewWithClient(client goredis.UniversalClient, prefix string) *Cache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Cache{client: client, prefix: prefix, now: time.Now}
}

func (c *Cache) key(k string) string { return c.prefix + k }

// Get returns the cached response for key.
func (c *Cache) Get(ctx context.Context, key string) (models.Response, bool, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		c.misses.Add(1)
		return models.Response{}, false, nil
	}
	if err != nil {
		c.misses.Add(1)
		return models.Response{}, false, fmt.Errorf("redis get: %w", err)
	}

	var e storedEntry
	if err := json.Unmarshal(data, &e); err != nil {
		c.misses.Add(1)
		return models.Response{}, false, fmt.Errorf("decode cached response: %w", err)
	}
	// Redis expiry has second-level granularity on some servers; recheck.
	if !c.now().Before(e.CreatedAt.Add(e.TTL)) {
		c.misses.Add(1)
		return models.Response{}, false, nil
	}
	c.hits.Add(1)
	return e.Response, true, nil
}

// Put stores resp under key with a Redis TTL.
func (c *Cache) Put(ctx context.Context, key string, resp models.Response, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(storedEntry{Response: resp, CreatedAt: c.now(), TTL: ttl})
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Stats counts keys under the prefix and reports this process's hit/miss counters.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var count int64
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return models.CacheStats{}, fmt.Errorf("redis scan: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear deletes every key under the prefix. Redis already drops expired
// keys, so expiredOnly is a no-op.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool) error {
	if expiredOnly {
		return nil
	}
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
