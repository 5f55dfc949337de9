// Package sqlite is a cache.Store backed by a SQLite table, so cached
// responses survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pario-ai/relay/pkg/models"
)

// Cache is a fingerprint-keyed response cache backed by SQLite.
type Cache struct {
	db     *sql.DB
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	cache_key TEXT PRIMARY KEY,
	response BLOB NOT NULL,
	created_at_ms INTEGER NOT NULL,
	ttl_ms INTEGER NOT NULL
);
`

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New opens (or creates) the cache database at dbPath.
func New(dbPath string, opts ...Option) (*Cache, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	c := &Cache{db: db, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get retrieves a cached response. Expired rows read as a miss.
func (c *Cache) Get(ctx context.Context, key string) (models.Response, bool, error) {
	var data []byte
	var createdAt, ttl int64

	err := c.db.QueryRowContext(ctx,
		`SELECT response, created_at_ms, ttl_ms FROM cache_entries WHERE cache_key = ?`, key,
	).Scan(&data, &createdAt, &ttl)
	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return models.Response{}, false, nil
	}
	if err != nil {
		c.misses.Add(1)
		return models.Response{}, false, fmt.Errorf("cache get: %w", err)
	}

	if c.now().UnixMilli() >= createdAt+ttl {
		c.misses.Add(1)
		return models.Response{}, false, nil
	}

	var resp models.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		c.misses.Add(1)
		return models.Response{}, false, fmt.Errorf("decode cached response: %w", err)
	}
	c.hits.Add(1)
	return resp, true, nil
}

// Put stores a response in the cache, replacing any row with the same key.
func (c *Cache) Put(ctx context.Context, key string, resp models.Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (cache_key, response, created_at_ms, ttl_ms)
		 VALUES (?, ?, ?, ?)`,
		key, data, c.now().UnixMilli(), ttl.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats returns cache performance metrics.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&count)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: count,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool) error {
	var err error
	if expiredOnly {
		_, err = c.db.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE created_at_ms + ttl_ms <= ?`, c.now().UnixMilli())
	} else {
		_, err = c.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	}
	if err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}
