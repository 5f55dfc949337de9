// Package memory is an in-process cache.Store with lazy TTL expiry and an
// optional LRU capacity bound.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/pario-ai/relay/pkg/models"
)

// Cache is an in-memory response cache.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List
	maxEntries int
	now        func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

type entry struct {
	models.CacheEntry
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxEntries bounds the cache to n entries, evicting the least recently
// used first. Zero or negative disables the bound.
func WithMaxEntries(n int) Option {
	return func(c *Cache) { c.maxEntries = n }
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live entry for key, dropping it if it has expired.
func (c *Cache) Get(_ context.Context, key string) (models.Response, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return models.Response{}, false, nil
	}
	e := elem.Value.(*entry)
	if !e.Valid(c.now()) {
		c.remove(elem)
		c.misses++
		return models.Response{}, false, nil
	}

	c.lru.MoveToFront(elem)
	c.hits++
	return e.Response, true, nil
}

// Put stores resp under key, replacing any existing entry.
func (c *Cache) Put(_ context.Context, key string, resp models.Response, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ce := models.CacheEntry{Key: key, Response: resp, CreatedAt: c.now(), TTL: ttl}
	if elem, ok := c.entries[key]; ok {
		elem.Value = &entry{ce}
		c.lru.MoveToFront(elem)
		return nil
	}

	c.entries[key] = c.lru.PushFront(&entry{ce})
	if c.maxEntries > 0 {
		for c.lru.Len() > c.maxEntries {
			c.remove(c.lru.Back())
			c.evictions++
		}
	}
	return nil
}

// Stats returns cache counters.
func (c *Cache) Stats(context.Context) (models.CacheStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.CacheStats{
		Entries:   int64(c.lru.Len()),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}, nil
}

// Clear removes all entries, or only expired ones.
func (c *Cache) Clear(_ context.Context, expiredOnly bool) error {
	if expiredOnly {
		c.Sweep()
		return nil
	}
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.mu.Unlock()
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if !elem.Value.(*entry).Valid(now) {
			c.remove(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close is a no-op; it satisfies cache.Store.
func (c *Cache) Close() error { return nil }

func (c *Cache) remove(elem *list.Element) {
	delete(c.entries, elem.Value.(*entry).Key)
	c.lru.Remove(elem)
}
