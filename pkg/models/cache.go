package models

import "time"

// CacheEntry stores a cached backend response under a request fingerprint.
type CacheEntry struct {
	Key       string        `json:"key"`
	Response  Response      `json:"response"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
}

// Valid reports whether the entry is still live at now.
func (e CacheEntry) Valid(now time.Time) bool {
	return now.Before(e.CreatedAt.Add(e.TTL))
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries   int64 `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}
