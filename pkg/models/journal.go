package models

import "time"

// JournalEntry is one persisted call outcome.
type JournalEntry struct {
	ID        string    `json:"id"`
	RequestID string    `json:"request_id"`
	Model     string    `json:"model"`
	Outcome   string    `json:"outcome"`
	Attempts  int       `json:"attempts"`
	LatencyMs int64     `json:"latency_ms"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	Cost      float64   `json:"cost"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// JournalQueryOpts specifies filters for querying journal entries.
type JournalQueryOpts struct {
	Model     string
	Outcome   string
	RequestID string
	Since     time.Time
	Limit     int
}

// JournalSummary aggregates journal entries per model.
type JournalSummary struct {
	Model         string  `json:"model"`
	Calls         int     `json:"calls"`
	Successes     int     `json:"successes"`
	Failures      int     `json:"failures"`
	CacheHits     int     `json:"cache_hits"`
	ShortCircuits int     `json:"short_circuits"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	TokensIn      int64   `json:"tokens_in"`
	TokensOut     int64   `json:"tokens_out"`
	Cost          float64 `json:"cost"`
}
