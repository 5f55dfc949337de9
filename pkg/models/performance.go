package models

import "time"

// PerformanceRecord accumulates per-model call statistics.
// Calls and Failures count generate calls against the model, not attempts.
type PerformanceRecord struct {
	Model         string        `json:"model"`
	Calls         int64         `json:"calls"`
	Failures      int64         `json:"failures"`
	Attempts      int64         `json:"attempts"`
	Retries       int64         `json:"retries"`
	CacheHits     int64         `json:"cache_hits"`
	ShortCircuits int64         `json:"short_circuits"`
	TotalLatency  time.Duration `json:"total_latency"`
	AvgLatency    time.Duration `json:"avg_latency"`
	P50           time.Duration `json:"p50"`
	P95           time.Duration `json:"p95"`
	P99           time.Duration `json:"p99"`
	TokensIn      int64         `json:"tokens_in"`
	TokensOut     int64         `json:"tokens_out"`
	EstimatedCost float64       `json:"estimated_cost"`
	LastCall      time.Time     `json:"last_call,omitempty"`
}

// SuccessRate returns the fraction of calls that succeeded, or 0 with no calls.
func (r PerformanceRecord) SuccessRate() float64 {
	if r.Calls == 0 {
		return 0
	}
	return float64(r.Calls-r.Failures) / float64(r.Calls)
}
