// Package tracker accumulates per-model call performance and cost in memory.
package tracker

import (
	"sort"
	"sync"
	"time"

	"github.com/pario-ai/relay/pkg/models"
)

// DefaultWindow is the number of recent call latencies kept per model.
const DefaultWindow = 1000

// Outcome describes one completed call against a model.
type Outcome struct {
	Latency   time.Duration
	Success   bool
	Attempts  int
	TokensIn  int
	TokensOut int
	// Cost, when set, overrides the pricing-based estimate.
	Cost *float64
}

// Tracker records per-model performance. All methods are safe for
// concurrent use and never fail.
type Tracker struct {
	window int
	now    func() time.Time

	mu      sync.RWMutex
	records map[string]*record
	pricing map[string]models.ModelPricing
}

type record struct {
	mu      sync.Mutex
	rec     models.PerformanceRecord
	samples []time.Duration
	next    int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithWindow sets the latency sample window per model.
func WithWindow(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.window = n
		}
	}
}

// WithClock overrides the time source for LastCall.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		window:  DefaultWindow,
		now:     time.Now,
		records: make(map[string]*record),
		pricing: make(map[string]models.ModelPricing),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetPricing registers per-1K token pricing used to estimate cost for model.
func (t *Tracker) SetPricing(model string, p models.ModelPricing) {
	t.mu.Lock()
	t.pricing[model] = p
	t.mu.Unlock()
}

// ClearPricing drops model's pricing; later calls are costed only from
// explicit Outcome.Cost.
func (t *Tracker) ClearPricing(model string) {
	t.mu.Lock()
	delete(t.pricing, model)
	t.mu.Unlock()
}

func (t *Tracker) get(model string) (*record, models.ModelPricing, bool) {
	t.mu.RLock()
	r, ok := t.records[model]
	p, priced := t.pricing[model]
	t.mu.RUnlock()
	if ok {
		return r, p, priced
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[model]; ok {
		return r, p, priced
	}
	r = &record{rec: models.PerformanceRecord{Model: model}}
	t.records[model] = r
	return r, p, priced
}

// Record accumulates one call outcome. A call that retried and then
// succeeded counts as one successful call.
func (t *Tracker) Record(model string, o Outcome) {
	r, pricing, priced := t.get(model)

	cost := 0.0
	switch {
	case o.Cost != nil:
		cost = *o.Cost
	case priced:
		cost = pricing.Estimate(o.TokensIn, o.TokensOut)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.rec.Calls++
	if !o.Success {
		r.rec.Failures++
	}
	r.rec.Attempts += int64(o.Attempts)
	if o.Attempts > 1 {
		r.rec.Retries += int64(o.Attempts - 1)
	}
	r.rec.TotalLatency += o.Latency
	r.rec.TokensIn += int64(o.TokensIn)
	r.rec.TokensOut += int64(o.TokensOut)
	r.rec.EstimatedCost += cost
	r.rec.LastCall = t.now()

	if len(r.samples) < t.window {
		r.samples = append(r.samples, o.Latency)
	} else {
		r.samples[r.next] = o.Latency
		r.next = (r.next + 1) % t.window
	}
}

// RecordCacheHit counts a response served from cache for model.
func (t *Tracker) RecordCacheHit(model string) {
	r, _, _ := t.get(model)
	r.mu.Lock()
	r.rec.CacheHits++
	r.mu.Unlock()
}

// RecordShortCircuit counts a call rejected by model's open circuit.
func (t *Tracker) RecordShortCircuit(model string) {
	r, _, _ := t.get(model)
	r.mu.Lock()
	r.rec.ShortCircuits++
	r.mu.Unlock()
}

// Snapshot returns model's record with derived latency statistics.
func (t *Tracker) Snapshot(model string) (models.PerformanceRecord, bool) {
	t.mu.RLock()
	r, ok := t.records[model]
	t.mu.RUnlock()
	if !ok {
		return models.PerformanceRecord{Model: model}, false
	}
	return r.snapshot(), true
}

// Snapshots returns every model's record keyed by model name.
func (t *Tracker) Snapshots() map[string]models.PerformanceRecord {
	t.mu.RLock()
	list := make([]*record, 0, len(t.records))
	for _, r := range t.records {
		list = append(list, r)
	}
	t.mu.RUnlock()

	out := make(map[string]models.PerformanceRecord, len(list))
	for _, r := range list {
		s := r.snapshot()
		out[s.Model] = s
	}
	return out
}

func (r *record) snapshot() models.PerformanceRecord {
	r.mu.Lock()
	rec := r.rec
	samples := make([]time.Duration, len(r.samples))
	copy(samples, r.samples)
	r.mu.Unlock()

	if rec.Calls > 0 {
		rec.AvgLatency = rec.TotalLatency / time.Duration(rec.Calls)
	}
	if len(samples) > 0 {
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		rec.P50 = percentile(samples, 50)
		rec.P95 = percentile(samples, 95)
		rec.P99 = percentile(samples, 99)
	}
	return rec
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
