package breaker

import (
	"sort"
	"sync"
	"time"

	"github.com/pario-ai/relay/pkg/models"
)

// Table holds one lazily created Breaker per model name. Calls against
// different models never contend on the same breaker lock.
type Table struct {
	cfg Config
	now func() time.Time

	mu       sync.RWMutex
	breakers map[string]*Breaker

	onStateChange func(model string, from, to State)
}

// Option configures a Table.
type Option func(*Table)

// WithClock overrides the time source used for open/half-open timing.
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// OnStateChange sets a hook called after every transition, outside any lock.
func OnStateChange(fn func(model string, from, to State)) Option {
	return func(t *Table) { t.onStateChange = fn }
}

// NewTable creates a breaker table. Zero config fields take defaults.
func NewTable(cfg Config, opts ...Option) *Table {
	t := &Table{
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Config returns the effective configuration.
func (t *Table) Config() Config { return t.cfg }

// Get returns the breaker for model, creating it on first use.
func (t *Table) Get(model string) *Breaker {
	t.mu.RLock()
	b, ok := t.breakers[model]
	t.mu.RUnlock()
	if ok {
		return b
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.breakers[model]; ok {
		return b
	}
	b = newBreaker(model, t.cfg, t.now, t.notify)
	t.breakers[model] = b
	return b
}

// Allow admits a call to model or returns a *CircuitOpenError.
func (t *Table) Allow(model string) (Permit, error) {
	return t.Get(model).Allow()
}

// Reset forces model's breaker closed.
func (t *Table) Reset(model string) {
	t.Get(model).Reset()
}

// Snapshot returns model's breaker state. Models never seen report closed.
func (t *Table) Snapshot(model string) models.BreakerSnapshot {
	t.mu.RLock()
	b, ok := t.breakers[model]
	t.mu.RUnlock()
	if !ok {
		return models.BreakerSnapshot{Model: model, State: StateClosed.String()}
	}
	return b.Snapshot()
}

// Snapshots returns every breaker's state, sorted by model.
func (t *Table) Snapshots() []models.BreakerSnapshot {
	t.mu.RLock()
	list := make([]*Breaker, 0, len(t.breakers))
	for _, b := range t.breakers {
		list = append(list, b)
	}
	t.mu.RUnlock()

	out := make([]models.BreakerSnapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

func (t *Table) notify(model string, from, to State) {
	if t.onStateChange != nil {
		t.onStateChange(model, from, to)
	}
}
