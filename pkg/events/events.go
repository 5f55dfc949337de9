// Package events defines the collector the orchestrator reports to.
package events

import (
	"sync"
	"time"
)

// Kind names an event type.
type Kind string

const (
	KindModelRegistered   Kind = "model_registered"
	KindModelReplaced     Kind = "model_replaced"
	KindCacheHit          Kind = "cache_hit"
	KindShortCircuit      Kind = "short_circuit"
	KindAttemptFailed     Kind = "attempt_failed"
	KindCallSucceeded     Kind = "call_succeeded"
	KindCallFailed        Kind = "call_failed"
	KindBreakerTransition Kind = "breaker_transition"
	KindGenerateFailed    Kind = "generate_failed"
)

// Event is a single observation emitted by the orchestrator. Fields that do
// not apply to a kind are left zero.
type Event struct {
	Kind      Kind          `json:"kind"`
	Time      time.Time     `json:"time"`
	RequestID string        `json:"request_id,omitempty"`
	Model     string        `json:"model,omitempty"`
	Attempt   int           `json:"attempt,omitempty"`
	Latency   time.Duration `json:"latency,omitempty"`
	Delay     time.Duration `json:"delay,omitempty"`
	TokensIn  int           `json:"tokens_in,omitempty"`
	TokensOut int           `json:"tokens_out,omitempty"`
	Cost      float64       `json:"cost,omitempty"`
	From      string        `json:"from,omitempty"`
	To        string        `json:"to,omitempty"`
	Err       string        `json:"error,omitempty"`
}

// Collector receives events. Collect must not block for long; it runs on
// the caller's goroutine.
type Collector interface {
	Collect(Event)
}

// Func adapts a function to Collector.
type Func func(Event)

// Collect calls f.
func (f Func) Collect(e Event) { f(e) }

// Nop discards every event.
type Nop struct{}

// Collect does nothing.
func (Nop) Collect(Event) {}

// Multi fans an event out to several collectors in order.
type Multi []Collector

// Collect forwards e to each collector.
func (m Multi) Collect(e Event) {
	for _, c := range m {
		if c != nil {
			c.Collect(e)
		}
	}
}

// Recorder keeps every event in memory. Useful in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Collect appends e.
func (r *Recorder) Collect(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of every recorded event.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Kinds returns the recorded event kinds in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

// Count returns how many events of kind k were recorded.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}
