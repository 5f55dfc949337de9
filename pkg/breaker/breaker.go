// Package breaker implements a per-model circuit breaker table.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pario-ai/relay/pkg/models"
)

// ErrCircuitOpen matches every *CircuitOpenError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned when a model's breaker short-circuits a call.
type CircuitOpenError struct {
	Model   string
	RetryAt time.Time
	// Probing is true when the breaker is half-open and its single probe
	// is already in flight.
	Probing bool
}

func (e *CircuitOpenError) Error() string {
	if e.Probing {
		return fmt.Sprintf("circuit breaker for %s is half-open with a probe in flight", e.Model)
	}
	return fmt.Sprintf("circuit breaker for %s is open until %s", e.Model, e.RetryAt.Format(time.RFC3339))
}

// Is lets errors.Is(err, ErrCircuitOpen) match.
func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// State is a breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls breaker transitions.
type Config struct {
	// FailureThreshold is the number of consecutive failed calls that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold"`
	// ResetTimeout is how long the circuit stays open before admitting a probe.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	return c
}

type transition struct {
	from, to State
}

// Breaker is one model's circuit state. The mutex guards state transitions
// only; it is never held while the backend is called.
type Breaker struct {
	model string
	cfg   Config
	now   func() time.Time

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
	generation          uint64
	shortCircuits       int64
	lastTransition      time.Time

	notify func(model string, from, to State)
}

func newBreaker(model string, cfg Config, now func() time.Time, notify func(string, State, State)) *Breaker {
	return &Breaker{
		model:  model,
		cfg:    cfg,
		now:    now,
		state:  StateClosed,
		notify: notify,
	}
}

// Permit is an admitted call. Exactly one of Success or Failure must be
// called once the call's outcome is known.
type Permit struct {
	b          *Breaker
	probe      bool
	generation uint64
}

// Probe reports whether this permit is the half-open trial call.
func (p Permit) Probe() bool { return p.probe }

// Success records a successful call.
func (p Permit) Success() {
	if p.b != nil {
		p.b.record(p, true)
	}
}

// Failure records a failed call.
func (p Permit) Failure() {
	if p.b != nil {
		p.b.record(p, false)
	}
}

// Allow admits a call or returns a *CircuitOpenError.
func (b *Breaker) Allow() (Permit, error) {
	b.mu.Lock()

	var tr *transition
	switch b.state {
	case StateOpen:
		retryAt := b.openedAt.Add(b.cfg.ResetTimeout)
		if b.now().Before(retryAt) {
			b.shortCircuits++
			b.mu.Unlock()
			return Permit{}, &CircuitOpenError{Model: b.model, RetryAt: retryAt}
		}
		tr = b.setState(StateHalfOpen)
		b.probeInFlight = true
		p := Permit{b: b, probe: true, generation: b.generation}
		b.mu.Unlock()
		b.emit(tr)
		return p, nil

	case StateHalfOpen:
		if b.probeInFlight {
			b.shortCircuits++
			b.mu.Unlock()
			return Permit{}, &CircuitOpenError{Model: b.model, RetryAt: b.openedAt.Add(b.cfg.ResetTimeout), Probing: true}
		}
		b.probeInFlight = true
		p := Permit{b: b, probe: true, generation: b.generation}
		b.mu.Unlock()
		return p, nil

	default:
		p := Permit{b: b, generation: b.generation}
		b.mu.Unlock()
		return p, nil
	}
}

func (b *Breaker) record(p Permit, success bool) {
	b.mu.Lock()

	// A reset since admission makes this outcome stale.
	if p.generation != b.generation {
		b.mu.Unlock()
		return
	}

	var tr *transition
	if success {
		b.consecutiveFailures = 0
		if p.probe {
			b.probeInFlight = false
			tr = b.setState(StateClosed)
			b.openedAt = time.Time{}
		}
	} else {
		b.consecutiveFailures++
		switch {
		case p.probe:
			b.probeInFlight = false
			tr = b.setState(StateOpen)
			b.openedAt = b.now()
		case b.state == StateClosed && b.consecutiveFailures >= b.cfg.FailureThreshold:
			tr = b.setState(StateOpen)
			b.openedAt = b.now()
		}
	}
	b.mu.Unlock()
	b.emit(tr)
}

// Reset forces the breaker closed and invalidates outstanding permits.
func (b *Breaker) Reset() {
	b.mu.Lock()
	tr := b.setState(StateClosed)
	b.consecutiveFailures = 0
	b.openedAt = time.Time{}
	b.probeInFlight = false
	b.generation++
	b.mu.Unlock()
	b.emit(tr)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker's state.
func (b *Breaker) Snapshot() models.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return models.BreakerSnapshot{
		Model:               b.model,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		ProbeInFlight:       b.probeInFlight,
		ShortCircuits:       b.shortCircuits,
		LastTransition:      b.lastTransition,
	}
}

// setState must be called with mu held.
func (b *Breaker) setState(to State) *transition {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.lastTransition = b.now()
	return &transition{from: from, to: to}
}

func (b *Breaker) emit(tr *transition) {
	if tr != nil && b.notify != nil {
		b.notify(b.model, tr.from, tr.to)
	}
}
