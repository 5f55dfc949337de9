// Package backoff computes retry delays with capped exponential growth and jitter.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Policy is a retry/backoff policy. Delay is a pure function of the attempt
// number apart from jitter.
type Policy struct {
	Base        time.Duration `yaml:"base"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
	Jitter      bool          `yaml:"jitter"`

	// rand returns a value in [0, 1). Nil uses math/rand/v2.
	rand func() float64
}

// Default returns the default policy: 200ms base doubling to a 5s cap, three
// attempts, jitter on.
func Default() Policy {
	return Policy{
		Base:        200 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
		MaxAttempts: 3,
		Jitter:      true,
	}
}

// WithRand returns a copy of p that draws jitter from fn.
func (p Policy) WithRand(fn func() float64) Policy {
	p.rand = fn
	return p
}

// Validate rejects policies that cannot produce a sane retry loop.
func (p Policy) Validate() error {
	var errs []error
	if p.Base <= 0 {
		errs = append(errs, errors.New("base delay must be positive"))
	}
	if p.Multiplier < 1 {
		errs = append(errs, errors.New("multiplier must be at least 1"))
	}
	if p.MaxDelay < p.Base {
		errs = append(errs, errors.New("max delay must not be below base delay"))
	}
	if p.MaxAttempts < 1 {
		errs = append(errs, errors.New("max attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// Delay returns the wait after the given failed attempt, starting at 1:
// min(Base*Multiplier^(attempt-1), MaxDelay), plus jitter in [0, delay)
// when enabled.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		r := p.rand
		if r == nil {
			r = rand.Float64
		}
		d += d * r()
	}
	return time.Duration(d)
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in that case.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
