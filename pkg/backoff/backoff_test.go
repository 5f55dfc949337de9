package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayWithoutJitter(t *testing.T) {
	p := Default()
	p.Jitter = false

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 200 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{5, 3200 * time.Millisecond},
		{6, 5 * time.Second},
		{100, 5 * time.Second},
		{5000, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Default()
	for attempt := 1; attempt <= 8; attempt++ {
		nojitter := p
		nojitter.Jitter = false
		base := nojitter.Delay(attempt)
		for i := 0; i < 100; i++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, base)
			assert.Less(t, d, 2*base)
		}
	}
}

func TestDelayInjectedRand(t *testing.T) {
	p := Default().WithRand(func() float64 { return 0.5 })
	assert.Equal(t, 300*time.Millisecond, p.Delay(1))
	assert.Equal(t, 600*time.Millisecond, p.Delay(2))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	bad := Policy{Base: 0, Multiplier: 0.5, MaxDelay: -1, MaxAttempts: 0}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base delay")
	assert.Contains(t, err.Error(), "multiplier")
	assert.Contains(t, err.Error(), "max attempts")
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleepCompletes(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
	assert.NoError(t, Sleep(context.Background(), 0))
}
