package events

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiFansOut(t *testing.T) {
	var a, b Recorder
	var seen []Kind
	m := Multi{&a, nil, &b, Func(func(e Event) { seen = append(seen, e.Kind) })}

	m.Collect(Event{Kind: KindCacheHit})
	m.Collect(Event{Kind: KindCallFailed})

	assert.Equal(t, []Kind{KindCacheHit, KindCallFailed}, a.Kinds())
	assert.Equal(t, a.Kinds(), b.Kinds())
	assert.Equal(t, a.Kinds(), seen)
	assert.Equal(t, 1, a.Count(KindCacheHit))

	Nop{}.Collect(Event{Kind: KindCacheHit})
}

func TestLogCollector(t *testing.T) {
	var buf bytes.Buffer
	c := NewLogCollector(zerolog.New(&buf).Level(zerolog.DebugLevel))

	c.Collect(Event{
		Kind:      KindBreakerTransition,
		RequestID: "req-1",
		Model:     "slow",
		From:      "closed",
		To:        "open",
	})
	c.Collect(Event{Kind: KindAttemptFailed, Model: "slow", Attempt: 2, Delay: 400 * time.Millisecond, Err: "boom"})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "warn", first["level"])
	assert.Equal(t, "slow", first["model"])
	assert.Equal(t, "open", first["to"])
	assert.Equal(t, "req-1", first["request_id"])

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "debug", second["level"])
	assert.Equal(t, float64(2), second["attempt"])
	assert.Equal(t, "boom", second["error"])
}
