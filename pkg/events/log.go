package events

import (
	"github.com/rs/zerolog"
)

// LogCollector writes events as structured zerolog lines.
type LogCollector struct {
	logger zerolog.Logger
}

// NewLogCollector returns a collector that logs through logger.
func NewLogCollector(logger zerolog.Logger) *LogCollector {
	return &LogCollector{logger: logger}
}

// Collect logs e at a level matching its severity.
func (c *LogCollector) Collect(e Event) {
	var ev *zerolog.Event
	switch e.Kind {
	case KindGenerateFailed, KindCallFailed:
		ev = c.logger.Warn()
	case KindBreakerTransition:
		if e.To == "open" {
			ev = c.logger.Warn()
		} else {
			ev = c.logger.Info()
		}
	case KindModelRegistered, KindModelReplaced:
		ev = c.logger.Info()
	default:
		ev = c.logger.Debug()
	}

	ev = ev.Str("event", string(e.Kind))
	if e.RequestID != "" {
		ev = ev.Str("request_id", e.RequestID)
	}
	if e.Model != "" {
		ev = ev.Str("model", e.Model)
	}
	if e.Attempt > 0 {
		ev = ev.Int("attempt", e.Attempt)
	}
	if e.Latency > 0 {
		ev = ev.Dur("latency", e.Latency)
	}
	if e.Delay > 0 {
		ev = ev.Dur("backoff", e.Delay)
	}
	if e.From != "" || e.To != "" {
		ev = ev.Str("from", e.From).Str("to", e.To)
	}
	if e.TokensIn > 0 || e.TokensOut > 0 {
		ev = ev.Int("tokens_in", e.TokensIn).Int("tokens_out", e.TokensOut)
	}
	if e.Err != "" {
		ev = ev.Str("error", e.Err)
	}
	ev.Msg(string(e.Kind))
}
