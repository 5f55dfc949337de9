// Package metrics exports orchestrator events as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pario-ai/relay/pkg/events"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "relay"

// Breaker state gauge values.
var stateValues = map[string]float64{
	"closed":    0,
	"open":      1,
	"half-open": 2,
}

// Collector is an events.Collector that updates Prometheus metrics.
type Collector struct {
	calls           *prometheus.CounterVec
	attemptFailures *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	shortCircuits   *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	callDuration    *prometheus.HistogramVec
	tokens          *prometheus.CounterVec
	cost            *prometheus.CounterVec
}

// New registers the relay metrics with reg. A nil reg uses the default
// registerer.
func New(reg prometheus.Registerer, namespace string) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	f := promauto.With(reg)

	return &Collector{
		calls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Model calls by outcome. A retried call counts once.",
			},
			[]string{"model", "outcome"},
		),
		attemptFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempt_failures_total",
				Help:      "Failed invocation attempts.",
			},
			[]string{"model"},
		),
		cacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Responses served from cache.",
			},
			[]string{"model"},
		),
		shortCircuits: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "short_circuits_total",
				Help:      "Calls rejected by an open circuit.",
			},
			[]string{"model"},
		),
		breakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit state: 0 closed, 1 open, 2 half-open.",
			},
			[]string{"model"},
		),
		callDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Model call latency including retries.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"model"},
		),
		tokens: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens processed by direction (in, out).",
			},
			[]string{"model", "direction"},
		),
		cost: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cost_total",
				Help:      "Reported backend cost.",
			},
			[]string{"model"},
		),
	}
}

// Collect implements events.Collector.
func (c *Collector) Collect(e events.Event) {
	switch e.Kind {
	case events.KindModelRegistered:
		// Replacing a model keeps its breaker, so only first registration seeds the gauge.
		c.breakerState.WithLabelValues(e.Model).Set(stateValues["closed"])
	case events.KindCallSucceeded:
		c.calls.WithLabelValues(e.Model, "success").Inc()
		c.callDuration.WithLabelValues(e.Model).Observe(e.Latency.Seconds())
		if e.TokensIn > 0 {
			c.tokens.WithLabelValues(e.Model, "in").Add(float64(e.TokensIn))
		}
		if e.TokensOut > 0 {
			c.tokens.WithLabelValues(e.Model, "out").Add(float64(e.TokensOut))
		}
		if e.Cost > 0 {
			c.cost.WithLabelValues(e.Model).Add(e.Cost)
		}
	case events.KindCallFailed:
		c.calls.WithLabelValues(e.Model, "failure").Inc()
		c.callDuration.WithLabelValues(e.Model).Observe(e.Latency.Seconds())
	case events.KindAttemptFailed:
		c.attemptFailures.WithLabelValues(e.Model).Inc()
	case events.KindCacheHit:
		c.cacheHits.WithLabelValues(e.Model).Inc()
	case events.KindShortCircuit:
		c.shortCircuits.WithLabelValues(e.Model).Inc()
	case events.KindBreakerTransition:
		if v, ok := stateValues[e.To]; ok {
			c.breakerState.WithLabelValues(e.Model).Set(v)
		}
	}
}
