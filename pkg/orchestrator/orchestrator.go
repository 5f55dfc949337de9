// Package orchestrator is the reliability control loop: it walks a model
// fallback chain, consulting the response cache and each model's circuit
// breaker, and retries failed invocations with backoff.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/relay/pkg/backoff"
	"github.com/pario-ai/relay/pkg/breaker"
	"github.com/pario-ai/relay/pkg/cache"
	"github.com/pario-ai/relay/pkg/events"
	"github.com/pario-ai/relay/pkg/models"
	"github.com/pario-ai/relay/pkg/registry"
	"github.com/pario-ai/relay/pkg/tracker"
)

// Config holds the orchestrator's policy settings.
type Config struct {
	Breaker breaker.Config
	Retry   backoff.Policy
	// AttemptTimeout bounds each single invocation. Zero means only the
	// caller's context applies.
	AttemptTimeout time.Duration
	// CacheTTL is the lifetime of cached responses.
	CacheTTL time.Duration
	// StrictRegistration rejects re-registration of an existing name.
	StrictRegistration bool
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		Breaker:  breaker.DefaultConfig(),
		Retry:    backoff.Default(),
		CacheTTL: time.Hour,
	}
}

// PerformanceTracker receives per-model call accounting. *tracker.Tracker
// implements it.
type PerformanceTracker interface {
	Record(model string, o tracker.Outcome)
	RecordCacheHit(model string)
	RecordShortCircuit(model string)
	SetPricing(model string, p models.ModelPricing)
	ClearPricing(model string)
	Snapshot(model string) (models.PerformanceRecord, bool)
	Snapshots() map[string]models.PerformanceRecord
}

// Orchestrator is the shared context object callers generate through. It
// is safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	registry  *registry.Registry
	breakers  *breaker.Table
	cache     cache.Store
	tracker   PerformanceTracker
	collector events.Collector
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string

	mu    sync.RWMutex
	chain []string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables response caching through store.
func WithCache(store cache.Store) Option {
	return func(o *Orchestrator) { o.cache = store }
}

// WithTracker replaces the default in-memory performance tracker.
func WithTracker(t PerformanceTracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithCollector sets the event collector.
func WithCollector(c events.Collector) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock overrides the time source for breakers, latency and events.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRequestIDs overrides request ID generation.
func WithRequestIDs(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New creates an Orchestrator with an empty registry.
func New(cfg Config, opts ...Option) *Orchestrator {
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}
	o := &Orchestrator{
		cfg:       cfg,
		collector: events.Nop{},
		logger:    log.Logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracker == nil {
		o.tracker = tracker.New(tracker.WithClock(o.now))
	}

	o.registry = registry.New(
		registry.WithStrict(cfg.StrictRegistration),
		registry.WithClock(o.now),
		registry.OnRegister(o.onRegister),
	)
	o.breakers = breaker.NewTable(cfg.Breaker,
		breaker.WithClock(o.now),
		breaker.OnStateChange(o.onStateChange),
	)
	return o
}

func (o *Orchestrator) onRegister(e registry.Entry, replaced bool) {
	if e.Metadata.Pricing != nil {
		p := *e.Metadata.Pricing
		o.track(func() { o.tracker.SetPricing(e.Name, p) })
	} else if replaced {
		o.track(func() { o.tracker.ClearPricing(e.Name) })
	}
	kind := events.KindModelRegistered
	if replaced {
		kind = events.KindModelReplaced
	}
	o.emit(events.Event{Kind: kind, Model: e.Name})
}

func (o *Orchestrator) onStateChange(model string, from, to breaker.State) {
	o.emit(events.Event{
		Kind:  events.KindBreakerTransition,
		Model: model,
		From:  from.String(),
		To:    to.String(),
	})
}

// Register adds a model. See registry.Registry.Register.
func (o *Orchestrator) Register(name string, inv registry.Invoker, md ...registry.Metadata) error {
	return o.registry.Register(name, inv, md...)
}

// SetActive sets the default model used when neither the request nor a
// fallback chain names one.
func (o *Orchestrator) SetActive(name string) error {
	return o.registry.SetActive(name)
}

// Active returns the active model name, if set.
func (o *Orchestrator) Active() (string, bool) {
	return o.registry.Active()
}

// SetFallbackChain sets the ordered candidate list used when a request names
// no model. Every name must already be registered. An empty list clears it.
func (o *Orchestrator) SetFallbackChain(names []string) error {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if !o.registry.Has(name) {
			return &ConfigurationError{Model: name, Msg: "fallback chain references unregistered model"}
		}
		if seen[name] {
			return &ConfigurationError{Model: name, Msg: "fallback chain lists model twice"}
		}
		seen[name] = true
	}

	chain := make([]string, len(names))
	copy(chain, names)
	o.mu.Lock()
	o.chain = chain
	o.mu.Unlock()
	return nil
}

// FallbackChain returns a copy of the configured chain.
func (o *Orchestrator) FallbackChain() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, len(o.chain))
	copy(out, o.chain)
	return out
}

// Models returns every registered model entry sorted by name.
func (o *Orchestrator) Models() []registry.Entry {
	return o.registry.Entries()
}

// ResetCircuit forces model's breaker closed.
func (o *Orchestrator) ResetCircuit(model string) error {
	if !o.registry.Has(model) {
		return fmt.Errorf("%w: %s", registry.ErrUnknownModel, model)
	}
	o.breakers.Reset(model)
	return nil
}

// CircuitSnapshot returns model's breaker state.
func (o *Orchestrator) CircuitSnapshot(model string) (models.BreakerSnapshot, error) {
	if !o.registry.Has(model) {
		return models.BreakerSnapshot{}, fmt.Errorf("%w: %s", registry.ErrUnknownModel, model)
	}
	return o.breakers.Snapshot(model), nil
}

// CircuitSnapshots returns every registered model's breaker state, sorted by name.
func (o *Orchestrator) CircuitSnapshots() []models.BreakerSnapshot {
	names := o.registry.Names()
	out := make([]models.BreakerSnapshot, 0, len(names))
	for _, name := range names {
		out = append(out, o.breakers.Snapshot(name))
	}
	return out
}

// PerformanceSnapshot returns model's performance record.
func (o *Orchestrator) PerformanceSnapshot(model string) (models.PerformanceRecord, error) {
	if !o.registry.Has(model) {
		return models.PerformanceRecord{}, fmt.Errorf("%w: %s", registry.ErrUnknownModel, model)
	}
	rec, _ := o.tracker.Snapshot(model)
	rec.Model = model
	return rec, nil
}

// PerformanceSnapshots returns a record for every registered model.
func (o *Orchestrator) PerformanceSnapshots() map[string]models.PerformanceRecord {
	all := o.tracker.Snapshots()
	out := make(map[string]models.PerformanceRecord, o.registry.Len())
	for _, name := range o.registry.Names() {
		rec, ok := all[name]
		if !ok {
			rec = models.PerformanceRecord{Model: name}
		}
		out[name] = rec
	}
	return out
}

// candidates resolves the ordered model list for a request.
func (o *Orchestrator) candidates(model string) ([]registry.Entry, error) {
	if model != "" {
		e, err := o.registry.Resolve(model)
		if err != nil {
			return nil, err
		}
		return []registry.Entry{e}, nil
	}

	chain := o.FallbackChain()
	if len(chain) == 0 {
		active, ok := o.registry.Active()
		if !ok {
			return nil, &ConfigurationError{Msg: "no model requested and no fallback chain or active model configured"}
		}
		chain = []string{active}
	}

	out := make([]registry.Entry, 0, len(chain))
	for _, name := range chain {
		e, err := o.registry.Resolve(name)
		if err != nil {
			return nil, &ConfigurationError{Model: name, Msg: "fallback chain references unregistered model"}
		}
		out = append(out, e)
	}
	return out, nil
}

// Generate sends the request to the first candidate model that can answer
// it. Transient failures are retried and fall through to the next
// candidate; only the terminal outcome is returned.
func (o *Orchestrator) Generate(ctx context.Context, req models.Request) (*models.Result, error) {
	requestID := o.newID()
	start := o.now()

	candidates, err := o.candidates(req.Model)
	if err != nil {
		return nil, err
	}

	var failures []models.CandidateFailure
	for _, entry := range candidates {
		if err := ctx.Err(); err != nil {
			o.emit(events.Event{Kind: events.KindGenerateFailed, RequestID: requestID, Err: err.Error()})
			return nil, &DeadlineExceededError{Err: err, Failures: failures}
		}

		res, fail, err := o.try(ctx, requestID, entry, req)
		if err != nil {
			var dl *DeadlineExceededError
			if errors.As(err, &dl) {
				dl.Failures = failures
			}
			o.emit(events.Event{Kind: events.KindGenerateFailed, RequestID: requestID, Model: entry.Name, Err: err.Error()})
			return nil, err
		}
		if res != nil {
			res.RequestID = requestID
			res.Failures = failures
			res.Latency = o.now().Sub(start)
			return res, nil
		}
		failures = append(failures, *fail)
	}

	all := &AllModelsFailedError{Failures: failures}
	o.emit(events.Event{Kind: events.KindGenerateFailed, RequestID: requestID, Err: all.Error()})
	return nil, all
}

// try runs one candidate. It returns a result on success, a failure record
// when the chain should advance, or an error when the whole call must abort.
func (o *Orchestrator) try(ctx context.Context, requestID string, entry registry.Entry, req models.Request) (*models.Result, *models.CandidateFailure, error) {
	model := entry.Name

	key := o.cacheKey(model, req)
	if key != "" {
		resp, ok, err := o.cache.Get(ctx, key)
		switch {
		case err != nil:
			o.logger.Warn().Err(err).Str("model", model).Str("request_id", requestID).Msg("cache lookup failed")
		case ok:
			o.track(func() { o.tracker.RecordCacheHit(model) })
			o.emit(events.Event{Kind: events.KindCacheHit, RequestID: requestID, Model: model})
			return &models.Result{Model: model, Response: resp, Cached: true}, nil, nil
		}
	}

	permit, err := o.breakers.Allow(model)
	if err != nil {
		o.track(func() { o.tracker.RecordShortCircuit(model) })
		o.emit(events.Event{Kind: events.KindShortCircuit, RequestID: requestID, Model: model, Err: err.Error()})
		f := failure(model, models.ReasonCircuitOpen, 0, err)
		return nil, &f, nil
	}

	callStart := o.now()
	maxAttempts := o.cfg.Retry.MaxAttempts
	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++

		resp, err := o.invoke(ctx, entry, req)
		if err == nil {
			permit.Success()
			latency := o.now().Sub(callStart)
			if key != "" {
				if err := o.cache.Put(ctx, key, resp, o.cfg.CacheTTL); err != nil {
					o.logger.Warn().Err(err).Str("model", model).Str("request_id", requestID).Msg("cache write failed")
				}
			}
			o.track(func() {
				o.tracker.Record(model, tracker.Outcome{
					Latency:   latency,
					Success:   true,
					Attempts:  attempt,
					TokensIn:  resp.TokensIn,
					TokensOut: resp.TokensOut,
					Cost:      resp.Cost,
				})
			})
			ev := events.Event{
				Kind:      events.KindCallSucceeded,
				RequestID: requestID,
				Model:     model,
				Attempt:   attempt,
				Latency:   latency,
				TokensIn:  resp.TokensIn,
				TokensOut: resp.TokensOut,
			}
			if resp.Cost != nil {
				ev.Cost = *resp.Cost
			}
			o.emit(ev)
			return &models.Result{Model: model, Response: resp, Attempts: attempt}, nil, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			o.fail(permit, requestID, model, attempt, callStart, err)
			return nil, nil, &DeadlineExceededError{Model: model, Attempt: attempt, Err: ctxErr}
		}
		if registry.IsPermanent(err) {
			o.emit(events.Event{Kind: events.KindAttemptFailed, RequestID: requestID, Model: model, Attempt: attempt, Err: err.Error()})
			break
		}

		var delay time.Duration
		if attempt < maxAttempts {
			delay = o.cfg.Retry.Delay(attempt)
		}
		o.emit(events.Event{Kind: events.KindAttemptFailed, RequestID: requestID, Model: model, Attempt: attempt, Delay: delay, Err: err.Error()})
		if delay > 0 {
			if err := backoff.Sleep(ctx, delay); err != nil {
				o.fail(permit, requestID, model, attempt, callStart, lastErr)
				return nil, nil, &DeadlineExceededError{Model: model, Attempt: attempt, Err: err}
			}
		}
	}

	// The breaker advances once per failed call, not once per attempt.
	o.fail(permit, requestID, model, attempt, callStart, lastErr)

	if registry.IsPermanent(lastErr) {
		f := failure(model, models.ReasonPermanent, attempt, lastErr)
		return nil, &f, nil
	}
	f := failure(model, models.ReasonRetriesExhausted, attempt,
		&RetriesExhaustedError{Model: model, Attempts: attempt, Last: lastErr})
	return nil, &f, nil
}

func (o *Orchestrator) fail(permit breaker.Permit, requestID, model string, attempts int, callStart time.Time, err error) {
	permit.Failure()
	latency := o.now().Sub(callStart)
	o.track(func() {
		o.tracker.Record(model, tracker.Outcome{Latency: latency, Success: false, Attempts: attempts})
	})
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	o.emit(events.Event{Kind: events.KindCallFailed, RequestID: requestID, Model: model, Attempt: attempts, Latency: latency, Err: msg})
}

// invoke runs one attempt. Invoker panics become invocation errors so the
// breaker permit is always resolved.
func (o *Orchestrator) invoke(ctx context.Context, entry registry.Entry, req models.Request) (resp models.Response, err error) {
	if o.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = &registry.InvocationError{Model: entry.Name, Err: fmt.Errorf("invoker panic: %v", r)}
		}
	}()

	resp, err = entry.Invoker.Invoke(ctx, req.Prompt, req.Params)
	if err != nil {
		var ie *registry.InvocationError
		if !errors.As(err, &ie) {
			err = &registry.InvocationError{Model: entry.Name, Err: err}
		}
	}
	return resp, err
}

func (o *Orchestrator) cacheKey(model string, req models.Request) string {
	if o.cache == nil || o.cfg.CacheTTL <= 0 {
		return ""
	}
	key, err := cache.Fingerprint(model, req.Prompt, req.Params)
	if err != nil {
		o.logger.Warn().Err(err).Str("model", model).Msg("request not cacheable")
		return ""
	}
	return key
}

// track runs a tracker update; tracker failures never reach the caller.
func (o *Orchestrator) track(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn().Interface("panic", r).Msg("performance tracking failed")
		}
	}()
	fn()
}

func (o *Orchestrator) emit(e events.Event) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn().Interface("panic", r).Str("event", string(e.Kind)).Msg("event collector failed")
		}
	}()
	if e.Time.IsZero() {
		e.Time = o.now()
	}
	o.collector.Collect(e)
}
