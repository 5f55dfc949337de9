package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/pario-ai/relay/pkg/cache"
	"github.com/pario-ai/relay/pkg/cache/memory"
	"github.com/pario-ai/relay/pkg/cache/redis"
	"github.com/pario-ai/relay/pkg/cache/sqlite"
	"github.com/pario-ai/relay/pkg/config"
	"github.com/pario-ai/relay/pkg/events"
	"github.com/pario-ai/relay/pkg/journal"
	"github.com/pario-ai/relay/pkg/metrics"
	"github.com/pario-ai/relay/pkg/orchestrator"
	"github.com/pario-ai/relay/pkg/provider"
	"github.com/pario-ai/relay/pkg/tracker"
)

// app is a fully wired relay built from config.
type app struct {
	orch    *orchestrator.Orchestrator
	cache   cache.Store
	journal *journal.Journal
	metrics *prometheus.Registry
	cancel  context.CancelFunc
}

// buildApp wires the orchestrator and its optional cache, journal and
// metrics from cfg.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	ctx, cancel := context.WithCancel(ctx)
	a := &app{cancel: cancel}

	collectors := events.Multi{events.NewLogCollector(log.Logger)}

	if cfg.Metrics.Enabled {
		a.metrics = prometheus.NewRegistry()
		collectors = append(collectors, metrics.New(a.metrics, cfg.Metrics.Namespace))
	}

	if cfg.Journal.Enabled {
		j, err := journal.New(journal.Config{
			DBPath:        cfg.Journal.DBPath,
			RetentionDays: cfg.Journal.RetentionDays,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.journal = j
		collectors = append(collectors, j)
	}

	opts := []orchestrator.Option{
		orchestrator.WithCollector(collectors),
		orchestrator.WithTracker(tracker.New(tracker.WithWindow(cfg.Tracker.Window))),
	}
	if cfg.Cache.Enabled {
		store, err := openCache(ctx, cfg.Cache)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.cache = store
		opts = append(opts, orchestrator.WithCache(store))
	}

	a.orch = orchestrator.New(orchestrator.Config{
		Breaker:            cfg.Breaker,
		Retry:              cfg.Retry,
		AttemptTimeout:     cfg.AttemptTimeout,
		CacheTTL:           cfg.Cache.TTL,
		StrictRegistration: cfg.StrictRegistration,
	}, opts...)

	for _, mc := range cfg.Models {
		inv, md, err := provider.New(mc)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := a.orch.Register(mc.Name, inv, md); err != nil {
			a.Close()
			return nil, err
		}
	}
	if cfg.Active != "" {
		if err := a.orch.SetActive(cfg.Active); err != nil {
			a.Close()
			return nil, err
		}
	}
	if err := a.orch.SetFallbackChain(cfg.FallbackChain); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// openCache opens the configured cache backend. The memory backend runs its
// sweeper until ctx is cancelled.
func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		c := memory.New(memory.WithMaxEntries(cfg.MaxEntries))
		if cfg.SweepInterval > 0 {
			go c.Run(ctx, cfg.SweepInterval)
		}
		return c, nil
	case config.BackendSQLite:
		return sqlite.New(cfg.DBPath)
	case config.BackendRedis:
		return redis.New(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Close stops background work and releases resources.
func (a *app) Close() error {
	a.cancel()
	var errs []error
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	return errors.Join(errs...)
}
