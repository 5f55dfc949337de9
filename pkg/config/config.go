package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pario-ai/relay/pkg/backoff"
	"github.com/pario-ai/relay/pkg/breaker"
	"github.com/pario-ai/relay/pkg/cache/redis"
	"github.com/pario-ai/relay/pkg/models"
	"github.com/pario-ai/relay/pkg/tracker"
)

// Config holds all relay configuration.
type Config struct {
	Listen             string         `yaml:"listen"`
	Log                LogConfig      `yaml:"log"`
	Models             []ModelConfig  `yaml:"models"`
	Active             string         `yaml:"active"`
	FallbackChain      []string       `yaml:"fallback_chain"`
	StrictRegistration bool           `yaml:"strict_registration"`
	AttemptTimeout     time.Duration  `yaml:"attempt_timeout"`
	Breaker            breaker.Config `yaml:"breaker"`
	Retry              backoff.Policy `yaml:"retry"`
	Cache              CacheConfig    `yaml:"cache"`
	Tracker            TrackerConfig  `yaml:"tracker"`
	Metrics            MetricsConfig  `yaml:"metrics"`
	Journal            JournalConfig  `yaml:"journal"`
}

// LogConfig controls log output. Format is "console" or "json".
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Model provider types.
const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
	TypeEcho      = "echo"
)

// ModelConfig defines one registered model and the backend serving it.
// Type is "openai" (default), "anthropic" or "echo".
type ModelConfig struct {
	Name          string               `yaml:"name"`
	Type          string               `yaml:"type"`
	URL           string               `yaml:"url"`
	APIKey        string               `yaml:"api_key"`
	UpstreamModel string               `yaml:"upstream_model"`
	Timeout       time.Duration        `yaml:"timeout"`
	Pricing       *models.ModelPricing `yaml:"pricing"`
	Labels        map[string]string    `yaml:"labels"`
}

// Cache backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl"`
	MaxEntries    int           `yaml:"max_entries"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	DBPath        string        `yaml:"db_path"`
	Redis         redis.Config  `yaml:"redis"`
}

// TrackerConfig controls the performance tracker.
type TrackerConfig struct {
	Window int `yaml:"window"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// JournalConfig controls the SQLite call journal.
type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Breaker: breaker.DefaultConfig(),
		Retry:   backoff.Default(),
		Cache: CacheConfig{
			Enabled:       true,
			Backend:       BackendMemory,
			TTL:           time.Hour,
			SweepInterval: time.Minute,
			DBPath:        "relay-cache.db",
			Redis: redis.Config{
				Addr:   "localhost:6379",
				Prefix: redis.DefaultPrefix,
			},
		},
		Tracker: TrackerConfig{
			Window: tracker.DefaultWindow,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "relay",
			Path:      "/metrics",
		},
		Journal: JournalConfig{
			Enabled:       false,
			DBPath:        "relay-journal.db",
			RetentionDays: 30,
		},
	}
}

// Load reads a YAML config file, expands environment variables and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, errors.New("breaker: failure_threshold must be at least 1"))
	}
	if c.Breaker.ResetTimeout <= 0 {
		errs = append(errs, errors.New("breaker: reset_timeout must be positive"))
	}
	if c.AttemptTimeout < 0 {
		errs = append(errs, errors.New("attempt_timeout must not be negative"))
	}

	names := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("models[%d]: name is required", i))
			continue
		}
		if names[m.Name] {
			errs = append(errs, fmt.Errorf("models[%d]: duplicate name %q", i, m.Name))
		}
		names[m.Name] = true

		switch m.Type {
		case "", TypeOpenAI, TypeAnthropic:
			if m.URL == "" {
				errs = append(errs, fmt.Errorf("model %q: url is required", m.Name))
			}
		case TypeEcho:
		default:
			errs = append(errs, fmt.Errorf("model %q: unknown type %q", m.Name, m.Type))
		}
	}

	if c.Active != "" && !names[c.Active] {
		errs = append(errs, fmt.Errorf("active model %q is not configured", c.Active))
	}
	for _, name := range c.FallbackChain {
		if !names[name] {
			errs = append(errs, fmt.Errorf("fallback_chain: model %q is not configured", name))
		}
	}

	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case BackendMemory, BackendSQLite, BackendRedis:
		default:
			errs = append(errs, fmt.Errorf("cache: unknown backend %q", c.Cache.Backend))
		}
		if c.Cache.TTL <= 0 {
			errs = append(errs, errors.New("cache: ttl must be positive"))
		}
	}

	switch c.Log.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
