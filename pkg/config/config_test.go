package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, BackendMemory, cfg.Cache.Backend)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1000, cfg.Tracker.Window)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-test-123")

	path := writeConfig(t, `
listen: ":9090"
log:
  level: debug
  format: json
models:
  - name: gpt
    url: https://api.openai.com
    api_key: ${TEST_API_KEY}
    upstream_model: gpt-4o-mini
    timeout: 20s
    pricing:
      prompt_cost_per_1k: 0.15
      completion_cost_per_1k: 0.6
  - name: claude
    type: anthropic
    url: https://api.anthropic.com
  - name: local
    type: echo
active: local
fallback_chain: [gpt, claude]
attempt_timeout: 10s
breaker:
  failure_threshold: 2
  reset_timeout: 1m
retry:
  base: 100ms
  multiplier: 3
  max_delay: 2s
  max_attempts: 4
  jitter: false
cache:
  backend: sqlite
  ttl: 30m
  db_path: /tmp/cache.db
journal:
  enabled: true
  retention_days: 7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "json", cfg.Log.Format)
	require.Len(t, cfg.Models, 3)
	assert.Equal(t, "sk-test-123", cfg.Models[0].APIKey)
	assert.Equal(t, 20*time.Second, cfg.Models[0].Timeout)
	require.NotNil(t, cfg.Models[0].Pricing)
	assert.InDelta(t, 0.15, cfg.Models[0].Pricing.PromptCost, 1e-9)
	assert.Equal(t, TypeAnthropic, cfg.Models[1].Type)
	assert.Equal(t, []string{"gpt", "claude"}, cfg.FallbackChain)
	assert.Equal(t, 10*time.Second, cfg.AttemptTimeout)

	assert.Equal(t, 2, cfg.Breaker.FailureThreshold)
	assert.Equal(t, time.Minute, cfg.Breaker.ResetTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.Base)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.Retry.Jitter)

	// Unset fields keep their defaults.
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, BackendSQLite, cfg.Cache.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "relay-journal.db", cfg.Journal.DBPath)
	assert.Equal(t, 7, cfg.Journal.RetentionDays)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "models: [\n"))
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
		want string
	}{
		{"duplicate model", func(c *Config) {
			c.Models = []ModelConfig{{Name: "a", Type: TypeEcho}, {Name: "a", Type: TypeEcho}}
		}, `duplicate name "a"`},
		{"missing name", func(c *Config) {
			c.Models = []ModelConfig{{Type: TypeEcho}}
		}, "name is required"},
		{"missing url", func(c *Config) {
			c.Models = []ModelConfig{{Name: "a"}}
		}, "url is required"},
		{"unknown type", func(c *Config) {
			c.Models = []ModelConfig{{Name: "a", Type: "grpc"}}
		}, `unknown type "grpc"`},
		{"unknown active", func(c *Config) {
			c.Active = "ghost"
		}, `active model "ghost"`},
		{"unknown chain member", func(c *Config) {
			c.Models = []ModelConfig{{Name: "a", Type: TypeEcho}}
			c.FallbackChain = []string{"a", "ghost"}
		}, `model "ghost" is not configured`},
		{"bad backend", func(c *Config) {
			c.Cache.Backend = "memcached"
		}, `unknown backend "memcached"`},
		{"bad threshold", func(c *Config) {
			c.Breaker.FailureThreshold = 0
		}, "failure_threshold"},
		{"bad retry", func(c *Config) {
			c.Retry.MaxAttempts = 0
		}, "max attempts must be at least 1"},
		{"bad log format", func(c *Config) {
			c.Log.Format = "xml"
		}, `unknown format "xml"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.edit(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidate_DisabledCacheSkipsBackend(t *testing.T) {
	cfg := Default()
	cfg.Cache.Enabled = false
	cfg.Cache.Backend = "anything"
	assert.NoError(t, cfg.Validate())
}
