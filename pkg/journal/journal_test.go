package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/relay/pkg/events"
	"github.com/pario-ai/relay/pkg/models"
)

func mustNew(t *testing.T, cfg Config, opts ...Option) *Journal {
	t.Helper()
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(t.TempDir(), "journal_test.db")
	}
	j, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestCollectPersistsOutcomes(t *testing.T) {
	j := mustNew(t, Config{})
	ctx := context.Background()
	now := time.Now()

	j.Collect(events.Event{Kind: events.KindCallSucceeded, Time: now, RequestID: "r1", Model: "gpt", Attempt: 2,
		Latency: 120 * time.Millisecond, TokensIn: 10, TokensOut: 20, Cost: 0.01})
	j.Collect(events.Event{Kind: events.KindCallFailed, Time: now.Add(time.Millisecond), RequestID: "r2", Model: "gpt",
		Attempt: 3, Latency: 80 * time.Millisecond, Err: "boom"})
	j.Collect(events.Event{Kind: events.KindCacheHit, Time: now.Add(2 * time.Millisecond), RequestID: "r3", Model: "gpt"})
	j.Collect(events.Event{Kind: events.KindShortCircuit, Time: now.Add(3 * time.Millisecond), RequestID: "r4", Model: "claude"})
	// Not persisted.
	j.Collect(events.Event{Kind: events.KindAttemptFailed, Time: now, RequestID: "r2", Model: "gpt"})
	j.Collect(events.Event{Kind: events.KindBreakerTransition, Time: now, Model: "gpt", From: "closed", To: "open"})

	entries, err := j.Recent(ctx, models.JournalQueryOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, "r4", entries[0].RequestID)
	assert.Equal(t, OutcomeShortCircuit, entries[0].Outcome)

	failed, err := j.Recent(ctx, models.JournalQueryOpts{RequestID: "r2"})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, OutcomeFailure, failed[0].Outcome)
	assert.Equal(t, "boom", failed[0].Error)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.EqualValues(t, 80, failed[0].LatencyMs)
	assert.NotEmpty(t, failed[0].ID)
	assert.Equal(t, now.Add(time.Millisecond).UnixMilli(), failed[0].CreatedAt.UnixMilli())
}

func TestRecentFilters(t *testing.T) {
	j := mustNew(t, Config{})
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	for i, m := range []string{"a", "b", "a", "a"} {
		outcome := OutcomeSuccess
		if i == 3 {
			outcome = OutcomeFailure
		}
		require.NoError(t, j.Record(ctx, models.JournalEntry{
			RequestID: "r", Model: m, Outcome: outcome,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	byModel, err := j.Recent(ctx, models.JournalQueryOpts{Model: "a"})
	require.NoError(t, err)
	assert.Len(t, byModel, 3)

	byOutcome, err := j.Recent(ctx, models.JournalQueryOpts{Model: "a", Outcome: OutcomeFailure})
	require.NoError(t, err)
	assert.Len(t, byOutcome, 1)

	since, err := j.Recent(ctx, models.JournalQueryOpts{Since: base.Add(90 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	limited, err := j.Recent(ctx, models.JournalQueryOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, OutcomeFailure, limited[0].Outcome)
}

func TestSummary(t *testing.T) {
	j := mustNew(t, Config{})
	ctx := context.Background()

	for _, e := range []models.JournalEntry{
		{Model: "a", Outcome: OutcomeSuccess, LatencyMs: 100, TokensIn: 10, TokensOut: 5, Cost: 0.5},
		{Model: "a", Outcome: OutcomeFailure, LatencyMs: 300},
		{Model: "a", Outcome: OutcomeCacheHit},
		{Model: "b", Outcome: OutcomeShortCircuit},
	} {
		require.NoError(t, j.Record(ctx, e))
	}

	all, err := j.Summary(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	a := all[0]
	assert.Equal(t, "a", a.Model)
	assert.Equal(t, 2, a.Calls)
	assert.Equal(t, 1, a.Successes)
	assert.Equal(t, 1, a.Failures)
	assert.Equal(t, 1, a.CacheHits)
	assert.InDelta(t, 200.0, a.AvgLatencyMs, 0.001)
	assert.EqualValues(t, 10, a.TokensIn)
	assert.EqualValues(t, 5, a.TokensOut)
	assert.InDelta(t, 0.5, a.Cost, 1e-9)

	b := all[1]
	assert.Equal(t, 0, b.Calls)
	assert.Equal(t, 1, b.ShortCircuits)
	assert.Zero(t, b.AvgLatencyMs)

	only, err := j.Summary(ctx, "b")
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "b", only[0].Model)
}

func TestCleanup(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	j := mustNew(t, Config{RetentionDays: 7}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, models.JournalEntry{Model: "m", Outcome: OutcomeSuccess, CreatedAt: now.AddDate(0, 0, -10)}))
	require.NoError(t, j.Record(ctx, models.JournalEntry{Model: "m", Outcome: OutcomeSuccess, CreatedAt: now.AddDate(0, 0, -1)}))

	n, err := j.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	entries, err := j.Recent(ctx, models.JournalQueryOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCleanupKeepsAllWithoutRetention(t *testing.T) {
	j := mustNew(t, Config{})
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, models.JournalEntry{Model: "m", Outcome: OutcomeSuccess, CreatedAt: time.Unix(0, 0)}))

	n, err := j.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := New(Config{DBPath: path})
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, models.JournalEntry{Model: "m", Outcome: OutcomeSuccess}))
	require.NoError(t, j.Close())

	j2 := mustNew(t, Config{DBPath: path})
	entries, err := j2.Recent(ctx, models.JournalQueryOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
