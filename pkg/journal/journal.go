// Package journal persists call outcomes to SQLite and answers history
// queries over them.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/relay/pkg/events"
	"github.com/pario-ai/relay/pkg/models"
)

// Outcomes stored in the journal.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeCacheHit     = "cache_hit"
	OutcomeShortCircuit = "short_circuit"
)

// Config configures a Journal.
type Config struct {
	DBPath string `yaml:"db_path"`
	// RetentionDays bounds entry age. Zero keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// Journal writes and queries call outcomes in a dedicated SQLite database.
// It implements events.Collector.
type Journal struct {
	db     *sql.DB
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger
	done   chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock overrides the time source used for retention.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) { j.now = now }
}

// WithLogger sets the logger for write failures.
func WithLogger(l zerolog.Logger) Option {
	return func(j *Journal) { j.logger = l }
}

// New opens the journal database, creates the schema and starts the hourly
// retention loop.
func New(cfg Config, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal db: %w", err)
	}

	j := &Journal{
		db:     db,
		cfg:    cfg,
		now:    time.Now,
		logger: log.Logger,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}

	j.wg.Add(1)
	go j.retentionLoop()

	return j, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS call_log (
		id            TEXT PRIMARY KEY,
		request_id    TEXT NOT NULL,
		model         TEXT NOT NULL,
		outcome       TEXT NOT NULL,
		attempts      INTEGER NOT NULL DEFAULT 0,
		latency_ms    INTEGER NOT NULL DEFAULT 0,
		tokens_in     INTEGER NOT NULL DEFAULT 0,
		tokens_out    INTEGER NOT NULL DEFAULT 0,
		cost          REAL NOT NULL DEFAULT 0,
		error         TEXT,
		created_at_ms INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_call_log_model ON call_log(model)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_call_log_created ON call_log(created_at_ms)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_call_log_request ON call_log(request_id)`)
	return err
}

// Record inserts an entry. Empty ID and CreatedAt are filled in.
func (j *Journal) Record(ctx context.Context, e models.JournalEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO call_log
		(id, request_id, model, outcome, attempts, latency_ms, tokens_in, tokens_out, cost, error, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RequestID, e.Model, e.Outcome, e.Attempts, e.LatencyMs,
		e.TokensIn, e.TokensOut, e.Cost, e.Error, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record journal entry: %w", err)
	}
	return nil
}

// Collect implements events.Collector. Only call outcomes are persisted;
// write failures are logged.
func (j *Journal) Collect(e events.Event) {
	entry, ok := entryFor(e)
	if !ok {
		return
	}
	if err := j.Record(context.Background(), entry); err != nil {
		j.logger.Warn().Err(err).Str("model", e.Model).Str("request_id", e.RequestID).Msg("journal write failed")
	}
}

func entryFor(e events.Event) (models.JournalEntry, bool) {
	entry := models.JournalEntry{
		RequestID: e.RequestID,
		Model:     e.Model,
		Attempts:  e.Attempt,
		LatencyMs: e.Latency.Milliseconds(),
		Error:     e.Err,
		CreatedAt: e.Time,
	}
	switch e.Kind {
	case events.KindCallSucceeded:
		entry.Outcome = OutcomeSuccess
		entry.TokensIn = e.TokensIn
		entry.TokensOut = e.TokensOut
		entry.Cost = e.Cost
	case events.KindCallFailed:
		entry.Outcome = OutcomeFailure
	case events.KindCacheHit:
		entry.Outcome = OutcomeCacheHit
	case events.KindShortCircuit:
		entry.Outcome = OutcomeShortCircuit
	default:
		return models.JournalEntry{}, false
	}
	return entry, true
}

// Recent returns entries matching opts, newest first.
func (j *Journal) Recent(ctx context.Context, opts models.JournalQueryOpts) ([]models.JournalEntry, error) {
	q := `SELECT id, request_id, model, outcome, attempts, latency_ms,
		tokens_in, tokens_out, cost, error, created_at_ms
		FROM call_log WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Model != "" {
		q += " AND model = ?"
		args = append(args, opts.Model)
	}
	if opts.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, opts.Outcome)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at_ms >= ?"
		args = append(args, opts.Since.UnixMilli())
	}

	q += " ORDER BY created_at_ms DESC, rowid DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var (
			e         models.JournalEntry
			errText   sql.NullString
			createdMs int64
		)
		if err := rows.Scan(
			&e.ID, &e.RequestID, &e.Model, &e.Outcome, &e.Attempts, &e.LatencyMs,
			&e.TokensIn, &e.TokensOut, &e.Cost, &errText, &createdMs,
		); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Error = errText.String
		e.CreatedAt = time.UnixMilli(createdMs)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary aggregates entries per model. An empty model summarizes all.
func (j *Journal) Summary(ctx context.Context, model string) ([]models.JournalSummary, error) {
	q := `SELECT model,
		SUM(CASE WHEN outcome IN ('success', 'failure') THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome = 'failure' THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome = 'cache_hit' THEN 1 ELSE 0 END),
		SUM(CASE WHEN outcome = 'short_circuit' THEN 1 ELSE 0 END),
		COALESCE(AVG(CASE WHEN outcome IN ('success', 'failure') THEN latency_ms END), 0),
		SUM(tokens_in), SUM(tokens_out), SUM(cost)
		FROM call_log`
	var args []any
	if model != "" {
		q += " WHERE model = ?"
		args = append(args, model)
	}
	q += " GROUP BY model ORDER BY model"

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal summary: %w", err)
	}
	defer rows.Close()

	var out []models.JournalSummary
	for rows.Next() {
		var s models.JournalSummary
		if err := rows.Scan(&s.Model, &s.Calls, &s.Successes, &s.Failures,
			&s.CacheHits, &s.ShortCircuits, &s.AvgLatencyMs,
			&s.TokensIn, &s.TokensOut, &s.Cost); err != nil {
			return nil, fmt.Errorf("scan journal summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Cleanup deletes entries older than the retention period.
func (j *Journal) Cleanup(ctx context.Context) (int64, error) {
	if j.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := j.now().AddDate(0, 0, -j.cfg.RetentionDays)
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM call_log WHERE created_at_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("journal cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (j *Journal) Close() error {
	close(j.done)
	j.wg.Wait()
	return j.db.Close()
}

func (j *Journal) retentionLoop() {
	defer j.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			if n, err := j.Cleanup(context.Background()); err != nil {
				j.logger.Warn().Err(err).Msg("journal retention failed")
			} else if n > 0 {
				j.logger.Debug().Int64("deleted", n).Msg("journal retention")
			}
		}
	}
}
