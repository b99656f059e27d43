package runstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// Postgres is the shared Store for teams running several relay processes
// against one database.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store needs a dsn")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

const postgresSchemaV1 = `
CREATE TABLE IF NOT EXISTS relay_schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS relay_runs (
    run_id            TEXT PRIMARY KEY,
    status            TEXT NOT NULL CHECK(status IN ('completed','aborted')),
    mode              TEXT NOT NULL,
    target_hint       TEXT NOT NULL,
    started_at        TEXT NOT NULL,
    duration_seconds  DOUBLE PRECISION NOT NULL DEFAULT 0,
    issues_found      INTEGER NOT NULL DEFAULT 0,
    issues_fixed      INTEGER NOT NULL DEFAULT 0,
    issues_documented INTEGER NOT NULL DEFAULT 0,
    result            JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relay_runs_started ON relay_runs(started_at DESC);

CREATE TABLE IF NOT EXISTS relay_exchanges (
    id          BIGSERIAL PRIMARY KEY,
    run_id      TEXT NOT NULL REFERENCES relay_runs(run_id) ON DELETE CASCADE,
    seq         INTEGER NOT NULL,
    stage       TEXT NOT NULL,
    role        TEXT NOT NULL,
    success     BOOLEAN NOT NULL,
    error       TEXT,
    attempts    INTEGER NOT NULL DEFAULT 0,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    envelope    JSONB NOT NULL,
    result      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relay_exchanges_run ON relay_exchanges(run_id, seq);
`

// Migrate applies the schema. Tables are prefixed so relay can share a
// database with other services.
func (p *Postgres) Migrate(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, postgresSchemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO relay_schema_version (version) VALUES (1) ON CONFLICT DO NOTHING`); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit(ctx)
}

// Reset drops relay's tables and re-applies the schema.
func (p *Postgres) Reset(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, `DROP TABLE IF EXISTS relay_exchanges, relay_runs, relay_schema_version`); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return p.Migrate(ctx)
}

// SaveRun stores res and its exchanges in one transaction.
func (p *Postgres) SaveRun(ctx context.Context, res *contract.PipelineResult, exchanges []contract.Exchange) error {
	sum := summarize(res)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM relay_runs WHERE run_id = $1`, res.RunID); err != nil {
		return fmt.Errorf("replace run %s: %w", res.RunID, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO relay_runs (run_id, status, mode, target_hint, started_at, duration_seconds, issues_found, issues_fixed, issues_documented, result)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sum.RunID, string(sum.Status), string(sum.Mode), sum.TargetHint, sum.StartedAt, sum.DurationSeconds,
		sum.IssuesFound, sum.IssuesFixed, sum.IssuesDocumented, res,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", res.RunID, err)
	}

	batch := &pgx.Batch{}
	for i, ex := range exchanges {
		batch.Queue(
			`INSERT INTO relay_exchanges (run_id, seq, stage, role, success, error, attempts, duration_ms, envelope, result)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			res.RunID, i, ex.Stage, ex.Envelope.TargetRole, ex.Result.Success, ex.Result.Error,
			ex.Result.Attempts, ex.Result.DurationMs, ex.Envelope, ex.Result,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert exchanges for %s: %w", res.RunID, err)
		}
	}
	return tx.Commit(ctx)
}

// GetRun loads a stored result.
func (p *Postgres) GetRun(ctx context.Context, runID string) (*contract.PipelineResult, error) {
	var body string
	err := p.pool.QueryRow(ctx, `SELECT result::text FROM relay_runs WHERE run_id = $1`, runID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return decodeResult(body)
}

// ListRuns returns run summaries, newest first.
func (p *Postgres) ListRuns(ctx context.Context, opts ListOptions) ([]RunSummary, error) {
	q := `SELECT run_id, status, mode, target_hint, started_at, duration_seconds, issues_found, issues_fixed, issues_documented FROM relay_runs`
	var args []any
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		q += fmt.Sprintf(` WHERE status = $%d`, len(args))
	}
	q += ` ORDER BY started_at DESC, run_id`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		var status, mode string
		if err := rows.Scan(&r.RunID, &status, &mode, &r.TargetHint, &r.StartedAt, &r.DurationSeconds, &r.IssuesFound, &r.IssuesFixed, &r.IssuesDocumented); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = contract.RunStatus(status)
		r.Mode = contract.Mode(mode)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Exchanges returns the stored transcript of a run in recorded order.
func (p *Postgres) Exchanges(ctx context.Context, runID string) ([]contract.Exchange, error) {
	rows, err := p.pool.Query(ctx, `SELECT stage, envelope::text, result::text FROM relay_exchanges WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list exchanges for %s: %w", runID, err)
	}
	defer rows.Close()

	exs := []contract.Exchange{}
	for rows.Next() {
		var stage, env, res string
		if err := rows.Scan(&stage, &env, &res); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		ex, err := decodeExchange(stage, env, res)
		if err != nil {
			return nil, err
		}
		exs = append(exs, ex)
	}
	return exs, rows.Err()
}
