package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// SQLite is the default Store, backed by a local database file.
type SQLite struct {
	conn *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &SQLite{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
    run_id            TEXT PRIMARY KEY,
    status            TEXT NOT NULL CHECK(status IN ('completed','aborted')),
    mode              TEXT NOT NULL,
    target_hint       TEXT NOT NULL,
    started_at        TEXT NOT NULL,
    duration_seconds  REAL NOT NULL DEFAULT 0,
    issues_found      INTEGER NOT NULL DEFAULT 0,
    issues_fixed      INTEGER NOT NULL DEFAULT 0,
    issues_documented INTEGER NOT NULL DEFAULT 0,
    result            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

CREATE TABLE IF NOT EXISTS exchanges (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id         TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    seq            INTEGER NOT NULL,
    stage          TEXT NOT NULL,
    role           TEXT NOT NULL,
    success        BOOLEAN NOT NULL,
    error          TEXT,
    attempts       INTEGER NOT NULL DEFAULT 0,
    duration_ms    INTEGER NOT NULL DEFAULT 0,
    envelope       TEXT NOT NULL,
    result         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_run ON exchanges(run_id, seq);
`

// Migrate applies the database schema.
func (s *SQLite) Migrate(ctx context.Context) error {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sqliteSchemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (s *SQLite) Reset(ctx context.Context) error {
	for _, t := range []string{"exchanges", "runs", "schema_version"} {
		if _, err := s.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return s.Migrate(ctx)
}

// SaveRun stores res and its exchanges, replacing any earlier copy of the
// same run.
func (s *SQLite) SaveRun(ctx context.Context, res *contract.PipelineResult, exchanges []contract.Exchange) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	sum := summarize(res)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, res.RunID); err != nil {
		return fmt.Errorf("replace run %s: %w", res.RunID, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, status, mode, target_hint, started_at, duration_seconds, issues_found, issues_fixed, issues_documented, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.Status, sum.Mode, sum.TargetHint, sum.StartedAt, sum.DurationSeconds,
		sum.IssuesFound, sum.IssuesFixed, sum.IssuesDocumented, string(body),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", res.RunID, err)
	}

	for i, ex := range exchanges {
		row, err := encodeExchange(ex)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO exchanges (run_id, seq, stage, role, success, error, attempts, duration_ms, envelope, result)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, i, ex.Stage, ex.Envelope.TargetRole, ex.Result.Success, ex.Result.Error,
			ex.Result.Attempts, ex.Result.DurationMs, row.envelope, row.result,
		)
		if err != nil {
			return fmt.Errorf("insert exchange %d of %s: %w", i, res.RunID, err)
		}
	}
	return tx.Commit()
}

// GetRun loads a stored result.
func (s *SQLite) GetRun(ctx context.Context, runID string) (*contract.PipelineResult, error) {
	var body string
	err := s.conn.QueryRowContext(ctx, `SELECT result FROM runs WHERE run_id = ?`, runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return decodeResult(body)
}

// ListRuns returns run summaries, newest first.
func (s *SQLite) ListRuns(ctx context.Context, opts ListOptions) ([]RunSummary, error) {
	q := `SELECT run_id, status, mode, target_hint, started_at, duration_seconds, issues_found, issues_fixed, issues_documented FROM runs`
	var args []any
	if opts.Status != "" {
		q += ` WHERE status = ?`
		args = append(args, opts.Status)
	}
	q += ` ORDER BY started_at DESC, run_id`
	if opts.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Status, &r.Mode, &r.TargetHint, &r.StartedAt, &r.DurationSeconds, &r.IssuesFound, &r.IssuesFixed, &r.IssuesDocumented); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Exchanges returns the stored transcript of a run in recorded order.
func (s *SQLite) Exchanges(ctx context.Context, runID string) ([]contract.Exchange, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT stage, envelope, result FROM exchanges WHERE run_id = ? ORDER BY seq`, runID)
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
