package runstore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// testPostgres opens the database named by RELAY_TEST_POSTGRES_DSN and
// resets relay's tables in it. The test is skipped when the variable is
// unset.
func testPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("RELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RELAY_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	p, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	if err := p.Reset(ctx); err != nil {
		t.Fatalf("reset postgres: %v", err)
	}
	return p
}

func TestPostgresMigrateIdempotent(t *testing.T) {
	p := testPostgres(t)
	if err := p.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var version int
	if err := p.pool.QueryRow(context.Background(), `SELECT max(version) FROM relay_schema_version`).Scan(&version); err != nil || version != 1 {
		t.Errorf("schema version = %d, %v", version, err)
	}
}

func TestPostgresSaveAndGetRun(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()
	res := testResult("run-1", contract.RunCompleted, "2026-01-02T03:04:05Z")
	exs := []contract.Exchange{
		testExchange(t, "run-1", contract.StageAnalyze, "analyzer"),
		testExchange(t, "run-1", contract.StageClassify, "classifier"),
	}

	if err := p.SaveRun(ctx, res, exs); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	got, err := p.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.RunID != "run-1" || got.Request.Mode != contract.ModeDryRun || len(got.Issues) != 1 {
		t.Errorf("got = %+v", got)
	}

	stored, err := p.Exchanges(ctx, "run-1")
	if err != nil {
		t.Fatalf("Exchanges: %v", err)
	}
	if len(stored) != 2 || stored[1].Stage != contract.StageClassify || stored[1].Envelope.TargetRole != "classifier" {
		t.Fatalf("stored = %+v", stored)
	}
	// jsonb does not keep the original spacing, so compare decoded bodies.
	var body map[string]int
	if err := stored[0].Result.Decode(&body); err != nil || body["n"] != 1 || stored[0].Result.Attempts != 1 {
		t.Errorf("result = %+v (%v)", stored[0].Result, err)
	}

	if err := p.SaveRun(ctx, res, exs[:1]); err != nil {
		t.Fatalf("re-save: %v", err)
	}
	stored, _ = p.Exchanges(ctx, "run-1")
	if len(stored) != 1 {
		t.Errorf("expected replaced transcript, got %d exchanges", len(stored))
	}

	if _, err := p.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing run err = %v, want ErrNotFound", err)
	}
}

func TestPostgresListRuns(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()
	for _, r := range []*contract.PipelineResult{
		testResult("a", contract.RunCompleted, "2026-01-01T00:00:00Z"),
		testResult("b", contract.RunAborted, "2026-01-03T00:00:00Z"),
		testResult("c", contract.RunCompleted, "2026-01-02T00:00:00Z"),
	} {
		if err := p.SaveRun(ctx, r, nil); err != nil {
			t.Fatalf("SaveRun %s: %v", r.RunID, err)
		}
	}

	all, err := p.ListRuns(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 || all[0].RunID != "b" || all[2].RunID != "a" {
		t.Errorf("all = %+v", all)
	}
	if all[0].Status != contract.RunAborted || all[0].IssuesFound != 1 || all[0].TargetHint != "./svc" {
		t.Errorf("summary = %+v", all[0])
	}

	done, _ := p.ListRuns(ctx, ListOptions{Status: contract.RunCompleted, Limit: 1})
	if len(done) != 1 || done[0].RunID != "c" {
		t.Errorf("filtered = %+v", done)
	}

	if err := p.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if runs, _ := p.ListRuns(ctx, ListOptions{}); len(runs) != 0 {
		t.Errorf("expected empty store after reset, got %d runs", len(runs))
	}
}
