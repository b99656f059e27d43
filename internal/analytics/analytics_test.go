package analytics

import (
	"testing"
	"time"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

func result(id, started string, status contract.RunStatus, dur float64, reports ...contract.StageReport) *contract.PipelineResult {
	res := contract.NewPipelineResult(id, contract.PipelineRequest{TargetHint: "."})
	res.StartedAt = started
	res.Status = status
	res.DurationSeconds = dur
	res.StageReports = reports
	return res
}

func exchange(role string, success bool, attempts int, ms int64) contract.Exchange {
	return contract.Exchange{
		Envelope: contract.TaskEnvelope{TargetRole: role},
		Result:   contract.AgentResult{Success: success, AgentRole: role, Attempts: attempts, DurationMs: ms},
	}
}

// --- stage health ---

func TestCompute_StageHealth(t *testing.T) {
	runs := []Run{
		{Result: result("r1", "2026-03-02T10:00:00Z", contract.RunCompleted, 10,
			contract.StageReport{Stage: contract.StagePlan, Status: contract.StageOK, Units: 2},
			contract.StageReport{Stage: contract.StageAnalyze, Status: contract.StageOK, Units: 1},
		)},
		{Result: result("r2", "2026-03-03T10:00:00Z", contract.RunCompleted, 20,
			contract.StageReport{Stage: contract.StageAnalyze, Status: contract.StageOK, Units: 1},
			contract.StageReport{Stage: contract.StagePlan, Status: contract.StageDegraded, Units: 4, Failed: 1},
		)},
	}

	report := Compute(runs, time.Time{})
	if report.Runs != 2 {
		t.Fatalf("runs = %d, want 2", report.Runs)
	}
	if len(report.Stages) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(report.Stages))
	}
	if report.Stages[0].Stage != contract.StageAnalyze {
		t.Errorf("first stage = %q, want analyze (pipeline order)", report.Stages[0].Stage)
	}
	plan := report.Stages[1]
	if plan.Count != 2 || plan.OK != 1 || plan.Degraded != 1 {
		t.Errorf("plan = %+v", plan)
	}
	if plan.DegradedPct != 50.0 {
		t.Errorf("plan degraded pct = %f, want 50.0", plan.DegradedPct)
	}
	if plan.AvgUnits != 3.0 {
		t.Errorf("plan avg units = %f, want 3.0", plan.AvgUnits)
	}
}

func TestCompute_ErrorKinds(t *testing.T) {
	res := result("r1", "2026-03-02T10:00:00Z", contract.RunCompleted, 1)
	res.StageErrors = []contract.StageError{
		{Stage: contract.StagePlan, Kind: contract.KindProviderUnavailable},
		{Stage: contract.StageVerify, Kind: contract.KindProviderUnavailable},
		{Stage: contract.StageTrack, Kind: contract.KindSafetyBlocked},
		{Stage: contract.StageDocument, Kind: contract.KindAggregation},
	}

	kinds := Compute([]Run{{Result: res}}, time.Time{}).ErrorKinds
	if len(kinds) != 3 {
		t.Fatalf("expected 3 kinds, got %d", len(kinds))
	}
	if kinds[0].Kind != contract.KindProviderUnavailable || kinds[0].Count != 2 || kinds[0].Pct != 50.0 {
		t.Errorf("top kind = %+v", kinds[0])
	}
	// Ties break by kind name.
	if kinds[1].Kind != contract.KindAggregation || kinds[2].Kind != contract.KindSafetyBlocked {
		t.Errorf("tie order = %v, %v", kinds[1].Kind, kinds[2].Kind)
	}
}

// --- role latency ---

func TestCompute_RoleLatency(t *testing.T) {
	runs := []Run{{
		Result: result("r1", "2026-03-02T10:00:00Z", contract.RunCompleted, 1),
		Exchanges: []contract.Exchange{
			exchange("planner", true, 1, 100),
			exchange("planner", true, 2, 300),
			exchange("planner", false, 2, 200),
			exchange("qa", true, 1, 0), // replayed: no duration
		},
	}}

	roles := Compute(runs, time.Time{}).Roles
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}
	planner := roles[0]
	if planner.Role != "planner" || planner.Calls != 3 || planner.Failures != 1 || planner.Retried != 2 {
		t.Errorf("planner = %+v", planner)
	}
	if planner.AvgMs != 200.0 || planner.P50Ms != 200.0 {
		t.Errorf("planner avg/p50 = %f/%f, want 200/200", planner.AvgMs, planner.P50Ms)
	}
	if planner.P95Ms != 290.0 {
		t.Errorf("planner p95 = %f, want 290", planner.P95Ms)
	}
	if planner.FailurePct != 33.3 {
		t.Errorf("planner failure pct = %f, want 33.3", planner.FailurePct)
	}
	if qa := roles[1]; qa.Calls != 1 || qa.AvgMs != 0 {
		t.Errorf("qa = %+v", qa)
	}
}

// --- throughput ---

func TestCompute_Throughput(t *testing.T) {
	completed := result("r1", "2026-03-02T10:00:00Z", contract.RunCompleted, 10)
	completed.TotalIssuesFound = 3
	completed.IssuesFixed = 2
	runs := []Run{
		{Result: completed},
		{Result: result("r2", "2026-03-04T10:00:00Z", contract.RunAborted, 20)},
		{Result: result("r3", "2026-03-10T10:00:00Z", contract.RunCompleted, 5)},
	}

	weeks := Compute(runs, time.Time{}).Throughput
	if len(weeks) != 2 {
		t.Fatalf("expected 2 weeks, got %d", len(weeks))
	}
	if weeks[0].Period != "2026-W11" {
		t.Errorf("newest period = %q, want 2026-W11", weeks[0].Period)
	}
	w10 := weeks[1]
	if w10.Runs != 2 || w10.Completed != 1 || w10.Aborted != 1 {
		t.Errorf("week 10 = %+v", w10)
	}
	if w10.Issues != 3 || w10.Fixed != 2 {
		t.Errorf("week 10 issues/fixed = %d/%d", w10.Issues, w10.Fixed)
	}
	if w10.AvgDuration != 15.0 {
		t.Errorf("week 10 avg duration = %f, want 15.0", w10.AvgDuration)
	}
}

func TestCompute_Since(t *testing.T) {
	runs := []Run{
		{Result: result("old", "2026-01-01T00:00:00Z", contract.RunCompleted, 1)},
		{Result: result("new", "2026-03-01T00:00:00Z", contract.RunCompleted, 1)},
		{Result: result("bad", "yesterday", contract.RunCompleted, 1)},
		{Result: nil},
	}
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if got := Compute(runs, since).Runs; got != 1 {
		t.Errorf("runs since Feb = %d, want 1", got)
	}
	if got := Compute(runs, time.Time{}).Runs; got != 3 {
		t.Errorf("all runs = %d, want 3", got)
	}
}

func TestCompute_Empty(t *testing.T) {
	report := Compute(nil, time.Time{})
	if report.Runs != 0 || len(report.Stages) != 0 || len(report.Roles) != 0 {
		t.Errorf("report = %+v", report)
	}
	if report.Stages == nil || report.ErrorKinds == nil || report.Throughput == nil {
		t.Error("empty report should encode lists as []")
	}
}

// --- helpers ---

func TestPercentile(t *testing.T) {
	tests := []struct {
		values []float64
		p      int
		want   float64
	}{
		{nil, 50, 0},
		{[]float64{7}, 95, 7},
		{[]float64{1, 2, 3, 4}, 50, 2.5},
		{[]float64{10, 20, 30, 40, 50}, 100, 50},
	}
	for _, tt := range tests {
		if got := percentile(tt.values, tt.p); got != tt.want {
			t.Errorf("percentile(%v, %d) = %f, want %f", tt.values, tt.p, got, tt.want)
		}
	}
}
