// Package analytics summarises stored runs: how often each stage degrades,
// which error kinds dominate, how slow each worker role is and how many
// runs complete per week.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// Run is one stored run with its worker transcript.
type Run struct {
	Result    *contract.PipelineResult
	Exchanges []contract.Exchange
}

// Report is the full analytics summary.
type Report struct {
	Runs       int                  `json:"runs"`
	Stages     []StageHealth        `json:"stages"`
	ErrorKinds []ErrorKindCount     `json:"error_kinds"`
	Roles      []RoleLatency        `json:"roles"`
	Throughput []PipelineThroughput `json:"throughput"`
}

// StageHealth holds outcome rates for one stage across runs.
type StageHealth struct {
	Stage       string  `json:"stage"`
	Count       int     `json:"count"`
	OK          int     `json:"ok"`
	Degraded    int     `json:"degraded"`
	Skipped     int     `json:"skipped"`
	Failed      int     `json:"failed"`
	DegradedPct float64 `json:"degraded_pct"`
	AvgUnits    float64 `json:"avg_units"`
}

// ErrorKindCount counts stage errors of one kind.
type ErrorKindCount struct {
	Kind  contract.ErrorKind `json:"kind"`
	Count int                `json:"count"`
	Pct   float64            `json:"pct"`
}

// RoleLatency holds call latency and reliability for one worker role.
type RoleLatency struct {
	Role       string  `json:"role"`
	Calls      int     `json:"calls"`
	Failures   int     `json:"failures"`
	Retried    int     `json:"retried"`
	FailurePct float64 `json:"failure_pct"`
	AvgMs      float64 `json:"avg_ms"`
	P50Ms      float64 `json:"p50_ms"`
	P95Ms      float64 `json:"p95_ms"`
}

// PipelineThroughput holds run counts for one ISO week.
type PipelineThroughput struct {
	Period      string  `json:"period"`
	Runs        int     `json:"runs"`
	Completed   int     `json:"completed"`
	Aborted     int     `json:"aborted"`
	Issues      int     `json:"issues"`
	Fixed       int     `json:"fixed"`
	AvgDuration float64 `json:"avg_duration_seconds"`
}

// timestamp formats to try when parsing started_at
var timestampFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// Compute builds a report over runs started at or after since. A zero
// since includes every run. Runs with an unparseable start time are only
// excluded when since is set.
func Compute(runs []Run, since time.Time) Report {
	var kept []Run
	for _, r := range runs {
		if r.Result == nil {
			continue
		}
		if !since.IsZero() {
			started, err := parseTimestamp(r.Result.StartedAt)
			if err != nil || started.Before(since) {
				continue
			}
		}
		kept = append(kept, r)
	}
	return Report{
		Runs:       len(kept),
		Stages:     stageHealth(kept),
		ErrorKinds: errorKinds(kept),
		Roles:      roleLatency(kept),
		Throughput: throughput(kept),
	}
}

// stageHealth aggregates stage reports in pipeline order.
func stageHealth(runs []Run) []StageHealth {
	byStage := make(map[string]*StageHealth)
	units := make(map[string]int)
	for _, r := range runs {
		for _, rep := range r.Result.StageReports {
			h := byStage[rep.Stage]
			if h == nil {
				h = &StageHealth{Stage: rep.Stage}
				byStage[rep.Stage] = h
			}
			h.Count++
			units[rep.Stage] += rep.Units
			switch rep.Status {
			case contract.StageOK:
				h.OK++
			case contract.StageDegraded:
				h.Degraded++
			case contract.StageSkipped:
				h.Skipped++
			case contract.StageFailed:
				h.Failed++
			}
		}
	}

	results := make([]StageHealth, 0, len(byStage))
	for stage, h := range byStage {
		h.DegradedPct = pct(h.Degraded+h.Failed, h.Count)
		h.AvgUnits = math.Round(float64(units[stage])/float64(h.Count)*10) / 10
		results = append(results, *h)
	}
	sort.Slice(results, func(i, j int) bool {
		oi, oj := stageRank(results[i].Stage), stageRank(results[j].Stage)
		if oi != oj {
			return oi < oj
		}
		return results[i].Stage < results[j].Stage
	})
	return results
}

var pipelineOrder = []string{
	contract.StageAnalyze, contract.StageClassify, contract.StagePlan, contract.StageImplement,
	contract.StageVerify, contract.StageDocument, contract.StageCleanup, contract.StageIndex,
	contract.StageTrack,
}

func stageRank(stage string) int {
	for i, s := range pipelineOrder {
		if s == stage {
			return i
		}
	}
	return len(pipelineOrder)
}

// errorKinds counts stage errors by kind, most frequent first.
func errorKinds(runs []Run) []ErrorKindCount {
	counts := make(map[contract.ErrorKind]int)
	total := 0
	for _, r := range runs {
		for _, e := range r.Result.StageErrors {
			counts[e.Kind]++
			total++
		}
	}
	results := make([]ErrorKindCount, 0, len(counts))
	for kind, n := range counts {
		results = append(results, ErrorKindCount{Kind: kind, Count: n, Pct: pct(n, total)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Count != results[j].Count {
			return results[i].Count > results[j].Count
		}
		return results[i].Kind < results[j].Kind
	})
	return results
}

// roleLatency summarises the recorded exchanges per role. Replayed results
// carry no duration and count toward calls but not latency.
func roleLatency(runs []Run) []RoleLatency {
	type acc struct {
		RoleLatency
		durations []float64
	}
	byRole := make(map[string]*acc)
	for _, r := range runs {
		for _, ex := range r.Exchanges {
			role := ex.Envelope.TargetRole
			a := byRole[role]
			if a == nil {
				a = &acc{RoleLatency: RoleLatency{Role: role}}
				byRole[role] = a
			}
			a.Calls++
			if !ex.Result.Success {
				a.Failures++
			}
			if ex.Result.Attempts > 1 {
				a.Retried++
			}
			if ex.Result.DurationMs > 0 {
				a.durations = append(a.durations, float64(ex.Result.DurationMs))
			}
		}
	}

	results := make([]RoleLatency, 0, len(byRole))
	for _, a := range byRole {
		sort.Float64s(a.durations)
		a.FailurePct = pct(a.Failures, a.Calls)
		a.AvgMs = avg(a.durations)
		a.P50Ms = percentile(a.durations, 50)
		a.P95Ms = percentile(a.durations, 95)
		results = append(results, a.RoleLatency)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Role < results[j].Role })
	return results
}

// throughput groups runs by ISO week, newest first, at most ten weeks.
func throughput(runs []Run) []PipelineThroughput {
	byPeriod := make(map[string]*PipelineThroughput)
	durations := make(map[string][]float64)
	for _, r := range runs {
		started, err := parseTimestamp(r.Result.StartedAt)
		if err != nil {
			continue
		}
		year, week := started.UTC().ISOWeek()
		period := fmt.Sprintf("%d-W%02d", year, week)
		pt := byPeriod[period]
		if pt == nil {
			pt = &PipelineThroughput{Period: period}
			byPeriod[period] = pt
		}
		pt.Runs++
		switch r.Result.Status {
		case contract.RunCompleted:
			pt.Completed++
		case contract.RunAborted:
			pt.Aborted++
		}
		pt.Issues += r.Result.TotalIssuesFound
		pt.Fixed += r.Result.IssuesFixed
		durations[period] = append(durations[period], r.Result.DurationSeconds)
	}

	results := make([]PipelineThroughput, 0, len(byPeriod))
	for period, pt := range byPeriod {
		pt.AvgDuration = avg(durations[period])
		results = append(results, *pt)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Period > results[j].Period })
	if len(results) > 10 {
		results = results[:10]
	}
	return results
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
