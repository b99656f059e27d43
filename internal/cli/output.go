package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/lucasnoah/relayfactory/internal/analytics"
	"github.com/lucasnoah/relayfactory/internal/contract"
	"github.com/lucasnoah/relayfactory/internal/runstore"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// printResult renders a run summary followed by the stage, issue and
// tracker tables.
func printResult(w io.Writer, res *contract.PipelineResult) {
	fmt.Fprintf(w, "Run %s: %s", res.RunID, res.Status)
	if res.AbortReason != "" {
		fmt.Fprintf(w, " (%s)", res.AbortReason)
	}
	fmt.Fprintf(w, "\nTarget: %s  Mode: %s  Environment: %s\n", res.Request.TargetHint, res.Request.Mode, res.Request.Environment)
	fmt.Fprintf(w, "Issues found: %d  Fixed: %d  Documented: %d  Duration: %.1fs\n\n",
		res.TotalIssuesFound, res.IssuesFixed, res.IssuesDocumented, res.DurationSeconds)

	stages := newTable(w)
	stages.AppendHeader(table.Row{"Stage", "Role", "Status", "Units", "Failed", "Detail"})
	for _, r := range res.StageReports {
		stages.AppendRow(table.Row{r.Stage, r.Role, r.Status, r.Units, r.Failed, r.Detail})
	}
	stages.Render()

	if len(res.Issues) > 0 {
		fmt.Fprintln(w)
		issues := newTable(w)
		issues.AppendHeader(table.Row{"Issue", "Severity", "Category", "Title", "Fixed"})
		fixed := make(map[string]bool, len(res.QAVerdicts))
		for _, v := range res.QAVerdicts {
			if v.Status == contract.QAPass {
				fixed[v.IssueID] = true
			}
		}
		for _, is := range res.Issues {
			issues.AppendRow(table.Row{is.ID, is.Severity, is.Category, is.Title, yesNo(fixed[is.ID])})
		}
		issues.Render()
	}

	if len(res.TrackedItems) > 0 {
		fmt.Fprintln(w)
		items := newTable(w)
		items.AppendHeader(table.Row{"Issue", "Allowed", "Created", "URL / Reason"})
		for _, it := range res.TrackedItems {
			detail := it.Reason
			if it.URL != "" {
				detail = it.URL
			}
			items.AppendRow(table.Row{it.IssueID, yesNo(it.Allow), yesNo(it.Created), detail})
		}
		items.Render()
	}

	if len(res.StageErrors) > 0 {
		fmt.Fprintf(w, "\nStage errors (%d):\n", len(res.StageErrors))
		for _, e := range res.StageErrors {
			prefix := e.Stage
			if e.IssueID != "" {
				prefix += "/" + e.IssueID
			}
			fmt.Fprintf(w, "  - [%s] %s: %s\n", e.Kind, prefix, e.Message)
		}
	}
}

func printRuns(w io.Writer, runs []runstore.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"Run", "Status", "Mode", "Target", "Started", "Issues", "Fixed", "Documented", "Duration"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.RunID, r.Status, r.Mode, truncate(r.TargetHint, 40), r.StartedAt,
			r.IssuesFound, r.IssuesFixed, r.IssuesDocumented, fmt.Sprintf("%.1fs", r.DurationSeconds),
		})
	}
	t.Render()
}

func printStats(w io.Writer, r analytics.Report) {
	fmt.Fprintf(w, "Runs analysed: %d\n\n", r.Runs)
	if r.Runs == 0 {
		return
	}

	stages := newTable(w)
	stages.AppendHeader(table.Row{"Stage", "Runs", "OK", "Degraded", "Skipped", "Failed", "Degraded %", "Avg units"})
	for _, s := range r.Stages {
		stages.AppendRow(table.Row{s.Stage, s.Count, s.OK, s.Degraded, s.Skipped, s.Failed, fmt.Sprintf("%.1f", s.DegradedPct), fmt.Sprintf("%.1f", s.AvgUnits)})
	}
	stages.Render()

	if len(r.Roles) > 0 {
		fmt.Fprintln(w)
		roles := newTable(w)
		roles.AppendHeader(table.Row{"Role", "Calls", "Failures", "Retried", "Avg ms", "P50 ms", "P95 ms"})
		for _, l := range r.Roles {
			roles.AppendRow(table.Row{l.Role, l.Calls, l.Failures, l.Retried, l.AvgMs, l.P50Ms, l.P95Ms})
		}
		roles.Render()
	}

	if len(r.ErrorKinds) > 0 {
		fmt.Fprintln(w)
		kinds := newTable(w)
		kinds.AppendHeader(table.Row{"Error kind", "Count", "%"})
		for _, k := range r.ErrorKinds {
			kinds.AppendRow(table.Row{k.Kind, k.Count, fmt.Sprintf("%.1f", k.Pct)})
		}
		kinds.Render()
	}

	if len(r.Throughput) > 0 {
		fmt.Fprintln(w)
		weeks := newTable(w)
		weeks.AppendHeader(table.Row{"Week", "Runs", "Completed", "Aborted", "Issues", "Fixed", "Avg duration"})
		for _, p := range r.Throughput {
			weeks.AppendRow(table.Row{p.Period, p.Runs, p.Completed, p.Aborted, p.Issues, p.Fixed, fmt.Sprintf("%.1fs", p.AvgDuration)})
		}
		weeks.Render()
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
