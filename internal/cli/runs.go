package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/relayfactory/internal/analytics"
	"github.com/lucasnoah/relayfactory/internal/contract"
	"github.com/lucasnoah/relayfactory/internal/provider"
	"github.com/lucasnoah/relayfactory/internal/runstore"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect and replay stored runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := store.ListRuns(cmd.Context(), runstore.ListOptions{Status: contract.RunStatus(status), Limit: limit})
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), runs)
		}
		printRuns(cmd.OutOrStdout(), runs)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := store.GetRun(cmd.Context(), args[0])
		if err != nil {
			if errors.Is(err, runstore.ErrNotFound) {
				return fmt.Errorf("run %s not found", args[0])
			}
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		printResult(cmd.OutOrStdout(), res)
		return nil
	},
}

var runsReplayCmd = &cobra.Command{
	Use:   "replay <run-id>",
	Short: "Re-run a stored run against its recorded worker results",
	Long: `Replay re-executes a stored run with every worker answered from the
recorded transcript, then compares the stage outcomes with the original.
Create mode is downgraded to dry-run so replay never calls the tracker.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		orig, err := store.GetRun(cmd.Context(), args[0])
		if err != nil {
			if errors.Is(err, runstore.ErrNotFound) {
				return fmt.Errorf("run %s not found", args[0])
			}
			return err
		}
		exchanges, err := store.Exchanges(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		replay, err := provider.NewReplay(exchanges)
		if err != nil {
			return fmt.Errorf("load transcript: %w", err)
		}
		logger, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		o, err := buildOrchestrator(cfg, orig.Request.Environment, pipelineDeps{replay: replay, logger: logger})
		if err != nil {
			return err
		}
		req := orig.Request
		if req.Mode == contract.ModeCreate {
			req.Mode = contract.ModeDryRun
		}
		res, err := o.Run(cmd.Context(), req)
		if err != nil {
			return err
		}

		diffs := compareRuns(orig, res)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), struct {
				Result      *contract.PipelineResult `json:"result"`
				Differences []string                 `json:"differences"`
			}{res, diffs})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Replayed %s (%d recorded exchanges) as %s\n", orig.RunID, len(exchanges), res.RunID)
		if len(diffs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Replay matches the recorded run.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Replay differs from the recorded run:")
		for _, d := range diffs {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", d)
		}
		return fmt.Errorf("replay of %s diverged in %d place(s)", orig.RunID, len(diffs))
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise stage health, worker latency and throughput over stored runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var since time.Time
		if s, _ := cmd.Flags().GetString("since"); s != "" {
			if since, err = time.Parse("2006-01-02", s); err != nil {
				return fmt.Errorf("invalid --since %q: use YYYY-MM-DD", s)
			}
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		summaries, err := store.ListRuns(cmd.Context(), runstore.ListOptions{Limit: limit})
		if err != nil {
			return err
		}
		runs := make([]analytics.Run, 0, len(summaries))
		for _, s := range summaries {
			res, err := store.GetRun(cmd.Context(), s.RunID)
			if err != nil {
				return err
			}
			exs, err := store.Exchanges(cmd.Context(), s.RunID)
			if err != nil {
				return err
			}
			runs = append(runs, analytics.Run{Result: res, Exchanges: exs})
		}

		report := analytics.Compute(runs, since)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), report)
		}
		printStats(cmd.OutOrStdout(), report)
		return nil
	},
}

// compareRuns lists the observable differences between two runs of the same
// request, ignoring ids, timings and the tracker stage.
func compareRuns(a, b *contract.PipelineResult) []string {
	var diffs []string
	if a.Status != b.Status {
		diffs = append(diffs, fmt.Sprintf("status %s != %s", a.Status, b.Status))
	}
	counts := []struct {
		name string
		a, b int
	}{
		{"findings", len(a.Findings), len(b.Findings)},
		{"issues", len(a.Issues), len(b.Issues)},
		{"fix plans", len(a.FixPlans), len(b.FixPlans)},
		{"code changes", len(a.CodeChanges), len(b.CodeChanges)},
		{"qa verdicts", len(a.QAVerdicts), len(b.QAVerdicts)},
		{"doc updates", len(a.DocUpdates), len(b.DocUpdates)},
		{"cleanup tasks", len(a.CleanupTasks), len(b.CleanupTasks)},
		{"index entries", len(a.IndexEntries), len(b.IndexEntries)},
	}
	for _, c := range counts {
		if c.a != c.b {
			diffs = append(diffs, fmt.Sprintf("%s: %d != %d", c.name, c.a, c.b))
		}
	}

	stages := func(res *contract.PipelineResult) []contract.StageReport {
		var out []contract.StageReport
		for _, r := range res.StageReports {
			if r.Stage != contract.StageTrack {
				out = append(out, r)
			}
		}
		return out
	}
	sa, sb := stages(a), stages(b)
	if len(sa) != len(sb) {
		return append(diffs, fmt.Sprintf("stage count %d != %d", len(sa), len(sb)))
	}
	for i := range sa {
		if sa[i].Stage != sb[i].Stage || sa[i].Status != sb[i].Status || sa[i].Units != sb[i].Units {
			diffs = append(diffs, fmt.Sprintf("stage %d: %s/%s/%d != %s/%s/%d",
				i, sa[i].Stage, sa[i].Status, sa[i].Units, sb[i].Stage, sb[i].Status, sb[i].Units))
		}
	}
	return diffs
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status: completed or aborted")
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs")
	runsListCmd.Flags().Bool("json", false, "output as JSON")
	runsShowCmd.Flags().Bool("json", false, "output as JSON")
	runsReplayCmd.Flags().Bool("json", false, "output as JSON")
	runsStatsCmd.Flags().String("since", "", "only runs started on or after this date (YYYY-MM-DD)")
	runsStatsCmd.Flags().Int("limit", 200, "maximum number of recent runs to analyse")
	runsStatsCmd.Flags().Bool("json", false, "output as JSON")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsReplayCmd)
	runsCmd.AddCommand(runsStatsCmd)
}
