package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/relayfactory/internal/contract"
	"github.com/lucasnoah/relayfactory/internal/fsutil"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the delegation pipeline once",
	Long: `Run the pipeline against a target: analyze, classify, fix the most severe
issues, verify, document and optionally clean up and index. Tracked issues
are only created with --mode create and an open gate.

The request can come from flags or from a JSON file (--request); flags that
are set explicitly override the file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		req, err := requestFromFlags(cmd, cfg.Pipeline.MaxItemsToFix, cfg.Pipeline.IncludeCleanup, cfg.Pipeline.IncludeIndexing)
		if err != nil {
			return err
		}
		if err := req.Validate(); err != nil {
			return err
		}

		logger, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		o, err := buildOrchestrator(cfg, req.Environment, pipelineDeps{store: store, logger: logger})
		if err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		if !asJSON {
			o.SetProgress(cmd.ErrOrStderr())
		}

		res, err := o.Run(cmd.Context(), req)
		if err != nil {
			return err
		}

		if out, _ := cmd.Flags().GetString("out"); out != "" {
			if err := fsutil.WriteJSON(out, res); err != nil {
				return err
			}
		}
		if asJSON {
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		} else {
			printResult(cmd.OutOrStdout(), res)
		}

		if res.Status == contract.RunAborted {
			return fmt.Errorf("run %s aborted: %s", res.RunID, res.AbortReason)
		}
		return nil
	},
}

// requestFromFlags builds the request from --request (if any), then applies
// config defaults and explicitly set flags.
func requestFromFlags(cmd *cobra.Command, maxItems int, cleanup, index bool) (contract.PipelineRequest, error) {
	f := cmd.Flags()
	var req contract.PipelineRequest
	if path, _ := f.GetString("request"); path != "" {
		var err error
		if req, err = fsutil.ReadRequest(path); err != nil {
			return req, err
		}
	} else {
		req.MaxItemsToFix = maxItems
		req.IncludeCleanup = cleanup
		req.IncludeIndexing = index
	}

	if f.Changed("target") || req.TargetHint == "" {
		req.TargetHint, _ = f.GetString("target")
	}
	if f.Changed("task") || req.TaskDescription == "" {
		req.TaskDescription, _ = f.GetString("task")
	}
	if f.Changed("max-items") {
		req.MaxItemsToFix, _ = f.GetInt("max-items")
	}
	if f.Changed("cleanup") {
		req.IncludeCleanup, _ = f.GetBool("cleanup")
	}
	if f.Changed("index") {
		req.IncludeIndexing, _ = f.GetBool("index")
	}
	if f.Changed("tracker") {
		req.TrackerTarget, _ = f.GetString("tracker")
	}
	if f.Changed("session") {
		req.SessionID, _ = f.GetString("session")
	}

	if f.Changed("mode") || req.Mode == "" {
		s, _ := f.GetString("mode")
		mode, err := contract.ParseMode(s)
		if err != nil {
			return req, err
		}
		req.Mode = mode
	}
	if req.Environment == "" || cmd.Flag("env").Changed || os.Getenv("RELAY_ENV") != "" {
		env, err := environment()
		if err != nil {
			return req, err
		}
		req.Environment = env
	}
	return req, nil
}

func init() {
	f := runCmd.Flags()
	f.String("target", "", "target hint: a directory, path or repository to analyze")
	f.String("task", "", "free-text task description")
	f.Int("max-items", 0, "max issues to fix, most severe first (default pipeline.max_items_to_fix)")
	f.Bool("cleanup", false, "run the cleanup stage (default pipeline.include_cleanup)")
	f.Bool("index", false, "run the index stage (default pipeline.include_indexing)")
	f.String("mode", "preview", "tracker mode: preview, dry-run or create")
	f.String("tracker", "", "tracker target owner/repo (default tracker.target)")
	f.String("session", "", "session id propagated to every worker")
	f.String("request", "", "read the request from a JSON file")
	f.Bool("json", false, "print the full result as JSON")
	f.String("out", "", "also write the JSON result to this file")
}
