package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/relayfactory/internal/contract"
	"github.com/lucasnoah/relayfactory/internal/gate"
)

var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Inspect the issue-creation safety gate",
}

var gateCheckCmd = &cobra.Command{
	Use:   "check [owner/repo]",
	Short: "Explain whether issue creation would be allowed for a target",
	Long: `Evaluate the gate exactly as a run would: feature enabled, target
allowlisted, credential present, then mode. The target defaults to
tracker.target. Exits non-zero when creation would be blocked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		target := cfg.Tracker.Target
		if len(args) == 1 {
			target = args[0]
		}
		modeFlag, _ := cmd.Flags().GetString("mode")
		mode, err := contract.ParseMode(modeFlag)
		if err != nil {
			return err
		}

		gcfg := gateConfig(cfg, os.Getenv)
		gcfg.Mode = mode
		d := gate.Evaluate(gate.ActionCreateIssue, target, gcfg)

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			if err := writeJSON(cmd.OutOrStdout(), d); err != nil {
				return err
			}
		} else {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Target:  %s\n", target)
			fmt.Fprintf(w, "Mode:    %s\n", d.Mode)
			fmt.Fprintf(w, "Allowed: %s\n", yesNo(d.Allow))
			fmt.Fprintf(w, "Check:   %s\n", d.Check)
			fmt.Fprintf(w, "Reason:  %s\n", d.Reason)
		}
		if !d.Allow {
			return fmt.Errorf("issue creation blocked at %s check", d.Check)
		}
		return nil
	},
}

func init() {
	gateCheckCmd.Flags().String("mode", "create", "mode to evaluate: preview, dry-run or create")
	gateCheckCmd.Flags().Bool("json", false, "output the decision as JSON")
	gateCmd.AddCommand(gateCheckCmd)
}
