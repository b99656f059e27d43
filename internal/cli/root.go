package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "relay: a multi-stage delegation pipeline",
	Long: `relay routes a work request through specialist workers (analyze, classify,
plan, implement, verify, document, cleanup, index) and gates the creation of
tracked issues behind a layered safety check.

Configuration is read from relay.yaml or ~/.relay/config.yaml. Completed runs
and their worker transcripts are stored in ~/.relay/relay.db (SQLite) unless
store.driver selects Postgres.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initViper)

	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "path to relay.yaml (env RELAY_CONFIG)")
	pf.String("env", "dev", "environment: dev, staging or prod (env RELAY_ENV)")
	pf.String("db", "", "run store DSN, overrides store.dsn (env RELAY_DB)")
	pf.String("log-format", "text", "structured log format: text or json")
	pf.BoolP("verbose", "v", false, "log debug records, including every worker HTTP request")
	for _, name := range []string{"config", "env", "db", "log-format", "verbose"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}

func initViper() {
	viper.SetEnvPrefix("RELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// newLogger builds the structured logger selected by --log-format and
// --verbose. Records go to w, normally stderr.
func newLogger(w io.Writer) (*slog.Logger, error) {
	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	switch format := viper.GetString("log-format"); format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown --log-format %q: use text or json", format)
	}
}
