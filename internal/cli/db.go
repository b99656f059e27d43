package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lucasnoah/relayfactory/internal/config"
	"github.com/lucasnoah/relayfactory/internal/runstore"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Run store management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply run store schema migrations",
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
		cmd.Println("Run store is up to date.")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every stored run (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to reset without --yes")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.Reset(cmd.Context()); err != nil {
			return fmt.Errorf("reset run store: %w", err)
		}
		cmd.Println("Run store reset.")
		return nil
	},
}

// openStore opens and migrates the configured run store. --db / RELAY_DB
// overrides store.dsn.
func openStore(ctx context.Context, cfg *config.Config) (runstore.Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dsn := cfg.Store.DSN
	if v := viper.GetString("db"); v != "" {
		dsn = v
	}
	store, err := runstore.Open(ctx, cfg.Store.Driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate run store: %w", err)
	}
	return store, nil
}

func init() {
	dbResetCmd.Flags().Bool("yes", false, "confirm deleting all runs")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
