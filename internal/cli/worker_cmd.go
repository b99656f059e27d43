package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/relayfactory/internal/checks"
	"github.com/lucasnoah/relayfactory/internal/provider"
	"github.com/lucasnoah/relayfactory/internal/worker"
	"github.com/lucasnoah/relayfactory/internal/workerserver"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the specialist workers as an HTTP service",
}

var workerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the built-in specialists over HTTP for remote providers",
	Long: `Serve exposes every specialist role at POST /v1/invoke. When the variable
named by providers.jwt_secret_env is set, each call must carry a bearer
token signed with that secret and bound to the envelope it accompanies.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		roles := stageRoles(cfg)
		specialists := worker.New(cfg.Worker, checks.NewRunner(&checks.ExecRunner{}))
		reg := make(provider.Registry)
		for role, h := range specialists.Handlers(roles) {
			reg[role] = provider.NewLocal(role, h)
		}

		var secret []byte
		if cfg.Providers.JWTSecretEnv != "" {
			secret = []byte(os.Getenv(cfg.Providers.JWTSecretEnv))
		}
		if len(secret) == 0 {
			logger.Warn("worker authentication disabled", "secret_env", cfg.Providers.JWTSecretEnv)
		}

		handler, err := workerserver.New(workerserver.Config{
			Providers:   reg,
			Secret:      secret,
			CallTimeout: cfg.CallTimeout(),
			Logger:      logger,
			Version:     version,
		})
		if err != nil {
			return err
		}

		addr, _ := cmd.Flags().GetString("listen")
		if addr == "" {
			addr = cfg.Worker.Listen
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		fmt.Fprintf(cmd.OutOrStdout(), "Serving %d roles on %s\n", len(reg), addr)
		return workerserver.Serve(ctx, addr, handler, logger)
	},
}

func init() {
	workerServeCmd.Flags().String("listen", "", "listen address (default worker.listen)")
	workerCmd.AddCommand(workerServeCmd)
}
