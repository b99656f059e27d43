package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/lucasnoah/relayfactory/internal/checks"
	"github.com/lucasnoah/relayfactory/internal/config"
	"github.com/lucasnoah/relayfactory/internal/contract"
	"github.com/lucasnoah/relayfactory/internal/dispatch"
	"github.com/lucasnoah/relayfactory/internal/gate"
	"github.com/lucasnoah/relayfactory/internal/orchestrator"
	"github.com/lucasnoah/relayfactory/internal/prompt"
	"github.com/lucasnoah/relayfactory/internal/provider"
	"github.com/lucasnoah/relayfactory/internal/runstore"
	"github.com/lucasnoah/relayfactory/internal/tracker"
	"github.com/lucasnoah/relayfactory/internal/worker"
)

// pipelineDeps are the optional pieces buildOrchestrator wires in.
type pipelineDeps struct {
	store  runstore.Store     // nil: results are not persisted
	replay *provider.Replay   // non-nil: every role answers from a recording
	logger *slog.Logger       // nil: discard
	getenv func(string) string
}

// stageRoles resolves the worker role for every stage, honouring
// pipeline.roles overrides.
func stageRoles(cfg *config.Config) map[string]string {
	roles := make(map[string]string, len(contract.DefaultRoles))
	for stage := range contract.DefaultRoles {
		roles[stage] = cfg.RoleFor(stage, contract.DefaultRoles)
	}
	return roles
}

// gateConfig resolves the gate settings. The credential is read once here
// and never logged.
func gateConfig(cfg *config.Config, getenv func(string) string) gate.Config {
	return gate.Config{
		Enabled:        cfg.Gate.Enabled,
		Allowlist:      cfg.Gate.Allowlist,
		CredentialName: cfg.Gate.CredentialEnv,
		Credential:     getenv(cfg.Gate.CredentialEnv),
	}
}

// buildOrchestrator wires config into a ready orchestrator: providers for
// the environment, the retrying dispatcher, the gate, the tracker and the
// run store.
func buildOrchestrator(cfg *config.Config, env contract.Environment, deps pipelineDeps) (*orchestrator.Orchestrator, error) {
	getenv := deps.getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	logger := deps.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	roles := stageRoles(cfg)
	specialists := worker.New(cfg.Worker, checks.NewRunner(&checks.ExecRunner{}))
	reg, err := provider.Build(worker.Roles(roles), cfg.Providers, string(env), specialists.Handlers(roles), provider.BuildOptions{
		Replay: deps.replay,
		Getenv: getenv,
	})
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}

	transcript := runstore.NewTranscript()
	d := dispatch.New(reg,
		dispatch.WithPolicy(cfg.RetryPolicy()),
		dispatch.WithCallTimeout(cfg.CallTimeout()),
		dispatch.WithLogger(logger),
		dispatch.WithRecorder(transcript.Record),
	)

	gcfg := gateConfig(cfg, getenv)
	renderer, err := prompt.NewIssueRenderer(prompt.RendererOptions{
		BodyTemplate: cfg.Tracker.BodyTemplate,
		Workdir:      workdir(),
		Labels:       cfg.Tracker.Labels,
		Assignees:    cfg.Tracker.Assignees,
		Milestone:    cfg.Tracker.Milestone,
	})
	if err != nil {
		return nil, err
	}

	opts := orchestrator.Options{
		Roles:         roles,
		PoolSize:      cfg.Pipeline.PoolSize,
		RunDeadline:   cfg.RunDeadline(),
		Gate:          gcfg,
		TrackerTarget: cfg.Tracker.Target,
		Renderer:      renderer,
		Store:         deps.store,
	}
	if deps.replay == nil {
		opts.Tracker = tracker.NewGitHub(&tracker.ExecRunner{Token: gcfg.Credential})
	}
	if deps.store != nil {
		opts.Transcript = transcript
	}

	o, err := orchestrator.New(d, opts)
	if err != nil {
		return nil, err
	}
	o.SetLogger(logger)
	return o, nil
}

// environment resolves --env / RELAY_ENV.
func environment() (contract.Environment, error) {
	return contract.ParseEnvironment(viper.GetString("env"))
}

func workdir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
