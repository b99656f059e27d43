// Package worker provides the built-in specialists: deterministic,
// heuristic workers for every pipeline stage, so a single process can run
// the whole pipeline without any remote worker.
package worker

import (
	"context"
	"sort"
	"time"

	"github.com/lucasnoah/relayfactory/internal/checks"
	"github.com/lucasnoah/relayfactory/internal/config"
	"github.com/lucasnoah/relayfactory/internal/contract"
	"github.com/lucasnoah/relayfactory/internal/provider"
)

// Specialists holds the shared settings of the built-in workers.
type Specialists struct {
	runner   *checks.Runner
	checks   []checks.CheckConfig
	markers  []string
	maxFiles int
}

// New builds the specialists from worker settings. runner may be nil when
// no checks are configured.
func New(cfg config.WorkerSettings, runner *checks.Runner) *Specialists {
	s := &Specialists{
		runner:   runner,
		markers:  cfg.Markers,
		maxFiles: cfg.MaxFiles,
	}
	for _, name := range cfg.DefaultChecks {
		c, ok := cfg.Checks[name]
		if !ok {
			continue
		}
		timeout, _ := time.ParseDuration(c.Timeout)
		s.checks = append(s.checks, checks.CheckConfig{
			Name:    name,
			Command: c.Command,
			Parser:  c.Parser,
			Timeout: timeout,
		})
	}
	return s
}

// Handlers returns one handler per role. stageRoles maps stage ids to the
// role that serves them; stages missing from it use contract.DefaultRoles.
func (s *Specialists) Handlers(stageRoles map[string]string) map[string]provider.Handler {
	byStage := map[string]provider.Handler{
		contract.StageAnalyze:   handle(s.Analyze),
		contract.StageClassify:  handle(s.Classify),
		contract.StagePlan:      handle(s.Plan),
		contract.StageImplement: handle(s.Implement),
		contract.StageVerify:    handle(s.Verify),
		contract.StageDocument:  handle(s.Document),
		contract.StageCleanup:   handle(s.Cleanup),
		contract.StageIndex:     handle(s.Index),
	}
	out := make(map[string]provider.Handler, len(byStage))
	for stage, h := range byStage {
		role := stageRoles[stage]
		if role == "" {
			role = contract.DefaultRoles[stage]
		}
		out[role] = h
	}
	return out
}

// Roles lists the roles Handlers would serve, sorted.
func Roles(stageRoles map[string]string) []string {
	seen := make(map[string]bool)
	for stage, def := range contract.DefaultRoles {
		role := stageRoles[stage]
		if role == "" {
			role = def
		}
		seen[role] = true
	}
	roles := make([]string, 0, len(seen))
	for r := range seen {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	return roles
}

// handle adapts a typed stage function to provider.Handler.
func handle[In, Out any](fn func(ctx context.Context, in In) (Out, error)) provider.Handler {
	return provider.HandlerFunc(func(ctx context.Context, env contract.TaskEnvelope) (any, error) {
		var in In
		if err := env.DecodePayload(&in); err != nil {
			return nil, err
		}
		return fn(ctx, in)
	})
}
