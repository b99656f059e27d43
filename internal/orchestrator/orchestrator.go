// Package orchestrator drives one pipeline run: it walks the stage list,
// asks the dispatcher for each stage, merges typed outputs into a
// PipelineResult and gates the tracker call at the end.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/relayfactory/internal/contract"
	"github.com/lucasnoah/relayfactory/internal/gate"
	"github.com/lucasnoah/relayfactory/internal/prompt"
	"github.com/lucasnoah/relayfactory/internal/runstore"
	"github.com/lucasnoah/relayfactory/internal/tracker"
)

// Dispatcher is the part of dispatch.Dispatcher the orchestrator uses.
type Dispatcher interface {
	Dispatch(ctx context.Context, env contract.TaskEnvelope) contract.AgentResult
	Cancel(correlationID string)
	Release(correlationID string)
}

// DefaultPoolSize bounds per-issue fan-out when Options.PoolSize is unset.
const DefaultPoolSize = 4

// Options wires an Orchestrator. Only the dispatcher is mandatory.
type Options struct {
	Roles         map[string]string // stage -> worker role; contract.DefaultRoles when nil
	PoolSize      int
	RunDeadline   time.Duration // zero means no deadline
	Gate          gate.Config   // Mode is taken from each request
	TrackerTarget string        // default owner/repo when the request has none
	Tracker       tracker.Client
	Renderer      *prompt.IssueRenderer
	Store         runstore.Store
	Transcript    *runstore.Transcript
}

// Orchestrator runs pipelines. It is safe to run several pipelines
// concurrently on one Orchestrator.
type Orchestrator struct {
	dispatcher Dispatcher
	opts       Options
	progress   io.Writer
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string

	mu     sync.Mutex
	active map[string]*atomic.Bool // run id -> cancelled
}

// New creates an Orchestrator.
func New(d Dispatcher, opts Options) (*Orchestrator, error) {
	if d == nil {
		return nil, errors.New("orchestrator: dispatcher is required")
	}
	if opts.Roles == nil {
		opts.Roles = contract.DefaultRoles
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.Renderer == nil {
		r, err := prompt.NewIssueRenderer(prompt.RendererOptions{})
		if err != nil {
			return nil, fmt.Errorf("load built-in issue template: %w", err)
		}
		opts.Renderer = r
	}
	return &Orchestrator{
		dispatcher: d,
		opts:       opts,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        time.Now,
		newID:      uuid.NewString,
		active:     make(map[string]*atomic.Bool),
	}, nil
}

// SetProgress sets a writer for human-readable progress lines.
func (o *Orchestrator) SetProgress(w io.Writer) {
	o.progress = w
}

// SetLogger sets the structured logger.
func (o *Orchestrator) SetLogger(l *slog.Logger) {
	if l != nil {
		o.logger = l
	}
}

func (o *Orchestrator) logf(format string, args ...interface{}) {
	if o.progress != nil {
		fmt.Fprintf(o.progress, "  → "+format+"\n", args...)
	}
}

// Run executes one pipeline. A malformed request is the only error
// returned; every other failure is recorded on the result.
func (o *Orchestrator) Run(ctx context.Context, req contract.PipelineRequest) (*contract.PipelineResult, error) {
	if req.Mode == "" {
		req.Mode = contract.ModePreview
	}
	if req.TrackerTarget == "" {
		req.TrackerTarget = o.opts.TrackerTarget
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline request: %w", err)
	}

	runID := o.newID()
	start := o.now()
	res := contract.NewPipelineResult(runID, req)
	res.StartedAt = start.UTC().Format(time.RFC3339)

	cancelled := new(atomic.Bool)
	o.register(runID, cancelled)
	defer o.unregister(runID)
	defer o.dispatcher.Release(runID)

	r := &run{o: o, ctx: ctx, cancelled: cancelled, id: runID, req: req, res: res}
	if o.opts.RunDeadline > 0 {
		r.deadline = start.Add(o.opts.RunDeadline)
	}

	o.logf("run %s: target %s, mode %s", runID, req.TargetHint, req.Mode)
	o.logger.Info("run started", "run_id", runID, "target", req.TargetHint, "mode", string(req.Mode), "environment", string(req.Environment))

	r.execute()

	res.Recount()
	if res.Status != contract.RunAborted {
		if err := res.CheckIntegrity(); err != nil {
			r.abort(err)
		}
	}
	if res.Status == "" {
		res.Status = contract.RunCompleted
	}
	res.DurationSeconds = o.now().Sub(start).Seconds()

	o.logf("run %s %s: %d issues, %d fixed, %d documented (%.1fs)",
		runID, res.Status, res.TotalIssuesFound, res.IssuesFixed, res.IssuesDocumented, res.DurationSeconds)
	o.logger.Info("run finished", "run_id", runID, "status", string(res.Status),
		"issues", res.TotalIssuesFound, "stage_errors", len(res.StageErrors), "duration", res.DurationSeconds)

	o.persist(ctx, res)
	return res, nil
}

// Cancel stops a running pipeline. Calls already in flight finish but
// their results are discarded; stages not yet started are skipped.
// It reports whether runID was active.
func (o *Orchestrator) Cancel(runID string) bool {
	o.mu.Lock()
	cancelled, ok := o.active[runID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	cancelled.Store(true)
	o.dispatcher.Cancel(runID)
	return true
}

func (o *Orchestrator) register(runID string, cancelled *atomic.Bool) {
	o.mu.Lock()
	o.active[runID] = cancelled
	o.mu.Unlock()
}

func (o *Orchestrator) unregister(runID string) {
	o.mu.Lock()
	delete(o.active, runID)
	o.mu.Unlock()
}

// persist saves the result and its transcript. Failures are logged only:
// a run's outcome does not depend on the store.
func (o *Orchestrator) persist(ctx context.Context, res *contract.PipelineResult) {
	var exchanges []contract.Exchange
	if o.opts.Transcript != nil {
		exchanges = o.opts.Transcript.Take(res.RunID)
	}
	if o.opts.Store == nil {
		return
	}
	if err := o.opts.Store.SaveRun(context.WithoutCancel(ctx), res, exchanges); err != nil {
		o.logf("warning: save run %s: %v", res.RunID, err)
		o.logger.Warn("save run failed", "run_id", res.RunID, "error", err)
	}
}
