// Package dispatch routes task envelopes to the provider registered for
// their target role, retrying transport-class failures under a bounded
// backoff policy.
package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/lucasnoah/relayfactory/internal/contract"
	"github.com/lucasnoah/relayfactory/internal/provider"
	"github.com/lucasnoah/relayfactory/internal/retry"
)

// Recorder receives every completed exchange. It is called from the
// dispatching goroutine and must be safe for concurrent use.
type Recorder func(ex contract.Exchange)

// Dispatcher is safe for concurrent use by many pipeline runs.
type Dispatcher struct {
	providers provider.Registry
	policy    retry.Policy
	timeout   time.Duration
	logger    *slog.Logger
	recorder  Recorder
	now       func() time.Time

	mu   sync.Mutex
	runs map[string]*runState
}

type runState struct {
	cancelled bool
	next      int
	inflight  map[int]struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPolicy sets the retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithCallTimeout bounds each individual provider call.
func WithCallTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = t }
}

// WithLogger sets the structured logger used for per-attempt records.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithRecorder installs an exchange recorder.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// New creates a dispatcher over providers.
func New(providers provider.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		providers: providers,
		policy:    retry.Default(),
		timeout:   2 * time.Minute,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
		runs:      make(map[string]*runState),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers env to its provider and returns the result. The
// returned result always carries env's correlation id. Transport failures
// are retried; once attempts are used up the error is provider_unavailable.
// Business failures are returned as the worker reported them.
//
// Cancelling ctx or the correlation id stops further attempts but does not
// interrupt a call already in flight; its result is discarded as cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, env contract.TaskEnvelope) contract.AgentResult {
	start := d.now()
	log := d.logger.With(
		"correlation_id", env.CorrelationID,
		"task_type", env.TaskType,
		"target_role", env.TargetRole,
	)

	if err := env.Validate(); err != nil {
		log.Warn("envelope rejected", "error", err)
		return d.finish(env, contract.Failed(env, contract.ErrInvalidEnvelope), 0, start)
	}
	p, ok := d.providers.Lookup(env.TargetRole)
	if !ok {
		log.Warn("no provider for role")
		return d.finish(env, contract.Failed(env, contract.ErrUnknownRole), 0, start)
	}

	callCtx, id, ok := d.track(ctx, env.CorrelationID)
	if !ok {
		return d.finish(env, contract.Failed(env, contract.ErrCancelled), 0, start)
	}
	defer d.untrack(env.CorrelationID, id)

	var res contract.AgentResult
	var discarded bool
	attempts, err := d.policy.Do(ctx, func(attempt int) bool {
		callStart := d.now()
		res = p.Invoke(callCtx, env, d.timeout)
		if res.Success && res.CorrelationID != env.CorrelationID {
			res = contract.Failed(env, contract.ErrCorrelationMismatch)
		}
		discarded = ctx.Err() != nil || d.isCancelled(env.CorrelationID)
		args := []any{
			"attempt", attempt,
			"outcome", attemptOutcome(res, discarded),
			"duration", d.now().Sub(callStart),
		}
		if !res.Success {
			args = append(args, "error", res.Error)
		}
		log.Info("dispatch attempt", args...)
		return res.Transport() && !discarded
	})

	switch {
	case err != nil || discarded:
		res = contract.Failed(env, contract.ErrCancelled)
	case res.Transport():
		log.Warn("provider unavailable", "attempts", attempts, "last_error", res.Error)
		res = contract.Failed(env, contract.ErrProviderUnavailable)
	}
	return d.finish(env, res, attempts, start)
}

// Attempt outcomes reported on each dispatch attempt record.
const (
	OutcomeOK               = "ok"
	OutcomeTransportFailure = "transport_failure"
	OutcomeBusinessFailure  = "business_failure"
	OutcomeCancelled        = "cancelled"
)

func attemptOutcome(res contract.AgentResult, discarded bool) string {
	switch {
	case discarded || res.Error == contract.ErrCancelled:
		return OutcomeCancelled
	case res.Success:
		return OutcomeOK
	case res.Transport():
		return OutcomeTransportFailure
	default:
		return OutcomeBusinessFailure
	}
}

func (d *Dispatcher) finish(env contract.TaskEnvelope, res contract.AgentResult, attempts int, start time.Time) contract.AgentResult {
	res.CorrelationID = env.CorrelationID
	if res.AgentRole == "" {
		res.AgentRole = env.TargetRole
	}
	res.Attempts = attempts
	res.DurationMs = d.now().Sub(start).Milliseconds()
	if d.recorder != nil {
		d.recorder(contract.Exchange{Stage: env.TaskType, Envelope: env, Result: res})
	}
	return res
}

// Cancel rejects new calls for correlationID until Release is called.
// Calls already in flight run to completion and their results are
// discarded.
func (d *Dispatcher) Cancel(correlationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state(correlationID).cancelled = true
}

// Release forgets all state for correlationID.
func (d *Dispatcher) Release(correlationID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.runs, correlationID)
}

func (d *Dispatcher) state(correlationID string) *runState {
	st, ok := d.runs[correlationID]
	if !ok {
		st = &runState{inflight: make(map[int]struct{})}
		d.runs[correlationID] = st
	}
	return st
}

// track registers a call for correlationID. The returned context keeps
// ctx's values but not its cancellation; the provider's call timeout bounds
// it instead.
func (d *Dispatcher) track(ctx context.Context, correlationID string) (context.Context, int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.state(correlationID)
	if st.cancelled {
		return ctx, 0, false
	}
	st.next++
	st.inflight[st.next] = struct{}{}
	return context.WithoutCancel(ctx), st.next, true
}

func (d *Dispatcher) untrack(correlationID string, id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.runs[correlationID]
	if !ok {
		return
	}
	delete(st.inflight, id)
	if !st.cancelled && len(st.inflight) == 0 {
		delete(d.runs, correlationID)
	}
}

func (d *Dispatcher) isCancelled(correlationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.runs[correlationID]
	return ok && st.cancelled
}
