// Package provider implements the capability providers the dispatcher uses
// to reach a worker: in-process (Local), over HTTP (Remote), or from a
// recorded transcript (Replay). Which one serves a role is decided once, at
// wiring time, by Build.
package provider

import (
	"context"
	"time"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// Provider invokes one worker call. Implementations never return Go errors:
// every failure is reported as an AgentResult with Success=false.
type Provider interface {
	Invoke(ctx context.Context, env contract.TaskEnvelope, timeout time.Duration) contract.AgentResult
}

// Handler is an in-process worker. It returns the stage output value or a
// business error.
type Handler interface {
	Handle(ctx context.Context, env contract.TaskEnvelope) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env contract.TaskEnvelope) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, env contract.TaskEnvelope) (any, error) {
	return f(ctx, env)
}

// Registry maps worker roles to their configured provider.
type Registry map[string]Provider

// Lookup returns the provider for role.
func (r Registry) Lookup(role string) (Provider, bool) {
	p, ok := r[role]
	return p, ok
}
