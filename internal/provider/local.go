package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// Local runs a Handler in the current process.
type Local struct {
	role    string
	handler Handler
}

// NewLocal creates a Local provider serving role with h.
func NewLocal(role string, h Handler) *Local {
	return &Local{role: role, handler: h}
}

type handlerOutcome struct {
	value any
	err   error
}

// Invoke runs the handler with the call timeout applied. A handler that
// outlives the timeout is abandoned; its eventual answer is dropped.
func (l *Local) Invoke(ctx context.Context, env contract.TaskEnvelope, timeout time.Duration) contract.AgentResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerOutcome{err: fmt.Errorf("worker panic: %v", r)}
			}
		}()
		v, err := l.handler.Handle(ctx, env)
		done <- handlerOutcome{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return contract.Failed(env, contract.ErrTimeout)
		}
		return contract.Failed(env, contract.ErrCancelled)
	case out := <-done:
		if out.err != nil {
			return contract.Failed(env, out.err.Error())
		}
		res, err := contract.Succeeded(env, out.value)
		if err != nil {
			return contract.Failed(env, err.Error())
		}
		return res
	}
}
