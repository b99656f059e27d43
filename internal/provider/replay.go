package provider

import (
	"context"
	"sync"
	"time"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// ErrNoRecording is the business failure returned for envelopes that were
// never recorded.
const ErrNoRecording = "no recorded result"

// Replay answers envelopes from a recorded set of exchanges. Calls are
// matched by task type, role and the canonical fingerprint of the payload,
// so a replayed run sees the same results regardless of correlation ids.
type Replay struct {
	mu      sync.Mutex
	results map[string][]contract.AgentResult
}

// NewReplay indexes exchanges for lookup.
func NewReplay(exchanges []contract.Exchange) (*Replay, error) {
	r := &Replay{results: make(map[string][]contract.AgentResult)}
	for _, ex := range exchanges {
		key, err := replayKey(ex.Envelope)
		if err != nil {
			return nil, err
		}
		r.results[key] = append(r.results[key], ex.Result)
	}
	return r, nil
}

// Invoke returns the next recorded result for an identical envelope. A
// missing recording is a business failure, so it is never retried. Repeated identical calls
// consume recordings in order and then keep returning the last one.
func (r *Replay) Invoke(ctx context.Context, env contract.TaskEnvelope, _ time.Duration) contract.AgentResult {
	if ctx.Err() != nil {
		return contract.Failed(env, contract.ErrCancelled)
	}
	key, err := replayKey(env)
	if err != nil {
		return contract.Failed(env, contract.ErrInvalidEnvelope)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.results[key]
	if len(queue) == 0 {
		return contract.Failed(env, ErrNoRecording)
	}
	res := queue[0]
	if len(queue) > 1 {
		r.results[key] = queue[1:]
	}
	res.CorrelationID = env.CorrelationID
	res.AgentRole = env.TargetRole
	res.Attempts = 0
	res.DurationMs = 0
	return res
}

func replayKey(env contract.TaskEnvelope) (string, error) {
	fp, err := contract.Fingerprint(env.Payload)
	if err != nil {
		return "", err
	}
	return env.TaskType + "|" + env.TargetRole + "|" + fp, nil
}
