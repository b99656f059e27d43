package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// InvokePath is the worker endpoint that accepts envelopes.
const InvokePath = "/v1/invoke"

// HeaderCorrelationID carries the envelope correlation id on every request.
const HeaderCorrelationID = "X-Correlation-ID"

// maxResponseBytes caps how much of a worker response is read.
const maxResponseBytes = 8 << 20

// Remote posts envelopes to a worker over HTTP.
type Remote struct {
	endpoint string
	client   *http.Client
	signer   *TokenSigner
}

// RemoteOption configures a Remote provider.
type RemoteOption func(*Remote)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.client = c }
}

// WithSigner attaches a bearer-token signer.
func WithSigner(s *TokenSigner) RemoteOption {
	return func(r *Remote) { r.signer = s }
}

// NewRemote creates a provider that talks to the worker at endpoint.
func NewRemote(endpoint string, opts ...RemoteOption) *Remote {
	r := &Remote{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invoke posts env and decodes the worker's AgentResult. Anything that
// prevents a well-formed answer from arriving is reported as unreachable,
// except an expired call timeout which is reported as timeout.
func (r *Remote) Invoke(ctx context.Context, env contract.TaskEnvelope, timeout time.Duration) contract.AgentResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, err := json.Marshal(env)
	if err != nil {
		return contract.Failed(env, contract.ErrInvalidEnvelope)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+InvokePath, bytes.NewReader(body))
	if err != nil {
		return contract.Failed(env, contract.ErrUnreachable)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderCorrelationID, env.CorrelationID)
	if r.signer != nil {
		tok, err := r.signer.Sign(env)
		if err != nil {
			return contract.Failed(env, contract.ErrUnreachable)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return r.transportFailure(ctx, env)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return r.transportFailure(ctx, env)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return contract.Failed(env, contract.ErrUnreachable)
	}

	var res contract.AgentResult
	if err := json.Unmarshal(data, &res); err != nil {
		return contract.Failed(env, contract.ErrUnreachable)
	}
	if res.CorrelationID != env.CorrelationID {
		return contract.Failed(env, contract.ErrCorrelationMismatch)
	}
	if res.AgentRole == "" {
		res.AgentRole = env.TargetRole
	}
	return res
}

func (r *Remote) transportFailure(ctx context.Context, env contract.TaskEnvelope) contract.AgentResult {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return contract.Failed(env, contract.ErrTimeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return contract.Failed(env, contract.ErrCancelled)
	}
	return contract.Failed(env, contract.ErrUnreachable)
}
