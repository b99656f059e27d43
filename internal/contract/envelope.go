// Package contract defines the values exchanged between the orchestrator,
// the dispatcher and specialist workers. Everything here is plain data: the
// only behavior is structural validation and canonical encoding.
package contract

import (
	"encoding/json"
	"fmt"
)

// Well-known AgentResult error codes.
const (
	ErrUnreachable         = "unreachable"
	ErrTimeout             = "timeout"
	ErrProviderUnavailable = "provider_unavailable"
	ErrCancelled           = "cancelled"
	ErrCorrelationMismatch = "correlation_mismatch"
	ErrUnknownRole         = "unknown_role"
	ErrInvalidEnvelope     = "invalid_envelope"
)

// TaskEnvelope is the request sent to one worker for one stage.
type TaskEnvelope struct {
	TaskType      string          `json:"task_type"`
	Payload       json.RawMessage `json:"payload"`
	TargetRole    string          `json:"target_role"`
	SessionID     string          `json:"session_id,omitempty"`
	CorrelationID string          `json:"correlation_id"`
}

// NewEnvelope encodes payload and returns an envelope addressed to role.
func NewEnvelope(taskType, role, correlationID string, payload any) (TaskEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return TaskEnvelope{}, &ValidationError{Field: "payload", Message: fmt.Sprintf("encode %s payload: %v", taskType, err)}
	}
	env := TaskEnvelope{
		TaskType:      taskType,
		Payload:       raw,
		TargetRole:    role,
		CorrelationID: correlationID,
	}
	if err := env.Validate(); err != nil {
		return TaskEnvelope{}, err
	}
	return env, nil
}

// WithSession returns a copy of the envelope carrying sessionID.
func (e TaskEnvelope) WithSession(sessionID string) TaskEnvelope {
	e.SessionID = sessionID
	return e
}

// Validate checks that every required field is present.
func (e TaskEnvelope) Validate() error {
	switch {
	case e.TaskType == "":
		return &ValidationError{Field: "task_type", Message: "is required"}
	case e.TargetRole == "":
		return &ValidationError{Field: "target_role", Message: "is required"}
	case e.CorrelationID == "":
		return &ValidationError{Field: "correlation_id", Message: "is required"}
	case len(e.Payload) == 0:
		return &ValidationError{Field: "payload", Message: "is required"}
	case !json.Valid(e.Payload):
		return &ValidationError{Field: "payload", Message: "is not valid JSON"}
	}
	return nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e TaskEnvelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return &ValidationError{Field: "payload", Message: fmt.Sprintf("decode %s payload: %v", e.TaskType, err)}
	}
	return nil
}

// AgentResult is the response from one worker.
type AgentResult struct {
	Success       bool            `json:"success"`
	Result        json.RawMessage `json:"result"`
	Error         string          `json:"error,omitempty"`
	AgentRole     string          `json:"agent_role"`
	CorrelationID string          `json:"correlation_id"`
	Attempts      int             `json:"attempts,omitempty"`
	DurationMs    int64           `json:"duration_ms,omitempty"`
}

// Succeeded builds a successful result for env carrying v.
func Succeeded(env TaskEnvelope, v any) (AgentResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return AgentResult{}, fmt.Errorf("encode %s result: %w", env.TaskType, err)
	}
	return AgentResult{
		Success:       true,
		Result:        raw,
		AgentRole:     env.TargetRole,
		CorrelationID: env.CorrelationID,
	}, nil
}

// Failed builds a failure result for env. reason is either one of the
// well-known codes or a worker-provided business reason.
func Failed(env TaskEnvelope, reason string) AgentResult {
	return AgentResult{
		Success:       false,
		Error:         reason,
		AgentRole:     env.TargetRole,
		CorrelationID: env.CorrelationID,
	}
}

// Transport reports whether the failure is transport-class and may be retried.
func (r AgentResult) Transport() bool {
	return !r.Success && (r.Error == ErrUnreachable || r.Error == ErrTimeout)
}

// Decode unmarshals the result body into v.
func (r AgentResult) Decode(v any) error {
	if len(r.Result) == 0 || string(r.Result) == "null" {
		return &ValidationError{Field: "result", Message: "is empty"}
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return &ValidationError{Field: "result", Message: err.Error()}
	}
	return nil
}

// Exchange pairs an envelope with the result the dispatcher returned for it.
// Stored exchanges make a run replayable.
type Exchange struct {
	Stage    string       `json:"stage"`
	Envelope TaskEnvelope `json:"envelope"`
	Result   AgentResult  `json:"result"`
}
