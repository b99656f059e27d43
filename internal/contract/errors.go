package contract

import "fmt"

// ErrorKind classifies a per-stage error recorded on a PipelineResult.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindProviderExecution   ErrorKind = "provider_execution"
	KindAggregation         ErrorKind = "aggregation"
	KindSafetyBlocked       ErrorKind = "safety_blocked"
	KindTracker             ErrorKind = "tracker"
	KindSkipped             ErrorKind = "skipped"
)

// ValidationError reports a malformed envelope, request or contract.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ProviderUnavailableError is a transport or timeout failure that outlived
// the dispatcher's retries.
type ProviderUnavailableError struct {
	Role   string
	Reason string
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider for role %q unavailable: %s", e.Role, e.Reason)
}

// ProviderExecutionError is a business failure reported by the worker itself.
type ProviderExecutionError struct {
	Role   string
	Reason string
}

func (e *ProviderExecutionError) Error() string {
	return fmt.Sprintf("worker %q failed: %s", e.Role, e.Reason)
}

// AggregationError means a stage output broke referential integrity with
// earlier stages. It aborts the run.
type AggregationError struct {
	Stage   string
	IssueID string
	Message string
}

func (e *AggregationError) Error() string {
	if e.IssueID != "" {
		return fmt.Sprintf("stage %s: issue %q: %s", e.Stage, e.IssueID, e.Message)
	}
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Message)
}

// ResultError converts a failed AgentResult into the matching typed error.
func ResultError(r AgentResult) error {
	if r.Success {
		return nil
	}
	switch r.Error {
	case ErrProviderUnavailable, ErrUnreachable, ErrTimeout, ErrUnknownRole, ErrCancelled:
		return &ProviderUnavailableError{Role: r.AgentRole, Reason: r.Error}
	case ErrInvalidEnvelope, ErrCorrelationMismatch:
		return &ValidationError{Field: "envelope", Message: r.Error}
	}
	return &ProviderExecutionError{Role: r.AgentRole, Reason: r.Error}
}
