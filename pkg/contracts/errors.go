package contracts

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures. The kind determines retry
// semantics: validation errors are rejected pre-dispatch, matching and
// write-back errors are retried up to the policy maximum, and policy
// unavailability degrades to the embedded default without blocking.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindMatching          ErrorKind = "matching"
	KindPolicyUnavailable ErrorKind = "policy_unavailable"
	KindWriteBack         ErrorKind = "write_back"
)

// PipelineError wraps a failure with the context needed for replay:
// event id, agent, and attempt count.
type PipelineError struct {
	Kind    ErrorKind
	EventID string
	Agent   string
	Attempt int
	Err     error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s error (event=%s agent=%s attempt=%d): %v",
		e.Kind, e.EventID, e.Agent, e.Attempt, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewPipelineError builds a classified pipeline error.
func NewPipelineError(kind ErrorKind, eventID, agent string, attempt int, err error) *PipelineError {
	return &PipelineError{Kind: kind, EventID: eventID, Agent: agent, Attempt: attempt, Err: err}
}

// Retryable reports whether an error class is worth retrying.
// Validation failures and policy degradation never are.
func Retryable(err error) bool {
	var pe *PipelineError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == KindMatching || pe.Kind == KindWriteBack
}

// KindOf extracts the error kind, or empty string for unclassified errors.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
