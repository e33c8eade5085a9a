// Package exec defines the execution result shape and failure taxonomy shared
// by the expression and SQL engines. Per-query failures are values, never
// panics: they are terminal for that query, reported with the offending
// program text, and never retried.
package exec

import (
	"fmt"
	"time"
)

// State is the per-query lifecycle. Each query moves
// Received -> Validated -> Executing -> Succeeded | Failed.
type State string

const (
	StateReceived  State = "received"
	StateValidated State = "validated"
	StateExecuting State = "executing"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// FailureKind classifies terminal query failures.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureRuntime    FailureKind = "runtime"
	FailureTimeout    FailureKind = "timeout"
	FailureCrossSheet FailureKind = "cross_sheet"
)

// Failure is a structured execution failure. Message carries the error text
// only, never a stack trace.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Result is returned to the caller per query and never persisted.
type Result struct {
	Success bool `json:"success"`
	// Value is the canonical JSON-safe answer, nil on failure.
	Value any `json:"value"`
	// Failure is set when Success is false.
	Failure *Failure `json:"error,omitempty"`
	// Warning flags oddities on otherwise successful runs, e.g. a program
	// that never bound its output variable.
	Warning string `json:"warning,omitempty"`
	// Program echoes the exact sanitized program text for diagnosability.
	Program  string        `json:"program"`
	Duration time.Duration `json:"-"`
	State    State         `json:"state"`
}

// Succeeded builds a successful result.
func Succeeded(value any, program string, duration time.Duration) Result {
	return Result{
		Success:  true,
		Value:    value,
		Program:  program,
		Duration: duration,
		State:    StateSucceeded,
	}
}

// Failed builds a terminal failure result.
func Failed(kind FailureKind, message, program string, duration time.Duration) Result {
	return Result{
		Failure:  &Failure{Kind: kind, Message: message},
		Program:  program,
		Duration: duration,
		State:    StateFailed,
	}
}
