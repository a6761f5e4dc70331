package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrCompile is the sentinel wrapped by all workflow compile errors.
	// Compile errors are always fatal and surface to the caller before any
	// execution starts.
	ErrCompile = errors.New("workflow compile error")

	// ErrNotFound is returned when an execution, record, context or variable
	// for the given identifier does not exist.
	ErrNotFound = errors.New("not found")
)

// CyclicDependencyError reports a dependency cycle in a workflow definition.
type CyclicDependencyError struct {
	Cycle []string
}

// Error implements the error interface.
func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Cycle, " -> "))
}

// Unwrap marks the error as a compile error.
func (e *CyclicDependencyError) Unwrap() error { return ErrCompile }

// UnknownAgentError reports a step or dependency referencing an agent that is
// not part of the caller-resolved agent set / step set.
type UnknownAgentError struct {
	StepRef  string
	AgentRef string
}

// Error implements the error interface.
func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("step %q references unknown agent %q", e.StepRef, e.AgentRef)
}

// Unwrap marks the error as a compile error.
func (e *UnknownAgentError) Unwrap() error { return ErrCompile }

// UnresolvableInputError reports a step whose declared input source is not
// among its dependencies.
type UnresolvableInputError struct {
	StepRef   string
	SourceRef string
}

// Error implements the error interface.
func (e *UnresolvableInputError) Error() string {
	return fmt.Sprintf("step %q consumes output of %q which is not a dependency", e.StepRef, e.SourceRef)
}

// Unwrap marks the error as a compile error.
func (e *UnresolvableInputError) Unwrap() error { return ErrCompile }

// InvalidConditionError reports a step predicate using an unsupported
// comparison operator or missing field.
type InvalidConditionError struct {
	StepRef string
	Reason  string
}

// Error implements the error interface.
func (e *InvalidConditionError) Error() string {
	return fmt.Sprintf("step %q has invalid condition: %s", e.StepRef, e.Reason)
}

// Unwrap marks the error as a compile error.
func (e *InvalidConditionError) Unwrap() error { return ErrCompile }

// TransientDispatchError is a dispatch failure eligible for automatic retry
// (timeouts, connectivity, throttling). Exhausting the retry policy converts
// it into a terminal step failure.
type TransientDispatchError struct {
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *TransientDispatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient dispatch failure (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("transient dispatch failure (%s)", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *TransientDispatchError) Unwrap() error { return e.Cause }

// PermanentDispatchError is a dispatch failure that must never be retried
// (invalid agent reference, rejected input).
type PermanentDispatchError struct {
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *PermanentDispatchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("permanent dispatch failure (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("permanent dispatch failure (%s)", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *PermanentDispatchError) Unwrap() error { return e.Cause }

// IsTransient reports whether err (or anything it wraps) is a transient
// dispatch failure. The retry wrapper uses this predicate to discriminate
// retryable from terminal failures.
func IsTransient(err error) bool {
	var te *TransientDispatchError
	return errors.As(err, &te)
}

// VersionConflictError reports a shared context write submitted with a stale
// expected version. It is recoverable by the caller (re-read and retry) and
// is never escalated to a run failure by itself.
type VersionConflictError struct {
	ExecutionID string
	Key         string
	Expected    int64
	Actual      int64
}

// Error implements the error interface.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s/%s: expected %d, context at %d",
		e.ExecutionID, e.Key, e.Expected, e.Actual)
}

// ResponseTimeoutError reports that no correlated response arrived within the
// caller supplied timeout of a request/response exchange. The original
// request stays logged as unanswered; retrying is the caller's decision.
type ResponseTimeoutError struct {
	RequestID string
	Timeout   time.Duration
}

// Error implements the error interface.
func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("no response to request %s within %s", e.RequestID, e.Timeout)
}

// ExecutionTerminalError reports an attempt to mutate or re-drive an
// execution that already reached an absorbing state.
type ExecutionTerminalError struct {
	ExecutionID string
	Status      ExecutionStatus
}

// Error implements the error interface.
func (e *ExecutionTerminalError) Error() string {
	return fmt.Sprintf("execution %s is terminal (%s)", e.ExecutionID, e.Status)
}
