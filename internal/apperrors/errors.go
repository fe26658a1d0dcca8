// Package apperrors provides structured application errors for the orchestration core.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	// ErrInvalidTransition indicates an illegal process lifecycle jump.
	// This is a programmer error: reject and log, never repair.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrCoordinationUnavailable indicates the coordination service could not
	// be reached. Transient: callers retry with backoff.
	ErrCoordinationUnavailable = errors.New("coordination service unavailable")

	// ErrResourceQuery indicates a remote resource status query failed.
	// Transient: retried at the monitor's poll cadence, not inline.
	ErrResourceQuery = errors.New("resource query failed")

	// ErrMonitorParse indicates a raw status signal did not match any known
	// pattern. The monitor degrades to UNKNOWN or "no update".
	ErrMonitorParse = errors.New("monitor parse failure")

	// ErrProcessNotFound indicates a signal arrived for a process this
	// instance does not (yet) own. Bounded retry, then logged as unresolved.
	ErrProcessNotFound = errors.New("process not found")

	// ErrRetryStoreCorruption indicates a non-numeric retry counter payload.
	// Surfaced to the caller, never silently defaulted.
	ErrRetryStoreCorruption = errors.New("retry store corruption")

	// ErrValidation indicates a malformed request. Rejected before any
	// state is created.
	ErrValidation = errors.New("validation failed")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Op       string // Operation that failed (e.g., "coordination.setNodeData")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel and cause for errors.Is() classification.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Sentinel, e.Cause}
	}
	return []error{e.Sentinel}
}

// InvalidTransition creates an invalid transition error.
func InvalidTransition(processID, from, to string) error {
	return &Error{
		Sentinel: ErrInvalidTransition,
		Message:  fmt.Sprintf("process %s cannot move from %s to %s", processID, from, to),
	}
}

// CoordinationUnavailable wraps a coordination service failure.
func CoordinationUnavailable(op string, cause error) error {
	return &Error{
		Sentinel: ErrCoordinationUnavailable,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// ResourceQuery wraps a failed remote status query.
func ResourceQuery(op string, cause error) error {
	return &Error{
		Sentinel: ErrResourceQuery,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// MonitorParse creates a parse failure for an unrecognized raw signal.
func MonitorParse(op, detail string) error {
	return &Error{
		Sentinel: ErrMonitorParse,
		Message:  fmt.Sprintf("%s: %s", op, detail),
		Op:       op,
	}
}

// ProcessNotFound creates a not found error for a process id.
func ProcessNotFound(processID string) error {
	return &Error{
		Sentinel: ErrProcessNotFound,
		Message:  fmt.Sprintf("process %s not found", processID),
	}
}

// Validation creates a validation error for a request field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  fmt.Sprintf("%s: %s", field, message),
	}
}

// RetryStoreCorruption creates a corruption error for a retry counter node.
func RetryStoreCorruption(taskID, payload string) error {
	return &Error{
		Sentinel: ErrRetryStoreCorruption,
		Message:  fmt.Sprintf("retry counter for task %s holds non-numeric payload %q", taskID, payload),
	}
}
