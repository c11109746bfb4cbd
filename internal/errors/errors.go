// Package errors provides centralized error definitions and classification
// helpers for docpipe. It defines the sentinel errors used by the session
// state machine, semantic error types for the failure taxonomy (validation,
// execution, timeout, conflict), and helpers to classify errors at the API
// boundary.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Session-related sentinel errors
var (
	// ErrNoSession indicates that no session exists yet.
	ErrNoSession = New("no active session")
	// ErrConflict indicates that a command was issued in a state that does
	// not permit it, e.g. start while a pipeline is already running.
	ErrConflict = New("command conflicts with current session state")
	// ErrEmptySelection indicates that a topic selection contained no IDs.
	ErrEmptySelection = New("topic selection is empty")
	// ErrUnknownTopic indicates that a selected topic ID is not part of the
	// current session's topic list.
	ErrUnknownTopic = New("unknown topic id")
	// ErrSessionReplaced indicates that an event arrived for a session that
	// is no longer the current one.
	ErrSessionReplaced = New("session has been replaced")
)

// ValidationError indicates invalid input: a malformed pipeline
// configuration or an invalid topic selection. Validation errors are
// rejected synchronously and never change session state.
type ValidationError struct {
	Field   string // offending field path, e.g. "doc.failure_policy"
	Message string
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConflictError indicates a command issued while the session state machine
// is in a state that does not allow it. It wraps ErrConflict so callers can
// test with errors.Is.
type ConflictError struct {
	Command string // the rejected command, e.g. "start"
	Stage   string // the stage the session was in
}

// NewConflictError creates a ConflictError for a rejected command.
func NewConflictError(command, stage string) *ConflictError {
	return &ConflictError{Command: command, Stage: stage}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot %s while session is %s", e.Command, e.Stage)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ExecutionError indicates that a generator subprocess failed: a non-zero
// exit, a launch failure, or malformed stage output. Execution errors
// terminate the active stage.
type ExecutionError struct {
	Stage    string // "ideas" or "docs"
	ExitCode int    // subprocess exit code, -1 if it never ran
	Detail   string // captured stderr or a description of the failure
	Err      error  // underlying error, may be nil
}

// NewExecutionError creates an ExecutionError for the given stage.
func NewExecutionError(stage string, exitCode int, detail string, err error) *ExecutionError {
	return &ExecutionError{Stage: stage, ExitCode: exitCode, Detail: detail, Err: err}
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s stage failed", e.Stage)
	if e.ExitCode >= 0 {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TimeoutError indicates that a generator subprocess exceeded its configured
// timeout. It is kept distinct from ExecutionError so clients can tell
// slowness apart from a crash.
type TimeoutError struct {
	Stage   string
	Timeout time.Duration
}

// NewTimeoutError creates a TimeoutError for the given stage.
func NewTimeoutError(stage string, timeout time.Duration) *TimeoutError {
	return &TimeoutError{Stage: stage, Timeout: timeout}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s stage timed out after %s", e.Stage, e.Timeout)
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	if As(err, &ve) {
		return true
	}
	return Is(err, ErrEmptySelection) || Is(err, ErrUnknownTopic)
}

// IsConflict reports whether err is a state conflict.
func IsConflict(err error) bool {
	return Is(err, ErrConflict) || Is(err, ErrNoSession)
}

// IsTimeout reports whether err is a stage timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return As(err, &te)
}
