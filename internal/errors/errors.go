// Package errors provides centralized error definitions and error handling
// utilities for the Beacon codebase. It defines sentinel errors for the
// orchestrator, watcher, and activity subsystems, semantic error types with
// context, and classification helpers used by the HTTP and WebSocket layers
// to map failures onto wire responses.
package errors

import (
	"errors"
	"fmt"
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

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Orchestrator-related sentinel errors
var (
	// ErrCapacityExceeded indicates a spawn was attempted at the
	// concurrency ceiling. The registry is left unchanged.
	ErrCapacityExceeded = New("instance capacity exceeded")
	// ErrInstanceNotFound indicates that an instance could not be found.
	ErrInstanceNotFound = New("instance not found")
	// ErrInstanceClosed indicates an operation against an instance whose
	// process has already exited.
	ErrInstanceClosed = New("instance already closed")
)

// Watcher-related sentinel errors
var (
	// ErrNotMonitored indicates a stop/status request for a path that is
	// not currently being watched.
	ErrNotMonitored = New("path is not monitored")
	// ErrAlreadyMonitored indicates a start request for a path that is
	// already being watched.
	ErrAlreadyMonitored = New("path is already monitored")
)

// Task execution sentinel errors
var (
	// ErrTaskRequired indicates a streaming execution request without a task.
	ErrTaskRequired = New("Task is required")
)

// -----------------------------------------------------------------------------
// Semantic Error Types
// -----------------------------------------------------------------------------

// NotFoundError indicates that a named resource does not exist.
type NotFoundError struct {
	Resource string // e.g. "instance", "monitored path"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	switch e.Resource {
	case "instance":
		return target == ErrInstanceNotFound
	case "monitored path":
		return target == ErrNotMonitored
	}
	return false
}

// NewNotFoundError creates a NotFoundError for the given resource and ID.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError indicates invalid caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// TaskExecutionError indicates that a streaming task run failed. Timeout
// distinguishes wall-clock expiry from other execution failures.
type TaskExecutionError struct {
	TaskID  string
	Timeout bool
	Err     error
}

func (e *TaskExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("task %s timed out", e.TaskID)
	}
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

// NewTaskExecutionError creates a TaskExecutionError wrapping err.
func NewTaskExecutionError(taskID string, err error) *TaskExecutionError {
	return &TaskExecutionError{TaskID: taskID, Err: err}
}

// NewTaskTimeoutError creates a TaskExecutionError marking a timeout.
func NewTaskTimeoutError(taskID string, err error) *TaskExecutionError {
	return &TaskExecutionError{TaskID: taskID, Timeout: true, Err: err}
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsNotFound reports whether err represents a missing resource.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return Is(err, ErrInstanceNotFound) || Is(err, ErrNotMonitored) || As(err, &nf)
}

// IsCapacity reports whether err is the orchestrator's capacity ceiling.
func IsCapacity(err error) bool {
	return Is(err, ErrCapacityExceeded)
}

// IsValidation reports whether err represents invalid caller input.
func IsValidation(err error) bool {
	var ve *ValidationError
	return As(err, &ve) || Is(err, ErrTaskRequired)
}

// IsTimeout reports whether err is a task execution timeout.
func IsTimeout(err error) bool {
	var te *TaskExecutionError
	return As(err, &te) && te.Timeout
}
