// Package persistence provides standardized error types for ledger operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard ledger error types that all implementations should use.
var (
	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("workflow run not found")

	// ErrRunAlreadyExists indicates a run with the same
	// (workflow_name, idempotency_key) already exists.
	ErrRunAlreadyExists = errors.New("workflow run already exists")

	// ErrRunAlreadyFinal indicates a terminal write was attempted on a run
	// that already carries a terminal status.
	ErrRunAlreadyFinal = errors.New("workflow run already finalized")

	// ErrStepNotFound indicates a step was not found by the given identifier.
	ErrStepNotFound = errors.New("workflow run step not found")
)

// RunError wraps run-related errors with operation context.
type RunError struct {
	Op    string // Operation being performed (e.g. "FindRunByKey", "FinalizeRun")
	RunID string // Run ID if applicable
	Key   string // Idempotency key if applicable
	Err   error  // Underlying error
}

func (e *RunError) Error() string {
	target := e.RunID
	if target == "" {
		target = fmt.Sprintf("key %s", e.Key)
	}

	return fmt.Sprintf("%s operation failed for run %s: %v", e.Op, target, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func (e *RunError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRunError creates a new run error with context.
func NewRunError(op, runID string, err error) *RunError {
	return &RunError{Op: op, RunID: runID, Err: err}
}

// NewRunKeyError creates a new run error for key-based lookups.
func NewRunKeyError(op, key string, err error) *RunError {
	return &RunError{Op: op, Key: key, Err: err}
}

// IsRunNotFound checks whether the error indicates a missing run.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}

// IsRunAlreadyFinal checks whether the error indicates a second terminal write.
func IsRunAlreadyFinal(err error) bool {
	return errors.Is(err, ErrRunAlreadyFinal)
}
