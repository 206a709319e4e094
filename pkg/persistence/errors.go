package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates an execution record was not found by the given identifier.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrExecutionAlreadyExists indicates an execution with the same identifier already exists.
	ErrExecutionAlreadyExists = errors.New("execution already exists")

	// ErrStatusConflict indicates a conditional update found a different status than expected.
	ErrStatusConflict = errors.New("execution status conflict")

	// ErrAlertRuleNotFound indicates an alert rule was not found by the given identifier.
	ErrAlertRuleNotFound = errors.New("alert rule not found")

	// ErrInvalidID indicates an identifier that cannot be stored safely.
	ErrInvalidID = errors.New("invalid identifier")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "Get", "Save", "Update")
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for execution errors.
func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsStatusConflict checks if an error indicates a lost conditional update.
func IsStatusConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict)
}

// IsAlertRuleNotFound checks if an error indicates an alert rule was not found.
func IsAlertRuleNotFound(err error) bool {
	return errors.Is(err, ErrAlertRuleNotFound)
}
