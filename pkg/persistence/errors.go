package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrTestCaseNotFound indicates a test case was not found by the given identifier.
	ErrTestCaseNotFound = errors.New("test case not found")

	// ErrStepTestNotFound indicates a step test was not found by the given identifier.
	ErrStepTestNotFound = errors.New("step test not found")

	// ErrNotificationNotFound indicates a notification was not found by the given identifier.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrInvalidID indicates an update or delete without a stored identifier.
	ErrInvalidID = errors.New("invalid id")
)

// EntityError wraps repository errors with the entity and operation involved.
type EntityError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Update", "Delete")
	Entity string
	ID     int64
	Err    error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s operation failed for %s %d: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// NewWorkflowError creates a workflow error with context.
func NewWorkflowError(op string, id int64, err error) *EntityError {
	return &EntityError{Op: op, Entity: "workflow", ID: id, Err: err}
}

// NewTestCaseError creates a test case error with context.
func NewTestCaseError(op string, id int64, err error) *EntityError {
	return &EntityError{Op: op, Entity: "test case", ID: id, Err: err}
}

// NewStepTestError creates a step test error with context.
func NewStepTestError(op string, id int64, err error) *EntityError {
	return &EntityError{Op: op, Entity: "step test", ID: id, Err: err}
}

// NewNotificationError creates a notification error with context.
func NewNotificationError(op string, id int64, err error) *EntityError {
	return &EntityError{Op: op, Entity: "notification", ID: id, Err: err}
}

// IsNotFound checks if an error indicates any entity was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrTestCaseNotFound) ||
		errors.Is(err, ErrStepTestNotFound) ||
		errors.Is(err, ErrNotificationNotFound)
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}
