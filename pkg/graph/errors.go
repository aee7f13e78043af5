package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariantViolation indicates a mutation would break a structural rule of the graph.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrInvalidParent indicates a step was attached to something other than an existing test case.
	ErrInvalidParent = errors.New("invalid parent")

	// ErrNodeNotFound indicates no node matches the given identifier.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound indicates no edge joins the given nodes.
	ErrEdgeNotFound = errors.New("edge not found")
)

// Error wraps graph errors with the operation and node involved.
type Error struct {
	Op      string // Operation being performed (e.g. "AddNode", "Connect")
	NodeID  int    // Editor-local node id, zero when not applicable
	Err     error  // Underlying sentinel
	Message string // Additional context
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s node %d: %v: %s", e.Op, e.NodeID, e.Err, e.Message)
	}

	return fmt.Sprintf("%s node %d: %v", e.Op, e.NodeID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, nodeID int, err error, format string, args ...any) *Error {
	return &Error{Op: op, NodeID: nodeID, Err: err, Message: fmt.Sprintf(format, args...)}
}

// IsInvariantViolation checks if an error indicates a rejected structural mutation.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}

// IsInvalidParent checks if an error indicates a step without a valid test case parent.
func IsInvalidParent(err error) bool {
	return errors.Is(err, ErrInvalidParent)
}

// IsNodeNotFound checks if an error indicates a missing node.
func IsNodeNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}
