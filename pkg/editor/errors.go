package editor

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrTransport indicates a backend call failed. The in-memory graph keeps its last valid state.
	ErrTransport = errors.New("transport error")

	// ErrNotPersisted indicates the workflow has no backend id yet.
	ErrNotPersisted = errors.New("workflow is not persisted")

	// ErrInvalidState indicates the operation is not allowed in the current editor state.
	ErrInvalidState = errors.New("invalid editor state")

	// ErrNoSelection indicates no node is selected.
	ErrNoSelection = errors.New("no node selected")
)

// TransportError wraps a failed backend call.
type TransportError struct {
	Op         string // load, save, execute, details, watch
	WorkflowID int64
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s workflow %d: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// IsTransportError checks if an error comes from a failed backend call.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}

// Reporter surfaces asynchronous failures to the user.
type Reporter interface {
	Report(op string, err error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(op string, err error)

func (f ReporterFunc) Report(op string, err error) {
	f(op, err)
}

// LogReporter reports failures to a logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) Report(op string, err error) {
	r.Logger.Error("editor operation failed", "op", op, "error", err)
}
