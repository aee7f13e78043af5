package reconciler

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/funcscan/flowdesk/pkg/graph"
	"github.com/funcscan/flowdesk/pkg/models"
)

// NodeStatusSetter is the part of the graph the reconciler writes to.
type NodeStatusSetter interface {
	SetStatus(domainID int64, kind graph.Kind, status models.Status, title *string) error
}

// RunIndicator tracks whether a workflow run is in progress.
type RunIndicator interface {
	SetRunning(workflowID int64, running bool)
}

// Reconciler applies progress messages to a graph. It never fails: unknown messages
// and unknown targets are logged and skipped.
type Reconciler struct {
	setter    NodeStatusSetter
	indicator RunIndicator
	patterns  []Pattern
	logger    *slog.Logger
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithPatterns replaces the message shapes recognized.
func WithPatterns(patterns []Pattern) Option {
	return func(r *Reconciler) {
		r.patterns = patterns
	}
}

func New(setter NodeStatusSetter, indicator RunIndicator, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &Reconciler{
		setter:    setter,
		indicator: indicator,
		patterns:  DefaultPatterns(),
		logger:    logger.With("module", "reconciler"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Apply parses msg and applies it. It reports whether a node or the run indicator was targeted.
func (r *Reconciler) Apply(msg string) (applied bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("progress message handling panicked", "message", msg, "panic", rec)
			applied = false
		}
	}()

	msg = strings.TrimSpace(msg)

	event, err := Parse(r.patterns, msg)
	if err != nil {
		r.logger.Debug("ignoring progress message", "message", msg, "error", err)

		return false
	}

	return r.ApplyEvent(event)
}

// ApplyEvent applies an already parsed event.
func (r *Reconciler) ApplyEvent(event Event) bool {
	switch event.Target {
	case TargetWorkflow:
		if r.indicator == nil {
			return false
		}

		switch event.Status {
		case models.StatusRunning:
			r.indicator.SetRunning(event.ID, true)
		case models.StatusCompleted, models.StatusFailed, models.StatusPassed:
			r.indicator.SetRunning(event.ID, false)
		default:
			return false
		}

		return true
	case TargetStep, TargetTestCase:
		if r.setter == nil {
			return false
		}

		kind := graph.KindStep
		if event.Target == TargetTestCase {
			kind = graph.KindTestCase
		}

		if err := r.setter.SetStatus(event.ID, kind, event.Status, event.Title); err != nil {
			if !errors.Is(err, graph.ErrNodeNotFound) {
				r.logger.Warn("status update rejected", "domain_id", event.ID, "kind", kind, "error", err)
			}

			return false
		}

		return true
	default:
		return false
	}
}
