package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/funcscan/flowdesk/pkg/eventbus"
	"github.com/funcscan/flowdesk/pkg/events"
	"github.com/funcscan/flowdesk/pkg/guard"
	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
	"github.com/funcscan/flowdesk/pkg/reconciler"
	"github.com/google/uuid"
)

// Execution hands workflow runs to the external executor, one active run per workflow.
type Execution struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	guard       guard.Guard
	notifier    *Notifier
	logger      *slog.Logger
}

func NewExecution(
	p persistence.Persistence,
	publisher eventbus.EventPublisher,
	g guard.Guard,
	notifier *Notifier,
	logger *slog.Logger,
) *Execution {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Execution{
		persistence: p,
		publisher:   publisher,
		guard:       g,
		notifier:    notifier,
		logger:      logger.With("module", "execution"),
	}
}

// Execute resets the workflow rows to pending, claims the workflow and publishes the
// run request. The claim is dropped again if the request cannot be published.
func (e *Execution) Execute(ctx context.Context, workflowID, userID int64, trigger events.Trigger) (*models.ExecutionAck, error) {
	wf, err := e.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	executionID := uuid.NewString()

	ok, err := e.guard.Acquire(ctx, workflowID, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim workflow %d: %w", workflowID, err)
	}

	if !ok {
		return nil, fmt.Errorf("%w: workflow %d", ErrExecutionInProgress, workflowID)
	}

	startedAt := time.Now().UTC()

	if err := e.start(ctx, wf, startedAt); err != nil {
		e.release(ctx, workflowID)

		return nil, err
	}

	request := events.NewExecutionRequested(workflowID, userID, executionID, trigger)
	if err := e.publisher.Publish(ctx, fmt.Sprint(workflowID), request); err != nil {
		e.release(ctx, workflowID)

		return nil, fmt.Errorf("failed to request execution of workflow %d: %w", workflowID, err)
	}

	e.logger.InfoContext(ctx, "execution requested",
		"workflow_id", workflowID, "execution_id", executionID, "trigger", trigger)

	if userID > 0 && e.notifier != nil {
		_, err := e.notifier.Notify(ctx, &models.Notification{
			UserID:  userID,
			Message: reconciler.FormatWorkflow(workflowID, models.StatusRunning, ""),
			Type:    models.NotificationProgression,
		})
		if err != nil {
			e.logger.WarnContext(ctx, "failed to notify execution start", "workflow_id", workflowID, "error", err)
		}
	}

	return &models.ExecutionAck{
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		Status:      models.StatusRunning,
		StartedAt:   startedAt,
	}, nil
}

// start marks the workflow running and every test case and step pending.
func (e *Execution) start(ctx context.Context, wf *models.Workflow, startedAt time.Time) error {
	testCases, err := e.persistence.TestCaseRepository().ByWorkflow(ctx, wf.ID)
	if err != nil {
		return fmt.Errorf("failed to load test cases: %w", err)
	}

	var errs []error

	for i := range testCases {
		tc := &testCases[i]
		tc.Status = models.StatusPending
		tc.ErrorMessage = ""
		tc.StartedAt, tc.FinishedAt = nil, nil
		errs = append(errs, e.persistence.TestCaseRepository().Update(ctx, tc))

		steps, err := e.persistence.StepTestRepository().ByTestCase(ctx, tc.ID)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		for j := range steps {
			step := &steps[j]
			step.Status = models.StatusPending
			step.ErrorMessage = ""
			step.StartedAt, step.FinishedAt = nil, nil
			errs = append(errs, e.persistence.StepTestRepository().Update(ctx, step))
		}
	}

	wf.Status = models.StatusRunning
	wf.StartedAt = &startedAt
	wf.FinishedAt = nil
	errs = append(errs, e.persistence.WorkflowRepository().Update(ctx, wf))

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to reset workflow %d: %w", wf.ID, err)
	}

	return nil
}

func (e *Execution) release(ctx context.Context, workflowID int64) {
	if err := e.guard.Release(ctx, workflowID); err != nil {
		e.logger.WarnContext(ctx, "failed to release execution", "workflow_id", workflowID, "error", err)
	}
}
