package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/funcscan/flowdesk/pkg/eventbus"
	"github.com/funcscan/flowdesk/pkg/events"
	"github.com/funcscan/flowdesk/pkg/guard"
	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
	"github.com/funcscan/flowdesk/pkg/reconciler"
)

// Notifier stores user notifications and fans them out on the event bus. Progression
// notifications also move the stored status of the rows they name.
type Notifier struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	guard       guard.Guard
	patterns    []reconciler.Pattern
	logger      *slog.Logger
	now         func() time.Time
}

func NewNotifier(p persistence.Persistence, publisher eventbus.EventPublisher, g guard.Guard, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Notifier{
		persistence: p,
		publisher:   publisher,
		guard:       g,
		patterns:    reconciler.DefaultPatterns(),
		logger:      logger.With("module", "notifier"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Notify persists the notification and publishes it. A failed publish is logged only:
// the notification is already in the user's history.
func (n *Notifier) Notify(ctx context.Context, note *models.Notification) (*models.Notification, error) {
	note.Message = strings.TrimSpace(note.Message)
	if note.Message == "" {
		return nil, ErrMessageEmpty
	}

	if note.UserID <= 0 {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}

	note.ID = 0
	note.IsRead = false

	if note.Type == "" {
		note.Type = models.NotificationInfo
	}

	if note.CreatedAt.IsZero() {
		note.CreatedAt = n.now()
	}

	if err := n.persistence.NotificationRepository().Create(ctx, note); err != nil {
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}

	if note.IsProgression() {
		n.track(ctx, note)
	}

	if err := n.publisher.Publish(ctx, fmt.Sprint(note.UserID), events.NewNotificationCreated(*note)); err != nil {
		n.logger.WarnContext(ctx, "failed to publish notification", "notification_id", note.ID, "error", err)
	}

	return note, nil
}

// track mirrors a progress message onto the stored rows. Unknown messages and rows are skipped.
func (n *Notifier) track(ctx context.Context, note *models.Notification) {
	event, err := reconciler.Parse(n.patterns, note.Message)
	if err != nil {
		n.logger.DebugContext(ctx, "ignoring progress message", "message", note.Message, "error", err)

		return
	}

	switch event.Target {
	case reconciler.TargetStep:
		err = n.trackStep(ctx, event)
	case reconciler.TargetTestCase:
		err = n.trackTestCase(ctx, event)
	case reconciler.TargetWorkflow:
		err = n.trackWorkflow(ctx, event, note.UserID)
	}

	if persistence.IsNotFound(err) {
		n.logger.DebugContext(ctx, "progress for unknown row", "target", event.Target, "domain_id", event.ID)

		return
	}

	if err != nil {
		n.logger.ErrorContext(ctx, "failed to track progress", "target", event.Target, "domain_id", event.ID, "error", err)
	}
}

func (n *Notifier) trackStep(ctx context.Context, event reconciler.Event) error {
	repo := n.persistence.StepTestRepository()

	step, err := repo.GetByID(ctx, event.ID)
	if err != nil {
		return err
	}

	step.Status = event.Status.NodeStatus()
	if event.Title != nil {
		step.Title = *event.Title
	}

	n.stamp(event.Status, &step.StartedAt, &step.FinishedAt)

	return repo.Update(ctx, step)
}

func (n *Notifier) trackTestCase(ctx context.Context, event reconciler.Event) error {
	repo := n.persistence.TestCaseRepository()

	tc, err := repo.GetByID(ctx, event.ID)
	if err != nil {
		return err
	}

	tc.Status = event.Status.NodeStatus()
	if event.Title != nil {
		tc.Title = *event.Title
	}

	n.stamp(event.Status, &tc.StartedAt, &tc.FinishedAt)

	return repo.Update(ctx, tc)
}

// trackWorkflow keeps the raw run status on the workflow and ends the run on a terminal status.
func (n *Notifier) trackWorkflow(ctx context.Context, event reconciler.Event, userID int64) error {
	repo := n.persistence.WorkflowRepository()

	wf, err := repo.GetByID(ctx, event.ID)
	if err != nil {
		return err
	}

	wf.Status = event.Status
	n.stamp(event.Status, &wf.StartedAt, &wf.FinishedAt)

	if err := repo.Update(ctx, wf); err != nil {
		return err
	}

	if !event.Status.IsTerminal() {
		return nil
	}

	if err := n.guard.Release(ctx, wf.ID); err != nil {
		n.logger.WarnContext(ctx, "failed to release execution", "workflow_id", wf.ID, "error", err)
	}

	finished := events.NewExecutionFinished(wf.ID, userID, event.Status)
	if err := n.publisher.Publish(ctx, fmt.Sprint(wf.ID), finished); err != nil {
		n.logger.WarnContext(ctx, "failed to publish execution finished", "workflow_id", wf.ID, "error", err)
	}

	return nil
}

func (n *Notifier) stamp(status models.Status, started, finished **time.Time) {
	now := n.now()

	switch {
	case status == models.StatusRunning:
		*started = &now
		*finished = nil
	case status.IsTerminal():
		*finished = &now
	}
}

// List returns the user's notifications, newest first.
func (n *Notifier) List(ctx context.Context, userID int64) ([]models.Notification, error) {
	return n.persistence.NotificationRepository().ByUser(ctx, userID)
}

func (n *Notifier) MarkRead(ctx context.Context, id int64) error {
	return n.persistence.NotificationRepository().MarkRead(ctx, id)
}

func (n *Notifier) MarkAllRead(ctx context.Context, userID int64) (int, error) {
	return n.persistence.NotificationRepository().MarkAllRead(ctx, userID)
}

func (n *Notifier) UnreadCount(ctx context.Context, userID int64) (int, error) {
	return n.persistence.NotificationRepository().UnreadCount(ctx, userID)
}
