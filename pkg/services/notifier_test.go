package services_test

import (
	"context"
	"testing"

	"github.com/funcscan/flowdesk/pkg/events"
	"github.com/funcscan/flowdesk/pkg/guard"
	"github.com/funcscan/flowdesk/pkg/mocks"
	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence/file"
	"github.com/funcscan/flowdesk/pkg/reconciler"
	"github.com/funcscan/flowdesk/pkg/services"
	"github.com/funcscan/flowdesk/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type notifierFixture struct {
	notifier *services.Notifier
	p        *file.Persistence
	bus      *mocks.MockEventBus
	guard    *guard.Memory
	seeded   *testutil.Seeded
}

func newNotifier(t *testing.T) *notifierFixture {
	t.Helper()

	p := testutil.NewFilePersistence(t)
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	g := guard.NewMemory(guard.DefaultTTL)

	return &notifierFixture{
		notifier: services.NewNotifier(p, bus, g, nil),
		p:        p,
		bus:      bus,
		guard:    g,
		seeded:   testutil.Seed(t, p, testutil.CreateTestWorkflow(), 2),
	}
}

func progression(msg string) *models.Notification {
	return &models.Notification{UserID: 3, Message: msg, Type: models.NotificationProgression}
}

func TestNotifier_Validation(t *testing.T) {
	t.Parallel()

	f := newNotifier(t)
	ctx := context.Background()

	_, err := f.notifier.Notify(ctx, &models.Notification{UserID: 3, Message: "  "})
	require.ErrorIs(t, err, services.ErrMessageEmpty)
	assert.True(t, services.IsValidationError(err))

	_, err = f.notifier.Notify(ctx, &models.Notification{Message: "hello"})
	require.ErrorIs(t, err, services.ErrInvalidRequest)

	f.bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotifier_TracksRows(t *testing.T) {
	t.Parallel()

	f := newNotifier(t)
	ctx := context.Background()
	step := f.seeded.Steps[0][1]
	tc := f.seeded.TestCases[0]

	note, err := f.notifier.Notify(ctx, progression(reconciler.FormatStep(step.ID, models.StatusPassed, "Submit form", 2, 2)))
	require.NoError(t, err)
	assert.NotZero(t, note.ID)
	assert.False(t, note.IsRead)

	gotStep, err := f.p.StepTestRepository().GetByID(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPassed, gotStep.Status)
	assert.Equal(t, "Submit form", gotStep.Title)
	assert.NotNil(t, gotStep.FinishedAt)

	_, err = f.notifier.Notify(ctx, progression(reconciler.FormatTestCase(tc.ID, models.StatusRunning, "", 1, 1)))
	require.NoError(t, err)

	gotCase, err := f.p.TestCaseRepository().GetByID(ctx, tc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, gotCase.Status)
	assert.Equal(t, tc.Title, gotCase.Title)
	assert.NotNil(t, gotCase.StartedAt)

	// Unknown rows and free text are stored but change nothing
	_, err = f.notifier.Notify(ctx, progression(reconciler.FormatStep(999, models.StatusFailed, "", 1, 1)))
	require.NoError(t, err)

	_, err = f.notifier.Notify(ctx, progression("Browser started"))
	require.NoError(t, err)

	created, ok := f.bus.Published()[0].(events.NotificationCreated)
	require.True(t, ok)
	assert.Equal(t, note.ID, created.Notification.ID)
}

func TestNotifier_WorkflowTerminalReleasesExecution(t *testing.T) {
	t.Parallel()

	f := newNotifier(t)
	ctx := context.Background()
	wfID := f.seeded.Workflow.ID

	ok, err := f.guard.Acquire(ctx, wfID, "exec-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.notifier.Notify(ctx, progression(reconciler.FormatWorkflow(wfID, models.StatusRunning, "")))
	require.NoError(t, err)

	_, active, err := f.guard.Active(ctx, wfID)
	require.NoError(t, err)
	assert.True(t, active, "running keeps the claim")

	_, err = f.notifier.Notify(ctx, progression(reconciler.FormatWorkflow(wfID, models.StatusCompleted, "Checkout")))
	require.NoError(t, err)

	_, active, err = f.guard.Active(ctx, wfID)
	require.NoError(t, err)
	assert.False(t, active)

	wf, err := f.p.WorkflowRepository().GetByID(ctx, wfID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, wf.Status)
	assert.NotNil(t, wf.StartedAt)
	assert.NotNil(t, wf.FinishedAt)

	var finished []events.ExecutionFinished

	for _, event := range f.bus.Published() {
		if e, ok := event.(events.ExecutionFinished); ok {
			finished = append(finished, e)
		}
	}

	require.Len(t, finished, 1)
	assert.Equal(t, models.StatusCompleted, finished[0].Status)
	assert.Equal(t, int64(3), finished[0].UserID)
}

func TestNotifier_ReadState(t *testing.T) {
	t.Parallel()

	f := newNotifier(t)
	ctx := context.Background()

	for _, msg := range []string{"first", "second", "third"} {
		_, err := f.notifier.Notify(ctx, &models.Notification{UserID: 3, Message: msg})
		require.NoError(t, err)
	}

	list, err := f.notifier.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, models.NotificationInfo, list[0].Type)

	require.NoError(t, f.notifier.MarkRead(ctx, list[0].ID))

	count, err := f.notifier.UnreadCount(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	changed, err := f.notifier.MarkAllRead(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	assert.True(t, services.IsNotFoundError(f.notifier.MarkRead(ctx, 999)))
}
