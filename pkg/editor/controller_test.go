package editor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/funcscan/flowdesk/pkg/graph"
	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errs = append(r.errs, err)
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.errs)
}

func newLoaded(t *testing.T) (*Controller, *memBackend, *recordingReporter) {
	t.Helper()

	backend := newMemBackend()
	backend.seed(1)

	reporter := &recordingReporter{}
	c := NewController(backend, 5, WithReporter(reporter))
	require.NoError(t, c.Load(t.Context(), 1))

	return c, backend, reporter
}

func titles(nodes []graph.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Title
	}

	return out
}

func stepByDomain(t *testing.T, c *Controller, domainID int64) graph.Node {
	t.Helper()

	for _, n := range c.Nodes() {
		if n.Kind == graph.KindStep && n.DomainID != nil && *n.DomainID == domainID {
			return n
		}
	}

	t.Fatalf("no step with domain id %d", domainID)

	return graph.Node{}
}

func TestController_Load(t *testing.T) {
	t.Parallel()

	c, _, reporter := newLoaded(t)

	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, int64(1), c.WorkflowID())

	tcs := c.TestCases()
	require.Len(t, tcs, 2)
	assert.Equal(t, []string{"Login", "Checkout"}, titles(tcs))
	assert.Equal(t, []string{"Open", "Submit"}, titles(c.Steps(tcs[0].ID)))
	assert.Zero(t, reporter.count())

	assert.Len(t, c.Cards(), 7)
}

func TestController_LoadFallsBackOnFailure(t *testing.T) {
	t.Parallel()

	backend := newMemBackend()
	backend.seed(1)
	backend.failSteps = errBackendDown

	reporter := &recordingReporter{}
	c := NewController(backend, 5, WithReporter(reporter))

	err := c.Load(t.Context(), 1)
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	require.ErrorIs(t, err, errBackendDown)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "load", terr.Op)

	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 1, reporter.count())

	nodes := c.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, graph.KindStart, nodes[0].Kind)
	assert.Equal(t, graph.KindEnd, nodes[1].Kind)
	assert.Len(t, c.Edges(), 1)

	// The session is still usable.
	_, err = c.AddTestCase()
	require.NoError(t, err)
}

func TestController_SaveAssignsIDsAndRoundTrips(t *testing.T) {
	t.Parallel()

	backend := newMemBackend()
	backend.workflows[2] = models.Workflow{ID: 2, Title: "Fresh"}

	c := NewController(backend, 5)
	require.NoError(t, c.Load(t.Context(), 2))

	tc, err := c.AddTestCase()
	require.NoError(t, err)
	assert.Equal(t, StateEditing, c.State())

	title := "Search"
	require.NoError(t, c.UpdateNode(tc.ID, graph.NodeUpdate{Title: &title}))

	step, err := c.AddStepUnderTestCase(tc.ID)
	require.NoError(t, err)

	settings := models.StepSettings{ActionType: models.ActionInput, Selector: "#q", Text: "shoes"}
	require.NoError(t, c.UpdateNode(step.ID, graph.NodeUpdate{Settings: &settings}))

	second, err := c.AddStepUnderTestCase(tc.ID)
	require.NoError(t, err)

	require.NoError(t, c.Save(t.Context()))
	assert.Equal(t, StateReady, c.State())

	saved, _ := c.Node(tc.ID)
	require.True(t, saved.HasDomainID())

	row := backend.testCases[*saved.DomainID]
	assert.Equal(t, "Search", row.Title)
	assert.Equal(t, 1, row.ExecutionOrder)
	assert.Equal(t, int64(2), row.WorkflowID)

	s1, _ := c.Node(step.ID)
	s2, _ := c.Node(second.ID)
	require.True(t, s1.HasDomainID())
	require.True(t, s2.HasDomainID())
	assert.Equal(t, *saved.DomainID, backend.steps[*s1.DomainID].TestCaseID)
	assert.Equal(t, 2, backend.steps[*s2.DomainID].ExecutionOrder)
	assert.Equal(t, "shoes", backend.steps[*s1.DomainID].Settings.Text)

	// The snapshot was stored again with the new ids.
	require.Len(t, backend.workflowUpdates, 2)

	var snap graph.Snapshot
	require.NoError(t, json.Unmarshal(backend.workflows[2].GraphSnapshot, &snap))

	stored := snap.Nodes[itoa(tc.ID)]
	require.NotNil(t, stored.Data.DomainID)
	assert.Equal(t, *saved.DomainID, *stored.Data.DomainID)

	// A second save only updates rows.
	rows := len(backend.testCases) + len(backend.steps)
	require.NoError(t, c.Save(t.Context()))
	assert.Equal(t, rows, len(backend.testCases)+len(backend.steps))
	assert.Len(t, backend.workflowUpdates, 3)

	reloaded := NewController(backend, 5)
	require.NoError(t, reloaded.Load(t.Context(), 2))
	assert.Equal(t, c.Relational().Nested(), reloaded.Relational().Nested())
	assert.Equal(t, c.Nodes(), reloaded.Nodes())
}

func TestController_SavePartialFailure(t *testing.T) {
	t.Parallel()

	backend := newMemBackend()
	backend.workflows[3] = models.Workflow{ID: 3, Title: "Partial"}
	backend.failCreateStep = errBackendDown

	reporter := &recordingReporter{}
	c := NewController(backend, 5, WithReporter(reporter))
	require.NoError(t, c.Load(t.Context(), 3))

	tc, err := c.AddTestCase()
	require.NoError(t, err)
	step, err := c.AddStepUnderTestCase(tc.ID)
	require.NoError(t, err)

	err = c.Save(t.Context())
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.Equal(t, 1, reporter.count())

	// The workflow and the test case stay saved; the step can be retried.
	assert.NotEmpty(t, backend.workflows[3].GraphSnapshot)

	savedTC, _ := c.Node(tc.ID)
	assert.True(t, savedTC.HasDomainID())

	savedStep, _ := c.Node(step.ID)
	assert.False(t, savedStep.HasDomainID())
	assert.Equal(t, StateReady, c.State())

	backend.failCreateStep = nil
	require.NoError(t, c.Save(t.Context()))

	savedStep, _ = c.Node(step.ID)
	assert.True(t, savedStep.HasDomainID())
	assert.Len(t, backend.testCases, 1)
}

func TestController_SaveDeletesRemovedRows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		remove      func(t *testing.T, c *Controller) int
		wantDeleted []string
		wantCases   []string
		wantSteps   map[string][]string
	}{
		{
			name: "test case with its steps",
			remove: func(t *testing.T, c *Controller) int {
				return c.TestCases()[0].ID
			},
			wantDeleted: []string{"test case 10"},
			wantCases:   []string{"Checkout"},
			wantSteps:   map[string][]string{"Checkout": {"Pay"}},
		},
		{
			name: "single step",
			remove: func(t *testing.T, c *Controller) int {
				return stepByDomain(t, c, 12).ID
			},
			wantDeleted: []string{"step 12"},
			wantCases:   []string{"Login", "Checkout"},
			wantSteps:   map[string][]string{"Login": {"Open"}, "Checkout": {"Pay"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, backend, _ := newLoaded(t)

			require.NoError(t, c.Select(tt.remove(t, c)))
			require.NoError(t, c.DeleteSelected())
			require.NoError(t, c.Save(t.Context()))

			assert.Equal(t, tt.wantDeleted, backend.deleted)

			reloaded := NewController(backend, 5)
			require.NoError(t, reloaded.Load(t.Context(), 1))

			assert.Equal(t, tt.wantCases, titles(reloaded.TestCases()))
			for _, tc := range reloaded.TestCases() {
				assert.Equal(t, tt.wantSteps[tc.Title], titles(reloaded.Steps(tc.ID)), tc.Title)
			}

			// A second save has nothing left to delete.
			require.NoError(t, c.Save(t.Context()))
			assert.Equal(t, tt.wantDeleted, backend.deleted)
		})
	}
}

func TestController_SaveDeletesRowsCreatedThisSession(t *testing.T) {
	t.Parallel()

	backend := newMemBackend()
	backend.workflows[2] = models.Workflow{ID: 2, Title: "Fresh"}

	c := NewController(backend, 5)
	require.NoError(t, c.Load(t.Context(), 2))

	first, err := c.AddTestCase()
	require.NoError(t, err)
	_, err = c.AddTestCase()
	require.NoError(t, err)
	require.NoError(t, c.Save(t.Context()))
	require.Len(t, backend.testCases, 2)

	require.NoError(t, c.Select(first.ID))
	require.NoError(t, c.DeleteSelected())
	require.NoError(t, c.Save(t.Context()))

	reloaded := NewController(backend, 5)
	require.NoError(t, reloaded.Load(t.Context(), 2))

	assert.Len(t, reloaded.TestCases(), 1)
	assert.Len(t, backend.testCases, 1)
}

func TestController_SaveRetriesFailedDeletes(t *testing.T) {
	t.Parallel()

	c, backend, reporter := newLoaded(t)

	require.NoError(t, c.Select(c.TestCases()[1].ID))
	require.NoError(t, c.DeleteSelected())

	backend.mu.Lock()
	backend.failDelete = errBackendDown
	backend.mu.Unlock()

	err := c.Save(t.Context())
	require.ErrorIs(t, err, errBackendDown)
	assert.True(t, IsTransportError(err))
	assert.Equal(t, 1, reporter.count())
	assert.Contains(t, backend.testCases, int64(20))

	backend.mu.Lock()
	backend.failDelete = nil
	backend.mu.Unlock()

	require.NoError(t, c.Save(t.Context()))
	assert.NotContains(t, backend.testCases, int64(20))
	assert.NotContains(t, backend.steps, int64(21))
}

func TestController_SaveIgnoresRowsAlreadyGone(t *testing.T) {
	t.Parallel()

	c, backend, _ := newLoaded(t)

	require.NoError(t, c.Select(c.TestCases()[1].ID))
	require.NoError(t, c.DeleteSelected())

	backend.mu.Lock()
	delete(backend.testCases, 20)
	backend.mu.Unlock()

	require.NoError(t, c.Save(t.Context()))
	assert.Empty(t, backend.deleted)
}

func TestController_ExecuteScenario(t *testing.T) {
	t.Parallel()

	c, backend, _ := newLoaded(t)

	require.True(t, c.Apply("Test case 10:failed  (1/2)"))

	ack, err := c.Execute(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "exec-1", ack.ExecutionID)
	assert.Equal(t, []int64{1}, backend.executions)

	assert.True(t, c.Running())
	assert.Equal(t, StateRunning, c.State())

	start := c.Nodes()[0]
	card, _ := c.Card(start.ID)
	assert.Equal(t, IconRunning, card.Icon)

	for _, n := range c.Nodes() {
		if n.Kind == graph.KindTestCase || n.Kind == graph.KindStep {
			assert.Equal(t, models.StatusPending, n.Status)
		}
	}

	// Editing is locked while running.
	_, err = c.AddTestCase()
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = c.Execute(t.Context())
	require.ErrorIs(t, err, ErrInvalidState)

	assert.True(t, c.Apply("Step 11:passed Open (1/3)"))
	assert.True(t, c.Apply("Step 12:passed Submit (2/3)"))
	assert.True(t, c.Apply("Step 21:failed Pay (3/3)"))

	assert.Equal(t, models.StatusPassed, stepByDomain(t, c, 11).Status)
	assert.Equal(t, models.StatusPassed, stepByDomain(t, c, 12).Status)
	assert.Equal(t, models.StatusFailed, stepByDomain(t, c, 21).Status)

	for _, tc := range c.TestCases() {
		assert.Equal(t, models.StatusPending, tc.Status)
	}

	// Another workflow finishing does not stop this run.
	assert.True(t, c.Apply("Workflow 99:completed"))
	assert.True(t, c.Running())

	assert.True(t, c.Apply("Workflow 1:failed"))
	assert.False(t, c.Running())
	assert.Equal(t, StateReady, c.State())

	card, _ = c.Card(start.ID)
	assert.Equal(t, IconIdle, card.Icon)
}

func TestController_ExecuteFailureRevertsIndicator(t *testing.T) {
	t.Parallel()

	c, backend, reporter := newLoaded(t)
	backend.failExecute = errBackendDown

	_, err := c.Execute(t.Context())
	require.Error(t, err)
	assert.True(t, IsTransportError(err))

	assert.False(t, c.Running())
	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, 1, reporter.count())
}

func TestController_RequiresLoadedWorkflow(t *testing.T) {
	t.Parallel()

	c := NewController(newMemBackend(), 5)

	_, err := c.Execute(t.Context())
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, c.Save(t.Context()), ErrInvalidState)
	require.ErrorIs(t, c.DeleteSelected(), ErrInvalidState)
	assert.False(t, c.Apply("Step 1:passed  (1/1)"))
	assert.Equal(t, StateEmpty, c.State())
}

func TestController_HistoryReplayedOldestFirst(t *testing.T) {
	t.Parallel()

	backend := newMemBackend()
	backend.seed(1)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	backend.notifications = []models.Notification{
		{ID: 3, UserID: 5, Type: models.NotificationProgression, Message: "Step 11:failed  (1/3)", CreatedAt: base.Add(2 * time.Minute)},
		{ID: 1, UserID: 5, Type: models.NotificationProgression, Message: "Step 11:passed  (1/3)", CreatedAt: base},
		{ID: 2, UserID: 5, Type: models.NotificationInfo, Message: "Step 12:failed  (2/3)", CreatedAt: base.Add(time.Minute)},
		{ID: 4, UserID: 6, Type: models.NotificationProgression, Message: "Step 12:failed  (2/3)", CreatedAt: base},
	}

	c := NewController(backend, 5)
	require.NoError(t, c.Load(t.Context(), 1))

	assert.Equal(t, models.StatusFailed, stepByDomain(t, c, 11).Status)
	assert.Equal(t, models.StatusPending, stepByDomain(t, c, 12).Status)
}

func TestController_HistoryFailureIsReportedOnly(t *testing.T) {
	t.Parallel()

	backend := newMemBackend()
	backend.seed(1)
	backend.failHistory = errBackendDown

	reporter := &recordingReporter{}
	c := NewController(backend, 5, WithReporter(reporter))

	require.NoError(t, c.Load(t.Context(), 1))
	assert.Len(t, c.TestCases(), 2)
	assert.Equal(t, 1, reporter.count())
}

func TestController_Watch(t *testing.T) {
	t.Parallel()

	c, _, _ := newLoaded(t)
	feed := &chanFeed{ch: make(chan models.Notification)}
	c.feed = feed

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, c.Watch(ctx))

	feed.ch <- models.Notification{ID: 7, Type: models.NotificationInfo, Message: "Step 11:failed  (1/3)"}
	feed.ch <- models.Notification{ID: 8, Type: models.NotificationProgression, Message: "Step 11:passed  (1/3)"}
	feed.ch <- models.Notification{ID: 9, Type: models.NotificationProgression, Message: "Step 12:failed  (2/3)"}
	// A duplicate delivery of an older message is dropped.
	feed.ch <- models.Notification{ID: 8, Type: models.NotificationProgression, Message: "Step 12:passed  (2/3)"}
	feed.ch <- models.Notification{ID: 10, Type: models.NotificationProgression, Message: "garbage"}

	require.Eventually(t, func() bool {
		return stepByDomain(t, c, 12).Status == models.StatusFailed
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, models.StatusPassed, stepByDomain(t, c, 11).Status)

	c.Close()
	assert.Equal(t, StateEmpty, c.State())
	assert.Nil(t, c.Nodes())
}

func TestController_WatchWithoutFeed(t *testing.T) {
	t.Parallel()

	c, _, _ := newLoaded(t)
	require.ErrorIs(t, c.Watch(t.Context()), ErrInvalidState)
}

func TestController_DeleteSelected(t *testing.T) {
	t.Parallel()

	c, _, _ := newLoaded(t)

	require.ErrorIs(t, c.DeleteSelected(), ErrNoSelection)
	require.True(t, graph.IsNodeNotFound(c.Select(999)))

	login := c.TestCases()[0]
	checkout := c.TestCases()[1]
	before := len(c.Nodes())

	require.NoError(t, c.Select(login.ID))
	require.NoError(t, c.DeleteSelected())

	assert.Equal(t, before-3, len(c.Nodes()))
	assert.Zero(t, c.Selected())
	assert.Equal(t, []string{"Checkout"}, titles(c.TestCases()))
	assert.Equal(t, 1, c.TestCases()[0].ExecutionOrder)
	assert.Equal(t, checkout.ID, c.TestCases()[0].ID)
	assert.Len(t, c.Cards(), before-3)
}

func TestController_RefreshesOnlyAffectedNodes(t *testing.T) {
	t.Parallel()

	c, _, _ := newLoaded(t)

	login := c.TestCases()[0]
	checkout := c.TestCases()[1]
	pay := c.Steps(checkout.ID)[0]

	loginBefore := c.Refreshes(login.ID)
	checkoutBefore := c.Refreshes(checkout.ID)
	payBefore := c.Refreshes(pay.ID)

	step, err := c.AddStepUnderTestCase(login.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, c.Refreshes(step.ID))
	assert.Equal(t, loginBefore, c.Refreshes(login.ID))
	assert.Equal(t, checkoutBefore, c.Refreshes(checkout.ID))
	assert.Equal(t, payBefore, c.Refreshes(pay.ID))

	card, ok := c.Card(step.ID)
	require.True(t, ok)
	assert.Equal(t, "Step 3: Step Test (No action)", card.Label)
	assert.Equal(t, "Pending", card.Badge)
}

func TestController_UpdateDetails(t *testing.T) {
	t.Parallel()

	c, backend, _ := newLoaded(t)

	require.NoError(t, c.UpdateDetails(t.Context(), "Shop v2", "regression suite"))

	wf, ok := c.Workflow()
	require.True(t, ok)
	assert.Equal(t, "Shop v2", wf.Title)

	last := backend.workflowUpdates[len(backend.workflowUpdates)-1]
	assert.Equal(t, "regression suite", last.Description)
	assert.Empty(t, last.GraphSnapshot)
}

func TestController_ClearAndReset(t *testing.T) {
	t.Parallel()

	c, _, _ := newLoaded(t)

	require.True(t, c.Apply("Step 11:failed  (1/3)"))
	require.NoError(t, c.Reset())
	assert.Equal(t, models.StatusPending, stepByDomain(t, c, 11).Status)

	require.NoError(t, c.Clear())
	assert.Empty(t, c.Nodes())
	assert.Empty(t, c.Cards())
	assert.Equal(t, StateEditing, c.State())

	_, err := c.AddNode(graph.KindStart, nil, graph.Position{})
	require.NoError(t, err)
}

func TestController_ImportExportSnapshot(t *testing.T) {
	t.Parallel()

	source, _, _ := newLoaded(t)
	snap := source.ExportSnapshot()

	backend := newMemBackend()
	backend.workflows[4] = models.Workflow{ID: 4, Title: "Copy"}

	target := NewController(backend, 5)
	require.NoError(t, target.Load(t.Context(), 4))
	require.NoError(t, target.ImportSnapshot(snap))

	assert.Equal(t, titles(source.TestCases()), titles(target.TestCases()))
	assert.Equal(t, snap, target.ExportSnapshot())
}

func itoa(i int) string {
	raw, _ := json.Marshal(i)

	return string(raw)
}
