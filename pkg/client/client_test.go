package client_test

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/funcscan/flowdesk/pkg/client"
	"github.com/funcscan/flowdesk/pkg/editor"
	"github.com/funcscan/flowdesk/pkg/graph"
	"github.com/funcscan/flowdesk/pkg/guard"
	"github.com/funcscan/flowdesk/pkg/mocks"
	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
	"github.com/funcscan/flowdesk/pkg/services"
	"github.com/funcscan/flowdesk/pkg/testutil"
	"github.com/funcscan/flowdesk/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var _ editor.Backend = (*client.Client)(nil)

// startAPI serves the REST API on a loopback port and returns its base URL.
func startAPI(t *testing.T) string {
	t.Helper()

	p := testutil.NewFilePersistence(t)

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	g := guard.NewMemory(guard.DefaultTTL)
	notifier := services.NewNotifier(p, bus, g, nil)
	execution := services.NewExecution(p, bus, g, notifier, nil)

	app := fiber.New()
	web.NewAPIHandlers(
		services.NewFunctional(p, nil),
		execution,
		notifier,
		services.NewScheduler(execution, time.Second, nil),
		validator.New(validator.WithRequiredStructEnabled()),
	).Mount(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true}) }()

	t.Cleanup(func() { _ = app.Shutdown() })

	return "http://" + ln.Addr().String()
}

func TestClient_EditorRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	api := client.New(startAPI(t), nil)

	created, err := api.CreateWorkflow(ctx, &models.Workflow{Title: "Checkout", FunctionalReportID: 1})
	require.NoError(t, err)

	c := editor.NewController(api, 5)
	require.NoError(t, c.Load(ctx, created.ID))
	assert.Equal(t, editor.StateReady, c.State())

	tc, err := c.AddTestCase()
	require.NoError(t, err)

	step, err := c.AddStepUnderTestCase(tc.ID)
	require.NoError(t, err)

	title := "Open shop"
	require.NoError(t, c.UpdateNode(step.ID, graph.NodeUpdate{
		Title:    &title,
		Settings: &models.StepSettings{ActionType: models.ActionNavigate, URL: "https://shop.test"},
	}))

	require.NoError(t, c.Save(ctx))

	testCases, err := api.TestCasesByWorkflow(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, testCases, 1)

	steps, err := api.StepTestsByTestCase(ctx, testCases[0].ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "Open shop", steps[0].Title)
	assert.Equal(t, "https://shop.test", steps[0].Settings.URL)

	stored, err := api.GetWorkflow(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasSnapshot())

	// A fresh editor restores the saved graph
	reloaded := editor.NewController(api, 5)
	require.NoError(t, reloaded.Load(ctx, created.ID))
	assert.Len(t, reloaded.TestCases(), 1)

	ack, err := c.Execute(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, ack.ExecutionID)
	assert.True(t, c.Running())

	_, err = api.ExecuteWorkflow(ctx, created.ID, 5)
	require.ErrorIs(t, err, client.ErrConflict)

	summary, err := api.Status(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, summary.Status)
	assert.Equal(t, 1, summary.Total)

	history, err := api.Notifications(ctx, 5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.NotificationProgression, history[0].Type)

	list, err := api.ListWorkflows(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClient_Errors(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	api := client.New(startAPI(t), nil)

	_, err := api.GetWorkflow(ctx, 404)
	require.ErrorIs(t, err, client.ErrNotFound)
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "workflow_not_found", apiErr.Type)

	_, err = api.CreateTestCase(ctx, &models.TestCase{WorkflowID: 1, Title: ""})
	assert.ErrorIs(t, err, client.ErrBadRequest)

	_, err = api.UpdateStepTest(ctx, &models.StepTest{ID: 77, Title: "ghost"})
	assert.ErrorIs(t, err, persistence.ErrStepTestNotFound)

	assert.ErrorIs(t, api.DeleteStepTest(ctx, 77), persistence.ErrStepTestNotFound)
	assert.ErrorIs(t, api.DeleteTestCase(ctx, 77), persistence.ErrTestCaseNotFound)
}

func TestClient_SaveDeletesRemovedTestCases(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	api := client.New(startAPI(t), nil)

	created, err := api.CreateWorkflow(ctx, &models.Workflow{Title: "Cart", FunctionalReportID: 1})
	require.NoError(t, err)

	c := editor.NewController(api, 5)
	require.NoError(t, c.Load(ctx, created.ID))

	first, err := c.AddTestCase()
	require.NoError(t, err)
	_, err = c.AddStepUnderTestCase(first.ID)
	require.NoError(t, err)
	_, err = c.AddTestCase()
	require.NoError(t, err)
	require.NoError(t, c.Save(ctx))

	saved, ok := c.Node(first.ID)
	require.True(t, ok)
	require.True(t, saved.HasDomainID())

	require.NoError(t, c.Select(first.ID))
	require.NoError(t, c.DeleteSelected())
	require.NoError(t, c.Save(ctx))

	testCases, err := api.TestCasesByWorkflow(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, testCases, 1)

	_, err = api.StepTestsByTestCase(ctx, *saved.DomainID)
	require.ErrorIs(t, err, persistence.ErrTestCaseNotFound)

	reloaded := editor.NewController(api, 5)
	require.NoError(t, reloaded.Load(ctx, created.ID))
	assert.Len(t, reloaded.TestCases(), 1)
}

func TestClient_RetriesReadsOnly(t *testing.T) {
	t.Parallel()

	var gets, posts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		if gets.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":3,"title":"Flaky","statut":"pending"}`))
	}))
	defer server.Close()

	api := client.New(server.URL, nil, client.WithRetry(2, 10*time.Millisecond))

	wf, err := api.GetWorkflow(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Flaky", wf.Title)
	assert.Equal(t, int32(3), gets.Load())

	_, err = api.ExecuteWorkflow(context.Background(), 3, 1)
	require.ErrorIs(t, err, client.ErrServer)
	assert.Equal(t, int32(1), posts.Load())

	gets.Store(-10)

	_, err = client.New(server.URL, nil, client.WithRetry(1, time.Millisecond)).GetWorkflow(context.Background(), 3)
	assert.ErrorIs(t, err, client.ErrServer)
}
