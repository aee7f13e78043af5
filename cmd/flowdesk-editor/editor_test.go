package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/funcscan/flowdesk/pkg/client"
	"github.com/funcscan/flowdesk/pkg/editor"
	"github.com/funcscan/flowdesk/pkg/graph"
	"github.com/funcscan/flowdesk/pkg/guard"
	"github.com/funcscan/flowdesk/pkg/mocks"
	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/services"
	"github.com/funcscan/flowdesk/pkg/testutil"
	"github.com/funcscan/flowdesk/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

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

// seedWorkflow saves one test case with one navigate step through the editor.
func seedWorkflow(t *testing.T, api *client.Client, title string) int64 {
	t.Helper()

	ctx := t.Context()

	wf, err := api.CreateWorkflow(ctx, &models.Workflow{Title: title})
	require.NoError(t, err)

	c := editor.NewController(api, 1)
	defer c.Close()

	require.NoError(t, c.Load(ctx, wf.ID))

	tc, err := c.AddTestCase()
	require.NoError(t, err)

	step, err := c.AddStepUnderTestCase(tc.ID)
	require.NoError(t, err)

	name := "Open home"
	require.NoError(t, c.UpdateNode(step.ID, graph.NodeUpdate{
		Title:    &name,
		Settings: &models.StepSettings{ActionType: models.ActionNavigate, URL: "https://home.test"},
	}))
	require.NoError(t, c.Save(ctx))

	return wf.ID
}

func run(t *testing.T, apiURL string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	root := newRootCommand()
	root.Writer = &out
	root.ErrWriter = &out

	err := root.Run(t.Context(), append([]string{"flowdesk-editor", "--api-url", apiURL, "--log-level", "error"}, args...))

	return out.String(), err
}

func TestShowCommand(t *testing.T) {
	t.Parallel()

	apiURL := startAPI(t)
	id := seedWorkflow(t, client.New(apiURL, nil), "Homepage")

	out, err := run(t, apiURL, "show", strconv.FormatInt(id, 10))
	require.NoError(t, err)

	assert.Contains(t, out, "Workflow "+strconv.FormatInt(id, 10)+": Homepage [pending]")
	assert.Contains(t, out, "Steps: 1 total, 0 passed, 0 failed, 1 pending")
	assert.Contains(t, out, "NODE")
	assert.Contains(t, out, "Open home")
}

func TestShowCommand_InvalidArgument(t *testing.T) {
	t.Parallel()

	apiURL := startAPI(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing id", args: []string{"show"}, want: "missing workflow id"},
		{name: "not a number", args: []string{"show", "abc"}, want: `invalid workflow id "abc"`},
		{name: "zero id", args: []string{"show", "0"}, want: `invalid workflow id "0"`},
		{name: "unknown workflow", args: []string{"show", "404"}, want: "404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := run(t, apiURL, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExecuteCommand(t *testing.T) {
	t.Parallel()

	apiURL := startAPI(t)
	api := client.New(apiURL, nil)
	id := seedWorkflow(t, api, "Checkout")

	out, err := run(t, apiURL, "execute", strconv.FormatInt(id, 10))
	require.NoError(t, err)
	assert.Contains(t, out, "Execution ")
	assert.Contains(t, out, "started for workflow "+strconv.FormatInt(id, 10))

	summary, err := api.Status(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, summary.Status)

	// The same user replays the running notification, so the editor refuses locally.
	_, err = run(t, apiURL, "execute", strconv.FormatInt(id, 10))
	require.ErrorIs(t, err, editor.ErrInvalidState)

	// Another user has no history and reaches the backend guard.
	_, err = run(t, apiURL, "--user-id", "2", "execute", strconv.FormatInt(id, 10))
	require.ErrorIs(t, err, client.ErrConflict)
}

func TestExportImport(t *testing.T) {
	t.Parallel()

	apiURL := startAPI(t)
	api := client.New(apiURL, nil)
	source := seedWorkflow(t, api, "Source")

	target, err := api.CreateWorkflow(t.Context(), &models.Workflow{Title: "Copy"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "graph.yaml")

	_, err = run(t, apiURL, "export", "--format", "yaml", "--output", path, strconv.FormatInt(source, 10))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Open home")

	out, err := run(t, apiURL, "import", "--file", path, "--as-new", strconv.FormatInt(target.ID, 10))
	require.NoError(t, err)
	assert.Contains(t, out, "into workflow "+strconv.FormatInt(target.ID, 10))

	for _, id := range []int64{source, target.ID} {
		testCases, err := api.TestCasesByWorkflow(t.Context(), id)
		require.NoError(t, err)
		require.Len(t, testCases, 1, "workflow %d", id)

		steps, err := api.StepTestsByTestCase(t.Context(), testCases[0].ID)
		require.NoError(t, err)
		require.Len(t, steps, 1)
		assert.Equal(t, "https://home.test", steps[0].Settings.URL)
	}

	out, err = run(t, apiURL, "export", strconv.FormatInt(target.ID, 10))
	require.NoError(t, err)

	snap, err := decodeSnapshot([]byte(out), formatJSON)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.Nodes)
}

func TestSnapshotFormats(t *testing.T) {
	t.Parallel()

	id := int64(7)
	snap := graph.Snapshot{
		Nodes: map[string]graph.SnapshotNode{
			"1": {ID: 1, Kind: graph.KindStart, Data: graph.NodeData{Title: "Start", Status: models.StatusPending}},
			"2": {ID: 2, Kind: graph.KindTestCase, Data: graph.NodeData{DomainID: &id, Title: "Login", ExecutionOrder: 1}},
		},
		Edges: []graph.Edge{{From: 1, FromPort: "output_1", To: 2, ToPort: "input_1"}},
	}

	for _, format := range []string{formatJSON, formatYAML} {
		t.Run(format, func(t *testing.T) {
			t.Parallel()

			data, err := encodeSnapshot(snap, format)
			require.NoError(t, err)

			got, err := decodeSnapshot(data, format)
			require.NoError(t, err)
			assert.Equal(t, snap.Edges, got.Edges)
			assert.Equal(t, "Login", got.Nodes["2"].Data.Title)
			require.NotNil(t, got.Nodes["2"].Data.DomainID)
		})
	}

	_, err := encodeSnapshot(snap, "toml")
	require.Error(t, err)

	_, err = decodeSnapshot([]byte("{"), formatJSON)
	require.Error(t, err)

	detached := detach(graph.Snapshot{Nodes: map[string]graph.SnapshotNode{
		"2": {ID: 2, Kind: graph.KindTestCase, Data: graph.NodeData{DomainID: &id}},
	}})
	assert.Nil(t, detached.Nodes["2"].Data.DomainID)
}

func TestFormatFromPath(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"graph.json": formatJSON,
		"graph.YAML": formatYAML,
		"graph.yml":  formatYAML,
		"graph":      formatJSON,
	}

	for path, want := range tests {
		assert.Equal(t, want, formatFromPath(path), path)
	}
}
