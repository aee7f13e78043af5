package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/funcscan/flowdesk/pkg/guard"
	"github.com/funcscan/flowdesk/pkg/log"
	"github.com/funcscan/flowdesk/pkg/mocks"
	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/testutil"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	api := NewAPI(log.Discard(), testutil.NewFilePersistence(t), bus, guard.NewMemory(guard.DefaultTTL))

	return api.App()
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	t.Parallel()

	status, body := get(t, setupTestApp(t), "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Flowdesk API", body)
}

func TestAPI_HealthCheck(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := get(t, app, "/livez")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)

	status, _ = get(t, app, "/health")
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_WorkflowRoutes(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := get(t, app, "/workflows")
	require.Equal(t, http.StatusOK, status)

	var workflows []models.Workflow
	require.NoError(t, json.NewDecoder(strings.NewReader(body)).Decode(&workflows))
	assert.Empty(t, workflows)

	req := httptest.NewRequest(http.MethodPost, "/workflows", strings.NewReader(`{"title":"Checkout"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	status, _ = get(t, app, "/workflows/1/execution-status")
	assert.Equal(t, http.StatusOK, status)
}
