package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
	"github.com/funcscan/flowdesk/pkg/persistence/postgresql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Children first, parents last
	for _, table := range []string{"notifications", "step_tests", "test_cases", "workflows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("flowdesk_test"),
			postgres.WithUsername("flowdesk"),
			postgres.WithPassword("flowdesk"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)
		require.NoError(t, p.Close(ctx))
		cancel()
	})

	return p, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	require.NoError(t, p.HealthCheck(ctx))

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { _ = db.Close() }()

	var version int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 2, version)

	// Running again is a no-op
	again, err := postgresql.NewPersistence(ctx, nil, databaseURL)
	require.NoError(t, err)
	require.NoError(t, again.Close(ctx))
}

func TestWorkflowLifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	workflows := p.WorkflowRepository()
	testCases := p.TestCaseRepository()
	steps := p.StepTestRepository()

	wf := &models.Workflow{Title: "Checkout", Description: "Buy one item", FunctionalReportID: 4}
	require.NoError(t, workflows.Create(ctx, wf))
	require.NotZero(t, wf.ID)

	got, err := workflows.GetByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Empty(t, got.GraphSnapshot)

	got.GraphSnapshot = []byte(`{"nodes":{"1":{"id":1,"kind":"start"}},"edges":[]}`)
	require.NoError(t, workflows.Update(ctx, got))

	got, err = workflows.GetByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":{"1":{"id":1,"kind":"start"}},"edges":[]}`, string(got.GraphSnapshot))

	second := &models.TestCase{WorkflowID: wf.ID, Title: "Pay", ExecutionOrder: 2}
	first := &models.TestCase{WorkflowID: wf.ID, Title: "Cart", ExecutionOrder: 1}
	require.NoError(t, testCases.Create(ctx, second))
	require.NoError(t, testCases.Create(ctx, first))

	list, err := testCases.ByWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Cart", list[0].Title)

	step := &models.StepTest{
		TestCaseID:     first.ID,
		Title:          "Add to cart",
		ExecutionOrder: 1,
		Settings:       models.StepSettings{ActionType: models.ActionClick, Selector: "#add", Timeout: 20},
	}
	require.NoError(t, steps.Create(ctx, step))

	step.Status = models.StatusFailed
	step.ErrorMessage = "element not found"
	require.NoError(t, steps.Update(ctx, step))

	stored, err := steps.ByTestCase(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, models.StatusFailed, stored[0].Status)
	assert.Equal(t, models.ActionClick, stored[0].Settings.ActionType)
	assert.Equal(t, 20, stored[0].Settings.Timeout)

	err = testCases.Create(ctx, &models.TestCase{WorkflowID: wf.ID + 100, Title: "orphan", ExecutionOrder: 1})
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	require.NoError(t, workflows.Delete(ctx, wf.ID))

	_, err = steps.GetByID(ctx, step.ID)
	assert.ErrorIs(t, err, persistence.ErrStepTestNotFound)

	_, err = workflows.GetByID(ctx, wf.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
	assert.ErrorIs(t, workflows.Delete(ctx, wf.ID), persistence.ErrWorkflowNotFound)
}

func TestNotifications(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	repo := p.NotificationRepository()
	base := time.Now().UTC().Add(-time.Hour)

	for i, msg := range []string{"Workflow 1:running", "Step 3:passed Open (1/1)"} {
		require.NoError(t, repo.Create(ctx, &models.Notification{
			UserID:    9,
			Message:   msg,
			Type:      models.NotificationProgression,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := repo.ByUser(ctx, 9)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Step 3:passed Open (1/1)", list[0].Message)

	require.NoError(t, repo.MarkRead(ctx, list[1].ID))

	count, err := repo.UnreadCount(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	changed, err := repo.MarkAllRead(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	assert.ErrorIs(t, repo.MarkRead(ctx, 12345), persistence.ErrNotificationNotFound)
}
