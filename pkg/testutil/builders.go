// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
	"github.com/funcscan/flowdesk/pkg/persistence/file"
	"github.com/stretchr/testify/require"
)

// CreateTestWorkflow creates a test Workflow with default values that can be overridden.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	wf := &models.Workflow{
		Title:              "Checkout",
		Description:        "Buy a single item",
		Status:             models.StatusPending,
		FunctionalReportID: 1,
	}

	for _, override := range overrides {
		override(wf)
	}

	return wf
}

// WithSnapshot sets the stored graph of the workflow.
func WithSnapshot(raw string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.GraphSnapshot = []byte(raw)
	}
}

// CreateTestCase creates a test TestCase under workflowID.
func CreateTestCase(workflowID int64, order int) *models.TestCase {
	return &models.TestCase{
		WorkflowID:     workflowID,
		Title:          fmt.Sprintf("Test case %d", order),
		ExecutionOrder: order,
		Status:         models.StatusPending,
	}
}

// CreateTestStep creates a click step under testCaseID.
func CreateTestStep(testCaseID int64, order int, overrides ...func(*models.StepTest)) *models.StepTest {
	step := &models.StepTest{
		TestCaseID:     testCaseID,
		Title:          fmt.Sprintf("Step %d", order),
		ExecutionOrder: order,
		Status:         models.StatusPending,
		Settings: models.StepSettings{
			ActionType: models.ActionClick,
			Selector:   fmt.Sprintf("#button-%d", order),
			Timeout:    models.DefaultStepTimeout,
		},
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithSettings sets the step settings.
func WithSettings(settings models.StepSettings) func(*models.StepTest) {
	return func(s *models.StepTest) {
		s.Settings = settings
	}
}

// NewFilePersistence returns a file persistence rooted in a temporary directory.
func NewFilePersistence(t *testing.T) *file.Persistence {
	t.Helper()

	return file.NewPersistence(t.TempDir())
}

// Seeded is a stored workflow with its test cases and steps, in execution order.
type Seeded struct {
	Workflow  *models.Workflow
	TestCases []*models.TestCase
	Steps     [][]*models.StepTest
}

// Seed stores a workflow with one test case per entry of stepsPerCase, each holding that many steps.
func Seed(t *testing.T, p persistence.Persistence, wf *models.Workflow, stepsPerCase ...int) *Seeded {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, p.WorkflowRepository().Create(ctx, wf))

	seeded := &Seeded{Workflow: wf}

	for i, count := range stepsPerCase {
		tc := CreateTestCase(wf.ID, i+1)
		require.NoError(t, p.TestCaseRepository().Create(ctx, tc))

		steps := make([]*models.StepTest, 0, count)

		for j := range count {
			step := CreateTestStep(tc.ID, j+1)
			require.NoError(t, p.StepTestRepository().Create(ctx, step))
			steps = append(steps, step)
		}

		seeded.TestCases = append(seeded.TestCases, tc)
		seeded.Steps = append(seeded.Steps, steps)
	}

	return seeded
}
