package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
)

// Functional manages workflows, their test cases and steps.
type Functional struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

// NewFunctional creates a new functional test service.
func NewFunctional(p persistence.Persistence, logger *slog.Logger) *Functional {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Functional{persistence: p, logger: logger.With("module", "functional")}
}

// HealthCheck checks the health of the persistence layer.
func (f *Functional) HealthCheck(ctx context.Context) (string, bool) {
	if f.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := f.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (f *Functional) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	return f.persistence.WorkflowRepository().GetAll(ctx)
}

func (f *Functional) GetWorkflow(ctx context.Context, id int64) (*models.Workflow, error) {
	return f.persistence.WorkflowRepository().GetByID(ctx, id)
}

// CreateWorkflow stores a new workflow with a pending status.
func (f *Functional) CreateWorkflow(ctx context.Context, wf *models.Workflow) (*models.Workflow, error) {
	wf.Title = strings.TrimSpace(wf.Title)
	if wf.Title == "" {
		return nil, ErrTitleRequired
	}

	wf.ID = 0
	wf.Status = models.StatusPending

	if err := f.persistence.WorkflowRepository().Create(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	f.logger.InfoContext(ctx, "workflow created", "workflow_id", wf.ID)

	return wf, nil
}

// UpdateWorkflow applies title, description and snapshot. An empty snapshot in the
// request keeps the stored one, so details-only edits never drop the graph.
func (f *Functional) UpdateWorkflow(ctx context.Context, id int64, req *models.Workflow) (*models.Workflow, error) {
	existing, err := f.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}

	existing.Title = title
	existing.Description = req.Description

	if req.FunctionalReportID != 0 {
		existing.FunctionalReportID = req.FunctionalReportID
	}

	if req.HasSnapshot() {
		existing.GraphSnapshot = req.GraphSnapshot
	}

	if err := f.persistence.WorkflowRepository().Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return existing, nil
}

func (f *Functional) DeleteWorkflow(ctx context.Context, id int64) error {
	return f.persistence.WorkflowRepository().Delete(ctx, id)
}

// TestCasesByWorkflow lists the test cases of an existing workflow by execution order.
func (f *Functional) TestCasesByWorkflow(ctx context.Context, workflowID int64) ([]models.TestCase, error) {
	if _, err := f.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	return f.persistence.TestCaseRepository().ByWorkflow(ctx, workflowID)
}

func (f *Functional) CreateTestCase(ctx context.Context, tc *models.TestCase) (*models.TestCase, error) {
	if err := normalizeRow(&tc.Title, &tc.ExecutionOrder); err != nil {
		return nil, err
	}

	tc.ID = 0

	if err := f.persistence.TestCaseRepository().Create(ctx, tc); err != nil {
		return nil, err
	}

	return tc, nil
}

func (f *Functional) UpdateTestCase(ctx context.Context, id int64, tc *models.TestCase) (*models.TestCase, error) {
	existing, err := f.persistence.TestCaseRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := normalizeRow(&tc.Title, &tc.ExecutionOrder); err != nil {
		return nil, err
	}

	existing.Title = tc.Title
	existing.ExecutionOrder = tc.ExecutionOrder

	if tc.Status != "" {
		existing.Status = tc.Status.NodeStatus()
	}

	if err := f.persistence.TestCaseRepository().Update(ctx, existing); err != nil {
		return nil, err
	}

	return existing, nil
}

func (f *Functional) DeleteTestCase(ctx context.Context, id int64) error {
	return f.persistence.TestCaseRepository().Delete(ctx, id)
}

// StepTestsByTestCase lists the steps of an existing test case by execution order.
func (f *Functional) StepTestsByTestCase(ctx context.Context, testCaseID int64) ([]models.StepTest, error) {
	if _, err := f.persistence.TestCaseRepository().GetByID(ctx, testCaseID); err != nil {
		return nil, err
	}

	return f.persistence.StepTestRepository().ByTestCase(ctx, testCaseID)
}

func (f *Functional) CreateStepTest(ctx context.Context, step *models.StepTest) (*models.StepTest, error) {
	if err := normalizeRow(&step.Title, &step.ExecutionOrder); err != nil {
		return nil, err
	}

	if err := models.ValidateStepSettings(step.Settings); err != nil {
		return nil, err
	}

	step.ID = 0
	step.Settings = step.Settings.WithDefaults()

	if err := f.persistence.StepTestRepository().Create(ctx, step); err != nil {
		return nil, err
	}

	return step, nil
}

func (f *Functional) UpdateStepTest(ctx context.Context, id int64, step *models.StepTest) (*models.StepTest, error) {
	existing, err := f.persistence.StepTestRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := normalizeRow(&step.Title, &step.ExecutionOrder); err != nil {
		return nil, err
	}

	if err := models.ValidateStepSettings(step.Settings); err != nil {
		return nil, err
	}

	existing.Title = step.Title
	existing.Description = step.Description
	existing.Settings = step.Settings.WithDefaults()
	existing.ExecutionOrder = step.ExecutionOrder

	if step.TestCaseID != 0 {
		existing.TestCaseID = step.TestCaseID
	}

	if step.Status != "" {
		existing.Status = step.Status.NodeStatus()
	}

	if err := f.persistence.StepTestRepository().Update(ctx, existing); err != nil {
		return nil, err
	}

	return existing, nil
}

func (f *Functional) DeleteStepTest(ctx context.Context, id int64) error {
	return f.persistence.StepTestRepository().Delete(ctx, id)
}

// Status summarizes the step outcomes of a workflow.
func (f *Functional) Status(ctx context.Context, workflowID int64) (*models.StatusSummary, error) {
	detail, err := f.ExecutionStatus(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	summary := &models.StatusSummary{WorkflowID: workflowID, Status: detail.Status}

	for _, tc := range detail.TestCases {
		for _, step := range tc.Steps {
			summary.Total++

			switch step.Status.NodeStatus() {
			case models.StatusPassed:
				summary.Passed++
			case models.StatusFailed:
				summary.Failed++
			default:
				summary.Pending++
			}
		}
	}

	return summary, nil
}

// ExecutionStatus returns the ordered per test case detail of a workflow.
func (f *Functional) ExecutionStatus(ctx context.Context, workflowID int64) (*models.ExecutionStatus, error) {
	wf, err := f.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	testCases, err := f.persistence.TestCaseRepository().ByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load test cases: %w", err)
	}

	out := &models.ExecutionStatus{
		WorkflowID: wf.ID,
		Status:     wf.Status,
		StartedAt:  wf.StartedAt,
		FinishedAt: wf.FinishedAt,
		TestCases:  make([]models.TestCaseExecution, 0, len(testCases)),
	}

	for _, tc := range testCases {
		steps, err := f.persistence.StepTestRepository().ByTestCase(ctx, tc.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load steps of test case %d: %w", tc.ID, err)
		}

		out.TestCases = append(out.TestCases, models.TestCaseExecution{
			TestCaseID:     tc.ID,
			Title:          tc.Title,
			ExecutionOrder: tc.ExecutionOrder,
			Status:         tc.Status,
			ErrorMessage:   tc.ErrorMessage,
			Steps:          steps,
		})
	}

	return out, nil
}

func normalizeRow(title *string, order *int) error {
	*title = strings.TrimSpace(*title)
	if *title == "" {
		return ErrTitleRequired
	}

	if *order < 1 {
		*order = 1
	}

	return nil
}
