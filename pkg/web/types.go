package web

import (
	"encoding/json"

	"github.com/funcscan/flowdesk/pkg/models"
)

// WorkflowRequest is the body of workflow create and update calls.
type WorkflowRequest struct {
	Title              string          `json:"title"                   validate:"required"`
	Description        string          `json:"description"`
	FunctionalReportID int64           `json:"functional_report_id"    validate:"omitempty,min=1"`
	GraphSnapshot      json.RawMessage `json:"data_drawflow,omitempty"`
}

func (r WorkflowRequest) toModel() *models.Workflow {
	return &models.Workflow{
		Title:              r.Title,
		Description:        r.Description,
		FunctionalReportID: r.FunctionalReportID,
		GraphSnapshot:      r.GraphSnapshot,
	}
}

// TestCaseRequest is the body of test case create and update calls.
// WorkflowID is required on create and ignored on update.
type TestCaseRequest struct {
	WorkflowID     int64         `json:"workflow_id"     validate:"omitempty,min=1"`
	Title          string        `json:"title"           validate:"required"`
	ExecutionOrder int           `json:"ordre_execution" validate:"min=0"`
	Status         models.Status `json:"statut"          validate:"omitempty,oneof=pending passed failed running completed"`
}

func (r TestCaseRequest) toModel() *models.TestCase {
	return &models.TestCase{
		WorkflowID:     r.WorkflowID,
		Title:          r.Title,
		ExecutionOrder: r.ExecutionOrder,
		Status:         r.Status,
	}
}

// StepTestRequest is the body of step create and update calls.
type StepTestRequest struct {
	TestCaseID     int64               `json:"test_case_id"    validate:"omitempty,min=1"`
	Title          string              `json:"title"           validate:"required"`
	Description    string              `json:"description"`
	Settings       models.StepSettings `json:"settings"`
	ExecutionOrder int                 `json:"ordre_execution" validate:"min=0"`
	Status         models.Status       `json:"statut"          validate:"omitempty,oneof=pending passed failed running completed"`
}

func (r StepTestRequest) toModel() *models.StepTest {
	return &models.StepTest{
		TestCaseID:     r.TestCaseID,
		Title:          r.Title,
		Description:    r.Description,
		Settings:       r.Settings,
		ExecutionOrder: r.ExecutionOrder,
		Status:         r.Status,
	}
}

// ExecuteRequest is the optional body of an execute call.
type ExecuteRequest struct {
	UserID int64 `json:"user_id" validate:"omitempty,min=1"`
}

// ScheduleRequest registers a cron schedule for a workflow.
type ScheduleRequest struct {
	CronExpression string `json:"cron"    validate:"required"`
	UserID         int64  `json:"user_id" validate:"omitempty,min=1"`
}

// NotificationRequest is a notification pushed by the executor or another service.
type NotificationRequest struct {
	Message string                  `json:"message" validate:"required"`
	Type    models.NotificationType `json:"type"    validate:"omitempty,oneof=info warning error success alert progression"`
	UserID  int64                   `json:"user_id" validate:"required,min=1"`
}

// CountResponse carries unread or updated counters.
type CountResponse struct {
	Count int `json:"count"`
}
