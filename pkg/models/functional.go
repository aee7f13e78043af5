// Package models defines the domain models for functional test workflows.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the execution state of a workflow, test case or step.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
	StatusRunning   Status = "running"   // Only carried by progress messages
	StatusCompleted Status = "completed" // Only carried by progress messages
)

// ParseStatus matches s case-insensitively against the known statuses.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, true
	case StatusPassed:
		return StatusPassed, true
	case StatusFailed:
		return StatusFailed, true
	case StatusRunning:
		return StatusRunning, true
	case StatusCompleted:
		return StatusCompleted, true
	default:
		return "", false
	}
}

// NodeStatus folds a reported status onto the three states a test case or step can hold.
func (s Status) NodeStatus() Status {
	switch s {
	case StatusPassed, StatusCompleted:
		return StatusPassed
	case StatusFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

// IsTerminal reports whether s ends a workflow run.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusPassed
}

// Workflow is a functional test scenario owned by a functional report.
type Workflow struct {
	ID                 int64           `json:"id,omitempty"`
	Title              string          `json:"title"                          validate:"required"`
	Description        string          `json:"description"`
	Status             Status          `json:"statut"`
	FunctionalReportID int64           `json:"functional_report_id"`
	GraphSnapshot      json.RawMessage `json:"data_drawflow,omitempty"`
	CreatedAt          time.Time       `json:"date_creation"`
	UpdatedAt          time.Time       `json:"date_update"`
	StartedAt          *time.Time      `json:"date_debut,omitempty"`
	FinishedAt         *time.Time      `json:"date_fin,omitempty"`
	TestCases          []TestCase      `json:"test_cases,omitempty"`
}

// HasSnapshot reports whether the workflow carries a previously saved graph.
func (w *Workflow) HasSnapshot() bool {
	if w == nil {
		return false
	}

	raw := strings.TrimSpace(string(w.GraphSnapshot))

	return raw != "" && raw != "null" && raw != "{}"
}

// TestCase is an ordered group of steps inside a workflow.
type TestCase struct {
	ID             int64      `json:"id,omitempty"`
	WorkflowID     int64      `json:"workflow_id"               validate:"required"`
	Title          string     `json:"title"                     validate:"required"`
	ExecutionOrder int        `json:"ordre_execution"           validate:"min=1"`
	Status         Status     `json:"statut"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	StartedAt      *time.Time `json:"date_debut,omitempty"`
	FinishedAt     *time.Time `json:"date_fin,omitempty"`
	CreatedAt      time.Time  `json:"date_creation"`
	UpdatedAt      time.Time  `json:"date_update"`
	StepTests      []StepTest `json:"step_tests,omitempty"`
}

// StepTest is a single browser action inside a test case.
type StepTest struct {
	ID             int64        `json:"id,omitempty"`
	TestCaseID     int64        `json:"test_case_id"              validate:"required"`
	Title          string       `json:"title"                     validate:"required"`
	Description    string       `json:"description"`
	Settings       StepSettings `json:"settings"`
	ExecutionOrder int          `json:"ordre_execution"           validate:"min=1"`
	Status         Status       `json:"statut"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	ScreenshotPath string       `json:"screenshot_path,omitempty"`
	StartedAt      *time.Time   `json:"date_debut,omitempty"`
	FinishedAt     *time.Time   `json:"date_fin,omitempty"`
}

// ExecutionAck is returned when a workflow run was accepted by the executor.
type ExecutionAck struct {
	WorkflowID  int64     `json:"workflow_id"`
	ExecutionID string    `json:"execution_id"`
	Status      Status    `json:"statut"`
	StartedAt   time.Time `json:"date_debut"`
}

// StatusSummary counts step outcomes of a workflow.
type StatusSummary struct {
	WorkflowID int64  `json:"workflow_id"`
	Status     Status `json:"statut"`
	Total      int    `json:"total_steps"`
	Passed     int    `json:"passed_steps"`
	Failed     int    `json:"failed_steps"`
	Pending    int    `json:"pending_steps"`
}

// TestCaseExecution is the per test case detail of an execution status.
type TestCaseExecution struct {
	TestCaseID     int64      `json:"test_case_id"`
	Title          string     `json:"title"`
	ExecutionOrder int        `json:"ordre_execution"`
	Status         Status     `json:"statut"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	Steps          []StepTest `json:"step_tests"`
}

// ExecutionStatus is the ordered detail of the latest run of a workflow.
type ExecutionStatus struct {
	WorkflowID int64               `json:"workflow_id"`
	Status     Status              `json:"statut"`
	StartedAt  *time.Time          `json:"date_debut,omitempty"`
	FinishedAt *time.Time          `json:"date_fin,omitempty"`
	TestCases  []TestCaseExecution `json:"test_cases"`
}
