// Package persistence provides the storage abstraction for workflows, test cases,
// step tests and user notifications.
package persistence

import (
	"context"

	"github.com/funcscan/flowdesk/pkg/models"
)

// Persistence groups the repositories of one backing store.
type Persistence interface {
	WorkflowRepository() WorkflowRepository
	TestCaseRepository() TestCaseRepository
	StepTestRepository() StepTestRepository
	NotificationRepository() NotificationRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflows and their graph snapshot.
type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id int64) (*models.Workflow, error)
	// Create assigns the workflow id and timestamps.
	Create(ctx context.Context, workflow *models.Workflow) error
	Update(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id int64) error
}

// TestCaseRepository stores test cases. Lists are ordered by execution order.
type TestCaseRepository interface {
	GetByID(ctx context.Context, id int64) (*models.TestCase, error)
	ByWorkflow(ctx context.Context, workflowID int64) ([]models.TestCase, error)
	Create(ctx context.Context, testCase *models.TestCase) error
	Update(ctx context.Context, testCase *models.TestCase) error
	Delete(ctx context.Context, id int64) error
}

// StepTestRepository stores step tests. Lists are ordered by execution order.
type StepTestRepository interface {
	GetByID(ctx context.Context, id int64) (*models.StepTest, error)
	ByTestCase(ctx context.Context, testCaseID int64) ([]models.StepTest, error)
	Create(ctx context.Context, step *models.StepTest) error
	Update(ctx context.Context, step *models.StepTest) error
	Delete(ctx context.Context, id int64) error
}

// NotificationRepository stores user notifications. Lists are newest first.
type NotificationRepository interface {
	Create(ctx context.Context, notification *models.Notification) error
	GetByID(ctx context.Context, id int64) (*models.Notification, error)
	ByUser(ctx context.Context, userID int64) ([]models.Notification, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context, userID int64) (int, error)
	UnreadCount(ctx context.Context, userID int64) (int, error)
}
