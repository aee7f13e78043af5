package editor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
)

var errBackendDown = errors.New("backend down")

// memBackend is an in-memory Backend with switchable failures.
type memBackend struct {
	mu sync.Mutex

	workflows     map[int64]models.Workflow
	testCases     map[int64]models.TestCase
	steps         map[int64]models.StepTest
	notifications []models.Notification
	nextID        int64

	workflowUpdates []models.Workflow
	executions      []int64
	deleted         []string

	failGetWorkflow error
	failSteps       error
	failCreateStep  error
	failDelete      error
	failExecute     error
	failHistory     error
}

func newMemBackend() *memBackend {
	return &memBackend{
		workflows: map[int64]models.Workflow{},
		testCases: map[int64]models.TestCase{},
		steps:     map[int64]models.StepTest{},
		nextID:    100,
	}
}

func (b *memBackend) id() int64 {
	b.nextID++

	return b.nextID
}

func (b *memBackend) GetWorkflow(_ context.Context, id int64) (*models.Workflow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failGetWorkflow != nil {
		return nil, b.failGetWorkflow
	}

	wf, ok := b.workflows[id]
	if !ok {
		return nil, errors.New("workflow not found")
	}

	return &wf, nil
}

func (b *memBackend) UpdateWorkflow(_ context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.workflows[workflow.ID]
	current.ID = workflow.ID
	current.Title = workflow.Title
	current.Description = workflow.Description

	if len(workflow.GraphSnapshot) > 0 {
		current.GraphSnapshot = slices.Clone(workflow.GraphSnapshot)
	}

	current.UpdatedAt = time.Now()
	b.workflows[workflow.ID] = current
	b.workflowUpdates = append(b.workflowUpdates, *workflow)

	return &current, nil
}

func (b *memBackend) CreateTestCase(_ context.Context, tc *models.TestCase) (*models.TestCase, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	created := *tc
	created.ID = b.id()
	b.testCases[created.ID] = created

	return &created, nil
}

func (b *memBackend) UpdateTestCase(_ context.Context, tc *models.TestCase) (*models.TestCase, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.testCases[tc.ID] = *tc

	return tc, nil
}

func (b *memBackend) CreateStepTest(_ context.Context, step *models.StepTest) (*models.StepTest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failCreateStep != nil {
		return nil, b.failCreateStep
	}

	created := *step
	created.ID = b.id()
	b.steps[created.ID] = created

	return &created, nil
}

func (b *memBackend) UpdateStepTest(_ context.Context, step *models.StepTest) (*models.StepTest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.steps[step.ID] = *step

	return step, nil
}

func (b *memBackend) TestCasesByWorkflow(_ context.Context, workflowID int64) ([]models.TestCase, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := []models.TestCase{}
	for _, tc := range b.testCases {
		if tc.WorkflowID == workflowID {
			out = append(out, tc)
		}
	}

	return out, nil
}

func (b *memBackend) StepTestsByTestCase(_ context.Context, testCaseID int64) ([]models.StepTest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failSteps != nil {
		return nil, b.failSteps
	}

	out := []models.StepTest{}
	for _, s := range b.steps {
		if s.TestCaseID == testCaseID {
			out = append(out, s)
		}
	}

	return out, nil
}

func (b *memBackend) DeleteTestCase(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failDelete != nil {
		return b.failDelete
	}

	if _, ok := b.testCases[id]; !ok {
		return persistence.NewTestCaseError("Delete", id, persistence.ErrTestCaseNotFound)
	}

	delete(b.testCases, id)

	for sid, s := range b.steps {
		if s.TestCaseID == id {
			delete(b.steps, sid)
		}
	}

	b.deleted = append(b.deleted, fmt.Sprintf("test case %d", id))

	return nil
}

func (b *memBackend) DeleteStepTest(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failDelete != nil {
		return b.failDelete
	}

	if _, ok := b.steps[id]; !ok {
		return persistence.ErrStepTestNotFound
	}

	delete(b.steps, id)
	b.deleted = append(b.deleted, fmt.Sprintf("step %d", id))

	return nil
}

func (b *memBackend) ExecuteWorkflow(_ context.Context, workflowID, _ int64) (*models.ExecutionAck, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failExecute != nil {
		return nil, b.failExecute
	}

	b.executions = append(b.executions, workflowID)

	return &models.ExecutionAck{WorkflowID: workflowID, ExecutionID: "exec-1", Status: models.StatusRunning}, nil
}

func (b *memBackend) Notifications(_ context.Context, userID int64) ([]models.Notification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failHistory != nil {
		return nil, b.failHistory
	}

	out := []models.Notification{}
	for _, n := range b.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}

	return out, nil
}

// seed stores Start -> Login(Open, Submit) -> Checkout(Pay) -> End as rows.
func (b *memBackend) seed(workflowID int64) {
	b.workflows[workflowID] = models.Workflow{ID: workflowID, Title: "Shop", FunctionalReportID: 1}
	b.testCases[10] = models.TestCase{ID: 10, WorkflowID: workflowID, Title: "Login", ExecutionOrder: 1}
	b.testCases[20] = models.TestCase{ID: 20, WorkflowID: workflowID, Title: "Checkout", ExecutionOrder: 2}
	b.steps[11] = models.StepTest{ID: 11, TestCaseID: 10, Title: "Open", ExecutionOrder: 1,
		Settings: models.StepSettings{ActionType: models.ActionNavigate, URL: "https://shop.test"}}
	b.steps[12] = models.StepTest{ID: 12, TestCaseID: 10, Title: "Submit", ExecutionOrder: 2,
		Settings: models.StepSettings{ActionType: models.ActionClick, Selector: "#submit"}}
	b.steps[21] = models.StepTest{ID: 21, TestCaseID: 20, Title: "Pay", ExecutionOrder: 1}
}

type chanFeed struct {
	ch chan models.Notification
}

func (f *chanFeed) Subscribe(ctx context.Context, _ int64) (<-chan models.Notification, error) {
	out := make(chan models.Notification)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case n := <-f.ch:
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
