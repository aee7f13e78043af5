package file

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
)

// TestCaseRepository handles test case file operations.
type TestCaseRepository struct {
	p *Persistence
}

func (r *TestCaseRepository) GetByID(_ context.Context, id int64) (*models.TestCase, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	tc, err := r.p.testCases.get(id)
	if err != nil {
		return nil, persistence.NewTestCaseError("GetByID", id, err)
	}

	if tc == nil {
		return nil, persistence.NewTestCaseError("GetByID", id, persistence.ErrTestCaseNotFound)
	}

	return tc, nil
}

// ByWorkflow lists the test cases of a workflow by execution order.
func (r *TestCaseRepository) ByWorkflow(_ context.Context, workflowID int64) ([]models.TestCase, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	all, err := r.p.testCases.all()
	if err != nil {
		return nil, persistence.NewWorkflowError("TestCases", workflowID, err)
	}

	out := make([]models.TestCase, 0, len(all))

	for _, tc := range all {
		if tc.WorkflowID == workflowID {
			out = append(out, tc)
		}
	}

	slices.SortFunc(out, func(a, b models.TestCase) int {
		if c := cmp.Compare(a.ExecutionOrder, b.ExecutionOrder); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return out, nil
}

func (r *TestCaseRepository) Create(_ context.Context, testCase *models.TestCase) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if !r.p.workflows.exists(testCase.WorkflowID) {
		return persistence.NewWorkflowError("CreateTestCase", testCase.WorkflowID, persistence.ErrWorkflowNotFound)
	}

	id, err := r.p.testCases.nextID()
	if err != nil {
		return persistence.NewTestCaseError("Create", 0, err)
	}

	now := time.Now().UTC()
	testCase.ID = id
	testCase.CreatedAt = now
	testCase.UpdatedAt = now

	if testCase.Status == "" {
		testCase.Status = models.StatusPending
	}

	stored := *testCase
	stored.StepTests = nil

	return r.p.testCases.put(id, &stored)
}

func (r *TestCaseRepository) Update(_ context.Context, testCase *models.TestCase) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	existing, err := r.p.testCases.get(testCase.ID)
	if err != nil {
		return persistence.NewTestCaseError("Update", testCase.ID, err)
	}

	if existing == nil {
		return persistence.NewTestCaseError("Update", testCase.ID, persistence.ErrTestCaseNotFound)
	}

	testCase.CreatedAt = existing.CreatedAt
	testCase.UpdatedAt = time.Now().UTC()

	stored := *testCase
	stored.StepTests = nil

	return r.p.testCases.put(testCase.ID, &stored)
}

// Delete removes a test case and its steps.
func (r *TestCaseRepository) Delete(_ context.Context, id int64) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if !r.p.testCases.exists(id) {
		return persistence.NewTestCaseError("Delete", id, persistence.ErrTestCaseNotFound)
	}

	if err := r.p.removeTestCase(id); err != nil {
		return persistence.NewTestCaseError("Delete", id, err)
	}

	return nil
}

func (fp *Persistence) removeTestCase(id int64) error {
	steps, err := fp.stepTests.all()
	if err != nil {
		return err
	}

	for _, step := range steps {
		if step.TestCaseID != id {
			continue
		}

		if _, err := fp.stepTests.remove(step.ID); err != nil {
			return err
		}
	}

	_, err = fp.testCases.remove(id)

	return err
}
