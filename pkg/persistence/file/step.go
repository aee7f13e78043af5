package file

import (
	"cmp"
	"context"
	"slices"

	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
)

// StepTestRepository handles step test file operations.
type StepTestRepository struct {
	p *Persistence
}

func (r *StepTestRepository) GetByID(_ context.Context, id int64) (*models.StepTest, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	step, err := r.p.stepTests.get(id)
	if err != nil {
		return nil, persistence.NewStepTestError("GetByID", id, err)
	}

	if step == nil {
		return nil, persistence.NewStepTestError("GetByID", id, persistence.ErrStepTestNotFound)
	}

	return step, nil
}

// ByTestCase lists the steps of a test case by execution order.
func (r *StepTestRepository) ByTestCase(_ context.Context, testCaseID int64) ([]models.StepTest, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	all, err := r.p.stepTests.all()
	if err != nil {
		return nil, persistence.NewTestCaseError("StepTests", testCaseID, err)
	}

	out := make([]models.StepTest, 0, len(all))

	for _, step := range all {
		if step.TestCaseID == testCaseID {
			out = append(out, step)
		}
	}

	slices.SortFunc(out, func(a, b models.StepTest) int {
		if c := cmp.Compare(a.ExecutionOrder, b.ExecutionOrder); c != 0 {
			return c
		}

		return cmp.Compare(a.ID, b.ID)
	})

	return out, nil
}

func (r *StepTestRepository) Create(_ context.Context, step *models.StepTest) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if !r.p.testCases.exists(step.TestCaseID) {
		return persistence.NewTestCaseError("CreateStepTest", step.TestCaseID, persistence.ErrTestCaseNotFound)
	}

	id, err := r.p.stepTests.nextID()
	if err != nil {
		return persistence.NewStepTestError("Create", 0, err)
	}

	step.ID = id

	if step.Status == "" {
		step.Status = models.StatusPending
	}

	return r.p.stepTests.put(id, step)
}

func (r *StepTestRepository) Update(_ context.Context, step *models.StepTest) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	if !r.p.stepTests.exists(step.ID) {
		return persistence.NewStepTestError("Update", step.ID, persistence.ErrStepTestNotFound)
	}

	return r.p.stepTests.put(step.ID, step)
}

func (r *StepTestRepository) Delete(_ context.Context, id int64) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	removed, err := r.p.stepTests.remove(id)
	if err != nil {
		return persistence.NewStepTestError("Delete", id, err)
	}

	if !removed {
		return persistence.NewStepTestError("Delete", id, persistence.ErrStepTestNotFound)
	}

	return nil
}
