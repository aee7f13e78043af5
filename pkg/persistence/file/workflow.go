package file

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	p *Persistence
}

// GetAll returns every workflow, newest first.
func (wr *WorkflowRepository) GetAll(_ context.Context) ([]*models.Workflow, error) {
	wr.p.mu.RLock()
	defer wr.p.mu.RUnlock()

	all, err := wr.p.workflows.all()
	if err != nil {
		return nil, err
	}

	slices.SortFunc(all, func(a, b models.Workflow) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(b.ID, a.ID)
	})

	out := make([]*models.Workflow, len(all))
	for i := range all {
		out[i] = &all[i]
	}

	return out, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, id int64) (*models.Workflow, error) {
	wr.p.mu.RLock()
	defer wr.p.mu.RUnlock()

	workflow, err := wr.p.workflows.get(id)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	if workflow == nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

func (wr *WorkflowRepository) Create(_ context.Context, workflow *models.Workflow) error {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	id, err := wr.p.workflows.nextID()
	if err != nil {
		return persistence.NewWorkflowError("Create", 0, err)
	}

	now := time.Now().UTC()
	workflow.ID = id
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if workflow.Status == "" {
		workflow.Status = models.StatusPending
	}

	return wr.p.workflows.put(id, workflow)
}

func (wr *WorkflowRepository) Update(_ context.Context, workflow *models.Workflow) error {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	existing, err := wr.p.workflows.get(workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	if existing == nil {
		return persistence.NewWorkflowError("Update", workflow.ID, persistence.ErrWorkflowNotFound)
	}

	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	return wr.p.workflows.put(workflow.ID, workflow)
}

// Delete removes a workflow together with its test cases and their steps.
func (wr *WorkflowRepository) Delete(_ context.Context, id int64) error {
	wr.p.mu.Lock()
	defer wr.p.mu.Unlock()

	removed, err := wr.p.workflows.remove(id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if !removed {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	testCases, err := wr.p.testCases.all()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	for _, tc := range testCases {
		if tc.WorkflowID != id {
			continue
		}

		if err := wr.p.removeTestCase(tc.ID); err != nil {
			return persistence.NewWorkflowError("Delete", id, err)
		}
	}

	return nil
}
