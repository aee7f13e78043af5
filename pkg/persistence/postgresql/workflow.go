package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
)

const workflowColumns = `
	id
  , title
  , description
  , status
  , functional_report_id
  , graph_snapshot
  , started_at
  , finished_at
  , created_at
  , updated_at
`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// GetAll returns all workflows, newest first.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id int64) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if workflow.Status == "" {
		workflow.Status = models.StatusPending
	}

	query := `
		INSERT INTO workflows (title, description, status, functional_report_id, graph_snapshot,
			started_at, finished_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		workflow.Title,
		workflow.Description,
		workflow.Status,
		workflow.FunctionalReportID,
		nullJSON(workflow.GraphSnapshot),
		workflow.StartedAt,
		workflow.FinishedAt,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	).Scan(&workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("Create", 0, err)
	}

	return nil
}

func (r *WorkflowRepository) Update(ctx context.Context, workflow *models.Workflow) error {
	workflow.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE workflows SET
			title = $2,
			description = $3,
			status = $4,
			functional_report_id = $5,
			graph_snapshot = $6,
			started_at = $7,
			finished_at = $8,
			updated_at = $9
		WHERE id = $1
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		workflow.ID,
		workflow.Title,
		workflow.Description,
		workflow.Status,
		workflow.FunctionalReportID,
		nullJSON(workflow.GraphSnapshot),
		workflow.StartedAt,
		workflow.FinishedAt,
		workflow.UpdatedAt,
	).Scan(&workflow.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewWorkflowError("Update", workflow.ID, persistence.ErrWorkflowNotFound)
		}

		return persistence.NewWorkflowError("Update", workflow.ID, err)
	}

	return nil
}

// Delete removes a workflow; test cases and steps follow through ON DELETE CASCADE.
func (r *WorkflowRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return affected(result, persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound))
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow models.Workflow
		snapshot []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Title,
		&workflow.Description,
		&workflow.Status,
		&workflow.FunctionalReportID,
		&snapshot,
		&workflow.StartedAt,
		&workflow.FinishedAt,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if snapshot != nil {
		workflow.GraphSnapshot = snapshot
	}

	return &workflow, nil
}

// affected returns notFound when the statement touched no row.
func affected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if n == 0 {
		return notFound
	}

	return nil
}
