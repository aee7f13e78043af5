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
	"github.com/lib/pq"
)

const foreignKeyViolation = "23503"

const testCaseColumns = `
	id
  , workflow_id
  , title
  , execution_order
  , status
  , error_message
  , started_at
  , finished_at
  , created_at
  , updated_at
`

// TestCaseRepository handles test case database operations.
type TestCaseRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *TestCaseRepository) GetByID(ctx context.Context, id int64) (*models.TestCase, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+testCaseColumns+` FROM test_cases WHERE id = $1`, id)

	tc, err := scanTestCase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewTestCaseError("GetByID", id, persistence.ErrTestCaseNotFound)
		}

		return nil, persistence.NewTestCaseError("GetByID", id, err)
	}

	return tc, nil
}

func (r *TestCaseRepository) ByWorkflow(ctx context.Context, workflowID int64) ([]models.TestCase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+testCaseColumns+` FROM test_cases WHERE workflow_id = $1 ORDER BY execution_order, id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query test cases: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	out := make([]models.TestCase, 0)

	for rows.Next() {
		tc, err := scanTestCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test case: %w", err)
		}

		out = append(out, *tc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating test cases: %w", err)
	}

	return out, nil
}

func (r *TestCaseRepository) Create(ctx context.Context, tc *models.TestCase) error {
	now := time.Now().UTC()
	tc.CreatedAt = now
	tc.UpdatedAt = now

	if tc.Status == "" {
		tc.Status = models.StatusPending
	}

	query := `
		INSERT INTO test_cases (workflow_id, title, execution_order, status, error_message,
			started_at, finished_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		tc.WorkflowID,
		tc.Title,
		tc.ExecutionOrder,
		tc.Status,
		tc.ErrorMessage,
		tc.StartedAt,
		tc.FinishedAt,
		tc.CreatedAt,
		tc.UpdatedAt,
	).Scan(&tc.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return persistence.NewWorkflowError("CreateTestCase", tc.WorkflowID, persistence.ErrWorkflowNotFound)
		}

		return persistence.NewTestCaseError("Create", 0, err)
	}

	return nil
}

func (r *TestCaseRepository) Update(ctx context.Context, tc *models.TestCase) error {
	tc.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE test_cases SET
			workflow_id = $2,
			title = $3,
			execution_order = $4,
			status = $5,
			error_message = $6,
			started_at = $7,
			finished_at = $8,
			updated_at = $9
		WHERE id = $1
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		tc.ID,
		tc.WorkflowID,
		tc.Title,
		tc.ExecutionOrder,
		tc.Status,
		tc.ErrorMessage,
		tc.StartedAt,
		tc.FinishedAt,
		tc.UpdatedAt,
	).Scan(&tc.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewTestCaseError("Update", tc.ID, persistence.ErrTestCaseNotFound)
		}

		return persistence.NewTestCaseError("Update", tc.ID, err)
	}

	return nil
}

func (r *TestCaseRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM test_cases WHERE id = $1`, id)
	if err != nil {
		return persistence.NewTestCaseError("Delete", id, err)
	}

	return affected(result, persistence.NewTestCaseError("Delete", id, persistence.ErrTestCaseNotFound))
}

func scanTestCase(row scanner) (*models.TestCase, error) {
	var tc models.TestCase

	err := row.Scan(
		&tc.ID,
		&tc.WorkflowID,
		&tc.Title,
		&tc.ExecutionOrder,
		&tc.Status,
		&tc.ErrorMessage,
		&tc.StartedAt,
		&tc.FinishedAt,
		&tc.CreatedAt,
		&tc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &tc, nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}
