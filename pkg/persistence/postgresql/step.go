package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
)

const stepTestColumns = `
	id
  , test_case_id
  , title
  , description
  , settings
  , execution_order
  , status
  , error_message
  , screenshot_path
  , started_at
  , finished_at
`

// StepTestRepository handles step test database operations.
type StepTestRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *StepTestRepository) GetByID(ctx context.Context, id int64) (*models.StepTest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+stepTestColumns+` FROM step_tests WHERE id = $1`, id)

	step, err := scanStepTest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStepTestError("GetByID", id, persistence.ErrStepTestNotFound)
		}

		return nil, persistence.NewStepTestError("GetByID", id, err)
	}

	return step, nil
}

func (r *StepTestRepository) ByTestCase(ctx context.Context, testCaseID int64) ([]models.StepTest, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+stepTestColumns+` FROM step_tests WHERE test_case_id = $1 ORDER BY execution_order, id`, testCaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step tests: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	out := make([]models.StepTest, 0)

	for rows.Next() {
		step, err := scanStepTest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step test: %w", err)
		}

		out = append(out, *step)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step tests: %w", err)
	}

	return out, nil
}

func (r *StepTestRepository) Create(ctx context.Context, step *models.StepTest) error {
	if step.Status == "" {
		step.Status = models.StatusPending
	}

	settings, err := json.Marshal(step.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO step_tests (test_case_id, title, description, settings, execution_order, status,
			error_message, screenshot_path, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	err = r.db.QueryRowContext(ctx, query,
		step.TestCaseID,
		step.Title,
		step.Description,
		settings,
		step.ExecutionOrder,
		step.Status,
		step.ErrorMessage,
		step.ScreenshotPath,
		step.StartedAt,
		step.FinishedAt,
	).Scan(&step.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return persistence.NewTestCaseError("CreateStepTest", step.TestCaseID, persistence.ErrTestCaseNotFound)
		}

		return persistence.NewStepTestError("Create", 0, err)
	}

	return nil
}

func (r *StepTestRepository) Update(ctx context.Context, step *models.StepTest) error {
	settings, err := json.Marshal(step.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		UPDATE step_tests SET
			test_case_id = $2,
			title = $3,
			description = $4,
			settings = $5,
			execution_order = $6,
			status = $7,
			error_message = $8,
			screenshot_path = $9,
			started_at = $10,
			finished_at = $11
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		step.ID,
		step.TestCaseID,
		step.Title,
		step.Description,
		settings,
		step.ExecutionOrder,
		step.Status,
		step.ErrorMessage,
		step.ScreenshotPath,
		step.StartedAt,
		step.FinishedAt,
	)
	if err != nil {
		return persistence.NewStepTestError("Update", step.ID, err)
	}

	return affected(result, persistence.NewStepTestError("Update", step.ID, persistence.ErrStepTestNotFound))
}

func (r *StepTestRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM step_tests WHERE id = $1`, id)
	if err != nil {
		return persistence.NewStepTestError("Delete", id, err)
	}

	return affected(result, persistence.NewStepTestError("Delete", id, persistence.ErrStepTestNotFound))
}

func scanStepTest(row scanner) (*models.StepTest, error) {
	var (
		step     models.StepTest
		settings []byte
	)

	err := row.Scan(
		&step.ID,
		&step.TestCaseID,
		&step.Title,
		&step.Description,
		&settings,
		&step.ExecutionOrder,
		&step.Status,
		&step.ErrorMessage,
		&step.ScreenshotPath,
		&step.StartedAt,
		&step.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &step.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	return &step, nil
}
