// Package postgresql provides PostgreSQL persistence for workflows, test cases, step tests and notifications.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/funcscan/flowdesk/pkg/persistence"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	workflowRepo     *WorkflowRepository
	testCaseRepo     *TestCaseRepository
	stepTestRepo     *StepTestRepository
	notificationRepo *NotificationRepository
}

// NewPersistence connects to PostgreSQL and brings the schema up to date.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	err = migrate(ctx, database, logger.With("module", "migrations"))
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:               database,
		logger:           logger,
		workflowRepo:     &WorkflowRepository{db: database, logger: logger},
		testCaseRepo:     &TestCaseRepository{db: database, logger: logger},
		stepTestRepo:     &StepTestRepository{db: database, logger: logger},
		notificationRepo: &NotificationRepository{db: database, logger: logger},
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository { return p.workflowRepo }

func (p *Persistence) TestCaseRepository() persistence.TestCaseRepository { return p.testCaseRepo }

func (p *Persistence) StepTestRepository() persistence.StepTestRepository { return p.stepTestRepo }

func (p *Persistence) NotificationRepository() persistence.NotificationRepository {
	return p.notificationRepo
}

type scanner interface {
	Scan(dest ...any) error
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

// nullJSON maps an empty document to SQL NULL.
func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}

	return raw
}
