package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// migrationLockID keys the advisory lock held while the schema is migrated.
const migrationLockID = 7_340_112

type migration struct {
	version int
	up      string
}

// migrate applies every migration above the recorded schema version. Each
// migration runs in its own transaction together with its version row, under
// an advisory lock so concurrent API instances apply it once.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, m := range migrations() {
		applied, err := applyMigration(ctx, db, m)
		if err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}

		if applied {
			logger.InfoContext(ctx, "Migration applied", "version", m.version)
		}
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockID); err != nil {
		return false, fmt.Errorf("failed to take migration lock: %w", err)
	}

	var done bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", m.version).Scan(&done); err != nil {
		return false, err
	}

	if done {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, m.up); err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// migrations lists the schema changes in version order.
func migrations() []migration {
	return []migration{
		{version: 1, up: `
			CREATE TABLE workflows (
				id BIGSERIAL PRIMARY KEY,
				title VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(32) NOT NULL DEFAULT 'pending',
				functional_report_id BIGINT NOT NULL DEFAULT 0,
				graph_snapshot JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_report ON workflows(functional_report_id);

			CREATE TABLE test_cases (
				id BIGSERIAL PRIMARY KEY,
				workflow_id BIGINT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				title VARCHAR(255) NOT NULL,
				execution_order INT NOT NULL DEFAULT 1,
				status VARCHAR(32) NOT NULL DEFAULT 'pending',
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_test_cases_workflow ON test_cases(workflow_id, execution_order);

			CREATE TABLE step_tests (
				id BIGSERIAL PRIMARY KEY,
				test_case_id BIGINT NOT NULL REFERENCES test_cases(id) ON DELETE CASCADE,
				title VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				settings JSONB NOT NULL DEFAULT '{}',
				execution_order INT NOT NULL DEFAULT 1,
				status VARCHAR(32) NOT NULL DEFAULT 'pending',
				error_message TEXT NOT NULL DEFAULT '',
				screenshot_path TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_step_tests_test_case ON step_tests(test_case_id, execution_order);
		`},
		{version: 2, up: `
			CREATE TABLE notifications (
				id BIGSERIAL PRIMARY KEY,
				user_id BIGINT NOT NULL,
				message TEXT NOT NULL,
				type VARCHAR(32) NOT NULL DEFAULT 'info',
				is_read BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_notifications_user ON notifications(user_id, created_at DESC);
			CREATE INDEX idx_notifications_unread ON notifications(user_id) WHERE NOT is_read;
		`},
	}
}
