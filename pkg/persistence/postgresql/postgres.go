// Package postgresql provides PostgreSQL persistence for execution records, healing history and alert rules.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/flowmedic/pkg/persistence"
	"github.com/dukex/flowmedic/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db         *sql.DB
	logger     *slog.Logger
	executions *ExecutionRepository
	healing    *HealingRepository
	alertRules *AlertRuleRepository
}

// NewPersistence connects, migrates and returns the PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrator, err := sqlbase.NewMigrator(logger, database, migrations())
	if err != nil {
		_ = database.Close()

		return nil, err
	}

	err = migrator.Migrate(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return NewWithDB(database, logger), nil
}

// NewWithDB wraps an already migrated database handle.
func NewWithDB(db *sql.DB, logger *slog.Logger) *Persistence {
	logger = logger.With("module", "postgresql")

	return &Persistence{
		db:         db,
		logger:     logger,
		executions: &ExecutionRepository{db: db, logger: logger},
		healing:    &HealingRepository{db: db, logger: logger},
		alertRules: &AlertRuleRepository{db: db, logger: logger},
	}
}

func (p *Persistence) Executions() persistence.ExecutionRepository {
	return p.executions
}

func (p *Persistence) HealingHistory() persistence.HealingRepository {
	return p.healing
}

func (p *Persistence) AlertRules() persistence.AlertRuleRepository {
	return p.alertRules
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

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if closeErr := rows.Close(); closeErr != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
	}
}
