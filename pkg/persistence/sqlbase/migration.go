// Package sqlbase holds the SQL plumbing shared by relational stores.
package sqlbase

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

var ErrDuplicateMigration = errors.New("duplicate migration version")

// Migration is one forward-only schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrator applies pending migrations in version order, each inside its own transaction.
type Migrator struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
}

func NewMigrator(logger *slog.Logger, db *sql.DB, migrations []Migration) (*Migrator, error) {
	sorted := slices.SortedFunc(slices.Values(migrations), func(a, b Migration) int {
		return cmp.Compare(a.Version, b.Version)
	})

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Version == sorted[i-1].Version {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateMigration, sorted[i].Version)
		}
	}

	return &Migrator{
		db:         db,
		logger:     logger.With("module", "migrator"),
		migrations: sorted,
	}, nil
}

// LatestVersion is the highest version known to the migrator, 0 when there are none.
func (m *Migrator) LatestVersion() int {
	if len(m.migrations) == 0 {
		return 0
	}

	return m.migrations[len(m.migrations)-1].Version
}

// Migrate brings the schema up to LatestVersion.
func (m *Migrator) Migrate(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int

	err = m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	pending := slices.DeleteFunc(slices.Clone(m.migrations), func(migration Migration) bool {
		return migration.Version <= current
	})

	m.logger.InfoContext(ctx, "Checking schema", "version", current, "pending", len(pending))

	for _, migration := range pending {
		err := m.apply(ctx, migration)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *Migrator) apply(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", migration.Version, err)
	}

	_, err = tx.ExecContext(ctx, migration.SQL)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Description, err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description)
	if err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("migration %d: record: %w", migration.Version, err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("migration %d: commit: %w", migration.Version, err)
	}

	m.logger.InfoContext(ctx, "Applied migration", "version", migration.Version, "description", migration.Description)

	return nil
}
