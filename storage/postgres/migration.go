package postgres

import (
	"context"

	"github.com/knowgraph/ragstore/apperr"
)

// ExecMigration runs one migration statement as a single transaction.
func (a *Adapter) ExecMigration(ctx context.Context, statement string) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return apperr.Backend("postgres.ExecMigration", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, statement); err != nil {
		return apperr.Backend("postgres.ExecMigration", err)
	}
	return tx.Commit(ctx)
}

// CurrentSchemaVersion returns the highest applied migration version, or
// 0 if none have been applied.
func (a *Adapter) CurrentSchemaVersion(ctx context.Context) (int, error) {
	var version *int
	if err := a.pool.QueryRow(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, apperr.Backend("postgres.CurrentSchemaVersion", err)
	}
	if version == nil {
		return 0, nil
	}
	return *version, nil
}

// RecordSchemaVersion marks a migration version as applied.
func (a *Adapter) RecordSchemaVersion(ctx context.Context, version int, description string) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO schema_migrations (version, description) VALUES ($1, $2)
		ON CONFLICT (version) DO UPDATE SET description = excluded.description`,
		version, description)
	if err != nil {
		return apperr.Backend("postgres.RecordSchemaVersion", err)
	}
	return nil
}

// RemoveSchemaVersion un-marks a migration version, for rollback.
func (a *Adapter) RemoveSchemaVersion(ctx context.Context, version int) error {
	_, err := a.pool.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, version)
	if err != nil {
		return apperr.Backend("postgres.RemoveSchemaVersion", err)
	}
	return nil
}
