package sqlite

import (
	"context"
	"database/sql"

	"github.com/knowgraph/ragstore/apperr"
)

// ExecMigration runs one migration statement as a single transaction.
func (a *Adapter) ExecMigration(ctx context.Context, statement string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Backend("sqlite.ExecMigration", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, statement); err != nil {
		return apperr.Backend("sqlite.ExecMigration", err)
	}
	return tx.Commit()
}

// CurrentSchemaVersion returns the highest applied migration version, or
// 0 if none have been applied.
func (a *Adapter) CurrentSchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	if err := a.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version); err != nil {
		return 0, apperr.Backend("sqlite.CurrentSchemaVersion", err)
	}
	return int(version.Int64), nil
}

// RecordSchemaVersion marks a migration version as applied.
func (a *Adapter) RecordSchemaVersion(ctx context.Context, version int, description string) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, description) VALUES (?, ?)
		ON CONFLICT(version) DO UPDATE SET description = excluded.description`,
		version, description)
	if err != nil {
		return apperr.Backend("sqlite.RecordSchemaVersion", err)
	}
	return nil
}

// RemoveSchemaVersion un-marks a migration version, for rollback.
func (a *Adapter) RemoveSchemaVersion(ctx context.Context, version int) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	_, err := a.db.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, version)
	if err != nil {
		return apperr.Backend("sqlite.RemoveSchemaVersion", err)
	}
	return nil
}
