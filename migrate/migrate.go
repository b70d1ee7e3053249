// Package migrate implements the schema-migration manager of §4.2: an
// ordered, versioned sequence of backend-specific DDL statements applied
// through storage.Adapter's raw execution primitive, so the manager
// itself never imports a database driver.
package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/knowgraph/ragstore/apperr"
	"github.com/knowgraph/ragstore/storage"
)

// Backend selects which per-migration SQL variant applies.
type Backend string

const (
	BackendSQLite     Backend = "sqlite"
	BackendPostgreSQL Backend = "postgresql"
)

// Migration is one schema version's forward and backward statements,
// optionally split per backend with a common fallback.
type Migration struct {
	Version     int
	Description string

	UpSQLite, DownSQLite     string
	UpPostgres, DownPostgres string
	UpCommon, DownCommon     string
}

func (m Migration) up(backend Backend) string {
	switch backend {
	case BackendSQLite:
		if m.UpSQLite != "" {
			return m.UpSQLite
		}
	case BackendPostgreSQL:
		if m.UpPostgres != "" {
			return m.UpPostgres
		}
	}
	return m.UpCommon
}

func (m Migration) down(backend Backend) string {
	switch backend {
	case BackendSQLite:
		if m.DownSQLite != "" {
			return m.DownSQLite
		}
	case BackendPostgreSQL:
		if m.DownPostgres != "" {
			return m.DownPostgres
		}
	}
	return m.DownCommon
}

// Manager runs and rolls back migrations against one storage.Adapter.
type Manager struct {
	adapter    storage.Adapter
	backend    Backend
	migrations []Migration
}

// NewManager validates that every migration has an applicable up
// statement for backend, rejecting the set otherwise at construction
// time rather than mid-run.
func NewManager(adapter storage.Adapter, backend Backend, migrations []Migration) (*Manager, error) {
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, m := range sorted {
		if m.up(backend) == "" {
			return nil, apperr.Validation("migrate.NewManager",
				fmt.Errorf("migration %d (%s) has no applicable up statement for backend %q", m.Version, m.Description, backend))
		}
	}

	return &Manager{adapter: adapter, backend: backend, migrations: sorted}, nil
}

// Run applies every migration with version > current schema version, in
// ascending order. A failure aborts the chain and surfaces the offending
// version.
func (mgr *Manager) Run(ctx context.Context) error {
	current, err := mgr.adapter.CurrentSchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("migrate: reading current version: %w", err)
	}

	for _, m := range mgr.migrations {
		if m.Version <= current {
			continue
		}
		if err := mgr.adapter.ExecMigration(ctx, m.up(mgr.backend)); err != nil {
			return apperr.Backend("migrate.Run",
				fmt.Errorf("applying migration %d (%s): %w", m.Version, m.Description, err))
		}
		if err := mgr.adapter.RecordSchemaVersion(ctx, m.Version, m.Description); err != nil {
			return apperr.Backend("migrate.Run",
				fmt.Errorf("recording migration %d: %w", m.Version, err))
		}
	}
	return nil
}

// Rollback runs down migrations in descending order until the schema
// version reaches target. A migration without a down statement for the
// active backend makes rolling back past it an error.
func (mgr *Manager) Rollback(ctx context.Context, target int) error {
	current, err := mgr.adapter.CurrentSchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("migrate: reading current version: %w", err)
	}
	if target >= current {
		return nil
	}

	descending := append([]Migration(nil), mgr.migrations...)
	sort.Slice(descending, func(i, j int) bool { return descending[i].Version > descending[j].Version })

	for _, m := range descending {
		if m.Version <= target || m.Version > current {
			continue
		}
		down := m.down(mgr.backend)
		if down == "" {
			return apperr.Validation("migrate.Rollback",
				fmt.Errorf("migration %d (%s) has no down statement for backend %q", m.Version, m.Description, mgr.backend))
		}
		if err := mgr.adapter.ExecMigration(ctx, down); err != nil {
			return apperr.Backend("migrate.Rollback",
				fmt.Errorf("rolling back migration %d: %w", m.Version, err))
		}
		if err := mgr.adapter.RemoveSchemaVersion(ctx, m.Version); err != nil {
			return apperr.Backend("migrate.Rollback",
				fmt.Errorf("removing migration %d record: %w", m.Version, err))
		}
	}
	return nil
}

// Status reports the current schema version and how many migrations are
// pending.
type Status struct {
	CurrentVersion int
	PendingCount   int
}

// Status computes the current schema version and pending migration count.
func (mgr *Manager) Status(ctx context.Context) (Status, error) {
	current, err := mgr.adapter.CurrentSchemaVersion(ctx)
	if err != nil {
		return Status{}, err
	}
	pending := 0
	for _, m := range mgr.migrations {
		if m.Version > current {
			pending++
		}
	}
	return Status{CurrentVersion: current, PendingCount: pending}, nil
}
