// Command ragstore wires the storage backend, migration manager, and
// operation Runtime together and keeps the process alive until SIGINT,
// per §6's exit behavior. It defines no RPC transport of its own: that
// framing is left to whatever process embeds api.Dispatch.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/knowgraph/ragstore/api"
	"github.com/knowgraph/ragstore/config"
	"github.com/knowgraph/ragstore/coordinator"
	"github.com/knowgraph/ragstore/embedding"
	"github.com/knowgraph/ragstore/graph"
	"github.com/knowgraph/ragstore/helper"
	"github.com/knowgraph/ragstore/migrate"
	"github.com/knowgraph/ragstore/storage"
	"github.com/knowgraph/ragstore/storage/postgres"
	"github.com/knowgraph/ragstore/storage/sqlite"
)

func main() {
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{Level: slog.LevelInfo},
	}))

	if err := run(logger); err != nil {
		logger.Error("ragstore: fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embedder := embedding.New(nil, cfg.VectorDimensions) // Oracle wiring is external to this repo.

	adapter, backend, err := openAdapter(ctx, cfg, embedder, logger)
	if err != nil {
		return err
	}
	defer adapter.Close(context.Background())

	mgr, err := migrate.NewManager(adapter, backend, baselineMigrations())
	if err != nil {
		return err
	}
	if err := mgr.Run(ctx); err != nil {
		return err
	}

	rt := &api.Runtime{
		Adapter:      adapter,
		Coordinator:  coordinator.New(adapter, logger),
		Graph:        graph.New(adapter),
		Migrations:   mgr,
		Logger:       logger,
		QueryTimeout: cfg.QueryTimeout,
	}

	status, err := rt.Migrations.Status(ctx)
	if err != nil {
		return err
	}
	logger.Info("ragstore: ready", "backend", backend, "schemaVersion", status.CurrentVersion, "pendingMigrations", status.PendingCount)
	<-ctx.Done()
	logger.Info("ragstore: shutting down")
	return nil
}

func openAdapter(ctx context.Context, cfg config.Config, embedder *embedding.Embedder, logger *slog.Logger) (storage.Adapter, migrate.Backend, error) {
	switch cfg.DBType {
	case config.DBTypePostgreSQL:
		a, err := postgres.Open(ctx, cfg, embedder, logger)
		return a, migrate.BackendPostgreSQL, err
	default:
		a, err := sqlite.Open(cfg, embedder, logger)
		return a, migrate.BackendSQLite, err
	}
}

// baselineMigrations registers version 1 as already satisfied by the
// idempotent CREATE TABLE IF NOT EXISTS schema each backend applies at
// Open; later schema changes are added here as version 2, 3, ...
func baselineMigrations() []migrate.Migration {
	return []migrate.Migration{
		{Version: 1, Description: "initial schema", UpCommon: "SELECT 1", DownCommon: "SELECT 1"},
	}
}
