// Package postgres is the server storage backend: a pgx connection pool
// against a Postgres database with the pgvector extension, halfvec/HNSW
// ANN indexing, and explicit BEGIN/COMMIT/ROLLBACK transactions, per §5's
// server-backend resource model.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/knowgraph/ragstore/config"
	"github.com/knowgraph/ragstore/embedding"
	"github.com/knowgraph/ragstore/storage"
)

var _ storage.Adapter = (*Adapter)(nil)

// Adapter implements storage.Adapter against a Postgres/pgvector
// database reached through a pgxpool.Pool.
type Adapter struct {
	pool     *pgxpool.Pool
	embedder *embedding.Embedder
	dims     int
	logger   *slog.Logger
	cancel   context.CancelFunc
}

// Open builds the pool per the §5 floor ({min, max, idle_timeout,
// connection_timeout}), registers pgvector's wire types on every new
// connection, applies the schema, and starts a background health
// monitor that pings the pool every 30s with exponential backoff on
// failure.
func Open(ctx context.Context, cfg config.Config, embedder *embedding.Embedder, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		cfg.PGUsername, cfg.PGPassword, cfg.PGHost, cfg.PGPort, cfg.PGDatabase)
	if cfg.PGSSL == "" || cfg.PGSSL == "false" {
		dsn += "?sslmode=disable"
	} else {
		dsn += "?sslmode=require"
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing connection config: %w", err)
	}
	poolCfg.MinConns = int32(cfg.PoolMin)
	poolCfg.MaxConns = int32(cfg.PoolMax)
	poolCfg.MaxConnIdleTime = cfg.PoolIdleTimeout
	poolCfg.ConnConfig.ConnectTimeout = cfg.PoolConnTimeout
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL(cfg.VectorDimensions)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: applying schema: %w", err)
	}

	healthCtx, cancel := context.WithCancel(context.Background())
	a := &Adapter{pool: pool, embedder: embedder, dims: cfg.VectorDimensions, logger: logger, cancel: cancel}
	go a.monitorHealth(healthCtx)

	logger.Info("postgres: opened server store", "host", cfg.PGHost, "database", cfg.PGDatabase, "dims", cfg.VectorDimensions)
	return a, nil
}

// Close stops the health monitor and closes the pool.
func (a *Adapter) Close(ctx context.Context) error {
	a.cancel()
	a.pool.Close()
	return nil
}
