// Package config loads the environment-selected configuration of §6:
// which storage backend to run, where its data lives, and the common
// knobs (vector dimension, query timeout, SQL logging). Loading itself
// reads the process environment, but the decision of *where* that
// environment comes from (flags, a secrets manager, an orchestrator) is
// an external concern.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DBType selects the storage backend.
type DBType string

const (
	DBTypeSQLite     DBType = "sqlite"
	DBTypePostgreSQL DBType = "postgresql"
)

// Config is the fully validated, defaulted configuration for one
// process lifetime.
type Config struct {
	DBType DBType

	// Embedded backend.
	DBFilePath      string
	SQLiteEnableWAL bool

	// Server backend.
	PGHost     string
	PGPort     int
	PGDatabase string
	PGUsername string
	PGPassword string
	PGSSL      string // "true", "false", or a JSON object string

	PoolMin             int
	PoolMax             int
	PoolIdleTimeout     time.Duration
	PoolConnTimeout     time.Duration

	// Common.
	VectorDimensions int
	QueryTimeout     time.Duration
	EnableDBLogging  bool
}

// GetEnvFunc mirrors os.Getenv's signature so Load is testable without
// touching the real process environment.
type GetEnvFunc func(key string) string

// LoadDotEnv pre-populates the process environment from a .env file if
// one is present; a missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !strings.Contains(err.Error(), "no such file") {
		return fmt.Errorf("config: loading .env: %w", err)
	}
	return nil
}

// Load builds a Config from environment variables read through getenv,
// applying the defaults of §6 and validating ranges.
func Load(getenv GetEnvFunc) (Config, error) {
	cfg := Config{
		DBType:          DBType(orDefault(getenv("DB_TYPE"), string(DBTypeSQLite))),
		DBFilePath:      orDefault(getenv("DB_FILE_PATH"), "./ragstore.db"),
		SQLiteEnableWAL: boolOrDefault(getenv("SQLITE_ENABLE_WAL"), true),

		PGHost:     orDefault(getenv("PG_HOST"), "localhost"),
		PGDatabase: getenv("PG_DATABASE"),
		PGUsername: getenv("PG_USERNAME"),
		PGPassword: getenv("PG_PASSWORD"),
		PGSSL:      orDefault(getenv("PG_SSL"), "false"),

		VectorDimensions: intOrDefault(getenv("VECTOR_DIMENSIONS"), 384),
		EnableDBLogging:  boolOrDefault(getenv("ENABLE_DB_LOGGING"), false),
	}

	var err error
	cfg.PGPort, err = intOrDefaultErr(getenv("PG_PORT"), 5432)
	if err != nil {
		return Config{}, fmt.Errorf("config: PG_PORT: %w", err)
	}

	queryTimeoutMs := intOrDefault(getenv("QUERY_TIMEOUT"), 30000)
	cfg.QueryTimeout = time.Duration(queryTimeoutMs) * time.Millisecond

	cfg.PoolMin = intOrDefault(getenv("PG_POOL_MIN"), 2)
	cfg.PoolMax = intOrDefault(getenv("PG_POOL_MAX"), 10)
	cfg.PoolIdleTimeout = time.Duration(intOrDefault(getenv("PG_POOL_IDLE_TIMEOUT_MS"), 60000)) * time.Millisecond
	cfg.PoolConnTimeout = time.Duration(intOrDefault(getenv("PG_POOL_CONNECTION_TIMEOUT_MS"), 5000)) * time.Millisecond

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the rest of the system cannot run
// with, instead of failing later with an opaque backend error.
func (c Config) Validate() error {
	switch c.DBType {
	case DBTypeSQLite, DBTypePostgreSQL:
	default:
		return fmt.Errorf("config: DB_TYPE must be %q or %q, got %q", DBTypeSQLite, DBTypePostgreSQL, c.DBType)
	}
	if c.VectorDimensions <= 0 {
		return fmt.Errorf("config: VECTOR_DIMENSIONS must be positive, got %d", c.VectorDimensions)
	}
	if c.DBType == DBTypePostgreSQL {
		if c.PGDatabase == "" {
			return fmt.Errorf("config: PG_DATABASE is required for postgresql backend")
		}
		if c.PoolMin < 0 || c.PoolMax < c.PoolMin {
			return fmt.Errorf("config: pool bounds invalid (min=%d max=%d)", c.PoolMin, c.PoolMax)
		}
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func boolOrDefault(v string, def bool) bool {
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func intOrDefault(v string, def int) int {
	n, err := intOrDefaultErr(v, def)
	if err != nil {
		return def
	}
	return n
}

func intOrDefaultErr(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
