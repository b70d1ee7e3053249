package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(values map[string]string) GetEnvFunc {
	return func(key string) string { return values[key] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(fakeEnv(nil))
	require.NoError(t, err)

	assert.Equal(t, DBTypeSQLite, cfg.DBType)
	assert.Equal(t, "./ragstore.db", cfg.DBFilePath)
	assert.True(t, cfg.SQLiteEnableWAL)
	assert.Equal(t, 384, cfg.VectorDimensions)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
}

func TestLoad_PostgresRequiresDatabase(t *testing.T) {
	_, err := Load(fakeEnv(map[string]string{"DB_TYPE": "postgresql"}))
	require.Error(t, err)
}

func TestLoad_PostgresValid(t *testing.T) {
	cfg, err := Load(fakeEnv(map[string]string{
		"DB_TYPE":     "postgresql",
		"PG_DATABASE": "ragstore",
		"PG_HOST":     "db.internal",
		"PG_PORT":     "5433",
	}))
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.PGHost)
	assert.Equal(t, 5433, cfg.PGPort)
}

func TestLoad_RejectsUnknownDBType(t *testing.T) {
	_, err := Load(fakeEnv(map[string]string{"DB_TYPE": "oracle"}))
	require.Error(t, err)
}

func TestLoad_RejectsNonPositiveDimensions(t *testing.T) {
	_, err := Load(fakeEnv(map[string]string{"VECTOR_DIMENSIONS": "0"}))
	require.Error(t, err)
}
