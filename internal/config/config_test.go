package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"CONFIG_FILE", "APP_NAME", "APP_ENV", "PORT", "LOG_LEVEL", "STORE_DRIVER",
	"DATABASE_URL", "SQLITE_PATH", "MYSQL_DSN", "REDIS_URL",
	"SHUTDOWN_TIMEOUT", "SHUTDOWN_TIMEOUT_SECONDS", "IDEMPOTENCY_TTL", "IDEMPOTENCY_TTL_SECONDS",
	"RETRY_MAX_ATTEMPTS", "RETRY_BASE_DELAY", "CARD_MUTATIONS_PER_MINUTE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, ":8080", cfg.Address())
	assert.True(t, cfg.IsDev())
}

func TestLoadInfersPostgresFromDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/cards")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
}

func TestLoadEnvDurations(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("SHUTDOWN_TIMEOUT", "1h")
	t.Setenv("IDEMPOTENCY_TTL", "90s")
	t.Setenv("RETRY_BASE_DELAY", "25ms")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.ShutdownPeriod, "seconds take precedence")
	assert.Equal(t, 90*time.Second, cfg.IdempotencyTTL)
	assert.Equal(t, 25*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad seconds":       {"SHUTDOWN_TIMEOUT_SECONDS": "soon"},
		"bad attempts":      {"RETRY_MAX_ATTEMPTS": "0"},
		"unknown driver":    {"STORE_DRIVER": "mongo"},
		"mysql without dsn": {"STORE_DRIVER": "mysql"},
		"prod on memory":    {"APP_ENV": "production", "REDIS_URL": "redis://localhost:6379"},
		"prod without redis": {
			"APP_ENV":      "production",
			"STORE_DRIVER": "sqlite",
		},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app_name: cards-test
port: "9090"
store:
  driver: sqlite
  sqlite_path: /tmp/cards.db
retry:
  max_attempts: 4
  base_delay: 5ms
card_mutations_per_minute: 10
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "cards-test", cfg.AppName)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "/tmp/cards.db", cfg.SQLitePath)
	assert.Equal(t, 4, cfg.RetryMaxAttempts)
	assert.Equal(t, 5*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 10, cfg.CardMutationsPerMinute)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}
