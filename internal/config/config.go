package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAppName         = "CardLedger"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultSQLitePath      = "cardledger.db"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 10 * time.Millisecond
	defaultCardMutations   = 60
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	configFileEnvVar       = "CONFIG_FILE"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
)

// Config captures application runtime configuration. Values come from an
// optional YAML file named by CONFIG_FILE, then environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	StoreDriver    string
	DatabaseURL    string
	SQLitePath     string
	MySQLDSN       string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	RetryMaxAttempts       int
	RetryBaseDelay         time.Duration
	CardMutationsPerMinute int
}

// fileConfig mirrors Config for the YAML file. Durations use Go syntax ("250ms").
type fileConfig struct {
	AppName     string `yaml:"app_name"`
	AppEnv      string `yaml:"app_env"`
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
	Store       struct {
		Driver      string `yaml:"driver"`
		DatabaseURL string `yaml:"database_url"`
		SQLitePath  string `yaml:"sqlite_path"`
		MySQLDSN    string `yaml:"mysql_dsn"`
	} `yaml:"store"`
	RedisURL        string `yaml:"redis_url"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	IdempotencyTTL  string `yaml:"idempotency_ttl"`
	Retry           struct {
		MaxAttempts int    `yaml:"max_attempts"`
		BaseDelay   string `yaml:"base_delay"`
	} `yaml:"retry"`
	CardMutationsPerMinute int `yaml:"card_mutations_per_minute"`
}

// Load reads configuration values and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:                defaultAppName,
		AppEnv:                 defaultAppEnv,
		Port:                   defaultPort,
		LogLevel:               defaultLogLevel,
		SQLitePath:             defaultSQLitePath,
		ShutdownPeriod:         defaultShutdownDelay,
		IdempotencyTTL:         defaultIdempotencyTTL,
		RetryMaxAttempts:       defaultRetryAttempts,
		RetryBaseDelay:         defaultRetryBaseDelay,
		CardMutationsPerMinute: defaultCardMutations,
	}

	if path := os.Getenv(configFileEnvVar); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.AppName = getEnv("APP_NAME", cfg.AppName)
	cfg.AppEnv = getEnv("APP_ENV", cfg.AppEnv)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", cfg.LogLevel))
	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", cfg.StoreDriver))
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.MySQLDSN = getEnv("MYSQL_DSN", cfg.MySQLDSN)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.RetryBaseDelay, err = durationFromEnv("", "RETRY_BASE_DELAY", cfg.RetryBaseDelay); err != nil {
		return Config{}, err
	}
	if cfg.RetryMaxAttempts, err = intFromEnv("RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.CardMutationsPerMinute, err = intFromEnv("CARD_MUTATIONS_PER_MINUTE", cfg.CardMutationsPerMinute); err != nil {
		return Config{}, err
	}

	if cfg.StoreDriver == "" {
		cfg.StoreDriver = DriverMemory
		if cfg.DatabaseURL != "" {
			cfg.StoreDriver = DriverPostgres
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", configFileEnvVar, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	setString(&c.AppName, fc.AppName)
	setString(&c.AppEnv, fc.AppEnv)
	setString(&c.Port, fc.Port)
	setString(&c.LogLevel, strings.ToLower(fc.LogLevel))
	setString(&c.StoreDriver, strings.ToLower(fc.Store.Driver))
	setString(&c.DatabaseURL, fc.Store.DatabaseURL)
	setString(&c.SQLitePath, fc.Store.SQLitePath)
	setString(&c.MySQLDSN, fc.Store.MySQLDSN)
	setString(&c.RedisURL, fc.RedisURL)

	for _, d := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"shutdown_timeout", fc.ShutdownTimeout, &c.ShutdownPeriod},
		{"idempotency_ttl", fc.IdempotencyTTL, &c.IdempotencyTTL},
		{"retry.base_delay", fc.Retry.BaseDelay, &c.RetryBaseDelay},
	} {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s in %s: %w", d.name, path, err)
		}
		*d.dst = parsed
	}
	if fc.Retry.MaxAttempts != 0 {
		c.RetryMaxAttempts = fc.Retry.MaxAttempts
	}
	if fc.CardMutationsPerMinute != 0 {
		c.CardMutationsPerMinute = fc.CardMutationsPerMinute
	}
	return nil
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORE_DRIVER=%s", c.StoreDriver)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH must be set when STORE_DRIVER=%s", c.StoreDriver)
		}
	case DriverMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN must be set when STORE_DRIVER=%s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if !c.IsDev() {
		if c.StoreDriver == DriverMemory {
			return fmt.Errorf("a persistent STORE_DRIVER is required when APP_ENV=%s", c.AppEnv)
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
		}
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("RETRY_BASE_DELAY must be positive")
	}
	return nil
}

// IsDev reports whether the service runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// durationFromEnv prefers a whole number of seconds, then a Go duration string.
func durationFromEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
