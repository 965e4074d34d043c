package infra

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MySQLConfig holds connection pool settings for the MySQL backend.
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// LogLevel is one of silent, error, warn or info.
	LogLevel string
}

// NewMySQL opens a gorm handle and verifies connectivity.
func NewMySQL(ctx context.Context, cfg MySQLConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql dsn is required")
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		// Attempts open their own transactions.
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 newGormLogger(cfg.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

func newGormLogger(level string) logger.Interface {
	var lvl logger.LogLevel
	switch level {
	case "info", "debug":
		lvl = logger.Info
	case "warn":
		lvl = logger.Warn
	case "silent":
		lvl = logger.Silent
	default:
		lvl = logger.Error
	}
	return logger.Default.LogMode(lvl)
}
