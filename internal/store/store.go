// Package store opens the card and ledger backend selected by configuration.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/congo-pay/cardledger/internal/card"
	"github.com/congo-pay/cardledger/internal/config"
	"github.com/congo-pay/cardledger/internal/infra"
	"github.com/congo-pay/cardledger/internal/ledger"
	"github.com/congo-pay/cardledger/internal/store/mysql"
	"github.com/congo-pay/cardledger/internal/store/sqlite"
)

// Backend bundles the stores the card service runs on.
type Backend struct {
	Driver     string
	Cards      card.Repository
	Ledger     ledger.Ledger
	Transactor card.Transactor

	ping  func(context.Context) error
	close func() error
}

// Ping checks the underlying database. In-memory backends always succeed.
func (b *Backend) Ping(ctx context.Context) error {
	if b == nil || b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// Close releases database connections.
func (b *Backend) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

// Open connects to the backend named by cfg.StoreDriver and prepares its schema.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory, "":
		return NewMemory(), nil

	case config.DriverPostgres:
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := card.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &Backend{
			Driver:     config.DriverPostgres,
			Cards:      card.NewPostgresRepository(pool),
			Ledger:     ledger.NewPostgresLedger(pool),
			Transactor: card.NewPostgresTransactor(pool),
			ping:       pool.Ping,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite store opened", slog.String("path", cfg.SQLitePath))
		return &Backend{
			Driver:     config.DriverSQLite,
			Cards:      s,
			Ledger:     s,
			Transactor: s,
			ping:       s.Ping,
			close:      s.Close,
		}, nil

	case config.DriverMySQL:
		db, err := infra.NewMySQL(ctx, infra.MySQLConfig{DSN: cfg.MySQLDSN, LogLevel: cfg.LogLevel})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		s, err := mysql.New(ctx, db)
		if err != nil {
			sqlDB.Close()
			return nil, err
		}
		return &Backend{
			Driver:     config.DriverMySQL,
			Cards:      s,
			Ledger:     s,
			Transactor: s,
			ping:       s.Ping,
			close:      sqlDB.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// NewMemory returns process-local stores. Attempts are not atomic: a ledger
// failure after a committed write is flagged for reconciliation.
func NewMemory() *Backend {
	cards := card.NewMemoryRepository()
	entries := ledger.NewInMemory()
	return &Backend{
		Driver:     config.DriverMemory,
		Cards:      cards,
		Ledger:     entries,
		Transactor: card.NewSequentialTransactor(cards, entries),
	}
}
