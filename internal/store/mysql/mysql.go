// Package mysql stores cards and their ledger in MySQL through gorm.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/congo-pay/cardledger/internal/card"
	"github.com/congo-pay/cardledger/internal/ledger"
)

const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

type cardRow struct {
	ID             string          `gorm:"primaryKey;type:char(36)"`
	CardholderName string          `gorm:"type:varchar(255);not null"`
	Balance        decimal.Decimal `gorm:"type:decimal(38,8);not null"`
	InitialBalance decimal.Decimal `gorm:"type:decimal(38,8);not null"`
	Version        int64           `gorm:"not null;default:1"`
	CreatedAt      time.Time       `gorm:"precision:6;not null"`
}

func (*cardRow) TableName() string {
	return "cards"
}

type transactionRow struct {
	Seq       uint64          `gorm:"primaryKey;autoIncrement"`
	ID        string          `gorm:"type:char(36);uniqueIndex"`
	CardID    string          `gorm:"type:char(36);not null;index:idx_card_transactions_card_seq,priority:1"`
	Type      string          `gorm:"type:varchar(8);not null"`
	Amount    decimal.Decimal `gorm:"type:decimal(38,8);not null"`
	CreatedAt time.Time       `gorm:"precision:6;not null"`
}

func (*transactionRow) TableName() string {
	return "card_transactions"
}

// Store implements card.Repository, ledger.Ledger and card.Transactor.
type Store struct {
	queries
}

// New migrates the schema and returns a store over db.
func New(ctx context.Context, db *gorm.DB) (*Store, error) {
	if err := db.WithContext(ctx).AutoMigrate(&cardRow{}, &transactionRow{}); err != nil {
		return nil, fmt.Errorf("migrate card schema: %w", err)
	}
	return &Store{queries: queries{db: db}}, nil
}

// WithinTx runs fn in a gorm transaction.
func (s *Store) WithinTx(ctx context.Context, fn card.TxFunc) error {
	return mapError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		view := queries{db: tx}
		return fn(ctx, view, view)
	}))
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type queries struct {
	db *gorm.DB
}

func (q queries) Create(ctx context.Context, c card.Card) (card.Card, error) {
	row := toCardRow(c)
	row.Version = 1
	if err := q.db.WithContext(ctx).Create(&row).Error; err != nil {
		return card.Card{}, fmt.Errorf("insert card: %w", mapError(err))
	}
	return fromCardRow(row)
}

func (q queries) Get(ctx context.Context, id uuid.UUID) (card.Card, error) {
	var row cardRow
	err := q.db.WithContext(ctx).Where("id = ?", id.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return card.Card{}, card.ErrCardNotFound
	}
	if err != nil {
		return card.Card{}, mapError(err)
	}
	return fromCardRow(row)
}

func (q queries) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, balance decimal.Decimal) (card.Card, error) {
	res := q.db.WithContext(ctx).Model(&cardRow{}).
		Where("id = ? AND version = ?", id.String(), expectedVersion).
		Updates(map[string]any{
			"balance": balance,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return card.Card{}, fmt.Errorf("update card: %w", mapError(res.Error))
	}
	if res.RowsAffected == 0 {
		return card.Card{}, card.ErrVersionConflict
	}
	return q.Get(ctx, id)
}

func (q queries) List(ctx context.Context) ([]card.Card, error) {
	var rows []cardRow
	if err := q.db.WithContext(ctx).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]card.Card, 0, len(rows))
	for _, row := range rows {
		c, err := fromCardRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (q queries) Insert(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return ledger.Transaction{}, err
	}
	row := transactionRow{
		ID:        tx.ID.String(),
		CardID:    tx.CardID.String(),
		Type:      string(tx.Type),
		Amount:    tx.Amount,
		CreatedAt: tx.CreatedAt.UTC(),
	}
	if err := q.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ledger.Transaction{}, ledger.ErrDuplicateTransaction
		}
		return ledger.Transaction{}, fmt.Errorf("insert ledger entry: %w", mapError(err))
	}
	return tx, nil
}

func (q queries) ByCard(ctx context.Context, cardID uuid.UUID) ([]ledger.Transaction, error) {
	var rows []transactionRow
	if err := q.db.WithContext(ctx).Where("card_id = ?", cardID.String()).Order("seq").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := fromTransactionRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func toCardRow(c card.Card) cardRow {
	return cardRow{
		ID:             c.ID.String(),
		CardholderName: c.CardholderName,
		Balance:        c.Balance,
		InitialBalance: c.InitialBalance,
		Version:        c.Version,
		CreatedAt:      c.CreatedAt.UTC(),
	}
}

func fromCardRow(row cardRow) (card.Card, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return card.Card{}, fmt.Errorf("parse card id %q: %w", row.ID, err)
	}
	return card.Card{
		ID:             id,
		CardholderName: row.CardholderName,
		Balance:        row.Balance,
		InitialBalance: row.InitialBalance,
		Version:        row.Version,
		CreatedAt:      row.CreatedAt.UTC(),
	}, nil
}

func fromTransactionRow(row transactionRow) (ledger.Transaction, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("parse transaction id %q: %w", row.ID, err)
	}
	cardID, err := uuid.Parse(row.CardID)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("parse card id %q: %w", row.CardID, err)
	}
	return ledger.Transaction{
		ID:        id,
		CardID:    cardID,
		Type:      ledger.Type(row.Type),
		Amount:    row.Amount,
		CreatedAt: row.CreatedAt.UTC(),
	}, nil
}

// mapError reports deadlocks and lock wait timeouts as version conflicts.
func mapError(err error) error {
	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == errDeadlock || myErr.Number == errLockWaitTimeout) {
		return fmt.Errorf("%w: %s", card.ErrVersionConflict, myErr.Message)
	}
	return err
}
