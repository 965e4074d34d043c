// Package sqlite is an embedded card and ledger backend built on SQLite.
//
// A single Store implements card.Repository, ledger.Ledger and card.Transactor.
// Every mutation attempt runs in one SQLite transaction, so the versioned
// balance write and its ledger entry commit or roll back together.
//
// The pool is limited to one connection: ":memory:" databases are private to
// a connection and SQLite allows a single writer anyway. Concurrent callers
// queue on the pool; the version column still decides who wins.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardledger/internal/card"
	"github.com/congo-pay/cardledger/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS cards (
	id TEXT PRIMARY KEY,
	cardholder_name TEXT NOT NULL,
	balance TEXT NOT NULL,
	initial_balance TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS card_transactions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	card_id TEXT NOT NULL REFERENCES cards (id),
	type TEXT NOT NULL CHECK (type IN ('SPEND', 'TOPUP')),
	amount TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_card_transactions_card_seq
	ON card_transactions (card_id, seq);
`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements the card and ledger stores on top of SQLite.
type Store struct {
	queries
	db *sql.DB
}

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for a throwaway database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{queries: queries{q: db}, db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithinTx runs fn in a database transaction and commits when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn card.TxFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback() // nolint:errcheck

	view := queries{q: tx}
	if err := fn(ctx, view, view); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapError(err))
	}
	return nil
}

// queries holds the statements shared by the pool and transaction views.
type queries struct {
	q querier
}

const cardColumns = `id, cardholder_name, balance, initial_balance, version, created_at`

func (v queries) Create(ctx context.Context, c card.Card) (card.Card, error) {
	c.Version = 1
	_, err := v.q.ExecContext(ctx, `INSERT INTO cards (`+cardColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.CardholderName, c.Balance.String(), c.InitialBalance.String(), c.Version,
		c.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return card.Card{}, fmt.Errorf("failed to insert card: %w", mapError(err))
	}
	return c, nil
}

func (v queries) Get(ctx context.Context, id uuid.UUID) (card.Card, error) {
	row := v.q.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id.String())
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return card.Card{}, card.ErrCardNotFound
	}
	if err != nil {
		return card.Card{}, mapError(err)
	}
	return c, nil
}

func (v queries) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, balance decimal.Decimal) (card.Card, error) {
	res, err := v.q.ExecContext(ctx, `UPDATE cards SET balance = ?, version = version + 1
		WHERE id = ? AND version = ?`, balance.String(), id.String(), expectedVersion)
	if err != nil {
		return card.Card{}, fmt.Errorf("failed to update card: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return card.Card{}, err
	}
	if n == 0 {
		return card.Card{}, card.ErrVersionConflict
	}
	return v.Get(ctx, id)
}

func (v queries) List(ctx context.Context) ([]card.Card, error) {
	rows, err := v.q.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", mapError(err))
	}
	defer rows.Close()

	var out []card.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (v queries) Insert(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return ledger.Transaction{}, err
	}
	_, err := v.q.ExecContext(ctx, `INSERT INTO card_transactions (id, card_id, type, amount, created_at)
		VALUES (?, ?, ?, ?, ?)`, tx.ID.String(), tx.CardID.String(), string(tx.Type), tx.Amount.String(),
		tx.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.Transaction{}, ledger.ErrDuplicateTransaction
		}
		return ledger.Transaction{}, fmt.Errorf("failed to append transaction: %w", mapError(err))
	}
	return tx, nil
}

func (v queries) ByCard(ctx context.Context, cardID uuid.UUID) ([]ledger.Transaction, error) {
	rows, err := v.q.QueryContext(ctx, `SELECT id, card_id, type, amount, created_at
		FROM card_transactions WHERE card_id = ? ORDER BY seq`, cardID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", mapError(err))
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(row scanner) (card.Card, error) {
	var (
		c                         card.Card
		id, balance, initial, ts string
	)
	if err := row.Scan(&id, &c.CardholderName, &balance, &initial, &c.Version, &ts); err != nil {
		return card.Card{}, err
	}
	var err error
	if c.ID, err = uuid.Parse(id); err != nil {
		return card.Card{}, fmt.Errorf("failed to parse card id %q: %w", id, err)
	}
	if c.Balance, err = decimal.NewFromString(balance); err != nil {
		return card.Card{}, fmt.Errorf("failed to parse balance %q: %w", balance, err)
	}
	if c.InitialBalance, err = decimal.NewFromString(initial); err != nil {
		return card.Card{}, fmt.Errorf("failed to parse initial balance %q: %w", initial, err)
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return card.Card{}, fmt.Errorf("failed to parse created_at %q: %w", ts, err)
	}
	return c, nil
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		tx                         ledger.Transaction
		id, cardID, typ, amount, ts string
	)
	if err := row.Scan(&id, &cardID, &typ, &amount, &ts); err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to scan transaction: %w", err)
	}
	var err error
	if tx.ID, err = uuid.Parse(id); err != nil {
		return ledger.Transaction{}, err
	}
	if tx.CardID, err = uuid.Parse(cardID); err != nil {
		return ledger.Transaction{}, err
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to parse amount %q: %w", amount, err)
	}
	if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return ledger.Transaction{}, err
	}
	tx.Type = ledger.Type(typ)
	return tx, nil
}

// mapError turns lock contention into a version conflict so the engine
// retries the attempt.
func mapError(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %s", card.ErrVersionConflict, se.Error())
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
