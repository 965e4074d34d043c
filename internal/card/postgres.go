package card

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"
    "github.com/jackc/pgx/v5"
    "github.com/jackc/pgx/v5/pgconn"
    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/shopspring/decimal"

    "github.com/congo-pay/cardledger/internal/infra"
    "github.com/congo-pay/cardledger/internal/ledger"
)

const (
    pgSerializationFailure = "40001"
    pgDeadlockDetected     = "40P01"
)

const schema = `
CREATE TABLE IF NOT EXISTS cards (
    id UUID PRIMARY KEY,
    cardholder_name TEXT NOT NULL,
    balance NUMERIC NOT NULL CHECK (balance >= 0),
    initial_balance NUMERIC NOT NULL CHECK (initial_balance >= 0),
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS card_transactions (
    seq BIGSERIAL,
    id UUID PRIMARY KEY,
    card_id UUID NOT NULL REFERENCES cards (id),
    type TEXT NOT NULL CHECK (type IN ('SPEND', 'TOPUP')),
    amount NUMERIC NOT NULL CHECK (amount > 0),
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_card_transactions_card_seq
    ON card_transactions (card_id, seq);
`

// Migrate creates the cards and card_transactions tables if they are missing.
func Migrate(ctx context.Context, db infra.DBTX) error {
    if _, err := db.Exec(ctx, schema); err != nil {
        return fmt.Errorf("migrate card schema: %w", err)
    }
    return nil
}

// PostgresRepository stores cards in PostgreSQL.
type PostgresRepository struct {
    db infra.DBTX
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db infra.DBTX) *PostgresRepository {
    return &PostgresRepository{db: db}
}

const cardColumns = `id, cardholder_name, balance::text, initial_balance::text, version, created_at`

// Create inserts a card record at version 1.
func (r *PostgresRepository) Create(ctx context.Context, card Card) (Card, error) {
    row := r.db.QueryRow(ctx, `INSERT INTO cards (id, cardholder_name, balance, initial_balance, version, created_at)
        VALUES ($1, $2, $3::numeric, $4::numeric, 1, $5)
        RETURNING `+cardColumns, card.ID, card.CardholderName, card.Balance.String(), card.InitialBalance.String(), card.CreatedAt.UTC())
    return scanCard(row)
}

// Get fetches a card by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Card, error) {
    row := r.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, id)
    card, err := scanCard(row)
    if errors.Is(err, pgx.ErrNoRows) {
        return Card{}, ErrCardNotFound
    }
    return card, err
}

// CompareAndSwap updates the balance guarded by the version read earlier.
func (r *PostgresRepository) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, balance decimal.Decimal) (Card, error) {
    row := r.db.QueryRow(ctx, `UPDATE cards SET balance = $1::numeric, version = version + 1
        WHERE id = $2 AND version = $3
        RETURNING `+cardColumns, balance.String(), id, expectedVersion)
    card, err := scanCard(row)
    if errors.Is(err, pgx.ErrNoRows) {
        // Cards are never deleted, so a missing row means the version moved on.
        return Card{}, ErrVersionConflict
    }
    if err != nil {
        return Card{}, mapPgError(err)
    }
    return card, nil
}

// List returns every card ordered by creation time.
func (r *PostgresRepository) List(ctx context.Context) ([]Card, error) {
    rows, err := r.db.Query(ctx, `SELECT `+cardColumns+` FROM cards ORDER BY created_at, id`)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    var out []Card
    for rows.Next() {
        card, err := scanCard(rows)
        if err != nil {
            return nil, err
        }
        out = append(out, card)
    }
    return out, rows.Err()
}

func scanCard(row pgx.Row) (Card, error) {
    var (
        c         Card
        balance   string
        initial   string
        createdAt time.Time
    )
    if err := row.Scan(&c.ID, &c.CardholderName, &balance, &initial, &c.Version, &createdAt); err != nil {
        return Card{}, err
    }
    var err error
    if c.Balance, err = decimal.NewFromString(balance); err != nil {
        return Card{}, fmt.Errorf("decode balance %q: %w", balance, err)
    }
    if c.InitialBalance, err = decimal.NewFromString(initial); err != nil {
        return Card{}, fmt.Errorf("decode initial balance %q: %w", initial, err)
    }
    c.CreatedAt = createdAt.UTC()
    return c, nil
}

func mapPgError(err error) error {
    var pgErr *pgconn.PgError
    if errors.As(err, &pgErr) && (pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected) {
        return fmt.Errorf("%w: %s", ErrVersionConflict, pgErr.Message)
    }
    return err
}

// PostgresTransactor runs each attempt in its own database transaction so the
// versioned write and the ledger insert commit or roll back together.
type PostgresTransactor struct {
    db *pgxpool.Pool
}

// NewPostgresTransactor builds a transactor over the pool.
func NewPostgresTransactor(db *pgxpool.Pool) *PostgresTransactor {
    return &PostgresTransactor{db: db}
}

// WithinTx begins a transaction, hands fn tx-bound stores and commits on success.
func (t *PostgresTransactor) WithinTx(ctx context.Context, fn TxFunc) error {
    tx, err := t.db.BeginTx(ctx, pgx.TxOptions{})
    if err != nil {
        return fmt.Errorf("begin tx: %w", err)
    }
    defer tx.Rollback(ctx) // nolint:errcheck

    if err := fn(ctx, NewPostgresRepository(tx), ledger.NewPostgresLedger(tx)); err != nil {
        return err
    }
    if err := tx.Commit(ctx); err != nil {
        return fmt.Errorf("commit tx: %w", mapPgError(err))
    }
    return nil
}
