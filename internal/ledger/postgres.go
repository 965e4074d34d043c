package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/cardledger/internal/infra"
)

const pgUniqueViolation = "23505"

// PostgresLedger persists ledger entries in PostgreSQL. It runs against the
// pool or, when built by a transactor, inside the attempt's transaction.
type PostgresLedger struct {
	db infra.DBTX
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db infra.DBTX) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Insert appends an entry to the transactions table.
func (l *PostgresLedger) Insert(ctx context.Context, tx Transaction) (Transaction, error) {
	if err := tx.Validate(); err != nil {
		return Transaction{}, err
	}
	_, err := l.db.Exec(ctx, `INSERT INTO card_transactions (id, card_id, type, amount, created_at)
        VALUES ($1, $2, $3, $4::numeric, $5)`, tx.ID, tx.CardID, string(tx.Type), tx.Amount.String(), tx.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Transaction{}, ErrDuplicateTransaction
		}
		return Transaction{}, fmt.Errorf("insert ledger entry: %w", err)
	}
	return tx, nil
}

// ByCard returns a card's entries ordered by insertion sequence.
func (l *PostgresLedger) ByCard(ctx context.Context, cardID uuid.UUID) ([]Transaction, error) {
	rows, err := l.db.Query(ctx, `SELECT id, card_id, type, amount::text, created_at
        FROM card_transactions WHERE card_id = $1 ORDER BY seq`, cardID)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			tx        Transaction
			typ       string
			amount    string
			createdAt time.Time
		)
		if err := rows.Scan(&tx.ID, &tx.CardID, &typ, &amount, &createdAt); err != nil {
			return nil, err
		}
		tx.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("decode amount %q: %w", amount, err)
		}
		tx.Type = Type(typ)
		tx.CreatedAt = createdAt.UTC()
		out = append(out, tx)
	}
	return out, rows.Err()
}
