package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidTransaction is returned when an entry is missing its identity,
	// card, type or a positive amount.
	ErrInvalidTransaction = errors.New("invalid ledger transaction")

	// ErrDuplicateTransaction indicates an entry with the same identifier was
	// already appended.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)

// Type classifies a ledger entry.
type Type string

const (
	// TypeSpend debits a card.
	TypeSpend Type = "SPEND"
	// TypeTopUp credits a card.
	TypeTopUp Type = "TOPUP"
)

// Valid reports whether t is a known entry type.
func (t Type) Valid() bool {
	return t == TypeSpend || t == TypeTopUp
}

// Transaction is an immutable record of one committed balance delta.
type Transaction struct {
	ID        uuid.UUID
	CardID    uuid.UUID
	Type      Type
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// NewTransaction builds an entry with a fresh identifier and creation time.
func NewTransaction(cardID uuid.UUID, typ Type, amount decimal.Decimal) Transaction {
	return Transaction{
		ID:        uuid.New(),
		CardID:    cardID,
		Type:      typ,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks the entry before it is persisted.
func (t Transaction) Validate() error {
	switch {
	case t.ID == uuid.Nil:
		return fmt.Errorf("%w: missing id", ErrInvalidTransaction)
	case t.CardID == uuid.Nil:
		return fmt.Errorf("%w: missing card id", ErrInvalidTransaction)
	case !t.Type.Valid():
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, t.Type)
	case !t.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransaction)
	}
	return nil
}

// Signed returns the entry as a balance delta: TOPUP positive, SPEND negative.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == TypeSpend {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Fold applies entries in order onto an opening balance.
func Fold(initial decimal.Decimal, txs []Transaction) decimal.Decimal {
	balance := initial
	for _, tx := range txs {
		balance = balance.Add(tx.Signed())
	}
	return balance
}

// Ledger defines the append-only contract implemented by ledger backends.
type Ledger interface {
	// Insert appends an entry. Entries are never updated or deleted.
	Insert(ctx context.Context, tx Transaction) (Transaction, error)
	// ByCard returns the entries of a card in creation order.
	ByCard(ctx context.Context, cardID uuid.UUID) ([]Transaction, error)
}
