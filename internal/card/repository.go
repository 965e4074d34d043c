package card

import (
    "context"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"

    "github.com/congo-pay/cardledger/internal/ledger"
)

// Repository persists card records with optimistic versioning.
type Repository interface {
    Create(ctx context.Context, card Card) (Card, error)
    // Get returns ErrCardNotFound when the key is unknown.
    Get(ctx context.Context, id uuid.UUID) (Card, error)
    // CompareAndSwap writes balance only if the stored version still equals
    // expectedVersion, returning the card with its incremented version.
    // A mismatch yields ErrVersionConflict and nothing else.
    CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, balance decimal.Decimal) (Card, error)
    List(ctx context.Context) ([]Card, error)
}

// TxFunc is one mutation attempt run against a store view.
type TxFunc func(ctx context.Context, cards Repository, entries ledger.Ledger) error

// Transactor runs a mutation attempt. Transactional backends commit the card
// write and the ledger insert together and roll both back if fn fails.
type Transactor interface {
    WithinTx(ctx context.Context, fn TxFunc) error
}

// Atomic reports whether a transactor commits the balance write and the
// ledger insert as one unit.
func Atomic(t Transactor) bool {
    _, sequential := t.(sequentialTransactor)
    return !sequential
}

type sequentialTransactor struct {
    cards   Repository
    entries ledger.Ledger
}

// NewSequentialTransactor runs attempts directly against independent stores.
// A ledger insert failure after a committed write is not rolled back; the
// service flags it for reconciliation instead.
func NewSequentialTransactor(cards Repository, entries ledger.Ledger) Transactor {
    return sequentialTransactor{cards: cards, entries: entries}
}

func (t sequentialTransactor) WithinTx(ctx context.Context, fn TxFunc) error {
    return fn(ctx, t.cards, t.entries)
}
