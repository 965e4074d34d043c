package card

import (
    "time"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"
)

// Card is a virtual card holding a monetary balance.
type Card struct {
    ID             uuid.UUID
    CardholderName string
    Balance        decimal.Decimal
    InitialBalance decimal.Decimal
    // Version is bumped by the store on every successful write.
    Version   int64
    CreatedAt time.Time
}

// Reconciliation compares a card's balance with its ledger folded onto the
// opening balance.
type Reconciliation struct {
    CardID     uuid.UUID
    Initial    decimal.Decimal
    Expected   decimal.Decimal
    Actual     decimal.Decimal
    Drift      decimal.Decimal
    Entries    int
    Consistent bool
}
