package card

import (
    "errors"
    "fmt"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"
)

var (
    // ErrInvalidAmount is returned for non-positive mutation amounts and
    // negative opening balances. Never retried.
    ErrInvalidAmount = errors.New("invalid amount")

    // ErrInvalidCardholder is returned when the cardholder name is blank.
    ErrInvalidCardholder = errors.New("cardholder name is required")

    // ErrCardNotFound is returned when no card exists for the key. Never retried.
    ErrCardNotFound = errors.New("card not found")

    // ErrInsufficientBalance is returned when a spend exceeds the balance. Never retried.
    ErrInsufficientBalance = errors.New("insufficient balance")

    // ErrVersionConflict is the store's compare-and-swap signal: the stored
    // version no longer matches the one read by the attempt. Retryable.
    ErrVersionConflict = errors.New("version conflict")

    // ErrConcurrencyExhausted is returned once every attempt hit a version conflict.
    ErrConcurrencyExhausted = errors.New("concurrent modification retries exhausted")

    // ErrLedgerAppend marks a ledger insert failure after the balance write. Fatal.
    ErrLedgerAppend = errors.New("ledger append failed")

    // ErrInterrupted is returned when the caller's context ends during backoff. Fatal.
    ErrInterrupted = errors.New("interrupted during retry backoff")
)

// InsufficientBalanceError details a rejected spend.
type InsufficientBalanceError struct {
    CardID    uuid.UUID
    Available decimal.Decimal
    Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
    return fmt.Sprintf("insufficient balance for card %s: available %s, requested %s",
        e.CardID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error {
    return ErrInsufficientBalance
}

// ConcurrencyExhaustedError wraps the last version conflict seen before the
// attempt budget ran out.
type ConcurrencyExhaustedError struct {
    CardID   uuid.UUID
    Op       string
    Attempts int
    Last     error
}

func (e *ConcurrencyExhaustedError) Error() string {
    return fmt.Sprintf("unable to complete %s on card %s after %d attempts due to concurrent modifications: %v",
        e.Op, e.CardID, e.Attempts, e.Last)
}

// Unwrap exposes both the exhaustion sentinel and the last conflict.
func (e *ConcurrencyExhaustedError) Unwrap() []error {
    return []error{ErrConcurrencyExhausted, e.Last}
}

// IsRetryable returns true if the error might succeed on another attempt.
func IsRetryable(err error) bool {
    return errors.Is(err, ErrVersionConflict) && !errors.Is(err, ErrConcurrencyExhausted)
}
