package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type inMemoryLedger struct {
	mu      sync.RWMutex
	byCard  map[uuid.UUID][]Transaction
	seenIDs map[uuid.UUID]struct{}
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		byCard:  make(map[uuid.UUID][]Transaction),
		seenIDs: make(map[uuid.UUID]struct{}),
	}
}

func (l *inMemoryLedger) Insert(_ context.Context, tx Transaction) (Transaction, error) {
	if err := tx.Validate(); err != nil {
		return Transaction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.seenIDs[tx.ID]; exists {
		return Transaction{}, ErrDuplicateTransaction
	}
	l.seenIDs[tx.ID] = struct{}{}
	l.byCard[tx.CardID] = append(l.byCard[tx.CardID], tx)
	return tx, nil
}

func (l *inMemoryLedger) ByCard(_ context.Context, cardID uuid.UUID) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := l.byCard[cardID]
	out := make([]Transaction, len(entries))
	copy(out, entries)
	return out, nil
}
