package card

import (
    "context"
    "errors"
    "sort"
    "sync"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"
)

type memoryRepository struct {
    mu      sync.RWMutex
    storage map[uuid.UUID]Card
}

// NewMemoryRepository constructs an in-memory repository for tests and local runs.
func NewMemoryRepository() Repository {
    return &memoryRepository{storage: make(map[uuid.UUID]Card)}
}

func (r *memoryRepository) Create(_ context.Context, card Card) (Card, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    if _, exists := r.storage[card.ID]; exists {
        return Card{}, errors.New("card exists")
    }
    card.Version = 1
    r.storage[card.ID] = card
    return card, nil
}

func (r *memoryRepository) Get(_ context.Context, id uuid.UUID) (Card, error) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    card, ok := r.storage[id]
    if !ok {
        return Card{}, ErrCardNotFound
    }
    return card, nil
}

func (r *memoryRepository) CompareAndSwap(_ context.Context, id uuid.UUID, expectedVersion int64, balance decimal.Decimal) (Card, error) {
    r.mu.Lock()
    defer r.mu.Unlock()
    card, ok := r.storage[id]
    if !ok {
        return Card{}, ErrCardNotFound
    }
    if card.Version != expectedVersion {
        return Card{}, ErrVersionConflict
    }
    card.Balance = balance
    card.Version++
    r.storage[id] = card
    return card, nil
}

func (r *memoryRepository) List(_ context.Context) ([]Card, error) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    out := make([]Card, 0, len(r.storage))
    for _, card := range r.storage {
        out = append(out, card)
    }
    sort.Slice(out, func(i, j int) bool {
        return out[i].CreatedAt.Before(out[j].CreatedAt)
    })
    return out, nil
}
