package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLedger_PreservesCreationOrder(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	cardID := uuid.New()

	first, err := l.Insert(ctx, NewTransaction(cardID, TypeSpend, decimal.RequireFromString("25.00")))
	require.NoError(t, err)
	second, err := l.Insert(ctx, NewTransaction(cardID, TypeTopUp, decimal.RequireFromString("50.00")))
	require.NoError(t, err)

	txs, err := l.ByCard(ctx, cardID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, first.ID, txs[0].ID)
	assert.Equal(t, second.ID, txs[1].ID)
}

func TestInMemoryLedger_RejectsDuplicateAndInvalid(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	tx := NewTransaction(uuid.New(), TypeTopUp, decimal.NewFromInt(5))

	_, err := l.Insert(ctx, tx)
	require.NoError(t, err)
	_, err = l.Insert(ctx, tx)
	assert.ErrorIs(t, err, ErrDuplicateTransaction)

	_, err = l.Insert(ctx, NewTransaction(uuid.New(), TypeSpend, decimal.Zero))
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	_, err = l.Insert(ctx, NewTransaction(uuid.New(), Type("REFUND"), decimal.NewFromInt(1)))
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestInMemoryLedger_ByCardReturnsCopy(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	cardID := uuid.New()
	_, err := l.Insert(ctx, NewTransaction(cardID, TypeTopUp, decimal.NewFromInt(1)))
	require.NoError(t, err)

	txs, err := l.ByCard(ctx, cardID)
	require.NoError(t, err)
	txs[0].Amount = decimal.NewFromInt(999)

	again, err := l.ByCard(ctx, cardID)
	require.NoError(t, err)
	assert.True(t, again[0].Amount.Equal(decimal.NewFromInt(1)))

	empty, err := l.ByCard(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInMemoryLedger_ConcurrentInserts(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	cardID := uuid.New()

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Insert(ctx, NewTransaction(cardID, TypeTopUp, decimal.NewFromInt(10))); err != nil {
				t.Errorf("insert: %v", err)
			}
		}()
	}
	wg.Wait()

	txs, err := l.ByCard(ctx, cardID)
	require.NoError(t, err)
	assert.Len(t, txs, workers)
	assert.True(t, Fold(decimal.Zero, txs).Equal(decimal.NewFromInt(200)))
}

func TestFoldAppliesSignedDeltas(t *testing.T) {
	cardID := uuid.New()
	txs := []Transaction{
		NewTransaction(cardID, TypeSpend, decimal.RequireFromString("25.00")),
		NewTransaction(cardID, TypeTopUp, decimal.RequireFromString("50.00")),
	}
	got := Fold(decimal.RequireFromString("100.00"), txs)
	assert.True(t, got.Equal(decimal.RequireFromString("125.00")), "got %s", got)
}
