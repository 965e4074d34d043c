package card

import (
	"context"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/cardledger/internal/infra"
	"github.com/congo-pay/cardledger/internal/ledger"
)

// TestPostgresBackend runs only when POSTGRES_TEST_URL points at a scratch database.
func TestPostgresBackend(t *testing.T) {
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	ctx := context.Background()
	pool, err := infra.NewPostgresPool(ctx, url)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, Migrate(ctx, pool))

	repo := NewPostgresRepository(pool)
	entries := ledger.NewPostgresLedger(pool)
	tx := NewPostgresTransactor(pool)
	assert.True(t, Atomic(tx))
	svc := NewService(repo, entries, WithTransactor(tx), WithBackoff(DefaultBackoff().NoDelay()))

	c, err := svc.Create(ctx, CreateInput{CardholderName: "Jane", InitialBalance: dec("100.00")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Version)

	_, err = repo.CompareAndSwap(ctx, c.ID, 7, dec("1"))
	assert.ErrorIs(t, err, ErrVersionConflict)

	_, err = svc.Spend(ctx, c.ID, dec("25.00"))
	require.NoError(t, err)
	updated, err := svc.TopUp(ctx, c.ID, dec("50.00"))
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(dec("125")))
	assert.Equal(t, int64(3), updated.Version)

	// A failing ledger inside the transaction rolls the balance write back.
	err = tx.WithinTx(ctx, func(ctx context.Context, cards Repository, _ ledger.Ledger) error {
		if _, err := cards.CompareAndSwap(ctx, c.ID, updated.Version, decimal.Zero); err != nil {
			return err
		}
		return ErrLedgerAppend
	})
	require.ErrorIs(t, err, ErrLedgerAppend)

	rec, err := svc.Reconcile(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.True(t, rec.Actual.Equal(dec("125")))
	assert.Equal(t, 2, rec.Entries)
}
