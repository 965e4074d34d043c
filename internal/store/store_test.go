package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/cardledger/internal/card"
	"github.com/congo-pay/cardledger/internal/config"
	"github.com/congo-pay/cardledger/internal/logging"
)

func TestOpenMemory(t *testing.T) {
	b, err := Open(context.Background(), config.Config{StoreDriver: config.DriverMemory}, logging.Discard())
	require.NoError(t, err)
	assert.False(t, card.Atomic(b.Transactor))
	assert.NoError(t, b.Ping(context.Background()))
	assert.NoError(t, b.Close())
}

func TestOpenSQLiteFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cards.db")
	cfg := config.Config{StoreDriver: config.DriverSQLite, SQLitePath: path}

	b, err := Open(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	assert.True(t, card.Atomic(b.Transactor))
	require.NoError(t, b.Ping(ctx))

	svc := card.NewService(b.Cards, b.Ledger, card.WithTransactor(b.Transactor))
	c, err := svc.Create(ctx, card.CreateInput{CardholderName: "Jane", InitialBalance: decimal.NewFromInt(5)})
	require.NoError(t, err)
	_, err = svc.TopUp(ctx, c.ID, decimal.NewFromInt(5))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	// Reopening the same file sees the committed state.
	b, err = Open(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	defer b.Close()
	got, err := b.Cards.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(10)))
	txs, err := b.Ledger.ByCard(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.Config{StoreDriver: "mongo"}, logging.Discard())
	assert.Error(t, err)
}

func TestNilBackendIsSafe(t *testing.T) {
	var b *Backend
	assert.NoError(t, b.Ping(context.Background()))
	assert.NoError(t, b.Close())
}
