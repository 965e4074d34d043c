package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/cardledger/internal/card"
	"github.com/congo-pay/cardledger/internal/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedCard(t *testing.T, store *Store, balance string) card.Card {
	t.Helper()
	amount := decimal.RequireFromString(balance)
	c, err := store.Create(context.Background(), card.Card{
		ID:             uuid.New(),
		CardholderName: "Jane Roe",
		Balance:        amount,
		InitialBalance: amount,
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
	return c
}

func TestStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	created := seedCard(t, store, "12.34")

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("12.34")))
	assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Millisecond)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, card.ErrCardNotFound)
}

func TestStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	c := seedCard(t, store, "100")

	updated, err := store.CompareAndSwap(ctx, c.ID, 1, decimal.NewFromInt(80))
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.True(t, updated.Balance.Equal(decimal.NewFromInt(80)))

	_, err = store.CompareAndSwap(ctx, c.ID, 1, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, card.ErrVersionConflict)

	current, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, current.Balance.Equal(decimal.NewFromInt(80)), "stale write must not land")
}

func TestStoreLedgerOrderAndDuplicates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	c := seedCard(t, store, "100")

	first := ledger.NewTransaction(c.ID, ledger.TypeSpend, decimal.NewFromInt(25))
	second := ledger.NewTransaction(c.ID, ledger.TypeTopUp, decimal.NewFromInt(50))
	_, err := store.Insert(ctx, first)
	require.NoError(t, err)
	_, err = store.Insert(ctx, second)
	require.NoError(t, err)

	_, err = store.Insert(ctx, first)
	assert.ErrorIs(t, err, ledger.ErrDuplicateTransaction)

	_, err = store.Insert(ctx, ledger.NewTransaction(c.ID, ledger.TypeSpend, decimal.Zero))
	assert.ErrorIs(t, err, ledger.ErrInvalidTransaction)

	txs, err := store.ByCard(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, first.ID, txs[0].ID)
	assert.Equal(t, second.ID, txs[1].ID)
	assert.True(t, ledger.Fold(c.InitialBalance, txs).Equal(decimal.NewFromInt(125)))
}

type brokenLedger struct{}

func (brokenLedger) Insert(context.Context, ledger.Transaction) (ledger.Transaction, error) {
	return ledger.Transaction{}, errors.New("ledger unavailable")
}

func (brokenLedger) ByCard(context.Context, uuid.UUID) ([]ledger.Transaction, error) {
	return nil, nil
}

// ledgerFailingTransactor keeps the real transaction but swaps the ledger view.
type ledgerFailingTransactor struct {
	store *Store
}

func (t ledgerFailingTransactor) WithinTx(ctx context.Context, fn card.TxFunc) error {
	return t.store.WithinTx(ctx, func(ctx context.Context, cards card.Repository, _ ledger.Ledger) error {
		return fn(ctx, cards, brokenLedger{})
	})
}

func TestLedgerFailureRollsBackBalanceWrite(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := card.NewService(store, store,
		card.WithTransactor(ledgerFailingTransactor{store: store}),
		card.WithBackoff(card.DefaultBackoff().NoDelay()),
	)
	c, err := svc.Create(ctx, card.CreateInput{CardholderName: "Jane", InitialBalance: decimal.NewFromInt(100)})
	require.NoError(t, err)

	_, err = svc.Spend(ctx, c.ID, decimal.NewFromInt(30))
	require.ErrorIs(t, err, card.ErrLedgerAppend)

	after, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, after.Balance.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, int64(1), after.Version)

	rec, err := svc.Reconcile(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
}

func TestServiceOnSQLite(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := card.NewService(store, store, card.WithTransactor(store), card.WithBackoff(card.DefaultBackoff().NoDelay()))
	c, err := svc.Create(ctx, card.CreateInput{CardholderName: "Jane", InitialBalance: decimal.NewFromInt(100)})
	require.NoError(t, err)

	_, err = svc.Spend(ctx, c.ID, decimal.NewFromInt(25))
	require.NoError(t, err)
	updated, err := svc.TopUp(ctx, c.ID, decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.True(t, updated.Balance.Equal(decimal.NewFromInt(125)))
	assert.Equal(t, int64(3), updated.Version)

	_, err = svc.Spend(ctx, c.ID, decimal.NewFromInt(500))
	assert.ErrorIs(t, err, card.ErrInsufficientBalance)

	txs, err := svc.Transactions(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, ledger.TypeSpend, txs[0].Type)
	assert.Equal(t, ledger.TypeTopUp, txs[1].Type)
}

func TestConcurrentSpendsOnSQLite(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := card.NewService(store, store, card.WithTransactor(store), card.WithBackoff(card.Backoff{MaxAttempts: 3, Base: time.Millisecond}))
	c, err := svc.Create(ctx, card.CreateInput{CardholderName: "Jane", InitialBalance: decimal.NewFromInt(50)})
	require.NoError(t, err)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Spend(ctx, c.ID, decimal.NewFromInt(5))
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
				return
			}
			if !errors.Is(err, card.ErrInsufficientBalance) && !errors.Is(err, card.ErrConcurrencyExhausted) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, ok, int64(10))
	final, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, final.Balance.Equal(decimal.NewFromInt(50-5*ok)), "balance %s after %d spends", final.Balance, ok)

	rec, err := svc.Reconcile(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, rec.Consistent)
	assert.Equal(t, int(ok), rec.Entries)
}
