package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-sale/internal/core/domain"
	"github.com/rl1809/pos-sale/internal/port"
)

func TestMemoryStore_Ledger(t *testing.T) {
	runLedgerSuite(t, NewMemoryStore())
}

func TestMemoryStore_CancelledContextDiscardsWrites(t *testing.T) {
	store := NewMemoryStore()
	a := createProduct(t, store, "Cancelled", "4.00", 3)
	sale := newSale(t, []domain.CartLine{{ProductID: a.ID, Quantity: 1, UnitPrice: a.SalePrice}})

	ctx, cancel := context.WithCancel(context.Background())
	err := store.Atomic(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		if _, err := tx.LockProducts(ctx, []domain.ProductID{a.ID}); err != nil {
			return err
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		if _, err := tx.DecrementStockIfAvailable(ctx, a.ID, 1); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 3, stockOf(t, store, a.ID))
	stored, err := store.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestMemoryStore_DecrementRequiresLock(t *testing.T) {
	store := NewMemoryStore()
	a := createProduct(t, store, "Unlocked", "4.00", 3)

	err := store.Atomic(context.Background(), func(ctx context.Context, tx port.LedgerTx) error {
		_, err := tx.DecrementStockIfAvailable(ctx, a.ID, 1)
		return err
	})
	assert.Error(t, err)
	assert.Equal(t, 3, stockOf(t, store, a.ID))
}

func TestMemoryIdempotency(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryIdempotency(time.Minute)

	ok, err := cache.SetIdempotency(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.SetIdempotency(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.ReleaseIdempotency(ctx, "k"))
	ok, err = cache.SetIdempotency(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryIdempotency_Expires(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryIdempotency(10 * time.Millisecond)

	ok, _ := cache.SetIdempotency(ctx, "k")
	require.True(t, ok)
	time.Sleep(20 * time.Millisecond)

	ok, err := cache.SetIdempotency(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSortedUnique(t *testing.T) {
	got := sortedUnique([]domain.ProductID{5, 1, 5, 3, 1})
	assert.Equal(t, []domain.ProductID{1, 3, 5}, got)
	assert.Empty(t, sortedUnique(nil))
}
