package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-sale/internal/core/domain"
	"github.com/rl1809/pos-sale/internal/port"
)

type ledgerStore interface {
	port.CatalogReader
	port.CatalogWriter
	port.Ledger
	port.SaleReader
}

var errAbort = errors.New("abort")

// runLedgerSuite exercises the catalog and ledger contract every backend must honor.
func runLedgerSuite(t *testing.T, store ledgerStore) {
	t.Run("CommitDecrementsOnlyCommittedProducts", func(t *testing.T) {
		a := createProduct(t, store, "Suite A", "10.00", 5)
		b := createProduct(t, store, "Suite B", "5.00", 3)
		c := createProduct(t, store, "Suite C", "1.00", 9)

		sale := newSale(t, []domain.CartLine{
			{ProductID: a.ID, Quantity: 2, UnitPrice: a.SalePrice},
			{ProductID: b.ID, Quantity: 1, UnitPrice: b.SalePrice},
		})
		require.NoError(t, commitSale(store, sale))

		assert.Equal(t, 3, stockOf(t, store, a.ID))
		assert.Equal(t, 2, stockOf(t, store, b.ID))
		assert.Equal(t, 9, stockOf(t, store, c.ID))

		stored, err := store.GetSale(context.Background(), sale.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, "25.00", stored.Total.StringFixed(2))
		assert.Equal(t, sale.Token, stored.Token)
		assert.Equal(t, domain.PaymentCash, stored.PaymentMethod)
		require.Len(t, stored.Lines, 2)
		assert.Equal(t, a.ID, stored.Lines[0].ProductID)
		assert.Equal(t, 2, stored.Lines[0].Quantity)

		var found string
		require.NoError(t, store.Atomic(context.Background(), func(ctx context.Context, tx port.LedgerTx) error {
			var err error
			found, err = tx.SaleIDByToken(ctx, sale.Token)
			return err
		}))
		assert.Equal(t, sale.ID, found)
	})

	t.Run("FailedUnitLeavesNoTrace", func(t *testing.T) {
		a := createProduct(t, store, "Suite Rollback A", "10.00", 5)
		b := createProduct(t, store, "Suite Rollback B", "5.00", 1)

		sale := newSale(t, []domain.CartLine{
			{ProductID: a.ID, Quantity: 2, UnitPrice: a.SalePrice},
			{ProductID: b.ID, Quantity: 2, UnitPrice: b.SalePrice},
		})
		err := store.Atomic(context.Background(), func(ctx context.Context, tx port.LedgerTx) error {
			if _, err := tx.LockProducts(ctx, []domain.ProductID{b.ID, a.ID}); err != nil {
				return err
			}
			if err := tx.InsertSale(ctx, sale); err != nil {
				return err
			}
			for i, line := range sale.Lines {
				if err := tx.InsertSaleLine(ctx, sale.ID, i+1, line); err != nil {
					return err
				}
				ok, err := tx.DecrementStockIfAvailable(ctx, line.ProductID, line.Quantity)
				if err != nil {
					return err
				}
				if !ok {
					return errAbort
				}
			}
			return nil
		})
		require.ErrorIs(t, err, errAbort)

		assert.Equal(t, 5, stockOf(t, store, a.ID))
		assert.Equal(t, 1, stockOf(t, store, b.ID))
		stored, err := store.GetSale(context.Background(), sale.ID)
		require.NoError(t, err)
		assert.Nil(t, stored)
	})

	t.Run("DuplicateTokenRejected", func(t *testing.T) {
		a := createProduct(t, store, "Suite Dup", "2.00", 10)
		lines := []domain.CartLine{{ProductID: a.ID, Quantity: 1, UnitPrice: a.SalePrice}}

		first := newSale(t, lines)
		require.NoError(t, commitSale(store, first))

		second := newSale(t, lines)
		second.Token = first.Token
		err := commitSale(store, second)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrDuplicateCommit), "got %v", err)
		assert.Equal(t, 9, stockOf(t, store, a.ID))
	})

	t.Run("InactiveProductIsNotDecremented", func(t *testing.T) {
		a := createProduct(t, store, "Suite Inactive", "2.00", 10)
		inactive := false
		_, err := store.UpdateProduct(context.Background(), a.ID, domain.ProductPatch{Active: &inactive})
		require.NoError(t, err)

		err = commitSale(store, newSale(t, []domain.CartLine{{ProductID: a.ID, Quantity: 1, UnitPrice: a.SalePrice}}))
		require.ErrorIs(t, err, errAbort)
		assert.Equal(t, 10, stockOf(t, store, a.ID))
	})

	t.Run("ConcurrentLastUnit", func(t *testing.T) {
		a := createProduct(t, store, "Suite Last Unit", "3.00", 1)

		var successCount atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := commitSale(store, newSale(t, []domain.CartLine{{ProductID: a.ID, Quantity: 1, UnitPrice: a.SalePrice}}))
				if err == nil {
					successCount.Add(1)
				} else if !errors.Is(err, errAbort) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), successCount.Load())
		assert.Equal(t, 0, stockOf(t, store, a.ID))
	})

	t.Run("SearchAndPatch", func(t *testing.T) {
		a := createProduct(t, store, "Suite Espresso Beans", "12.00", 4)

		found, err := store.SearchProducts(context.Background(), "espresso", 10)
		require.NoError(t, err)
		require.NotEmpty(t, found)
		assert.Equal(t, a.ID, found[0].ID)

		name := "Suite Decaf Beans"
		stock := 40
		updated, err := store.UpdateProduct(context.Background(), a.ID, domain.ProductPatch{Name: &name, Stock: &stock})
		require.NoError(t, err)
		assert.Equal(t, name, updated.Name)
		assert.Equal(t, 40, updated.Stock)

		_, err = store.UpdateProduct(context.Background(), 987654321, domain.ProductPatch{Stock: &stock})
		assert.ErrorIs(t, err, domain.ErrProductNotFound)

		missing, err := store.GetProduct(context.Background(), 987654321)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}

func createProduct(t *testing.T, store ledgerStore, name, salePrice string, stock int) *domain.Product {
	t.Helper()
	in := domain.NewProduct{
		Name:          name,
		Category:      "Suite",
		PurchasePrice: decimal.Zero,
		SalePrice:     decimal.RequireFromString(salePrice),
		Stock:         stock,
	}
	p, err := store.CreateProduct(context.Background(), in.Product(time.Now().UTC().Truncate(time.Microsecond)))
	require.NoError(t, err)
	require.NotZero(t, p.ID)
	return p
}

func newSale(t *testing.T, lines []domain.CartLine) domain.Sale {
	t.Helper()
	sale, err := domain.NewSale(uuid.NewString(), uuid.NewString(), domain.PaymentCash, lines,
		time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, err)
	return sale
}

// commitSale runs the same unit of work the sale engine does, returning
// errAbort when a decrement is refused.
func commitSale(store port.Ledger, sale domain.Sale) error {
	ids := make([]domain.ProductID, 0, len(sale.Lines))
	for _, l := range sale.Lines {
		ids = append(ids, l.ProductID)
	}
	return store.Atomic(context.Background(), func(ctx context.Context, tx port.LedgerTx) error {
		if _, err := tx.LockProducts(ctx, ids); err != nil {
			return err
		}
		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		for i, line := range sale.Lines {
			if err := tx.InsertSaleLine(ctx, sale.ID, i+1, line); err != nil {
				return err
			}
			ok, err := tx.DecrementStockIfAvailable(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return errAbort
			}
		}
		return nil
	})
}

func stockOf(t *testing.T, store port.CatalogReader, id domain.ProductID) int {
	t.Helper()
	p, err := store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.Stock
}
