package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/pos-sale/internal/core/domain"
)

func openTestBolt(t *testing.T) (*BoltAdapter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pos.db")
	store, err := OpenBolt(path)
	require.NoError(t, err)
	return store, path
}

func TestBoltAdapter_Ledger(t *testing.T) {
	store, _ := openTestBolt(t)
	defer store.Close()

	runLedgerSuite(t, store)
}

func TestBoltAdapter_SurvivesReopen(t *testing.T) {
	store, path := openTestBolt(t)

	a := createProduct(t, store, "Durable", "7.50", 6)
	sale := newSale(t, []domain.CartLine{{ProductID: a.ID, Quantity: 2, UnitPrice: a.SalePrice}})
	require.NoError(t, commitSale(store, sale))
	require.NoError(t, store.Close())

	reopened, err := OpenBolt(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, 4, stockOf(t, reopened, a.ID))
	stored, err := reopened.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "15.00", stored.Total.StringFixed(2))
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, "7.50", stored.Lines[0].UnitPrice.StringFixed(2))

	// Sequence continues after reopen
	b := createProduct(t, reopened, "Durable Next", "1.00", 1)
	assert.Greater(t, b.ID, a.ID)
}
