package port

import (
	"context"
	"errors"

	"github.com/rl1809/pos-sale/internal/core/domain"
)

// ErrRetryable marks transient storage faults (deadlocks, lock wait timeouts).
// A unit of work that failed with it left no effects and may be run again.
var ErrRetryable = errors.New("retryable storage fault")

type Ledger interface {
	// Atomic runs fn as one unit of work; any error returned rolls back every write
	Atomic(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

type LedgerTx interface {
	// SaleIDByToken returns the sale recorded under an idempotency token, or ""
	SaleIDByToken(ctx context.Context, token string) (string, error)

	// LockProducts locks the products in ascending ID order and returns their current state
	LockProducts(ctx context.Context, ids []domain.ProductID) (map[domain.ProductID]domain.Product, error)

	// InsertSale writes the sale header
	InsertSale(ctx context.Context, sale domain.Sale) error

	// InsertSaleLine writes one line of a sale
	InsertSaleLine(ctx context.Context, saleID string, lineNo int, line domain.SaleLine) error

	// DecrementStockIfAvailable subtracts quantity, returns false and leaves stock unchanged if insufficient
	DecrementStockIfAvailable(ctx context.Context, id domain.ProductID, quantity int) (bool, error)
}

type SaleReader interface {
	// GetSale returns a committed sale with its lines, or nil if unknown
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
}
