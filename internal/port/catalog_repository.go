package port

import (
	"context"

	"github.com/rl1809/pos-sale/internal/core/domain"
)

type CatalogReader interface {
	// GetProduct returns the current product state, or nil if it does not exist
	GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error)

	// SearchProducts returns active products whose name contains fragment or whose ID equals it
	SearchProducts(ctx context.Context, fragment string, limit int) ([]domain.Product, error)
}

type CatalogWriter interface {
	// CreateProduct stores a new product and returns it with its assigned ID
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// UpdateProduct applies a patch to an existing product
	UpdateProduct(ctx context.Context, id domain.ProductID, patch domain.ProductPatch) (*domain.Product, error)
}
