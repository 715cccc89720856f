package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type ProductID int64

type Product struct {
	ID               ProductID
	Name             string
	Category         string
	PurchasePrice    decimal.Decimal
	SalePrice        decimal.Decimal
	Stock            int
	ReorderThreshold int
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Sellable reports whether the product may be looked up and sold.
func (p Product) Sellable() bool {
	return p.Active
}

func (p Product) BelowReorder() bool {
	return p.Stock <= p.ReorderThreshold
}

// NewProduct is the input accepted when registering a product in the catalog.
type NewProduct struct {
	Name             string
	Category         string
	PurchasePrice    decimal.Decimal
	SalePrice        decimal.Decimal
	Stock            int
	ReorderThreshold int
}

func (n NewProduct) Validate() error {
	if strings.TrimSpace(n.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if err := validatePrices(n.PurchasePrice, n.SalePrice); err != nil {
		return err
	}
	if n.Stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidProduct)
	}
	if n.ReorderThreshold < 0 {
		return fmt.Errorf("%w: reorder threshold must not be negative", ErrInvalidProduct)
	}
	return nil
}

// Product builds the catalog entry, rounding prices to cents.
func (n NewProduct) Product(now time.Time) Product {
	return Product{
		Name:             strings.TrimSpace(n.Name),
		Category:         strings.TrimSpace(n.Category),
		PurchasePrice:    n.PurchasePrice.Round(2),
		SalePrice:        n.SalePrice.Round(2),
		Stock:            n.Stock,
		ReorderThreshold: n.ReorderThreshold,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func validatePrices(purchase, sale decimal.Decimal) error {
	if !sale.IsPositive() {
		return fmt.Errorf("%w: sale price must be positive", ErrInvalidProduct)
	}
	if purchase.IsNegative() {
		return fmt.Errorf("%w: purchase price must not be negative", ErrInvalidProduct)
	}
	if !sale.GreaterThan(purchase) {
		return fmt.Errorf("%w: sale price must exceed purchase price", ErrInvalidProduct)
	}
	return nil
}
