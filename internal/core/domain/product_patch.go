package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ProductField enumerates the catalog columns an operator may change.
type ProductField string

const (
	FieldName             ProductField = "name"
	FieldPurchasePrice    ProductField = "purchase_price"
	FieldSalePrice        ProductField = "sale_price"
	FieldStock            ProductField = "stock"
	FieldReorderThreshold ProductField = "reorder_threshold"
	FieldActive           ProductField = "active"
)

// ProductPatch carries one or more field changes. Nil fields are left untouched.
type ProductPatch struct {
	Name             *string
	PurchasePrice    *decimal.Decimal
	SalePrice        *decimal.Decimal
	Stock            *int
	ReorderThreshold *int
	Active           *bool
}

// Fields lists the set fields in a fixed order.
func (p ProductPatch) Fields() []ProductField {
	var fields []ProductField
	if p.Name != nil {
		fields = append(fields, FieldName)
	}
	if p.PurchasePrice != nil {
		fields = append(fields, FieldPurchasePrice)
	}
	if p.SalePrice != nil {
		fields = append(fields, FieldSalePrice)
	}
	if p.Stock != nil {
		fields = append(fields, FieldStock)
	}
	if p.ReorderThreshold != nil {
		fields = append(fields, FieldReorderThreshold)
	}
	if p.Active != nil {
		fields = append(fields, FieldActive)
	}
	return fields
}

func (p ProductPatch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// Validate checks the patch against the product it will be applied to.
func (p ProductPatch) Validate(current Product) error {
	if p.IsEmpty() {
		return fmt.Errorf("%w: nothing to update", ErrInvalidProduct)
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if p.Stock != nil && *p.Stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", ErrInvalidProduct)
	}
	if p.ReorderThreshold != nil && *p.ReorderThreshold < 0 {
		return fmt.Errorf("%w: reorder threshold must not be negative", ErrInvalidProduct)
	}
	if p.PurchasePrice != nil || p.SalePrice != nil {
		next := p.Apply(current, current.UpdatedAt)
		return validatePrices(next.PurchasePrice, next.SalePrice)
	}
	return nil
}

// Apply returns a copy of current with the patch applied.
func (p ProductPatch) Apply(current Product, now time.Time) Product {
	next := current
	if p.Name != nil {
		next.Name = strings.TrimSpace(*p.Name)
	}
	if p.PurchasePrice != nil {
		next.PurchasePrice = p.PurchasePrice.Round(2)
	}
	if p.SalePrice != nil {
		next.SalePrice = p.SalePrice.Round(2)
	}
	if p.Stock != nil {
		next.Stock = *p.Stock
	}
	if p.ReorderThreshold != nil {
		next.ReorderThreshold = *p.ReorderThreshold
	}
	if p.Active != nil {
		next.Active = *p.Active
	}
	next.UpdatedAt = now
	return next
}
