package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProductValidate(t *testing.T) {
	valid := NewProduct{
		Name:          "Coffee 500g",
		Category:      "Groceries",
		PurchasePrice: price("6.00"),
		SalePrice:     price("9.50"),
		Stock:         10,
	}
	require.NoError(t, valid.Validate())

	p := valid.Product(time.Now())
	assert.True(t, p.Active)
	assert.Equal(t, "Coffee 500g", p.Name)

	bad := valid
	bad.Name = "  "
	assert.ErrorIs(t, bad.Validate(), ErrInvalidProduct)

	bad = valid
	bad.SalePrice = price("5.00")
	assert.ErrorIs(t, bad.Validate(), ErrInvalidProduct)

	bad = valid
	bad.SalePrice = price("0")
	bad.PurchasePrice = price("0")
	assert.ErrorIs(t, bad.Validate(), ErrInvalidProduct)

	bad = valid
	bad.Stock = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidProduct)
}

func TestProductPatch(t *testing.T) {
	current := Product{
		ID:            1,
		Name:          "Coffee",
		PurchasePrice: price("6.00"),
		SalePrice:     price("9.50"),
		Stock:         10,
		Active:        true,
	}

	assert.ErrorIs(t, ProductPatch{}.Validate(current), ErrInvalidProduct)

	lower := price("5.00")
	assert.ErrorIs(t, ProductPatch{SalePrice: &lower}.Validate(current), ErrInvalidProduct)

	stock := 3
	name := " Decaf "
	patch := ProductPatch{Stock: &stock, Name: &name}
	require.NoError(t, patch.Validate(current))
	assert.Equal(t, []ProductField{FieldName, FieldStock}, patch.Fields())

	next := patch.Apply(current, time.Now())
	assert.Equal(t, "Decaf", next.Name)
	assert.Equal(t, 3, next.Stock)
	assert.Equal(t, 10, current.Stock)

	neg := -2
	assert.ErrorIs(t, ProductPatch{ReorderThreshold: &neg}.Validate(current), ErrInvalidProduct)
}

func TestBelowReorder(t *testing.T) {
	p := Product{Stock: 5, ReorderThreshold: 5}
	assert.True(t, p.BelowReorder())
	p.Stock = 6
	assert.False(t, p.BelowReorder())
}
