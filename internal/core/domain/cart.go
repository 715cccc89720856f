package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type CartState string

const (
	CartEmpty      CartState = "empty"
	CartBuilding   CartState = "building"
	CartValidating CartState = "validating"
	CartCommitting CartState = "committing"
	CartCommitted  CartState = "committed"
)

// CartLine holds the unit price captured when the product was first added.
type CartLine struct {
	ProductID ProductID
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is owned by a single session and is not safe for concurrent use.
type Cart struct {
	ID    string
	lines []CartLine
	state CartState
}

func NewCart(id string) *Cart {
	return &Cart{ID: id, state: CartEmpty}
}

// Lines returns a copy of the cart lines in insertion order.
func (c *Cart) Lines() []CartLine {
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int {
	return len(c.lines)
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

func (c *Cart) State() CartState {
	return c.state
}

// Line returns the line for productID, if any.
func (c *Cart) Line(productID ProductID) (CartLine, bool) {
	if i := c.indexOf(productID); i >= 0 {
		return c.lines[i], true
	}
	return CartLine{}, false
}

// Merge adds quantity to the existing line for the product, or appends a new
// line priced at unitPrice. The caller validates the combined quantity.
func (c *Cart) Merge(productID ProductID, name string, quantity int, unitPrice decimal.Decimal) {
	if i := c.indexOf(productID); i >= 0 {
		c.lines[i].Quantity += quantity
	} else {
		c.lines = append(c.lines, CartLine{
			ProductID: productID,
			Name:      name,
			Quantity:  quantity,
			UnitPrice: unitPrice,
		})
	}
	c.state = CartBuilding
}

func (c *Cart) RemoveProduct(productID ProductID) error {
	i := c.indexOf(productID)
	if i < 0 {
		return fmt.Errorf("%w: product %d", ErrLineNotFound, productID)
	}
	c.removeAt(i)
	return nil
}

func (c *Cart) RemoveAt(index int) error {
	if index < 0 || index >= len(c.lines) {
		return fmt.Errorf("%w: index %d", ErrLineNotFound, index)
	}
	c.removeAt(index)
	return nil
}

func (c *Cart) Clear() {
	c.lines = nil
	c.state = CartEmpty
}

// Total is the sum of all line subtotals.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func (c *Cart) BeginValidation() {
	c.state = CartValidating
}

func (c *Cart) BeginCommit() {
	c.state = CartCommitting
}

// Abort returns a cart whose commit failed to the editable state.
func (c *Cart) Abort() {
	c.settle()
}

// MarkCommitted empties the cart after a successful commit.
func (c *Cart) MarkCommitted() {
	c.lines = nil
	c.state = CartCommitted
}

func (c *Cart) removeAt(i int) {
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	c.settle()
}

func (c *Cart) settle() {
	if len(c.lines) == 0 {
		c.state = CartEmpty
		return
	}
	c.state = CartBuilding
}

func (c *Cart) indexOf(productID ProductID) int {
	for i, l := range c.lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}
