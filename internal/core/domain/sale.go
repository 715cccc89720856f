package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleLine struct {
	ProductID ProductID
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

type Sale struct {
	ID            string
	Token         string
	PaymentMethod PaymentMethod
	Total         decimal.Decimal
	Lines         []SaleLine
	CreatedAt     time.Time
}

// NewSale builds a sale from cart lines. The total is always the sum of the
// line subtotals.
func NewSale(id, token string, method PaymentMethod, lines []CartLine, at time.Time) (Sale, error) {
	if len(lines) == 0 {
		return Sale{}, ErrEmptyCart
	}
	if !method.Valid() {
		return Sale{}, ErrInvalidPaymentMethod
	}

	sale := Sale{
		ID:            id,
		Token:         token,
		PaymentMethod: method,
		Total:         decimal.Zero,
		Lines:         make([]SaleLine, 0, len(lines)),
		CreatedAt:     at,
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return Sale{}, ErrInvalidQuantity
		}
		subtotal := l.Subtotal()
		sale.Lines = append(sale.Lines, SaleLine{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Subtotal:  subtotal,
		})
		sale.Total = sale.Total.Add(subtotal)
	}
	return sale, nil
}

// Receipt is what a successful commit hands back to the caller.
type Receipt struct {
	SaleID        string
	Token         string
	PaymentMethod PaymentMethod
	Total         decimal.Decimal
	Lines         []SaleLine
	CreatedAt     time.Time
}

func (s Sale) Receipt() Receipt {
	lines := make([]SaleLine, len(s.Lines))
	copy(lines, s.Lines)
	return Receipt{
		SaleID:        s.ID,
		Token:         s.Token,
		PaymentMethod: s.PaymentMethod,
		Total:         s.Total,
		Lines:         lines,
		CreatedAt:     s.CreatedAt,
	}
}
