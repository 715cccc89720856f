package handler

import (
	"errors"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/rl1809/pos-sale/internal/core/domain"
	"github.com/rl1809/pos-sale/internal/core/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Machine-readable failure codes shared by the HTTP and gRPC surfaces.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeProductNotFound      = "PRODUCT_NOT_FOUND"
	CodeInvalidProduct       = "INVALID_PRODUCT"
	CodeInvalidQuantity      = "INVALID_QUANTITY"
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeLineNotFound         = "LINE_NOT_FOUND"
	CodeEmptyCart            = "EMPTY_CART"
	CodeInvalidPaymentMethod = "INVALID_PAYMENT_METHOD"
	CodeDuplicateCommit      = "DUPLICATE_COMMIT"
	CodeCommitFailed         = "COMMIT_FAILED"
	CodeCartNotFound         = "CART_NOT_FOUND"
	CodeSaleNotFound         = "SALE_NOT_FOUND"
	CodeInternal             = "INTERNAL_ERROR"
)

type Response struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Code    string       `json:"code,omitempty"`
	Data    interface{}  `json:"data,omitempty"`
	Detail  *StockDetail `json:"detail,omitempty"`
}

// StockDetail names the line that could not be fulfilled.
type StockDetail struct {
	ProductID int64 `json:"product_id"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
}

type failure struct {
	status  int
	code    string
	message string
	detail  *StockDetail
	saleID  string
}

// classify maps an engine error to its transport representation.
func classify(err error) failure {
	var stock *domain.InsufficientStockError
	if errors.As(err, &stock) {
		return failure{
			status:  http.StatusConflict,
			code:    CodeInsufficientStock,
			message: "insufficient stock",
			detail: &StockDetail{
				ProductID: int64(stock.ProductID),
				Requested: stock.Requested,
				Available: stock.Available,
			},
		}
	}

	var dup *domain.DuplicateCommitError
	if errors.As(err, &dup) {
		return failure{status: http.StatusConflict, code: CodeDuplicateCommit, message: "duplicate commit", saleID: dup.SaleID}
	}

	switch {
	case errors.Is(err, service.ErrCartNotFound):
		return failure{status: http.StatusNotFound, code: CodeCartNotFound, message: "cart not found"}
	case errors.Is(err, domain.ErrProductNotFound):
		return failure{status: http.StatusNotFound, code: CodeProductNotFound, message: "product not found"}
	case errors.Is(err, domain.ErrLineNotFound):
		return failure{status: http.StatusNotFound, code: CodeLineNotFound, message: "cart line not found"}
	case errors.Is(err, domain.ErrInvalidQuantity):
		return failure{status: http.StatusBadRequest, code: CodeInvalidQuantity, message: "quantity must be a positive integer"}
	case errors.Is(err, domain.ErrInvalidProduct):
		return failure{status: http.StatusBadRequest, code: CodeInvalidProduct, message: err.Error()}
	case errors.Is(err, domain.ErrEmptyCart):
		return failure{status: http.StatusUnprocessableEntity, code: CodeEmptyCart, message: "cart is empty"}
	case errors.Is(err, domain.ErrInvalidPaymentMethod):
		return failure{status: http.StatusBadRequest, code: CodeInvalidPaymentMethod, message: "payment method must be cash, card or check"}
	case errors.Is(err, domain.ErrCommitFailed):
		return failure{status: http.StatusServiceUnavailable, code: CodeCommitFailed, message: "sale could not be recorded, try again"}
	}
	return failure{status: http.StatusInternalServerError, code: CodeInternal, message: "internal error"}
}

type productView struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Category         string `json:"category,omitempty"`
	PurchasePrice    string `json:"purchase_price"`
	SalePrice        string `json:"sale_price"`
	Stock            int    `json:"stock"`
	ReorderThreshold int    `json:"reorder_threshold"`
	Active           bool   `json:"active"`
}

func newProductView(p domain.Product) productView {
	return productView{
		ID:               int64(p.ID),
		Name:             p.Name,
		Category:         p.Category,
		PurchasePrice:    p.PurchasePrice.StringFixed(2),
		SalePrice:        p.SalePrice.StringFixed(2),
		Stock:            p.Stock,
		ReorderThreshold: p.ReorderThreshold,
		Active:           p.Active,
	}
}

type lineView struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type cartView struct {
	ID    string     `json:"id"`
	State string     `json:"state"`
	Lines []lineView `json:"lines"`
	Total string     `json:"total"`
}

func newCartView(c *domain.Cart) cartView {
	lines := c.Lines()
	view := cartView{
		ID:    c.ID,
		State: string(c.State()),
		Lines: make([]lineView, 0, len(lines)),
		Total: c.Total().StringFixed(2),
	}
	for _, l := range lines {
		view.Lines = append(view.Lines, lineView{
			ProductID: int64(l.ProductID),
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Subtotal:  l.Subtotal().StringFixed(2),
		})
	}
	return view
}

type saleView struct {
	SaleID        string     `json:"sale_id"`
	Token         string     `json:"token"`
	PaymentMethod string     `json:"payment_method"`
	Total         string     `json:"total"`
	Lines         []lineView `json:"lines"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newSaleView(r domain.Receipt) saleView {
	view := saleView{
		SaleID:        r.SaleID,
		Token:         r.Token,
		PaymentMethod: string(r.PaymentMethod),
		Total:         r.Total.StringFixed(2),
		Lines:         make([]lineView, 0, len(r.Lines)),
		CreatedAt:     r.CreatedAt,
	}
	for _, l := range r.Lines {
		view.Lines = append(view.Lines, lineView{
			ProductID: int64(l.ProductID),
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
			Subtotal:  l.Subtotal.StringFixed(2),
		})
	}
	return view
}
