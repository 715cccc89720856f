package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/pos-sale/internal/core/domain"
	"github.com/rl1809/pos-sale/internal/core/service"
)

// GRPCHandler serves stateless checkouts: each call builds, fills and commits
// its own cart.
type GRPCHandler struct {
	sales   *service.SaleService
	catalog *service.CatalogService
	logger  *zap.Logger
}

func NewGRPCHandler(sales *service.SaleService, catalog *service.CatalogService, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{sales: sales, catalog: catalog, logger: logger}
}

func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	cart := h.sales.NewCart()
	for _, line := range req.Lines {
		if err := h.sales.AddToCart(ctx, cart, domain.ProductID(line.ProductID), int(line.Quantity)); err != nil {
			return h.checkoutFailure(err), nil
		}
	}

	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		method = domain.PaymentMethod(req.PaymentMethod)
	}

	receipt, err := h.sales.Commit(ctx, cart, method, req.Token)
	if err != nil {
		return h.checkoutFailure(err), nil
	}

	return &CheckoutResponse{
		Success: true,
		Message: "sale committed",
		SaleID:  receipt.SaleID,
		Total:   receipt.Total.StringFixed(2),
	}, nil
}

func (h *GRPCHandler) LookupProduct(ctx context.Context, req *LookupProductRequest) (*LookupProductResponse, error) {
	var products []domain.Product
	if req.ProductID != 0 {
		p, err := h.catalog.Lookup(ctx, domain.ProductID(req.ProductID))
		if err != nil {
			f := classify(err)
			return &LookupProductResponse{Success: false, Message: f.message, Code: f.code}, nil
		}
		products = []domain.Product{*p}
	} else {
		found, err := h.catalog.Search(ctx, req.Query)
		if err != nil {
			h.logger.Error("product search failed", zap.String("query", req.Query), zap.Error(err))
			f := classify(err)
			return &LookupProductResponse{Success: false, Message: f.message, Code: f.code}, nil
		}
		products = found
	}

	resp := &LookupProductResponse{
		Success:  true,
		Message:  "ok",
		Products: make([]ProductMessage, 0, len(products)),
	}
	for _, p := range products {
		resp.Products = append(resp.Products, ProductMessage{
			ID:        int64(p.ID),
			Name:      p.Name,
			SalePrice: p.SalePrice.StringFixed(2),
			Stock:     int64(p.Stock),
		})
	}
	return resp, nil
}

func (h *GRPCHandler) checkoutFailure(err error) *CheckoutResponse {
	f := classify(err)
	if f.code == CodeInternal || f.code == CodeCommitFailed {
		h.logger.Error("checkout failed", zap.Error(err))
	}
	resp := &CheckoutResponse{
		Success: false,
		Message: f.message,
		Code:    f.code,
		SaleID:  f.saleID,
	}
	if f.detail != nil {
		resp.ProductID = f.detail.ProductID
		resp.Requested = int64(f.detail.Requested)
		resp.Available = int64(f.detail.Available)
	}
	return resp
}
