package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/pos-sale/internal/core/domain"
	"github.com/rl1809/pos-sale/internal/core/service"
)

// IdempotencyHeader carries the checkout token on commit requests.
const IdempotencyHeader = "Idempotency-Key"

type HTTPHandler struct {
	sales   *service.SaleService
	catalog *service.CatalogService
	carts   *service.CartRegistry
	logger  *zap.Logger
}

type createProductRequest struct {
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	PurchasePrice    decimal.Decimal `json:"purchase_price"`
	SalePrice        decimal.Decimal `json:"sale_price"`
	Stock            int             `json:"stock"`
	ReorderThreshold int             `json:"reorder_threshold"`
}

type patchProductRequest struct {
	Name             *string          `json:"name"`
	PurchasePrice    *decimal.Decimal `json:"purchase_price"`
	SalePrice        *decimal.Decimal `json:"sale_price"`
	Stock            *int             `json:"stock"`
	ReorderThreshold *int             `json:"reorder_threshold"`
	Active           *bool            `json:"active"`
}

type addLineRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type commitRequest struct {
	PaymentMethod string `json:"payment_method"`
	Token         string `json:"token"`
}

func NewHTTPHandler(sales *service.SaleService, catalog *service.CatalogService, carts *service.CartRegistry, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{sales: sales, catalog: catalog, carts: carts, logger: logger}
}

// NewEcho builds the HTTP server with every route registered.
func NewEcho(h *HTTPHandler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = jsonSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			h.logger.Debug("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))
	h.Register(e)
	return e
}

func (h *HTTPHandler) Register(e *echo.Echo) {
	e.GET("/health", h.HealthCheck)

	api := e.Group("/api")
	api.GET("/products", h.SearchProducts)
	api.POST("/products", h.CreateProduct)
	api.GET("/products/:id", h.GetProduct)
	api.PATCH("/products/:id", h.UpdateProduct)

	api.POST("/carts", h.OpenCart)
	api.GET("/carts/:id", h.GetCart)
	api.POST("/carts/:id/lines", h.AddLine)
	api.DELETE("/carts/:id/lines/:product_id", h.RemoveLine)
	api.DELETE("/carts/:id/lines", h.ClearCart)
	api.POST("/carts/:id/commit", h.CommitCart)

	api.GET("/sales/:id", h.GetSale)
}

func (h *HTTPHandler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) SearchProducts(c echo.Context) error {
	products, err := h.catalog.Search(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return h.fail(c, err)
	}
	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, newProductView(p))
	}
	return ok(c, http.StatusOK, "ok", views)
}

func (h *HTTPHandler) GetProduct(c echo.Context) error {
	id, err := parseProductID(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid product id")
	}
	p, err := h.catalog.Lookup(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, "ok", newProductView(*p))
}

func (h *HTTPHandler) CreateProduct(c echo.Context) error {
	var req createProductRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	p, err := h.catalog.CreateProduct(c.Request().Context(), domain.NewProduct{
		Name:             req.Name,
		Category:         req.Category,
		PurchasePrice:    req.PurchasePrice,
		SalePrice:        req.SalePrice,
		Stock:            req.Stock,
		ReorderThreshold: req.ReorderThreshold,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusCreated, "product created", newProductView(*p))
}

func (h *HTTPHandler) UpdateProduct(c echo.Context) error {
	id, err := parseProductID(c.Param("id"))
	if err != nil {
		return badRequest(c, "invalid product id")
	}
	var req patchProductRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	p, err := h.catalog.Update(c.Request().Context(), id, domain.ProductPatch{
		Name:             req.Name,
		PurchasePrice:    req.PurchasePrice,
		SalePrice:        req.SalePrice,
		Stock:            req.Stock,
		ReorderThreshold: req.ReorderThreshold,
		Active:           req.Active,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, "product updated", newProductView(*p))
}

func (h *HTTPHandler) OpenCart(c echo.Context) error {
	id := h.carts.Open()
	var view cartView
	if err := h.carts.With(id, func(cart *domain.Cart) error {
		view = newCartView(cart)
		return nil
	}); err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusCreated, "cart opened", view)
}

func (h *HTTPHandler) GetCart(c echo.Context) error {
	return h.withCart(c, http.StatusOK, "ok", func(cart *domain.Cart) error {
		return nil
	})
}

func (h *HTTPHandler) AddLine(c echo.Context) error {
	var req addLineRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx := c.Request().Context()
	return h.withCart(c, http.StatusOK, "line added", func(cart *domain.Cart) error {
		return h.sales.AddToCart(ctx, cart, domain.ProductID(req.ProductID), req.Quantity)
	})
}

func (h *HTTPHandler) RemoveLine(c echo.Context) error {
	productID, err := parseProductID(c.Param("product_id"))
	if err != nil {
		return badRequest(c, "invalid product id")
	}
	return h.withCart(c, http.StatusOK, "line removed", func(cart *domain.Cart) error {
		return h.sales.RemoveFromCart(cart, productID)
	})
}

func (h *HTTPHandler) ClearCart(c echo.Context) error {
	return h.withCart(c, http.StatusOK, "cart cleared", func(cart *domain.Cart) error {
		h.sales.ClearCart(cart)
		return nil
	})
}

// CommitCart records the cart as a sale and closes the cart session. The token
// comes from the Idempotency-Key header, falling back to the body.
func (h *HTTPHandler) CommitCart(c echo.Context) error {
	var req commitRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	// An unparseable method is passed through so the engine reports
	// an empty cart before an invalid method.
	method, err := domain.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		method = domain.PaymentMethod(req.PaymentMethod)
	}
	token := strings.TrimSpace(c.Request().Header.Get(IdempotencyHeader))
	if token == "" {
		token = strings.TrimSpace(req.Token)
	}

	cartID := c.Param("id")
	var receipt *domain.Receipt
	err = h.carts.With(cartID, func(cart *domain.Cart) error {
		var err error
		receipt, err = h.sales.Commit(c.Request().Context(), cart, method, token)
		return err
	})
	if err != nil {
		return h.fail(c, err)
	}
	// A committed cart is done; the terminal opens a new one for the next sale.
	h.carts.Close(cartID)
	return ok(c, http.StatusCreated, "sale committed", newSaleView(*receipt))
}

func (h *HTTPHandler) GetSale(c echo.Context) error {
	sale, err := h.sales.Sale(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	if sale == nil {
		return c.JSON(http.StatusNotFound, Response{
			Success: false,
			Message: "sale not found",
			Code:    CodeSaleNotFound,
		})
	}
	return ok(c, http.StatusOK, "ok", newSaleView(sale.Receipt()))
}

// withCart runs fn on the cart named by the :id param and replies with the
// resulting cart.
func (h *HTTPHandler) withCart(c echo.Context, status int, message string, fn func(cart *domain.Cart) error) error {
	var view cartView
	err := h.carts.With(c.Param("id"), func(cart *domain.Cart) error {
		if err := fn(cart); err != nil {
			return err
		}
		view = newCartView(cart)
		return nil
	})
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, status, message, view)
}

func (h *HTTPHandler) fail(c echo.Context, err error) error {
	f := classify(err)
	if f.status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
	}

	resp := Response{
		Success: false,
		Message: f.message,
		Code:    f.code,
		Detail:  f.detail,
	}
	if f.saleID != "" {
		resp.Data = map[string]string{"sale_id": f.saleID}
	}
	return c.JSON(f.status, resp)
}

func ok(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Message: message,
		Code:    CodeInvalidRequest,
	})
}

func parseProductID(s string) (domain.ProductID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid product id %q", s)
	}
	return domain.ProductID(id), nil
}

// jsonSerializer routes echo's JSON encoding through jsoniter.
type jsonSerializer struct{}

func (jsonSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (jsonSerializer) Deserialize(c echo.Context, i interface{}) error {
	err := json.NewDecoder(c.Request().Body).Decode(i)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}
