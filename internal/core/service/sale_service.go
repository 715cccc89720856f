package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/pos-sale/internal/core/domain"
	"github.com/rl1809/pos-sale/internal/port"
)

const idempotencyKeyPrefix = "sale:token:"

type Options struct {
	CommitTimeout time.Duration
	CommitRetries int
	RetryBackoff  time.Duration
}

func DefaultOptions() Options {
	return Options{
		CommitTimeout: 5 * time.Second,
		CommitRetries: 3,
		RetryBackoff:  50 * time.Millisecond,
	}
}

// Repositories are the collaborators the sale engine drives. Cache and Sales
// may be nil.
type Repositories struct {
	Catalog port.CatalogReader
	Ledger  port.Ledger
	Sales   port.SaleReader
	Cache   port.CacheRepository
}

type SaleService struct {
	catalog port.CatalogReader
	ledger  port.Ledger
	sales   port.SaleReader
	cache   port.CacheRepository
	logger  *zap.Logger
	opts    Options
	now     func() time.Time
	newID   func() string
}

func NewSaleService(repos Repositories, logger *zap.Logger, opts Options) *SaleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaleService{
		catalog: repos.Catalog,
		ledger:  repos.Ledger,
		sales:   repos.Sales,
		cache:   repos.Cache,
		logger:  logger,
		opts:    opts,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (s *SaleService) NewCart() *domain.Cart {
	return domain.NewCart(s.newID())
}

// AddToCart adds quantity units of a product, merging with an existing line.
// On error the cart is left as it was.
func (s *SaleService) AddToCart(ctx context.Context, cart *domain.Cart, productID domain.ProductID, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, quantity)
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("lookup product: %w", err)
	}
	if product == nil || !product.Sellable() {
		return domain.ProductNotFound(productID)
	}

	existing := 0
	if line, ok := cart.Line(productID); ok {
		existing = line.Quantity
	}
	// Compared by subtraction so a huge quantity cannot wrap the sum.
	if quantity > product.Stock-existing {
		requested := math.MaxInt
		if quantity <= math.MaxInt-existing {
			requested = existing + quantity
		}
		return &domain.InsufficientStockError{
			ProductID: productID,
			Requested: requested,
			Available: product.Stock,
		}
	}

	cart.Merge(productID, product.Name, quantity, product.SalePrice)
	return nil
}

func (s *SaleService) RemoveFromCart(cart *domain.Cart, productID domain.ProductID) error {
	return cart.RemoveProduct(productID)
}

func (s *SaleService) RemoveLineAt(cart *domain.Cart, index int) error {
	return cart.RemoveAt(index)
}

func (s *SaleService) ClearCart(cart *domain.Cart) {
	cart.Clear()
}

// Commit turns the cart into a durable sale and decrements stock for every
// line as one unit of work. On failure nothing is persisted and the cart is
// left unchanged. token identifies the logical checkout; an empty token gets
// a fresh one and is never deduplicated.
func (s *SaleService) Commit(ctx context.Context, cart *domain.Cart, method domain.PaymentMethod, token string) (*domain.Receipt, error) {
	if cart.IsEmpty() {
		return nil, domain.ErrEmptyCart
	}
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidPaymentMethod, method)
	}
	if token == "" {
		token = s.newID()
	}

	if s.opts.CommitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CommitTimeout)
		defer cancel()
	}

	cart.BeginValidation()
	sale, low, err := s.commit(ctx, cart, method, token)
	if err != nil {
		cart.Abort()
		s.logger.Warn("commit rejected",
			zap.String("cart_id", cart.ID),
			zap.String("token", token),
			zap.Error(err))
		return nil, err
	}
	cart.MarkCommitted()

	s.logger.Info("sale committed",
		zap.String("sale_id", sale.ID),
		zap.String("token", token),
		zap.String("payment_method", string(sale.PaymentMethod)),
		zap.String("total", sale.Total.StringFixed(2)),
		zap.Int("lines", len(sale.Lines)))
	for _, p := range low {
		s.logger.Warn("product at or below reorder threshold",
			zap.Int64("product_id", int64(p.ID)),
			zap.String("name", p.Name),
			zap.Int("stock", p.Stock),
			zap.Int("reorder_threshold", p.ReorderThreshold))
	}

	receipt := sale.Receipt()
	return &receipt, nil
}

// Sale returns a committed sale for receipt reprints.
func (s *SaleService) Sale(ctx context.Context, id string) (*domain.Sale, error) {
	if s.sales == nil {
		return nil, errors.New("sale lookup not configured")
	}
	return s.sales.GetSale(ctx, id)
}

func (s *SaleService) commit(ctx context.Context, cart *domain.Cart, method domain.PaymentMethod, token string) (domain.Sale, []domain.Product, error) {
	key := idempotencyKeyPrefix + token
	if s.cache != nil {
		ok, err := s.cache.SetIdempotency(ctx, key)
		if err != nil {
			return domain.Sale{}, nil, &domain.CommitFailedError{Cause: fmt.Errorf("idempotency check: %w", err)}
		}
		if !ok {
			return domain.Sale{}, nil, s.duplicate(ctx, token)
		}
	}

	sale, low, err := s.commitWithRetry(ctx, cart, method, token)
	if err != nil && s.cache != nil && !errors.Is(err, domain.ErrDuplicateCommit) {
		if relErr := s.cache.ReleaseIdempotency(context.WithoutCancel(ctx), key); relErr != nil {
			s.logger.Error("release idempotency key failed", zap.String("key", key), zap.Error(relErr))
		}
	}
	return sale, low, err
}

func (s *SaleService) commitWithRetry(ctx context.Context, cart *domain.Cart, method domain.PaymentMethod, token string) (domain.Sale, []domain.Product, error) {
	for attempt := 0; ; attempt++ {
		cart.BeginValidation()
		sale, low, err := s.attempt(ctx, cart, method, token)
		if err == nil {
			return sale, low, nil
		}
		if !errors.Is(err, port.ErrRetryable) || attempt >= s.opts.CommitRetries {
			return domain.Sale{}, nil, classify(err)
		}

		s.logger.Info("retrying commit",
			zap.String("token", token),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		timer := time.NewTimer(s.opts.RetryBackoff * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.Sale{}, nil, &domain.CommitFailedError{Cause: ctx.Err()}
		case <-timer.C:
		}
	}
}

func (s *SaleService) attempt(ctx context.Context, cart *domain.Cart, method domain.PaymentMethod, token string) (domain.Sale, []domain.Product, error) {
	lines := cart.Lines()
	ids := make([]domain.ProductID, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}

	var (
		sale domain.Sale
		low  []domain.Product
	)
	err := s.ledger.Atomic(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		low = nil

		existing, err := tx.SaleIDByToken(ctx, token)
		if err != nil {
			return fmt.Errorf("lookup token: %w", err)
		}
		if existing != "" {
			return &domain.DuplicateCommitError{Token: token, SaleID: existing}
		}

		// Revalidate against live stock; the cart's view may be stale.
		products, err := tx.LockProducts(ctx, ids)
		if err != nil {
			return fmt.Errorf("lock products: %w", err)
		}
		for _, l := range lines {
			p, ok := products[l.ProductID]
			if !ok || !p.Sellable() {
				return domain.ProductNotFound(l.ProductID)
			}
			if l.Quantity > p.Stock {
				return &domain.InsufficientStockError{
					ProductID: l.ProductID,
					Requested: l.Quantity,
					Available: p.Stock,
				}
			}
		}

		cart.BeginCommit()
		built, err := domain.NewSale(s.newID(), token, method, lines, s.now())
		if err != nil {
			return err
		}
		if !built.Total.Equal(cart.Total()) {
			return fmt.Errorf("sale total %s does not match cart total %s",
				built.Total.StringFixed(2), cart.Total().StringFixed(2))
		}

		if err := tx.InsertSale(ctx, built); err != nil {
			return fmt.Errorf("insert sale: %w", err)
		}
		for i, line := range built.Lines {
			if err := tx.InsertSaleLine(ctx, built.ID, i+1, line); err != nil {
				return fmt.Errorf("insert sale line %d: %w", i+1, err)
			}
			ok, err := tx.DecrementStockIfAvailable(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return fmt.Errorf("decrement stock for product %d: %w", line.ProductID, err)
			}
			if !ok {
				return &domain.InsufficientStockError{
					ProductID: line.ProductID,
					Requested: line.Quantity,
					Available: products[line.ProductID].Stock,
				}
			}
			p := products[line.ProductID]
			p.Stock -= line.Quantity
			if p.BelowReorder() {
				low = append(low, p)
			}
		}

		sale = built
		return nil
	})
	return sale, low, err
}

func (s *SaleService) duplicate(ctx context.Context, token string) error {
	dup := &domain.DuplicateCommitError{Token: token}
	err := s.ledger.Atomic(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		id, err := tx.SaleIDByToken(ctx, token)
		dup.SaleID = id
		return err
	})
	if err != nil {
		s.logger.Warn("lookup duplicate token failed", zap.String("token", token), zap.Error(err))
	}
	return dup
}

// classify returns business rejections verbatim and wraps everything else.
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrDuplicateCommit),
		errors.Is(err, domain.ErrCommitFailed):
		return err
	}
	return &domain.CommitFailedError{Cause: err}
}
