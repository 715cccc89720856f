package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/pos-sale/internal/core/domain"
	"github.com/rl1809/pos-sale/internal/port"
)

const defaultSearchLimit = 20

// CatalogService serves product lookups to the sale flow and the typed field
// setters used by catalog maintenance.
type CatalogService struct {
	reader      port.CatalogReader
	writer      port.CatalogWriter
	logger      *zap.Logger
	searchLimit int
	now         func() time.Time
}

func NewCatalogService(reader port.CatalogReader, writer port.CatalogWriter, logger *zap.Logger, searchLimit int) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if searchLimit <= 0 {
		searchLimit = defaultSearchLimit
	}
	return &CatalogService{
		reader:      reader,
		writer:      writer,
		logger:      logger,
		searchLimit: searchLimit,
		now:         time.Now,
	}
}

// Lookup returns a sellable product. Inactive products are reported as not found.
func (s *CatalogService) Lookup(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	p, err := s.reader.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup product: %w", err)
	}
	if p == nil || !p.Sellable() {
		return nil, domain.ProductNotFound(id)
	}
	return p, nil
}

func (s *CatalogService) Search(ctx context.Context, fragment string) ([]domain.Product, error) {
	products, err := s.reader.SearchProducts(ctx, strings.TrimSpace(fragment), s.searchLimit)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	return products, nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, in domain.NewProduct) (*domain.Product, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	p, err := s.writer.CreateProduct(ctx, in.Product(s.now()))
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	s.logger.Info("product created", zap.Int64("product_id", int64(p.ID)), zap.String("name", p.Name))
	return p, nil
}

func (s *CatalogService) SetName(ctx context.Context, id domain.ProductID, name string) (*domain.Product, error) {
	return s.Update(ctx, id, domain.ProductPatch{Name: &name})
}

func (s *CatalogService) SetPurchasePrice(ctx context.Context, id domain.ProductID, price decimal.Decimal) (*domain.Product, error) {
	return s.Update(ctx, id, domain.ProductPatch{PurchasePrice: &price})
}

func (s *CatalogService) SetSalePrice(ctx context.Context, id domain.ProductID, price decimal.Decimal) (*domain.Product, error) {
	return s.Update(ctx, id, domain.ProductPatch{SalePrice: &price})
}

func (s *CatalogService) SetStock(ctx context.Context, id domain.ProductID, stock int) (*domain.Product, error) {
	return s.Update(ctx, id, domain.ProductPatch{Stock: &stock})
}

func (s *CatalogService) SetReorderThreshold(ctx context.Context, id domain.ProductID, threshold int) (*domain.Product, error) {
	return s.Update(ctx, id, domain.ProductPatch{ReorderThreshold: &threshold})
}

// Deactivate hides a product from lookup and sale. Past sales keep referencing it.
func (s *CatalogService) Deactivate(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	inactive := false
	return s.Update(ctx, id, domain.ProductPatch{Active: &inactive})
}

// Update validates and applies a patch of one or more typed fields.
func (s *CatalogService) Update(ctx context.Context, id domain.ProductID, patch domain.ProductPatch) (*domain.Product, error) {
	current, err := s.reader.GetProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup product: %w", err)
	}
	if current == nil {
		return nil, domain.ProductNotFound(id)
	}
	if err := patch.Validate(*current); err != nil {
		return nil, err
	}

	updated, err := s.writer.UpdateProduct(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}

	fields := make([]string, 0, len(patch.Fields()))
	for _, f := range patch.Fields() {
		fields = append(fields, string(f))
	}
	s.logger.Info("product updated", zap.Int64("product_id", int64(id)), zap.Strings("fields", fields))
	return updated, nil
}
