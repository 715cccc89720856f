package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-sale/internal/core/domain"
	"github.com/rl1809/pos-sale/internal/port"
)

// Mock CacheRepository
type mockCacheRepo struct {
	idempotencySet map[string]bool
	mu             sync.Mutex
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{idempotencySet: make(map[string]bool)}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	return nil
}

// Mock catalog + ledger. Atomic holds the store lock for the whole unit and
// applies buffered writes only when fn succeeds.
type mockStore struct {
	mu       sync.Mutex
	products map[domain.ProductID]domain.Product
	sales    map[string]domain.Sale
	tokens   map[string]string
	nextID   domain.ProductID

	atomicCalls       int
	retryableFailures int
	failDecrementOn   domain.ProductID
	failLineInsert    error
}

func newMockStore(products ...domain.Product) *mockStore {
	m := &mockStore{
		products: make(map[domain.ProductID]domain.Product),
		sales:    make(map[string]domain.Sale),
		tokens:   make(map[string]string),
	}
	for _, p := range products {
		m.products[p.ID] = p
		if p.ID > m.nextID {
			m.nextID = p.ID
		}
	}
	return m
}

func product(id domain.ProductID, name, salePrice string, stock int) domain.Product {
	return domain.Product{
		ID:            id,
		Name:          name,
		PurchasePrice: decimal.Zero,
		SalePrice:     decimal.RequireFromString(salePrice),
		Stock:         stock,
		Active:        true,
	}
}

func (m *mockStore) stock(id domain.ProductID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *mockStore) setStock(id domain.ProductID, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.products[id]
	p.Stock = stock
	m.products[id] = p
}

func (m *mockStore) saleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sales)
}

func (m *mockStore) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockStore) SearchProducts(ctx context.Context, fragment string, limit int) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, p := range m.products {
		if p.Active && strings.Contains(strings.ToLower(p.Name), strings.ToLower(fragment)) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) CreateProduct(ctx context.Context, p domain.Product) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	m.products[p.ID] = p
	return &p, nil
}

func (m *mockStore) UpdateProduct(ctx context.Context, id domain.ProductID, patch domain.ProductPatch) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, domain.ProductNotFound(id)
	}
	p = patch.Apply(p, p.UpdatedAt)
	m.products[id] = p
	return &p, nil
}

func (m *mockStore) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *mockStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx port.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.atomicCalls++
	if m.retryableFailures > 0 {
		m.retryableFailures--
		return fmt.Errorf("deadlock found: %w", port.ErrRetryable)
	}

	tx := &mockTx{m: m, pending: make(map[domain.ProductID]int), lines: make(map[string][]domain.SaleLine)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	for id, n := range tx.pending {
		p := m.products[id]
		p.Stock -= n
		m.products[id] = p
	}
	for _, s := range tx.sales {
		s.Lines = tx.lines[s.ID]
		m.sales[s.ID] = s
		m.tokens[s.Token] = s.ID
	}
	return nil
}

type mockTx struct {
	m       *mockStore
	pending map[domain.ProductID]int
	sales   []domain.Sale
	lines   map[string][]domain.SaleLine
}

func (t *mockTx) SaleIDByToken(ctx context.Context, token string) (string, error) {
	return t.m.tokens[token], nil
}

func (t *mockTx) LockProducts(ctx context.Context, ids []domain.ProductID) (map[domain.ProductID]domain.Product, error) {
	out := make(map[domain.ProductID]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *mockTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	sale.Lines = nil
	t.sales = append(t.sales, sale)
	return nil
}

func (t *mockTx) InsertSaleLine(ctx context.Context, saleID string, lineNo int, line domain.SaleLine) error {
	if t.m.failLineInsert != nil {
		return t.m.failLineInsert
	}
	t.lines[saleID] = append(t.lines[saleID], line)
	return nil
}

func (t *mockTx) DecrementStockIfAvailable(ctx context.Context, id domain.ProductID, quantity int) (bool, error) {
	if id == t.m.failDecrementOn {
		return false, nil
	}
	available := t.m.products[id].Stock - t.pending[id]
	if quantity > available {
		return false, nil
	}
	t.pending[id] += quantity
	return true, nil
}

// blockingLedger never finishes a unit of work before its context expires.
type blockingLedger struct{}

func (blockingLedger) Atomic(ctx context.Context, fn func(ctx context.Context, tx port.LedgerTx) error) error {
	<-ctx.Done()
	return ctx.Err()
}
