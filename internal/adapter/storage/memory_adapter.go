package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/pos-sale/internal/core/domain"
	"github.com/rl1809/pos-sale/internal/port"
)

// MemoryStore is an in-process catalog and ledger. Commits serialize per
// product: a unit of work locks the products it touches in ascending ID order
// and holds them until its writes are applied or discarded.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[domain.ProductID]domain.Product
	locks    map[domain.ProductID]*sync.Mutex
	sales    map[string]domain.Sale
	tokens   map[string]string
	nextID   domain.ProductID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[domain.ProductID]domain.Product),
		locks:    make(map[domain.ProductID]*sync.Mutex),
		sales:    make(map[string]domain.Sale),
		tokens:   make(map[string]string),
	}
}

func (s *MemoryStore) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) SearchProducts(ctx context.Context, fragment string, limit int) ([]domain.Product, error) {
	needle := strings.ToLower(fragment)
	idMatch, idErr := strconv.ParseInt(fragment, 10, 64)

	s.mu.RLock()
	var out []domain.Product
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		if strings.Contains(strings.ToLower(p.Name), needle) || (idErr == nil && int64(p.ID) == idMatch) {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	product.ID = s.nextID
	s.products[product.ID] = product
	return &product, nil
}

func (s *MemoryStore) UpdateProduct(ctx context.Context, id domain.ProductID, patch domain.ProductPatch) (*domain.Product, error) {
	lock := s.productLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, domain.ProductNotFound(id)
	}
	p = patch.Apply(p, time.Now())
	s.products[id] = p
	return &p, nil
}

func (s *MemoryStore) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[id]
	if !ok {
		return nil, nil
	}
	sale.Lines = append([]domain.SaleLine(nil), sale.Lines...)
	return &sale, nil
}

// Atomic buffers every write of fn and applies them together once fn returns
// nil and the context is still live.
func (s *MemoryStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx port.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:   s,
		pending: make(map[domain.ProductID]int),
		lines:   make(map[string][]domain.SaleLine),
	}
	defer tx.unlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.apply(tx)
}

func (s *MemoryStore) apply(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sale := range tx.sales {
		if existing, ok := s.tokens[sale.Token]; ok {
			return &domain.DuplicateCommitError{Token: sale.Token, SaleID: existing}
		}
	}
	for id, n := range tx.pending {
		if s.products[id].Stock < n {
			return fmt.Errorf("stock of product %d changed outside its lock", id)
		}
	}

	now := time.Now()
	for id, n := range tx.pending {
		p := s.products[id]
		p.Stock -= n
		p.UpdatedAt = now
		s.products[id] = p
	}
	for _, sale := range tx.sales {
		sale.Lines = tx.lines[sale.ID]
		s.sales[sale.ID] = sale
		s.tokens[sale.Token] = sale.ID
	}
	return nil
}

func (s *MemoryStore) productLock(id domain.ProductID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

type memoryTx struct {
	store    *MemoryStore
	held     []*sync.Mutex
	snapshot map[domain.ProductID]domain.Product
	pending  map[domain.ProductID]int
	sales    []domain.Sale
	lines    map[string][]domain.SaleLine
}

func (t *memoryTx) SaleIDByToken(ctx context.Context, token string) (string, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.tokens[token], nil
}

func (t *memoryTx) LockProducts(ctx context.Context, ids []domain.ProductID) (map[domain.ProductID]domain.Product, error) {
	if t.snapshot != nil {
		return nil, fmt.Errorf("products already locked in this transaction")
	}

	ids = sortedUnique(ids)
	for _, id := range ids {
		l := t.store.productLock(id)
		l.Lock()
		t.held = append(t.held, l)
	}

	t.snapshot = make(map[domain.ProductID]domain.Product, len(ids))
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, id := range ids {
		if p, ok := t.store.products[id]; ok {
			t.snapshot[id] = p
		}
	}

	out := make(map[domain.ProductID]domain.Product, len(t.snapshot))
	for id, p := range t.snapshot {
		out[id] = p
	}
	return out, nil
}

func (t *memoryTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	sale.Lines = nil
	t.sales = append(t.sales, sale)
	return nil
}

func (t *memoryTx) InsertSaleLine(ctx context.Context, saleID string, lineNo int, line domain.SaleLine) error {
	t.lines[saleID] = append(t.lines[saleID], line)
	return nil
}

func (t *memoryTx) DecrementStockIfAvailable(ctx context.Context, id domain.ProductID, quantity int) (bool, error) {
	p, ok := t.snapshot[id]
	if !ok {
		return false, fmt.Errorf("product %d not locked in this transaction", id)
	}
	if !p.Active || quantity > p.Stock-t.pending[id] {
		return false, nil
	}
	t.pending[id] += quantity
	return true, nil
}

func (t *memoryTx) unlock() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].Unlock()
	}
	t.held = nil
}

// MemoryIdempotency is a process-local CacheRepository.
type MemoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]time.Time
	ttl  time.Duration
}

func NewMemoryIdempotency(ttl time.Duration) *MemoryIdempotency {
	return &MemoryIdempotency{keys: make(map[string]time.Time), ttl: ttl}
}

func (m *MemoryIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if exp, ok := m.keys[key]; ok && (m.ttl <= 0 || now.Before(exp)) {
		return false, nil
	}
	m.keys[key] = now.Add(m.ttl)
	return true, nil
}

func (m *MemoryIdempotency) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func sortedUnique(ids []domain.ProductID) []domain.ProductID {
	out := append([]domain.ProductID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 0
	for i, id := range out {
		if i == 0 || id != out[n-1] {
			out[n] = id
			n++
		}
	}
	return out[:n]
}
