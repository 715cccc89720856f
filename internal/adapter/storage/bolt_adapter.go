package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.etcd.io/bbolt"

	"github.com/rl1809/pos-sale/internal/core/domain"
	"github.com/rl1809/pos-sale/internal/port"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	productsBucket = []byte("products")
	salesBucket    = []byte("sales")
	tokensBucket   = []byte("sale_tokens")
)

// BoltAdapter keeps the catalog and the sale ledger in a single bbolt file.
// bbolt allows one writer at a time, so every unit of work is serialized.
type BoltAdapter struct {
	db *bbolt.DB
}

func OpenBolt(path string) (*BoltAdapter, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{productsBucket, salesBucket, tokensBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltAdapter{db: db}, nil
}

func (b *BoltAdapter) Close() error {
	return b.db.Close()
}

func (b *BoltAdapter) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	var out *domain.Product
	err := b.db.View(func(tx *bbolt.Tx) error {
		p, ok, err := readProduct(tx, id)
		if ok {
			out = &p
		}
		return err
	})
	return out, err
}

func (b *BoltAdapter) SearchProducts(ctx context.Context, fragment string, limit int) ([]domain.Product, error) {
	needle := strings.ToLower(fragment)
	idMatch, idErr := strconv.ParseInt(fragment, 10, 64)

	var out []domain.Product
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(productsBucket).ForEach(func(_, v []byte) error {
			var p domain.Product
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("decode product: %w", err)
			}
			if !p.Active {
				return nil
			}
			if strings.Contains(strings.ToLower(p.Name), needle) || (idErr == nil && int64(p.ID) == idMatch) {
				out = append(out, p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *BoltAdapter) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		seq, err := tx.Bucket(productsBucket).NextSequence()
		if err != nil {
			return fmt.Errorf("next product id: %w", err)
		}
		product.ID = domain.ProductID(seq)
		return writeProduct(tx, product)
	})
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (b *BoltAdapter) UpdateProduct(ctx context.Context, id domain.ProductID, patch domain.ProductPatch) (*domain.Product, error) {
	var out domain.Product
	err := b.db.Update(func(tx *bbolt.Tx) error {
		p, ok, err := readProduct(tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ProductNotFound(id)
		}
		out = patch.Apply(p, time.Now())
		return writeProduct(tx, out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *BoltAdapter) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var out *domain.Sale
	err := b.db.View(func(tx *bbolt.Tx) error {
		sale, ok, err := readSale(tx, id)
		if ok {
			out = &sale
		}
		return err
	})
	return out, err
}

// Atomic runs fn in a bbolt read-write transaction; bbolt discards all of its
// writes when fn returns an error.
func (b *BoltAdapter) Atomic(ctx context.Context, fn func(ctx context.Context, tx port.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := fn(ctx, &boltTx{tx: tx}); err != nil {
			return err
		}
		return ctx.Err()
	})
}

type boltTx struct {
	tx *bbolt.Tx
}

func (t *boltTx) SaleIDByToken(ctx context.Context, token string) (string, error) {
	return string(t.tx.Bucket(tokensBucket).Get([]byte(token))), nil
}

func (t *boltTx) LockProducts(ctx context.Context, ids []domain.ProductID) (map[domain.ProductID]domain.Product, error) {
	out := make(map[domain.ProductID]domain.Product, len(ids))
	for _, id := range sortedUnique(ids) {
		p, ok, err := readProduct(t.tx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *boltTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	tokens := t.tx.Bucket(tokensBucket)
	if existing := tokens.Get([]byte(sale.Token)); existing != nil {
		return &domain.DuplicateCommitError{Token: sale.Token, SaleID: string(existing)}
	}
	sale.Lines = nil
	if err := writeSale(t.tx, sale); err != nil {
		return err
	}
	return tokens.Put([]byte(sale.Token), []byte(sale.ID))
}

func (t *boltTx) InsertSaleLine(ctx context.Context, saleID string, lineNo int, line domain.SaleLine) error {
	sale, ok, err := readSale(t.tx, saleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("sale %s not found", saleID)
	}
	if lineNo != len(sale.Lines)+1 {
		return fmt.Errorf("sale %s: line %d out of order", saleID, lineNo)
	}
	sale.Lines = append(sale.Lines, line)
	return writeSale(t.tx, sale)
}

func (t *boltTx) DecrementStockIfAvailable(ctx context.Context, id domain.ProductID, quantity int) (bool, error) {
	p, ok, err := readProduct(t.tx, id)
	if err != nil {
		return false, err
	}
	if !ok || !p.Active || p.Stock < quantity {
		return false, nil
	}
	p.Stock -= quantity
	p.UpdatedAt = time.Now()
	return true, writeProduct(t.tx, p)
}

func productKey(id domain.ProductID) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(id))
	return key
}

func readProduct(tx *bbolt.Tx, id domain.ProductID) (domain.Product, bool, error) {
	v := tx.Bucket(productsBucket).Get(productKey(id))
	if v == nil {
		return domain.Product{}, false, nil
	}
	var p domain.Product
	if err := json.Unmarshal(v, &p); err != nil {
		return domain.Product{}, false, fmt.Errorf("decode product %d: %w", id, err)
	}
	return p, true, nil
}

func writeProduct(tx *bbolt.Tx, p domain.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode product %d: %w", p.ID, err)
	}
	return tx.Bucket(productsBucket).Put(productKey(p.ID), data)
}

func readSale(tx *bbolt.Tx, id string) (domain.Sale, bool, error) {
	v := tx.Bucket(salesBucket).Get([]byte(id))
	if v == nil {
		return domain.Sale{}, false, nil
	}
	var s domain.Sale
	if err := json.Unmarshal(v, &s); err != nil {
		return domain.Sale{}, false, fmt.Errorf("decode sale %s: %w", id, err)
	}
	return s, true, nil
}

func writeSale(tx *bbolt.Tx, s domain.Sale) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sale %s: %w", s.ID, err)
	}
	return tx.Bucket(salesBucket).Put([]byte(s.ID), data)
}
