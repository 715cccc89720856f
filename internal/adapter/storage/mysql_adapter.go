package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/pos-sale/internal/core/domain"
	"github.com/rl1809/pos-sale/internal/port"
)

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

//go:embed schema/mysql.sql
var mysqlSchema string

const productColumns = `p.id, p.name, COALESCE(c.name, ''), p.purchase_price, p.sale_price,
	p.stock, p.reorder_threshold, p.active, p.created_at, p.updated_at`

// productFieldColumns maps each mutable field to its column. Only these
// columns are ever written by UpdateProduct.
var productFieldColumns = map[domain.ProductField]string{
	domain.FieldName:             "name",
	domain.FieldPurchasePrice:    "purchase_price",
	domain.FieldSalePrice:        "sale_price",
	domain.FieldStock:            "stock",
	domain.FieldReorderThreshold: "reorder_threshold",
	domain.FieldActive:           "active",
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates the tables if they do not exist.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(mysqlSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id domain.ProductID) (*domain.Product, error) {
	p, err := scanProduct(m.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products p LEFT JOIN categories c ON c.id = p.category_id
		WHERE p.id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) SearchProducts(ctx context.Context, fragment string, limit int) ([]domain.Product, error) {
	idMatch := int64(-1)
	if n, err := strconv.ParseInt(fragment, 10, 64); err == nil {
		idMatch = n
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products p LEFT JOIN categories c ON c.id = p.category_id
		WHERE p.active = TRUE AND (p.name LIKE ? OR p.id = ?)
		ORDER BY p.name
		LIMIT ?`,
		"%"+escapeLike(fragment)+"%", idMatch, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var categoryID sql.NullInt64
	if product.Category != "" {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO categories (name) VALUES (?)
			ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)`, product.Category)
		if err != nil {
			return nil, fmt.Errorf("upsert category: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("category id: %w", err)
		}
		categoryID = sql.NullInt64{Int64: id, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO products (name, category_id, purchase_price, sale_price, stock,
			reorder_threshold, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		product.Name, categoryID, product.PurchasePrice, product.SalePrice, product.Stock,
		product.ReorderThreshold, product.Active, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("product id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	product.ID = domain.ProductID(id)
	return &product, nil
}

func (m *MySQLAdapter) UpdateProduct(ctx context.Context, id domain.ProductID, patch domain.ProductPatch) (*domain.Product, error) {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)
	for _, field := range patch.Fields() {
		sets = append(sets, productFieldColumns[field]+" = ?")
		args = append(args, patchValue(patch, field))
	}
	if len(sets) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", domain.ErrInvalidProduct)
	}
	sets = append(sets, "version = version + 1", "updated_at = ?")
	args = append(args, time.Now(), id)

	result, err := m.db.ExecContext(ctx,
		`UPDATE products SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, domain.ProductNotFound(id)
	}
	return m.GetProduct(ctx, id)
}

func (m *MySQLAdapter) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var method string
	err := m.db.QueryRowContext(ctx, `
		SELECT id, idempotency_token, payment_method, total, created_at
		FROM sales WHERE id = ?`, id,
	).Scan(&sale.ID, &sale.Token, &method, &sale.Total, &sale.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sale: %w", err)
	}
	sale.PaymentMethod = domain.PaymentMethod(method)

	rows, err := m.db.QueryContext(ctx, `
		SELECT product_id, quantity, unit_price, subtotal
		FROM sale_lines WHERE sale_id = ? ORDER BY line_no`, id)
	if err != nil {
		return nil, fmt.Errorf("query sale lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ProductID, &line.Quantity, &line.UnitPrice, &line.Subtotal); err != nil {
			return nil, fmt.Errorf("scan sale line: %w", err)
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

// Atomic runs fn inside one database transaction. Deadlocks and lock wait
// timeouts are reported as port.ErrRetryable.
func (m *MySQLAdapter) Atomic(ctx context.Context, fn func(ctx context.Context, tx port.LedgerTx) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classifyMySQLError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{tx: tx}); err != nil {
		return classifyMySQLError(err)
	}
	if err := tx.Commit(); err != nil {
		return classifyMySQLError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) SaleIDByToken(ctx context.Context, token string) (string, error) {
	var id string
	err := t.tx.QueryRowContext(ctx,
		`SELECT id FROM sales WHERE idempotency_token = ?`, token,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query token: %w", err)
	}
	return id, nil
}

func (t *mysqlTx) LockProducts(ctx context.Context, ids []domain.ProductID) (map[domain.ProductID]domain.Product, error) {
	ids = sortedUnique(ids)
	out := make(map[domain.ProductID]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	// Rows are locked in primary key order, so overlapping carts cannot deadlock.
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, name, '', purchase_price, sale_price, stock, reorder_threshold,
			active, created_at, updated_at
		FROM products
		WHERE id IN (`+placeholders+`)
		ORDER BY id
		FOR UPDATE`, args...)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (t *mysqlTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (id, idempotency_token, payment_method, total, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sale.ID, sale.Token, string(sale.PaymentMethod), sale.Total, sale.CreatedAt,
	)
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry {
		return &domain.DuplicateCommitError{Token: sale.Token}
	}
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (t *mysqlTx) InsertSaleLine(ctx context.Context, saleID string, lineNo int, line domain.SaleLine) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sale_lines (sale_id, line_no, product_id, quantity, unit_price, subtotal)
		VALUES (?, ?, ?, ?, ?, ?)`,
		saleID, lineNo, line.ProductID, line.Quantity, line.UnitPrice, line.Subtotal,
	)
	if err != nil {
		return fmt.Errorf("insert sale line: %w", err)
	}
	return nil
}

func (t *mysqlTx) DecrementStockIfAvailable(ctx context.Context, id domain.ProductID, quantity int) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?, version = version + 1, updated_at = NOW(6)
		WHERE id = ? AND active = TRUE AND stock >= ?`,
		quantity, id, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("update stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.PurchasePrice, &p.SalePrice,
		&p.Stock, &p.ReorderThreshold, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func patchValue(patch domain.ProductPatch, field domain.ProductField) any {
	switch field {
	case domain.FieldName:
		return strings.TrimSpace(*patch.Name)
	case domain.FieldPurchasePrice:
		return patch.PurchasePrice.Round(2)
	case domain.FieldSalePrice:
		return patch.SalePrice.Round(2)
	case domain.FieldStock:
		return *patch.Stock
	case domain.FieldReorderThreshold:
		return *patch.ReorderThreshold
	case domain.FieldActive:
		return *patch.Active
	}
	return nil
}

func classifyMySQLError(err error) error {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
			return fmt.Errorf("%w: %w", port.ErrRetryable, err)
		}
	}
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
