package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-sale/internal/adapter/storage"
	"github.com/rl1809/pos-sale/internal/core/domain"
	"github.com/rl1809/pos-sale/internal/core/service"
	"github.com/rl1809/pos-sale/internal/port"
)

type store interface {
	port.CatalogReader
	port.CatalogWriter
	port.Ledger
	port.SaleReader
}

func main() {
	backend := flag.String("backend", "memory", "storage backend: memory, bolt or mysql")
	dsn := flag.String("dsn", "root:root@tcp(localhost:3306)/pos?parseTime=true", "MySQL DSN")
	initialStock := flag.Int("stock", 20, "initial stock of the contested product")
	totalRequests := flag.Int("requests", 50, "number of checkouts")
	workers := flag.Int("workers", 16, "worker pool size")
	flag.Parse()

	ctx := context.Background()

	st, cleanup, err := openStore(ctx, *backend, *dsn)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer cleanup()

	sales := service.NewSaleService(service.Repositories{
		Catalog: st,
		Ledger:  st,
		Sales:   st,
		Cache:   storage.NewMemoryIdempotency(time.Minute),
	}, nil, service.DefaultOptions())
	catalog := service.NewCatalogService(st, st, nil, 0)

	product, err := catalog.CreateProduct(ctx, domain.NewProduct{
		Name:      "stress-" + uuid.NewString(),
		SalePrice: decimal.RequireFromString("1.00"),
		Stock:     *initialStock,
	})
	if err != nil {
		log.Fatalf("failed to create product: %v", err)
	}

	pool, err := ants.NewPool(*workers)
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}
	defer pool.Release()

	// Counters
	var successCount atomic.Int32
	var soldOutCount atomic.Int32
	var otherCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()

			cart := sales.NewCart()
			err := sales.AddToCart(ctx, cart, product.ID, 1)
			if err == nil {
				_, err = sales.Commit(ctx, cart, domain.PaymentCash, uuid.NewString())
			}
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("checkout failed: %v", err)
			}
		})
		if err != nil {
			wg.Done()
			log.Fatalf("failed to submit task: %v", err)
		}
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := int(successCount.Load())
	soldOut := int(soldOutCount.Load())
	other := int(otherCount.Load())

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Backend:          %s\n", *backend)
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Total Checkouts:  %d\n", *totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Other Failures:   %d\n", other)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	expected := min(*initialStock, *totalRequests)
	failed := false
	if success == expected && other == 0 {
		fmt.Printf("PASS: Exactly %d checkouts succeeded\n", expected)
	} else {
		fmt.Printf("FAIL: Expected %d successes and no other failures, got %d/%d\n", expected, success, other)
		failed = true
	}

	// Verify final stock
	final, err := st.GetProduct(ctx, product.ID)
	if err != nil || final == nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	fmt.Printf("Final Stock:      %d\n", final.Stock)

	if final.Stock == *initialStock-success && final.Stock >= 0 {
		fmt.Println("PASS: Stock matches committed sales")
	} else {
		fmt.Printf("FAIL: Expected stock %d, got %d\n", *initialStock-success, final.Stock)
		failed = true
	}

	if failed {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, backend, dsn string) (store, func(), error) {
	switch backend {
	case "mysql":
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return adapter, func() { db.Close() }, nil

	case "bolt":
		dir, err := os.MkdirTemp("", "pos-stress-")
		if err != nil {
			return nil, nil, err
		}
		adapter, err := storage.OpenBolt(filepath.Join(dir, "stress.db"))
		if err != nil {
			os.RemoveAll(dir)
			return nil, nil, err
		}
		return adapter, func() {
			adapter.Close()
			os.RemoveAll(dir)
		}, nil

	case "memory":
		return storage.NewMemoryStore(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", backend)
}
