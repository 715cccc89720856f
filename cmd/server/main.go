package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/pos-sale/internal/adapter/handler"
	"github.com/rl1809/pos-sale/internal/adapter/storage"
	"github.com/rl1809/pos-sale/internal/config"
	"github.com/rl1809/pos-sale/internal/core/domain"
	"github.com/rl1809/pos-sale/internal/core/service"
	"github.com/rl1809/pos-sale/internal/logging"
	"github.com/rl1809/pos-sale/internal/port"
)

type store interface {
	port.CatalogReader
	port.CatalogWriter
	port.Ledger
	port.SaleReader
}

var demoProducts = []domain.NewProduct{
	{Name: "Coffee 250g", Category: "Grocery", PurchasePrice: decimal.RequireFromString("6.00"), SalePrice: decimal.RequireFromString("10.00"), Stock: 40, ReorderThreshold: 5},
	{Name: "Whole Milk 1L", Category: "Dairy", PurchasePrice: decimal.RequireFromString("2.80"), SalePrice: decimal.RequireFromString("5.00"), Stock: 60, ReorderThreshold: 10},
	{Name: "Sourdough Bread", Category: "Bakery", PurchasePrice: decimal.RequireFromString("1.50"), SalePrice: decimal.RequireFromString("3.25"), Stock: 25, ReorderThreshold: 5},
	{Name: "Sea Salt 500g", Category: "Grocery", PurchasePrice: decimal.RequireFromString("0.60"), SalePrice: decimal.RequireFromString("1.20"), Stock: 80, ReorderThreshold: 10},
}

func main() {
	configPath := flag.String("config", os.Getenv("POS_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	cache, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	sales := service.NewSaleService(service.Repositories{
		Catalog: st,
		Ledger:  st,
		Sales:   st,
		Cache:   cache,
	}, logger.Named("sale"), service.Options{
		CommitTimeout: cfg.Sale.CommitTimeout,
		CommitRetries: cfg.Sale.CommitRetries,
		RetryBackoff:  cfg.Sale.RetryBackoff,
	})
	catalog := service.NewCatalogService(st, st, logger.Named("catalog"), cfg.Sale.SearchLimit)
	carts := service.NewCartRegistry(sales, cfg.Sale.CartIdleTTL)

	if cfg.Storage.SeedDemo && cfg.Storage.Backend != config.BackendMySQL {
		if err := seedDemo(ctx, catalog, st, logger); err != nil {
			return err
		}
	}

	grpcServer := grpc.NewServer()
	handler.RegisterSaleServiceServer(grpcServer, handler.NewGRPCHandler(sales, catalog, logger.Named("grpc")))

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	e := handler.NewEcho(handler.NewHTTPHandler(sales, catalog, carts, logger.Named("http")))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", cfg.Server.GRPCAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := e.Start(cfg.Server.HTTPAddr); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown", zap.Error(err))
		}
		logger.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendMySQL:
		db, err := sql.Open("mysql", cfg.Storage.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mysql: %w", err)
		}
		db.SetMaxOpenConns(cfg.Storage.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Storage.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Storage.ConnMaxLifetime)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ping mysql: %w", err)
		}
		adapter := storage.NewMySQLAdapter(db)
		if err := adapter.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("connected to mysql")
		return adapter, func() { db.Close() }, nil

	case config.BackendBolt:
		adapter, err := storage.OpenBolt(cfg.Storage.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("opened bolt store", zap.String("path", cfg.Storage.BoltPath))
		return adapter, func() { adapter.Close() }, nil
	}

	logger.Info("using in-memory store")
	return storage.NewMemoryStore(), func() {}, nil
}

func openCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (port.CacheRepository, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("idempotency guard kept in memory")
		return storage.NewMemoryIdempotency(cfg.Redis.IdempotencyTTL), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	return storage.NewRedisAdapter(rdb, cfg.Redis.IdempotencyTTL), func() { rdb.Close() }, nil
}

// seedDemo fills an empty catalog with a few products.
func seedDemo(ctx context.Context, catalog *service.CatalogService, reader port.CatalogReader, logger *zap.Logger) error {
	existing, err := reader.SearchProducts(ctx, "", 1)
	if err != nil {
		return fmt.Errorf("check catalog: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for _, p := range demoProducts {
		if _, err := catalog.CreateProduct(ctx, p); err != nil {
			return fmt.Errorf("seed %s: %w", p.Name, err)
		}
	}
	logger.Info("seeded demo catalog", zap.Int("products", len(demoProducts)))
	return nil
}
