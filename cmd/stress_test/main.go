package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/messaging"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/port"
)

func main() {
	store := flag.String("store", "memory", "ledger store: memory or mysql (uses MYSQL_DSN)")
	adds := flag.Int("adds", 500, "concurrent AddStock(1) calls")
	reserves := flag.Int("reserves", 800, "concurrent ReserveStock(1) calls after the adds")
	replicas := flag.Int("replicas", 2, "service instances sharing the store")
	flag.Parse()

	ctx := context.Background()

	ledger, closeStore, err := openStore(ctx, *store)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer closeStore()

	// Each instance has its own lock table, so only the version check keeps
	// the replicas from overwriting each other.
	services := make([]*service.InventoryService, *replicas)
	for i := range services {
		services[i] = service.NewInventoryService(ledger, messaging.NewLogPublisher(zap.NewNop()), zap.NewNop(),
			service.WithMaxRetries(1000))
	}

	productID := uuid.NewString()
	if _, err := services[0].AddStock(ctx, productID, 0); err != nil {
		log.Fatalf("failed to create product: %v", err)
	}

	start := time.Now()
	var addFailed atomic.Int32
	run(*adds, func(i int) {
		if _, err := services[i%len(services)].AddStock(ctx, productID, 1); err != nil {
			addFailed.Add(1)
		}
	})

	var reserved, rejected, reserveFailed atomic.Int32
	run(*reserves, func(i int) {
		_, err := services[i%len(services)].ReserveStock(ctx, productID, 1)
		switch {
		case err == nil:
			reserved.Add(1)
		case errors.Is(err, service.ErrInsufficientStock):
			rejected.Add(1)
		default:
			reserveFailed.Add(1)
		}
	})
	elapsed := time.Since(start)

	final, err := services[0].GetInventory(ctx, productID)
	if err != nil {
		log.Fatalf("failed to read final state: %v", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store:            %s (%d replicas)\n", *store, *replicas)
	fmt.Printf("Adds:             %d (%d failed)\n", *adds, addFailed.Load())
	fmt.Printf("Reserves:         %d ok, %d rejected, %d failed\n", reserved.Load(), rejected.Load(), reserveFailed.Load())
	fmt.Printf("Final quantity:   %d\n", final.Quantity)
	fmt.Printf("Final reserved:   %d\n", final.Reserved)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	pass := true
	wantQuantity := *adds - int(addFailed.Load())
	if final.Quantity != wantQuantity {
		fmt.Printf("FAIL: expected quantity %d, got %d (lost updates)\n", wantQuantity, final.Quantity)
		pass = false
	}
	if final.Reserved != int(reserved.Load()) {
		fmt.Printf("FAIL: expected reserved %d, got %d\n", reserved.Load(), final.Reserved)
		pass = false
	}
	if final.Reserved > final.Quantity {
		fmt.Printf("FAIL: oversold, reserved %d > quantity %d\n", final.Reserved, final.Quantity)
		pass = false
	}
	if !pass {
		os.Exit(1)
	}
	fmt.Println("PASS: no lost updates, no oversell")
}

func run(n int, fn func(i int)) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(i)
		}()
	}
	wg.Wait()
}

func openStore(ctx context.Context, kind string) (port.LedgerRepository, func(), error) {
	switch kind {
	case "memory":
		return storage.NewMemoryAdapter(), func() {}, nil
	case "mysql":
		dsn := os.Getenv("MYSQL_DSN")
		if dsn == "" {
			dsn = "root:root@tcp(localhost:3306)/inventory?parseTime=true"
		}
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(50)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		if err := storage.Migrate(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return storage.NewMySQLAdapter(db), func() { db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", kind)
}
