package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/port"
)

// flakyLedger fails reads of one product until failures runs out.
type flakyLedger struct {
	port.LedgerRepository
	mu        sync.Mutex
	productID string
	failures  int
}

func (f *flakyLedger) GetInventory(ctx context.Context, productID string) (*domain.Inventory, error) {
	f.mu.Lock()
	if productID == f.productID && f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("connection reset by peer")
	}
	f.mu.Unlock()
	return f.LedgerRepository.GetInventory(ctx, productID)
}

func seedStock(t *testing.T, svc *service.InventoryService, productID string, quantity int) {
	t.Helper()
	if _, err := svc.AddStock(context.Background(), productID, quantity); err != nil {
		t.Fatalf("seed %s: %v", productID, err)
	}
}

func quantityOf(t *testing.T, svc *service.InventoryService, productID string) int {
	t.Helper()
	inv, err := svc.GetInventory(context.Background(), productID)
	if err != nil {
		t.Fatalf("get %s: %v", productID, err)
	}
	return inv.Quantity
}

func TestEventHandler_OrderAppliedDespiteCancelledContext(t *testing.T) {
	svc := service.NewInventoryService(storage.NewMemoryAdapter(), NewLogPublisher(zap.NewNop()), zap.NewNop())
	seedStock(t, svc, productA, 10)
	handler := NewEventHandler(svc, &mockIdempotency{}, zap.NewNop())

	msg := orderMessage(t, domain.OrderEvent{
		EventType: domain.OrderEventPaid,
		OrderID:   "order-shutdown",
		Items:     []domain.OrderItem{{ProductID: productA, Quantity: 3}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := handler.HandleOrderEvent(ctx, msg); err != nil {
		t.Fatalf("delivery during shutdown: %v", err)
	}
	if err := handler.HandleOrderEvent(context.Background(), msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if got := quantityOf(t, svc, productA); got != 7 {
		t.Errorf("expected quantity 7 after delivery and redelivery, got %d", got)
	}
}

func TestEventHandler_RedeliveryAppliesOnlyMissingItems(t *testing.T) {
	ledger := &flakyLedger{LedgerRepository: storage.NewMemoryAdapter(), productID: productB}
	svc := service.NewInventoryService(ledger, NewLogPublisher(zap.NewNop()), zap.NewNop())
	seedStock(t, svc, productA, 10)
	seedStock(t, svc, productB, 10)
	handler := NewEventHandler(svc, &mockIdempotency{}, zap.NewNop())

	msg := orderMessage(t, domain.OrderEvent{
		EventType: domain.OrderEventPaid,
		OrderID:   "order-flaky",
		Items: []domain.OrderItem{
			{ProductID: productA, Quantity: 3},
			{ProductID: productB, Quantity: 3},
		},
	})

	ledger.mu.Lock()
	ledger.failures = 1
	ledger.mu.Unlock()
	if err := handler.HandleOrderEvent(context.Background(), msg); err == nil {
		t.Fatal("expected an error while the store is failing")
	}
	if got := quantityOf(t, svc, productB); got != 10 {
		t.Fatalf("expected %s untouched after failed item, got %d", productB, got)
	}

	for i := 0; i < 2; i++ {
		if err := handler.HandleOrderEvent(context.Background(), msg); err != nil {
			t.Fatalf("redelivery %d: %v", i, err)
		}
	}

	for _, id := range []string{productA, productB} {
		if got := quantityOf(t, svc, id); got != 7 {
			t.Errorf("%s: expected quantity 7, got %d", id, got)
		}
	}
}
