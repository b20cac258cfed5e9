package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Mock Producer
type mockProducer struct {
	mu       sync.Mutex
	messages []kafkago.Message
	err      error
	block    chan struct{}
}

func (m *mockProducer) WriteMessage(ctx context.Context, msg kafkago.Message) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func (m *mockProducer) Close() error { return nil }

func (m *mockProducer) written() []kafkago.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafkago.Message(nil), m.messages...)
}

func TestKafkaPublisher_PublishUpdated(t *testing.T) {
	producer := &mockProducer{}
	publisher := NewKafkaPublisher(producer, zap.NewNop(), 10, 2)

	inv := domain.Inventory{ProductID: "p-1", Quantity: 7, Reserved: 2}
	publisher.PublishUpdated(context.Background(), inv)
	publisher.Close()

	msgs := producer.written()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if string(msgs[0].Key) != "p-1" {
		t.Errorf("expected key p-1, got %s", msgs[0].Key)
	}

	var event domain.InventoryUpdated
	if err := json.Unmarshal(msgs[0].Value, &event); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if event.EventType != domain.EventTypeInventoryUpdated {
		t.Errorf("expected event type %s, got %s", domain.EventTypeInventoryUpdated, event.EventType)
	}
	if event.Quantity != 7 || event.Reserved != 2 {
		t.Errorf("expected quantity=7 reserved=2, got %d/%d", event.Quantity, event.Reserved)
	}
	if event.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestKafkaPublisher_LowStockAlert(t *testing.T) {
	producer := &mockProducer{}
	publisher := NewKafkaPublisher(producer, zap.NewNop(), 10, 1)

	ctx := context.Background()
	publisher.PublishLowStockAlert(ctx, domain.Inventory{ProductID: "low", Quantity: 3}, 10)
	publisher.PublishLowStockAlert(ctx, domain.Inventory{ProductID: "edge", Quantity: 10}, 10)
	publisher.Close()

	msgs := producer.written()
	if len(msgs) != 1 {
		t.Fatalf("expected only the product below threshold, got %d messages", len(msgs))
	}

	var alert domain.LowStockAlert
	if err := json.Unmarshal(msgs[0].Value, &alert); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if alert.EventType != domain.EventTypeLowStock || alert.ProductID != "low" || alert.Threshold != 10 {
		t.Errorf("unexpected alert: %+v", alert)
	}
}

func TestKafkaPublisher_WriteFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	producer := &mockProducer{err: errors.New("broker down")}
	publisher := NewKafkaPublisher(producer, zap.New(core), 10, 1)

	// Must not panic or block the caller.
	publisher.PublishUpdated(context.Background(), domain.Inventory{ProductID: "p-1"})
	publisher.Close()

	entries := logs.FilterMessage("failed to publish event").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 publish failure log, got %d", len(entries))
	}
	err, ok := entries[0].ContextMap()["error"].(string)
	if !ok || err == "" {
		t.Errorf("expected error field on log entry")
	}
}

func TestKafkaPublisher_QueueFullDropsEvent(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	producer := &mockProducer{block: make(chan struct{})}
	publisher := NewKafkaPublisher(producer, zap.New(core), 1, 1)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		publisher.PublishUpdated(ctx, domain.Inventory{ProductID: "p-1", Quantity: i})
	}

	if logs.FilterMessage("publish queue full, dropping event").Len() == 0 {
		t.Error("expected dropped events to be logged")
	}

	close(producer.block)
	publisher.Close()

	if n := len(producer.written()); n == 0 || n > 2 {
		t.Errorf("expected 1 or 2 events written, got %d", n)
	}
}

func TestKafkaPublisher_CancelledCallerContext(t *testing.T) {
	producer := &mockProducer{}
	publisher := NewKafkaPublisher(producer, zap.NewNop(), 10, 1)

	ctx, cancel := context.WithCancel(context.Background())
	publisher.PublishUpdated(ctx, domain.Inventory{ProductID: "p-1"})
	cancel()
	publisher.Close()

	if len(producer.written()) != 1 {
		t.Error("expected event to be written after caller cancelled")
	}
}

func TestKafkaPublisher_PublishAfterClose(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	producer := &mockProducer{}
	publisher := NewKafkaPublisher(producer, zap.New(core), 10, 1)

	publisher.Close()
	publisher.Close()
	publisher.PublishUpdated(context.Background(), domain.Inventory{ProductID: "p-1"})

	if len(producer.written()) != 0 {
		t.Error("expected no writes after close")
	}
	if logs.FilterMessage("publisher closed, dropping event").Len() != 1 {
		t.Error("expected drop after close to be logged")
	}
}
