package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/platform/kafka"
)

var ErrPublishFailed = errors.New("publish failed")

const (
	eventTypeHeader     = "eventType"
	defaultWriteTimeout = 10 * time.Second
)

type outbound struct {
	ctx       context.Context
	msg       kafkago.Message
	eventType string
}

// KafkaPublisher queues ledger events and writes them from a worker pool, so
// callers never wait on the broker. Failures are logged and dropped.
type KafkaPublisher struct {
	producer     kafka.Producer
	logger       *zap.Logger
	queue        chan outbound
	writeTimeout time.Duration
	now          func() time.Time

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewKafkaPublisher(producer kafka.Producer, logger *zap.Logger, queueSize, workers int) *KafkaPublisher {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}

	p := &KafkaPublisher{
		producer:     producer,
		logger:       logger,
		queue:        make(chan outbound, queueSize),
		writeTimeout: defaultWriteTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	return p
}

func (p *KafkaPublisher) PublishUpdated(ctx context.Context, inv domain.Inventory) {
	p.enqueue(ctx, inv.ProductID, domain.EventTypeInventoryUpdated, domain.NewInventoryUpdated(inv, p.now()))
}

func (p *KafkaPublisher) PublishLowStockAlert(ctx context.Context, inv domain.Inventory, threshold int) {
	if inv.Quantity >= threshold {
		return
	}
	p.enqueue(ctx, inv.ProductID, domain.EventTypeLowStock, domain.NewLowStockAlert(inv, threshold, p.now()))
}

// Close stops accepting events and waits until queued ones have been written.
func (p *KafkaPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *KafkaPublisher) enqueue(ctx context.Context, key, eventType string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to serialize event",
			zap.Error(errors.Join(ErrPublishFailed, err)),
			zap.String("event_type", eventType),
			zap.String("product_id", key),
		)
		return
	}

	out := outbound{
		// The caller may cancel as soon as its mutation returns.
		ctx: context.WithoutCancel(ctx),
		msg: kafkago.Message{
			Key:     []byte(key),
			Value:   payload,
			Headers: []kafkago.Header{{Key: eventTypeHeader, Value: []byte(eventType)}},
		},
		eventType: eventType,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("publisher closed, dropping event",
			zap.String("event_type", eventType),
			zap.String("product_id", key),
		)
		return
	}

	select {
	case p.queue <- out:
	default:
		p.logger.Warn("publish queue full, dropping event",
			zap.Error(ErrPublishFailed),
			zap.String("event_type", eventType),
			zap.String("product_id", key),
		)
	}
}

func (p *KafkaPublisher) workerLoop(id int) {
	defer p.wg.Done()

	for out := range p.queue {
		ctx, cancel := context.WithTimeout(out.ctx, p.writeTimeout)

		if err := p.producer.WriteMessage(ctx, out.msg); err != nil {
			p.logger.Error("failed to publish event",
				zap.Error(errors.Join(ErrPublishFailed, err)),
				zap.Int("worker", id),
				zap.String("event_type", out.eventType),
				zap.ByteString("product_id", out.msg.Key),
			)
		} else {
			p.logger.Debug("published event",
				zap.Int("worker", id),
				zap.String("event_type", out.eventType),
				zap.ByteString("product_id", out.msg.Key),
			)
		}

		cancel()
	}
}
