package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/port"
)

var ErrMalformedEvent = errors.New("malformed event")

// StockLedger is the part of the inventory service driven by inbound events.
type StockLedger interface {
	AddStock(ctx context.Context, productID string, quantity int) (*domain.Inventory, error)
	DeductStock(ctx context.Context, productID string, quantity int) (*domain.Inventory, error)
}

type EventHandler struct {
	ledger      StockLedger
	idempotency port.IdempotencyRepository
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewEventHandler builds a handler for product and order events. A nil
// idempotency store disables duplicate detection for order events.
func NewEventHandler(ledger StockLedger, idempotency port.IdempotencyRepository, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		ledger:      ledger,
		idempotency: idempotency,
		logger:      logger,
		tracer:      otel.Tracer("stock-ledger/messaging"),
	}
}

// HandleProductUpdate makes sure a ledger row exists for the product.
func (h *EventHandler) HandleProductUpdate(ctx context.Context, msg kafkago.Message) error {
	ctx, span := h.startSpan(ctx, "HandleProductUpdate", msg)
	defer span.End()

	var event domain.ProductUpdated
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return h.malformed(span, msg, err)
	}
	if err := uuid.Validate(event.ProductID); err != nil {
		return h.malformed(span, msg, fmt.Errorf("product id %q: %w", event.ProductID, err))
	}
	span.SetAttributes(attribute.String("product.id", event.ProductID))

	if _, err := h.ledger.AddStock(ctx, event.ProductID, 0); err != nil {
		h.logger.Error("failed to initialize inventory",
			zap.Error(err),
			zap.String("product_id", event.ProductID),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	h.logger.Debug("inventory initialized from product update",
		zap.String("product_id", event.ProductID),
		zap.String("event_type", event.EventType),
	)
	return nil
}

// HandleOrderEvent deducts stock for paid orders and returns stock for
// cancelled ones. Each line item is claimed separately, so a redelivery only
// re-applies items whose previous attempt failed for a transient reason.
func (h *EventHandler) HandleOrderEvent(ctx context.Context, msg kafkago.Message) error {
	ctx, span := h.startSpan(ctx, "HandleOrderEvent", msg)
	defer span.End()

	var event domain.OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return h.malformed(span, msg, err)
	}
	span.SetAttributes(
		attribute.String("order.id", event.OrderID),
		attribute.String("order.event_type", string(event.EventType)),
	)

	var apply func(context.Context, string, int) (*domain.Inventory, error)
	switch event.EventType {
	case domain.OrderEventPaid:
		apply = h.ledger.DeductStock
	case domain.OrderEventCancelled:
		apply = h.ledger.AddStock
	default:
		h.logger.Debug("ignoring order event",
			zap.String("event_type", string(event.EventType)),
			zap.String("order_id", event.OrderID),
		)
		return nil
	}

	// Shutdown must not leave an order half applied.
	ctx = context.WithoutCancel(ctx)

	var retryable []error
	failed, skipped := 0, 0
	for i, item := range event.Items {
		key := itemKey(event, i)
		if h.alreadyProcessed(ctx, key, event.OrderID) {
			skipped++
			h.logger.Warn("duplicate order event skipped",
				zap.String("event_type", string(event.EventType)),
				zap.String("order_id", event.OrderID),
				zap.String("product_id", item.ProductID),
			)
			continue
		}

		err := h.applyItem(ctx, apply, item)
		if err == nil {
			continue
		}
		failed++
		h.logger.Error("failed to apply order item",
			zap.Error(err),
			zap.String("event_type", string(event.EventType)),
			zap.String("order_id", event.OrderID),
			zap.String("product_id", item.ProductID),
			zap.Int("quantity", item.Quantity),
		)
		if isTransient(err) {
			h.releaseClaim(ctx, key, event.OrderID)
			retryable = append(retryable, fmt.Errorf("item %d (%s): %w", i, item.ProductID, err))
		}
	}

	span.SetAttributes(
		attribute.Int("order.items", len(event.Items)),
		attribute.Int("order.items_failed", failed),
		attribute.Int("order.items_skipped", skipped),
	)
	h.logger.Info("order event processed",
		zap.String("event_type", string(event.EventType)),
		zap.String("order_id", event.OrderID),
		zap.Int("items", len(event.Items)),
		zap.Int("failed", failed),
		zap.Int("skipped", skipped),
	)

	if len(retryable) > 0 {
		err := fmt.Errorf("order %s: %d items left for redelivery: %w",
			event.OrderID, len(retryable), errors.Join(retryable...))
		span.RecordError(err)
		span.SetStatus(codes.Error, "order partially applied")
		return err
	}
	return nil
}

func (h *EventHandler) applyItem(ctx context.Context, apply func(context.Context, string, int) (*domain.Inventory, error), item domain.OrderItem) error {
	if err := uuid.Validate(item.ProductID); err != nil {
		return fmt.Errorf("%w: product id %q: %w", ErrMalformedEvent, item.ProductID, err)
	}
	_, err := apply(ctx, item.ProductID, item.Quantity)
	return err
}

// isTransient reports whether a redelivery of the same item could succeed.
// Business rejections are final for the payload that caused them.
func isTransient(err error) bool {
	switch {
	case errors.Is(err, ErrMalformedEvent),
		errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrInvalidRelease),
		errors.Is(err, service.ErrInvalidQuantity):
		return false
	}
	return true
}

func itemKey(event domain.OrderEvent, index int) string {
	return fmt.Sprintf("order-event:%s:%s:%d", event.EventType, event.OrderID, index)
}

// alreadyProcessed claims one line item of an order. When the store is
// unavailable the item is processed anyway.
func (h *EventHandler) alreadyProcessed(ctx context.Context, key, orderID string) bool {
	if h.idempotency == nil || orderID == "" {
		return false
	}

	first, err := h.idempotency.SetIdempotency(ctx, key)
	if err != nil {
		h.logger.Warn("idempotency check failed, processing anyway",
			zap.Error(err),
			zap.String("order_id", orderID),
		)
		return false
	}
	return !first
}

func (h *EventHandler) releaseClaim(ctx context.Context, key, orderID string) {
	if h.idempotency == nil || orderID == "" {
		return
	}
	if err := h.idempotency.ReleaseIdempotency(ctx, key); err != nil {
		h.logger.Warn("failed to release idempotency claim, redelivery will skip item",
			zap.Error(err),
			zap.String("order_id", orderID),
			zap.String("key", key),
		)
	}
}

func (h *EventHandler) startSpan(ctx context.Context, name string, msg kafkago.Message) (context.Context, trace.Span) {
	ctx = extractTraceContext(ctx, msg)
	return h.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
}

func (h *EventHandler) malformed(span trace.Span, msg kafkago.Message, cause error) error {
	err := fmt.Errorf("%w: %w", ErrMalformedEvent, cause)
	h.logger.Error("invalid event payload",
		zap.Error(err),
		zap.String("topic", msg.Topic),
		zap.ByteString("raw_value", msg.Value),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, "malformed event")
	return err
}

func extractTraceContext(ctx context.Context, msg kafkago.Message) context.Context {
	carrier := propagation.MapCarrier{}
	for _, header := range msg.Headers {
		carrier[header.Key] = string(header.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
