package service

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

var (
	ErrNotFound          = errors.New("inventory not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidRelease    = errors.New("cannot release more than reserved")
	ErrInvalidQuantity   = errors.New("quantity out of range")
)

const (
	tracerName        = "github.com/rl1809/stock-ledger/internal/core/service"
	defaultMaxRetries = 5
)

// InventoryService is the stock ledger. Every mutation is a
// read, validate, write, publish cycle against a single product row.
type InventoryService struct {
	ledger            port.LedgerRepository
	publisher         port.EventPublisher
	locks             *keyedLock
	logger            *zap.Logger
	tracer            trace.Tracer
	maxRetries        int
	lowStockThreshold int
}

type Option func(*InventoryService)

// WithMaxRetries bounds how often a write that lost an optimistic lock race
// is re-read and re-applied.
func WithMaxRetries(n int) Option {
	return func(s *InventoryService) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithLowStockThreshold enables a low stock alert after each deduction.
func WithLowStockThreshold(threshold int) Option {
	return func(s *InventoryService) {
		s.lowStockThreshold = threshold
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *InventoryService) {
		s.tracer = tracer
	}
}

func NewInventoryService(ledger port.LedgerRepository, publisher port.EventPublisher, logger *zap.Logger, opts ...Option) *InventoryService {
	s := &InventoryService{
		ledger:     ledger,
		publisher:  publisher,
		locks:      newKeyedLock(),
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InventoryService) GetInventory(ctx context.Context, productID string) (*domain.Inventory, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.get", trace.WithAttributes(
		attribute.String("product.id", productID),
	))
	defer span.End()

	inv, err := s.ledger.GetInventory(ctx, productID)
	if err != nil {
		markFailed(span, err)
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: product %s", ErrNotFound, productID)
	}
	return inv, nil
}

// AddStock creates the row on first use. Zero is a valid quantity.
func (s *InventoryService) AddStock(ctx context.Context, productID string, quantity int) (*domain.Inventory, error) {
	return s.mutate(ctx, "add", productID, quantity, true, func(inv *domain.Inventory) error {
		if inv.Quantity > domain.MaxQuantity-quantity {
			return fmt.Errorf("%w: product %s has %d on hand, adding %d exceeds %d",
				ErrInvalidQuantity, productID, inv.Quantity, quantity, domain.MaxQuantity)
		}
		inv.Quantity += quantity
		return nil
	})
}

func (s *InventoryService) ReserveStock(ctx context.Context, productID string, quantity int) (*domain.Inventory, error) {
	return s.mutate(ctx, "reserve", productID, quantity, false, func(inv *domain.Inventory) error {
		if inv.Available() < quantity {
			return fmt.Errorf("%w: product %s has %d available, requested %d",
				ErrInsufficientStock, productID, inv.Available(), quantity)
		}
		inv.Reserved += quantity
		return nil
	})
}

func (s *InventoryService) ReleaseStock(ctx context.Context, productID string, quantity int) (*domain.Inventory, error) {
	return s.mutate(ctx, "release", productID, quantity, false, func(inv *domain.Inventory) error {
		if inv.Reserved < quantity {
			return fmt.Errorf("%w: product %s has %d reserved, requested %d",
				ErrInvalidRelease, productID, inv.Reserved, quantity)
		}
		inv.Reserved -= quantity
		return nil
	})
}

// DeductStock permanently removes fulfilled units. The matching reservation is
// consumed only when reserved >= quantity; a smaller reservation is left as is.
func (s *InventoryService) DeductStock(ctx context.Context, productID string, quantity int) (*domain.Inventory, error) {
	saved, err := s.mutate(ctx, "deduct", productID, quantity, false, func(inv *domain.Inventory) error {
		if inv.Quantity-quantity < 0 {
			return fmt.Errorf("%w: product %s has %d on hand, requested %d",
				ErrInsufficientStock, productID, inv.Quantity, quantity)
		}

		inv.Quantity -= quantity
		if inv.Reserved >= quantity {
			inv.Reserved -= quantity
		}

		// The untouched reservation now exceeds what is left on hand, so this
		// deduction would eat units held for other orders.
		if inv.Reserved > inv.Quantity {
			s.logger.Warn("deduct rejected: reservation would exceed stock on hand",
				zap.String("product_id", productID),
				zap.Int("requested", quantity),
				zap.Int("quantity_after", inv.Quantity),
				zap.Int("reserved", inv.Reserved),
			)
			return fmt.Errorf("%w: product %s would keep %d reserved with %d on hand",
				ErrInsufficientStock, productID, inv.Reserved, inv.Quantity)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.lowStockThreshold > 0 {
		s.publisher.PublishLowStockAlert(ctx, *saved, s.lowStockThreshold)
	}
	return saved, nil
}

// LowStock yields rows with quantity < threshold and emits a LowStockAlert for
// each. Nothing is read until the sequence is ranged over, and every range
// re-queries the store.
func (s *InventoryService) LowStock(ctx context.Context, threshold int) iter.Seq2[domain.Inventory, error] {
	return func(yield func(domain.Inventory, error) bool) {
		scanCtx, span := s.tracer.Start(ctx, "inventory.low_stock", trace.WithAttributes(
			attribute.Int("inventory.threshold", threshold),
		))
		defer span.End()

		count := 0
		for inv, err := range s.ledger.ListLowStock(scanCtx, threshold) {
			if err != nil {
				markFailed(span, err)
				yield(domain.Inventory{}, fmt.Errorf("scan low stock: %w", err))
				return
			}

			count++
			s.publisher.PublishLowStockAlert(scanCtx, inv, threshold)
			if !yield(inv, nil) {
				break
			}
		}
		span.SetAttributes(attribute.Int("inventory.low_stock_count", count))
	}
}

func (s *InventoryService) mutate(ctx context.Context, op, productID string, quantity int, createIfMissing bool, apply func(*domain.Inventory) error) (*domain.Inventory, error) {
	ctx, span := s.tracer.Start(ctx, "inventory."+op, trace.WithAttributes(
		attribute.String("product.id", productID),
		attribute.Int("inventory.requested", quantity),
	))
	defer span.End()

	if quantity < 0 || quantity > domain.MaxQuantity {
		err := fmt.Errorf("%s %d units: %w", op, quantity, ErrInvalidQuantity)
		markFailed(span, err)
		return nil, err
	}

	saved, err := s.commit(ctx, productID, createIfMissing, apply)
	if err != nil {
		markFailed(span, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("inventory.quantity", saved.Quantity),
		attribute.Int("inventory.reserved", saved.Reserved),
	)

	// The product lock is released by now; publishing only enqueues.
	s.publisher.PublishUpdated(ctx, *saved)
	return saved, nil
}

// commit holds the product lock for one read-modify-write and retries when the
// store reports a concurrent writer. Each attempt starts from a fresh read, so
// a retried call never applies a stale delta.
func (s *InventoryService) commit(ctx context.Context, productID string, createIfMissing bool, apply func(*domain.Inventory) error) (*domain.Inventory, error) {
	unlock, err := s.locks.Lock(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("lock product %s: %w", productID, err)
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		current, err := s.ledger.GetInventory(ctx, productID)
		if err != nil {
			return nil, fmt.Errorf("read inventory: %w", err)
		}
		if current == nil {
			if !createIfMissing {
				return nil, fmt.Errorf("%w: product %s", ErrNotFound, productID)
			}
			current = &domain.Inventory{ProductID: productID}
		}

		next := *current
		if err := apply(&next); err != nil {
			return nil, err
		}

		saved, err := s.ledger.UpsertInventory(ctx, next)
		if errors.Is(err, port.ErrOptimisticLock) && attempt < s.maxRetries {
			s.logger.Debug("ledger write conflict, retrying",
				zap.String("product_id", productID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("write inventory: %w", err)
		}
		return saved, nil
	}
}

func markFailed(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
