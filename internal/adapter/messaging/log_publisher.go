package messaging

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// LogPublisher stands in for KafkaPublisher when no broker is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishUpdated(ctx context.Context, inv domain.Inventory) {
	p.logger.Info("inventory updated",
		zap.String("event_type", domain.EventTypeInventoryUpdated),
		zap.String("product_id", inv.ProductID),
		zap.Int("quantity", inv.Quantity),
		zap.Int("reserved", inv.Reserved),
	)
}

func (p *LogPublisher) PublishLowStockAlert(ctx context.Context, inv domain.Inventory, threshold int) {
	if inv.Quantity >= threshold {
		return
	}
	p.logger.Warn("low stock",
		zap.String("event_type", domain.EventTypeLowStock),
		zap.String("product_id", inv.ProductID),
		zap.Int("quantity", inv.Quantity),
		zap.Int("threshold", threshold),
	)
}
