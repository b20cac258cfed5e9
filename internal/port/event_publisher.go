package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// EventPublisher hands ledger notifications to the message transport.
// Implementations must not block on delivery and must not return delivery
// failures to the caller.
type EventPublisher interface {
	PublishUpdated(ctx context.Context, inv domain.Inventory)

	// PublishLowStockAlert is a no-op unless inv.Quantity < threshold
	PublishLowStockAlert(ctx context.Context, inv domain.Inventory, threshold int)
}
