package port

import (
	"context"
	"errors"
	"iter"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

var ErrOptimisticLock = errors.New("optimistic lock conflict")

type LedgerRepository interface {
	// GetInventory retrieves the ledger row by product ID, nil if absent
	GetInventory(ctx context.Context, productID string) (*domain.Inventory, error)

	// UpsertInventory writes the full row. inv.Version is the version that was
	// read: 0 inserts, anything else updates only if the stored version still
	// matches. A lost race returns ErrOptimisticLock.
	UpsertInventory(ctx context.Context, inv domain.Inventory) (*domain.Inventory, error)

	// ListLowStock lazily yields rows with quantity < threshold
	ListLowStock(ctx context.Context, threshold int) iter.Seq2[domain.Inventory, error]
}
