package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

var ErrConstraintViolation = errors.New("ledger row violates stock constraints")

// MemoryAdapter is a process-local ledger store with the same
// compare-and-swap semantics as MySQLAdapter.
type MemoryAdapter struct {
	mu    sync.RWMutex
	rows  map[string]domain.Inventory
	clock func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		rows:  make(map[string]domain.Inventory),
		clock: func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryAdapter) GetInventory(ctx context.Context, productID string) (*domain.Inventory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.rows[productID]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (m *MemoryAdapter) UpsertInventory(ctx context.Context, inv domain.Inventory) (*domain.Inventory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// Same rule as the CHECK constraints on the MySQL table.
	if !inv.Valid() {
		return nil, fmt.Errorf("%w: product %s quantity=%d reserved=%d",
			ErrConstraintViolation, inv.ProductID, inv.Quantity, inv.Reserved)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	current, exists := m.rows[inv.ProductID]

	switch {
	case inv.Version == 0 && exists:
		return nil, port.ErrOptimisticLock
	case inv.Version == 0:
		inv.CreatedAt = now
	case !exists || current.Version != inv.Version:
		return nil, port.ErrOptimisticLock
	default:
		inv.CreatedAt = current.CreatedAt
	}

	inv.Version++
	inv.UpdatedAt = now
	m.rows[inv.ProductID] = inv

	return &inv, nil
}

// ListLowStock takes a snapshot when iteration starts, so each range over the
// returned sequence sees the current state.
func (m *MemoryAdapter) ListLowStock(ctx context.Context, threshold int) iter.Seq2[domain.Inventory, error] {
	return func(yield func(domain.Inventory, error) bool) {
		m.mu.RLock()
		matches := make([]domain.Inventory, 0)
		for _, inv := range m.rows {
			if inv.Quantity < threshold {
				matches = append(matches, inv)
			}
		}
		m.mu.RUnlock()

		sort.Slice(matches, func(i, j int) bool {
			return matches[i].ProductID < matches[j].ProductID
		})

		for _, inv := range matches {
			if err := ctx.Err(); err != nil {
				yield(domain.Inventory{}, err)
				return
			}
			if !yield(inv, nil) {
				return
			}
		}
	}
}
