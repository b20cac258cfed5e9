package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const mysqlErrDuplicateEntry = 1062

type MySQLAdapter struct {
	db    *sql.DB
	clock func() time.Time
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{
		db: db,
		// DATETIME(6) keeps microseconds.
		clock: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func (m *MySQLAdapter) GetInventory(ctx context.Context, productID string) (*domain.Inventory, error) {
	var inv domain.Inventory
	err := m.db.QueryRowContext(ctx, `
		SELECT product_id, quantity, reserved, version, created_at, updated_at
		FROM inventory WHERE product_id = ?`, productID,
	).Scan(&inv.ProductID, &inv.Quantity, &inv.Reserved, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}

	return &inv, nil
}

// UpsertInventory returns the row exactly as this call wrote it. It does not
// read back, since another replica may commit in between.
func (m *MySQLAdapter) UpsertInventory(ctx context.Context, inv domain.Inventory) (*domain.Inventory, error) {
	now := m.clock()

	if inv.Version == 0 {
		_, err := m.db.ExecContext(ctx, `
			INSERT INTO inventory (product_id, quantity, reserved, version, created_at, updated_at)
			VALUES (?, ?, ?, 1, ?, ?)`,
			inv.ProductID, inv.Quantity, inv.Reserved, now, now,
		)
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return nil, port.ErrOptimisticLock
		}
		if err != nil {
			return nil, fmt.Errorf("insert inventory: %w", err)
		}
		inv.CreatedAt = now
	} else {
		result, err := m.db.ExecContext(ctx, `
			UPDATE inventory
			SET quantity = ?, reserved = ?, version = version + 1, updated_at = ?
			WHERE product_id = ? AND version = ?`,
			inv.Quantity, inv.Reserved, now, inv.ProductID, inv.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("update inventory: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("update inventory: %w", err)
		}
		if rows == 0 {
			return nil, port.ErrOptimisticLock
		}
	}

	inv.Version++
	inv.UpdatedAt = now
	return &inv, nil
}

func (m *MySQLAdapter) ListLowStock(ctx context.Context, threshold int) iter.Seq2[domain.Inventory, error] {
	return func(yield func(domain.Inventory, error) bool) {
		rows, err := m.db.QueryContext(ctx, `
			SELECT product_id, quantity, reserved, version, created_at, updated_at
			FROM inventory WHERE quantity < ?
			ORDER BY product_id`, threshold,
		)
		if err != nil {
			yield(domain.Inventory{}, fmt.Errorf("query low stock: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var inv domain.Inventory
			if err := rows.Scan(&inv.ProductID, &inv.Quantity, &inv.Reserved, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
				yield(domain.Inventory{}, fmt.Errorf("scan low stock: %w", err))
				return
			}
			if !yield(inv, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(domain.Inventory{}, fmt.Errorf("iterate low stock: %w", err))
		}
	}
}
