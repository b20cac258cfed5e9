package domain

import (
	"math"
	"time"
)

// MaxQuantity is the largest stock level the ledger store can hold.
const MaxQuantity = math.MaxInt32

// Inventory is the ledger row for a single product.
type Inventory struct {
	ProductID string
	Quantity  int
	Reserved  int
	Version   int // optimistic locking, 0 means the row has not been stored yet
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available returns the units that can still be reserved.
func (i Inventory) Available() int {
	return i.Quantity - i.Reserved
}

// Valid reports whether the row satisfies the ledger invariants.
func (i Inventory) Valid() bool {
	return i.Quantity >= 0 && i.Quantity <= MaxQuantity && i.Reserved >= 0 && i.Reserved <= i.Quantity
}
