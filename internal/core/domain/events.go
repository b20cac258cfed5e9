package domain

import "time"

const (
	EventTypeInventoryUpdated = "INVENTORY_UPDATED"
	EventTypeLowStock         = "LOW_STOCK"
)

type InventoryUpdated struct {
	EventType string    `json:"eventType"`
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	Reserved  int       `json:"reserved"`
	Timestamp time.Time `json:"timestamp"`
}

type LowStockAlert struct {
	EventType string    `json:"eventType"`
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

func NewInventoryUpdated(inv Inventory, at time.Time) InventoryUpdated {
	return InventoryUpdated{
		EventType: EventTypeInventoryUpdated,
		ProductID: inv.ProductID,
		Quantity:  inv.Quantity,
		Reserved:  inv.Reserved,
		Timestamp: at,
	}
}

func NewLowStockAlert(inv Inventory, threshold int, at time.Time) LowStockAlert {
	return LowStockAlert{
		EventType: EventTypeLowStock,
		ProductID: inv.ProductID,
		Quantity:  inv.Quantity,
		Threshold: threshold,
		Timestamp: at,
	}
}
