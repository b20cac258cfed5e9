package domain

import "time"

type OrderEventType string

const (
	OrderEventPaid      OrderEventType = "ORDER_PAID"
	OrderEventCancelled OrderEventType = "ORDER_CANCELLED"
)

// OrderEvent is the order lifecycle message consumed from the order topic.
type OrderEvent struct {
	EventType OrderEventType `json:"eventType"`
	OrderID   string         `json:"orderId"`
	Items     []OrderItem    `json:"items"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
}

type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// ProductUpdated is the catalog message consumed from the product topic.
// Only ProductID is used by the ledger.
type ProductUpdated struct {
	EventType string    `json:"eventType,omitempty"`
	ProductID string    `json:"productId"`
	Name      string    `json:"name,omitempty"`
	Category  string    `json:"category,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
