package model

import "time"

// OrderStatus is a stage of the order lifecycle. The string values are used
// verbatim in filters and search.
type OrderStatus string

const (
	StatusReceived       OrderStatus = "received"
	StatusWashing        OrderStatus = "washing"
	StatusDrying         OrderStatus = "drying"
	StatusFolding        OrderStatus = "folding"
	StatusReadyForPickup OrderStatus = "ready-for-pickup"
	StatusCompleted      OrderStatus = "completed"
)

// LineItem is one garment or service on an order.
type LineItem struct {
	Service  string `json:"service"`
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes,omitempty"`
}

// Order is a student's laundry request.
type Order struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	Items     []LineItem  `json:"items"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}
