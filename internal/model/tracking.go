package model

import "time"

// TrackingRecord is an audit entry appended every time an order advances.
type TrackingRecord struct {
	ID        string      `json:"id"`
	OrderID   string      `json:"orderId"`
	Status    OrderStatus `json:"status"`
	Note      string      `json:"note,omitempty"`
	ActorID   string      `json:"actorId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
