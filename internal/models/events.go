package models

import "time"

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderReady     = "ORDER_READY"
	EventTypeOrderCompleted = "ORDER_COMPLETED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is placed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    uint32 `json:"order_id"`
	Items      []Item `json:"items"`
	IsPriority bool   `json:"is_priority"`
}

// OrderReadyEvent published when reconciliation promotes an order to Ready.
// Targets carries the order's registered notification destinations so the
// notify worker can deliver without reading back through the registry.
type OrderReadyEvent struct {
	BaseEvent
	OrderID uint32         `json:"order_id"`
	ReadyAt time.Time      `json:"ready_at"`
	Targets []NotifyTarget `json:"targets"`
	Message string         `json:"message"`
}

// OrderCompletedEvent published when staff hand the order over
type OrderCompletedEvent struct {
	BaseEvent
	OrderID uint32 `json:"order_id"`
}

// OrderCancelledEvent published when an order is cancelled
type OrderCancelledEvent struct {
	BaseEvent
	OrderID  uint32 `json:"order_id"`
	Refunded bool   `json:"refunded"`
}
