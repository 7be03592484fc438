package models

import "time"

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderDelivered = "ORDER_DELIVERED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when checkout turns a cart into an order
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	TotalPrice string          `json:"total_price"`
	Items      []OrderItemData `json:"items"`
}

// OrderPaidEvent published after the pay transition commits. The receipt worker
// consumes it, so it carries the whole order.
type OrderPaidEvent struct {
	BaseEvent
	Order       Order       `json:"order"`
	PaymentKind PaymentKind `json:"payment_kind"`
}

// OrderDeliveredEvent published when an admin confirms delivery
type OrderDeliveredEvent struct {
	BaseEvent
	OrderID     string    `json:"order_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"`
}
