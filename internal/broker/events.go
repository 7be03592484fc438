package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
	now      func() time.Time
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer, now: time.Now}
}

func (ep *EventPublisher) base(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: ep.now(),
	}
}

func orderKey(orderID string) string {
	return "order-" + orderID
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	event := &models.OrderCreatedEvent{
		BaseEvent:  ep.base(models.EventTypeOrderCreated),
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalPrice: order.TotalPrice,
	}
	for _, item := range order.OrderItems {
		event.Items = append(event.Items, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishOrderPaid publishes OrderPaid event carrying the paid order
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, order *models.Order, kind models.PaymentKind) error {
	event := &models.OrderPaidEvent{
		BaseEvent:   ep.base(models.EventTypeOrderPaid),
		Order:       *order,
		PaymentKind: kind,
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// PublishOrderDelivered publishes OrderDelivered event
func (ep *EventPublisher) PublishOrderDelivered(ctx context.Context, order *models.Order) error {
	event := &models.OrderDeliveredEvent{
		BaseEvent: ep.base(models.EventTypeOrderDelivered),
		OrderID:   order.ID,
	}
	if order.DeliveredAt != nil {
		event.DeliveredAt = *order.DeliveredAt
	}
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onOrderPaid func(context.Context, *models.OrderPaidEvent) error
	logger      *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderPaid registers a handler for OrderPaid events
func (eh *EventHandler) OnOrderPaid(handler func(context.Context, *models.OrderPaidEvent) error) {
	eh.onOrderPaid = handler
}

// HandleMessage routes messages to appropriate handlers. Event types without a
// registered handler are skipped and committed.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderPaid:
		if eh.onOrderPaid != nil {
			var event models.OrderPaidEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderPaid event: %w", err)
			}
			return eh.onOrderPaid(ctx, &event)
		}

	case models.EventTypeOrderCreated, models.EventTypeOrderDelivered:
		// no consumer in this service

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
