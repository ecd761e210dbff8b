package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/yadokani389/taiyaq/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing order lifecycle events. It is the
// outbox side of notification dispatch: the registry collects events inside
// its critical section and publishes them here once the lock is released.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderCreated publishes an OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderReady publishes an OrderReady event
func (ep *EventPublisher) PublishOrderReady(ctx context.Context, event *models.OrderReadyEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderCompleted publishes an OrderCompleted event
func (ep *EventPublisher) PublishOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishOrderCancelled publishes an OrderCancelled event
func (ep *EventPublisher) PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

func orderKey(orderID uint32) string {
	return fmt.Sprintf("order-%d", orderID)
}

// EventHandler routes consumed events to registered handlers.
type EventHandler struct {
	onOrderReady func(context.Context, *models.OrderReadyEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnOrderReady registers a handler for OrderReady events
func (eh *EventHandler) OnOrderReady(handler func(context.Context, *models.OrderReadyEvent) error) {
	eh.onOrderReady = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderReady:
		if eh.onOrderReady != nil {
			var event models.OrderReadyEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderReady event: %w", err)
			}
			return eh.onOrderReady(ctx, &event)
		}

	case models.EventTypeOrderCreated, models.EventTypeOrderCompleted, models.EventTypeOrderCancelled:
		// Lifecycle events are published for downstream consumers; the
		// notify worker has nothing to do with them.

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
