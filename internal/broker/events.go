package broker

import (
	"context"
	"fmt"

	"storefront/internal/models"
)

// EventPublisher routes domain events to their topics. Order and stock events
// feed the email/analytics collaborators; redelivery events feed the webhook
// redelivery worker. A nil *EventPublisher is valid and discards events, so
// callers without a broker need no special casing.
type EventPublisher struct {
	domain     *Producer
	redelivery *Producer
}

// NewEventPublisher creates an event publisher over the two topic producers.
func NewEventPublisher(domain, redelivery *Producer) *EventPublisher {
	return &EventPublisher{domain: domain, redelivery: redelivery}
}

// PublishOrderEvent publishes an order lifecycle event keyed by order id, so
// all events of one order land in one partition in order.
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	if ep == nil {
		return nil
	}
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.domain.PublishEvent(ctx, key, event)
}

// PublishStockLow publishes a low-stock alert keyed by option id.
func (ep *EventPublisher) PublishStockLow(ctx context.Context, event *models.StockLowEvent) error {
	if ep == nil {
		return nil
	}
	key := fmt.Sprintf("option-%d", event.OptionID)
	return ep.domain.PublishEvent(ctx, key, event)
}

// PublishRedelivery hands a conflicted webhook delivery to the redelivery
// worker, keyed by gateway event id.
func (ep *EventPublisher) PublishRedelivery(ctx context.Context, event *models.RedeliveryEvent) error {
	if ep == nil {
		return nil
	}
	return ep.redelivery.PublishEvent(ctx, event.GatewayEventID, event)
}
