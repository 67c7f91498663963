package models

import (
	"encoding/json"
	"time"
)

// Gateway event types this system acts on. Anything else is recorded and
// acknowledged without effect.
const (
	EventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
	EventCapturePending   = "PAYMENT.CAPTURE.PENDING"
	EventCaptureRefunded  = "PAYMENT.CAPTURE.REFUNDED"
)

// GatewayResource is the resource block of a gateway webhook payload.
// CustomID carries the order id the checkout attached to the gateway order.
type GatewayResource struct {
	CustomID   string `json:"custom_id"`
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	ReasonCode string `json:"reason_code,omitempty"`
}

// GatewayEvent is the parsed webhook body.
type GatewayEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  GatewayResource `json:"resource"`
}

// ParseGatewayEvent decodes a raw webhook body.
func ParseGatewayEvent(body []byte) (*GatewayEvent, error) {
	var evt GatewayEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

// Outbound domain event types, consumed by the email/analytics collaborators.
const (
	TopicEventOrderPaid      = "ORDER_PAID"
	TopicEventOrderCancelled = "ORDER_CANCELLED"
	TopicEventOrderRefunded  = "ORDER_REFUNDED"
	TopicEventStockLow       = "STOCK_LOW"
	TopicEventRedelivery     = "WEBHOOK_REDELIVERY"
)

// BaseEvent contains common fields for all outbound events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent announces an order reaching a terminal-ish state.
type OrderEvent struct {
	BaseEvent
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Region      Region `json:"region"`
	Total       int64  `json:"total"`
	Reason      string `json:"reason,omitempty"`
}

// StockLowEvent announces an option crossing its low-stock threshold.
type StockLowEvent struct {
	BaseEvent
	ProductID int64 `json:"product_id"`
	OptionID  int64 `json:"option_id"`
	Remaining int   `json:"remaining"`
	Threshold int   `json:"threshold"`
}

// RedeliveryEvent wraps a gateway delivery that hit a state-machine conflict,
// so the worker can re-run it after a short delay instead of waiting for the
// gateway's own retry cadence.
type RedeliveryEvent struct {
	BaseEvent
	GatewayEventID string          `json:"gateway_event_id"`
	RawPayload     json.RawMessage `json:"raw_payload"`
	Attempt        int             `json:"attempt"`
}
