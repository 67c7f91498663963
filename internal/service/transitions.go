package service

import (
	"fmt"

	"storefront/internal/models"
)

// TransitionEvent drives the order state machine. Gateway webhook event types
// map onto these; user_cancel and the fulfillment events come from
// authenticated callers.
type TransitionEvent string

const (
	TransitionCaptureCompleted TransitionEvent = "capture_completed"
	TransitionCaptureDenied    TransitionEvent = "capture_denied"
	TransitionCapturePending   TransitionEvent = "capture_pending"
	TransitionCaptureRefunded  TransitionEvent = "capture_refunded"
	TransitionUserCancel       TransitionEvent = "user_cancel"
	TransitionMarkShipped      TransitionEvent = "mark_shipped"
	TransitionMarkDelivered    TransitionEvent = "mark_delivered"
)

// LedgerEffect is the stock side effect a transition carries.
type LedgerEffect int

const (
	EffectNone LedgerEffect = iota
	EffectConfirm
	EffectRelease
	EffectRestore
)

// Transition is one row of the state table.
type Transition struct {
	To      models.OrderStatus
	Payment models.PaymentStatus
	Effect  LedgerEffect
}

type transitionKey struct {
	from  models.OrderStatus
	event TransitionEvent
}

// transitionTable is the single source of truth for which moves are legal.
// Anything absent is rejected, which is what protects against duplicate and
// out-of-order webhook delivery.
var transitionTable = map[transitionKey]Transition{
	{models.OrderStatusPending, TransitionCaptureCompleted}:         {models.OrderStatusPaid, models.PaymentStatusCompleted, EffectConfirm},
	{models.OrderStatusAwaitingCapture, TransitionCaptureCompleted}: {models.OrderStatusPaid, models.PaymentStatusCompleted, EffectConfirm},

	{models.OrderStatusPending, TransitionCaptureDenied}:         {models.OrderStatusCancelled, models.PaymentStatusFailed, EffectRelease},
	{models.OrderStatusAwaitingCapture, TransitionCaptureDenied}: {models.OrderStatusPaymentFailed, models.PaymentStatusFailed, EffectRelease},

	{models.OrderStatusPending, TransitionCapturePending}: {models.OrderStatusAwaitingCapture, models.PaymentStatusProcessing, EffectNone},

	{models.OrderStatusPaid, TransitionCaptureRefunded}:      {models.OrderStatusRefunded, models.PaymentStatusRefunded, EffectRestore},
	{models.OrderStatusShipped, TransitionCaptureRefunded}:   {models.OrderStatusRefunded, models.PaymentStatusRefunded, EffectRestore},
	{models.OrderStatusDelivered, TransitionCaptureRefunded}: {models.OrderStatusRefunded, models.PaymentStatusRefunded, EffectRestore},

	{models.OrderStatusPending, TransitionUserCancel}:         {models.OrderStatusCancelled, models.PaymentStatusFailed, EffectRelease},
	{models.OrderStatusAwaitingCapture, TransitionUserCancel}: {models.OrderStatusCancelled, models.PaymentStatusFailed, EffectRelease},

	{models.OrderStatusPaid, TransitionMarkShipped}:      {models.OrderStatusShipped, models.PaymentStatusCompleted, EffectNone},
	{models.OrderStatusShipped, TransitionMarkDelivered}: {models.OrderStatusDelivered, models.PaymentStatusCompleted, EffectNone},
}

// NextState resolves the transition for (from, event) or fails with
// InvalidTransition.
func NextState(from models.OrderStatus, event TransitionEvent) (Transition, error) {
	t, ok := transitionTable[transitionKey{from, event}]
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s from %s", models.ErrInvalidTransition, event, from)
	}
	return t, nil
}

// TransitionForGatewayEvent maps a gateway webhook event type onto the state
// machine. The second return is false for event types this system ignores.
func TransitionForGatewayEvent(eventType string) (TransitionEvent, bool) {
	switch eventType {
	case models.EventCaptureCompleted:
		return TransitionCaptureCompleted, true
	case models.EventCaptureDenied:
		return TransitionCaptureDenied, true
	case models.EventCapturePending:
		return TransitionCapturePending, true
	case models.EventCaptureRefunded:
		return TransitionCaptureRefunded, true
	}
	return "", false
}
