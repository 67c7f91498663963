package service

import (
	"testing"

	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStateAllowed(t *testing.T) {
	tests := []struct {
		name    string
		from    models.OrderStatus
		event   TransitionEvent
		to      models.OrderStatus
		payment models.PaymentStatus
		effect  LedgerEffect
	}{
		{"capture completed from pending", models.OrderStatusPending, TransitionCaptureCompleted,
			models.OrderStatusPaid, models.PaymentStatusCompleted, EffectConfirm},
		{"capture completed from awaiting capture", models.OrderStatusAwaitingCapture, TransitionCaptureCompleted,
			models.OrderStatusPaid, models.PaymentStatusCompleted, EffectConfirm},
		{"capture denied from pending cancels", models.OrderStatusPending, TransitionCaptureDenied,
			models.OrderStatusCancelled, models.PaymentStatusFailed, EffectRelease},
		{"capture denied after pending capture fails payment", models.OrderStatusAwaitingCapture, TransitionCaptureDenied,
			models.OrderStatusPaymentFailed, models.PaymentStatusFailed, EffectRelease},
		{"capture pending parks the order", models.OrderStatusPending, TransitionCapturePending,
			models.OrderStatusAwaitingCapture, models.PaymentStatusProcessing, EffectNone},
		{"refund from paid", models.OrderStatusPaid, TransitionCaptureRefunded,
			models.OrderStatusRefunded, models.PaymentStatusRefunded, EffectRestore},
		{"refund from shipped", models.OrderStatusShipped, TransitionCaptureRefunded,
			models.OrderStatusRefunded, models.PaymentStatusRefunded, EffectRestore},
		{"refund from delivered", models.OrderStatusDelivered, TransitionCaptureRefunded,
			models.OrderStatusRefunded, models.PaymentStatusRefunded, EffectRestore},
		{"user cancel from pending", models.OrderStatusPending, TransitionUserCancel,
			models.OrderStatusCancelled, models.PaymentStatusFailed, EffectRelease},
		{"user cancel from awaiting capture", models.OrderStatusAwaitingCapture, TransitionUserCancel,
			models.OrderStatusCancelled, models.PaymentStatusFailed, EffectRelease},
		{"ship a paid order", models.OrderStatusPaid, TransitionMarkShipped,
			models.OrderStatusShipped, models.PaymentStatusCompleted, EffectNone},
		{"deliver a shipped order", models.OrderStatusShipped, TransitionMarkDelivered,
			models.OrderStatusDelivered, models.PaymentStatusCompleted, EffectNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := NextState(tt.from, tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.to, next.To)
			assert.Equal(t, tt.payment, next.Payment)
			assert.Equal(t, tt.effect, next.Effect)
		})
	}
}

func TestNextStateRejected(t *testing.T) {
	tests := []struct {
		name  string
		from  models.OrderStatus
		event TransitionEvent
	}{
		{"cannot cancel a paid order", models.OrderStatusPaid, TransitionUserCancel},
		{"refund before payment", models.OrderStatusPending, TransitionCaptureRefunded},
		{"complete an already cancelled order", models.OrderStatusCancelled, TransitionCaptureCompleted},
		{"complete a refunded order", models.OrderStatusRefunded, TransitionCaptureCompleted},
		{"ship before payment", models.OrderStatusPending, TransitionMarkShipped},
		{"deliver before shipping", models.OrderStatusPaid, TransitionMarkDelivered},
		{"re-deliver a delivered order", models.OrderStatusDelivered, TransitionMarkDelivered},
		{"deny after capture", models.OrderStatusPaid, TransitionCaptureDenied},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NextState(tt.from, tt.event)
			assert.ErrorIs(t, err, models.ErrInvalidTransition)
		})
	}
}

func TestTransitionForGatewayEvent(t *testing.T) {
	known := map[string]TransitionEvent{
		models.EventCaptureCompleted: TransitionCaptureCompleted,
		models.EventCaptureDenied:    TransitionCaptureDenied,
		models.EventCapturePending:   TransitionCapturePending,
		models.EventCaptureRefunded:  TransitionCaptureRefunded,
	}
	for eventType, want := range known {
		got, ok := TransitionForGatewayEvent(eventType)
		assert.True(t, ok, eventType)
		assert.Equal(t, want, got)
	}

	_, ok := TransitionForGatewayEvent("CUSTOMER.DISPUTE.CREATED")
	assert.False(t, ok)
}
