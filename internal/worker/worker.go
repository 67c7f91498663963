package worker

import (
	"context"
	"encoding/json"
	"time"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Reprocessor re-runs a previously conflicted gateway delivery.
type Reprocessor interface {
	Reprocess(ctx context.Context, rawBody []byte) (models.EventOutcome, error)
}

// RedeliveryWorker consumes conflicted webhook deliveries and re-runs them
// after a short delay. Webhook delivery is unordered and at-least-once, so a
// refund can arrive before the paid transition it depends on has committed;
// this worker resolves that race without waiting for the gateway's own retry.
type RedeliveryWorker struct {
	consumer    *broker.Consumer
	publisher   *broker.EventPublisher
	processor   Reprocessor
	delay       time.Duration
	maxAttempts int
	logger      *zap.Logger
}

// NewRedeliveryWorker creates a redelivery worker.
func NewRedeliveryWorker(
	consumer *broker.Consumer,
	publisher *broker.EventPublisher,
	processor Reprocessor,
	delay time.Duration,
	maxAttempts int,
) *RedeliveryWorker {
	return &RedeliveryWorker{
		consumer:    consumer,
		publisher:   publisher,
		processor:   processor,
		delay:       delay,
		maxAttempts: maxAttempts,
		logger:      util.GetLogger(),
	}
}

// Start consumes the redelivery topic until the context is cancelled.
func (w *RedeliveryWorker) Start(ctx context.Context) error {
	return w.consumer.StartConsuming(ctx, w.Handle)
}

// Stop closes the underlying consumer.
func (w *RedeliveryWorker) Stop() error {
	return w.consumer.Close()
}

// Handle re-runs one conflicted delivery. A delivery still conflicted after
// the delay is requeued until the attempt budget runs out; at that point the
// gateway's own retry cadence is the fallback.
func (w *RedeliveryWorker) Handle(ctx context.Context, msg kafka.Message) error {
	var event models.RedeliveryEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		w.logger.Error("Failed to unmarshal redelivery event", zap.Error(err))
		return nil // poison message, do not redeliver
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.delay):
	}

	outcome, err := w.processor.Reprocess(ctx, event.RawPayload)
	if err != nil {
		w.logger.Error("Redelivery attempt failed",
			zap.String("gateway_event_id", event.GatewayEventID),
			zap.Int("attempt", event.Attempt),
			zap.Error(err))
		return err
	}

	if outcome != models.OutcomeConflict {
		w.logger.Info("Redelivery resolved",
			zap.String("gateway_event_id", event.GatewayEventID),
			zap.Int("attempt", event.Attempt),
			zap.String("outcome", string(outcome)))
		return nil
	}

	if event.Attempt >= w.maxAttempts {
		w.logger.Warn("Redelivery attempts exhausted, leaving event to gateway retry",
			zap.String("gateway_event_id", event.GatewayEventID),
			zap.Int("attempt", event.Attempt))
		return nil
	}

	event.Attempt++
	if err := w.publisher.PublishRedelivery(ctx, &event); err != nil {
		w.logger.Error("Failed to requeue redelivery",
			zap.String("gateway_event_id", event.GatewayEventID),
			zap.Error(err))
		return err
	}
	return nil
}
