package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebhookProcessor ingests payment-gateway deliveries: verify, dedup, map the
// event onto a state-machine transition, and commit event log + order status +
// stock change as one transaction.
type WebhookProcessor struct {
	store          *store.Store
	orders         *OrderService
	redis          Cache
	eventPublisher *broker.EventPublisher
	credentials    map[models.Region]GatewayCredentials
	sigTolerance   time.Duration
	logger         *zap.Logger
}

// NewWebhookProcessor creates a webhook processor with region-specific
// gateway credentials.
func NewWebhookProcessor(
	st *store.Store,
	orders *OrderService,
	redis Cache,
	eventPublisher *broker.EventPublisher,
	credentials map[models.Region]GatewayCredentials,
	sigTolerance time.Duration,
) *WebhookProcessor {
	return &WebhookProcessor{
		store:          st,
		orders:         orders,
		redis:          redis,
		eventPublisher: eventPublisher,
		credentials:    credentials,
		sigTolerance:   sigTolerance,
		logger:         util.GetLogger(),
	}
}

// HandleDelivery authenticates a raw gateway delivery and processes it.
// Verification happens before any state is touched; failures here are the only
// outcome the HTTP boundary answers non-200.
func (p *WebhookProcessor) HandleDelivery(ctx context.Context, signature, timestamp string, body []byte) (models.EventOutcome, error) {
	ctx, span := util.StartSpan(ctx, "WebhookProcessor.HandleDelivery")
	defer span.End()

	evt, err := models.ParseGatewayEvent(body)
	if err != nil || evt.ID == "" {
		util.WebhookVerificationFailures.Inc()
		return models.OutcomeFailed, fmt.Errorf("malformed payload: %w", models.ErrSignatureVerification)
	}

	// Credentials are region-specific and the region lives on the order, so an
	// event naming an unknown order is unverifiable and rejected the same way
	// as a bad signature.
	orderID, err := strconv.ParseInt(evt.Resource.CustomID, 10, 64)
	if err != nil {
		util.WebhookVerificationFailures.Inc()
		return models.OutcomeFailed, fmt.Errorf("bad order reference: %w", models.ErrSignatureVerification)
	}
	order, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		util.WebhookVerificationFailures.Inc()
		if errors.Is(err, models.ErrNotFound) {
			return models.OutcomeFailed, fmt.Errorf("unknown order %d: %w", orderID, models.ErrSignatureVerification)
		}
		return models.OutcomeFailed, err
	}

	creds := p.credentials[order.Region]
	if err := VerifySignature(creds.WebhookSecret, timestamp, body, signature, time.Now(), p.sigTolerance); err != nil {
		util.WebhookVerificationFailures.Inc()
		p.logger.Warn("Webhook signature rejected",
			zap.String("event_id", evt.ID),
			zap.Int64("order_id", orderID))
		return models.OutcomeFailed, err
	}

	outcome, err := p.Process(ctx, evt, body)
	if err == nil && outcome == models.OutcomeConflict {
		// Re-check after a short delay instead of waiting a full gateway retry
		// interval; the worker owns the attempt budget.
		p.scheduleRedelivery(ctx, evt, body)
	}
	return outcome, err
}

// Process runs a verified (or internally trusted) gateway event through
// dedup and the transition table. Everything it mutates commits atomically.
func (p *WebhookProcessor) Process(ctx context.Context, evt *models.GatewayEvent, rawBody []byte) (models.EventOutcome, error) {
	ctx, span := util.StartSpan(ctx, "WebhookProcessor.Process")
	defer span.End()

	// Fast path only; the dedup row checked inside the transaction is the
	// authority.
	if seen, _ := p.redis.SeenEvent(ctx, evt.ID); seen {
		p.logger.Info("Gateway event already seen", zap.String("event_id", evt.ID))
	}

	var (
		outcome   models.EventOutcome
		conflict  error
		lowEvents []models.StockLowEvent
		order     *models.Order
	)

	err := withConflictRetry(ctx, p.logger, func() error {
		outcome, conflict, lowEvents, order = "", nil, nil, nil
		return p.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
			existing, err := uow.GetWebhookEvent(ctx, evt.ID)
			if err != nil {
				return err
			}
			// Processed and ignored outcomes are final; a recorded conflict may
			// be retried by the redelivery worker once the blocking state lands.
			if existing != nil && existing.Outcome != models.OutcomeConflict {
				outcome = existing.Outcome
				conflict = models.ErrDuplicateEvent
				return nil
			}

			record := &models.WebhookEvent{
				GatewayEventID: evt.ID,
				EventType:      evt.EventType,
				RawPayload:     rawBody,
			}

			// A racing first delivery can commit a final outcome between the
			// dedup read above and this write; the store suppresses the
			// overwrite then and the stored outcome wins.
			persist := func() error {
				err := uow.RecordWebhookEvent(ctx, record)
				if errors.Is(err, models.ErrDuplicateEvent) {
					stored, lookupErr := uow.GetWebhookEvent(ctx, evt.ID)
					if lookupErr != nil {
						return lookupErr
					}
					if stored == nil {
						return err
					}
					outcome = stored.Outcome
					conflict = models.ErrDuplicateEvent
					return nil
				}
				return err
			}

			transition, known := TransitionForGatewayEvent(evt.EventType)
			if !known {
				record.Outcome = models.OutcomeIgnored
				record.Detail = "unhandled event type"
				outcome = models.OutcomeIgnored
				return persist()
			}

			orderID, err := strconv.ParseInt(evt.Resource.CustomID, 10, 64)
			if err != nil {
				return fmt.Errorf("bad order reference in event %s: %w", evt.ID, models.ErrNotFound)
			}
			order, err = uow.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}

			low, err := p.orders.Transition(ctx, uow, order, transition)
			if errors.Is(err, models.ErrInvalidTransition) {
				// Absorbed: reapplying now would not change the outcome. The
				// event row commits with the conflict so the redelivery worker
				// can re-check once the blocking transition lands.
				record.Outcome = models.OutcomeConflict
				record.Detail = err.Error()
				outcome = models.OutcomeConflict
				conflict = err
				return persist()
			}
			if err != nil {
				return err
			}

			if err := p.applyPaymentRows(ctx, uow, evt, order); err != nil {
				return err
			}

			record.Outcome = models.OutcomeProcessed
			lowEvents = low
			outcome = models.OutcomeProcessed
			return persist()
		})
	})
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("error").Inc()
		return models.OutcomeFailed, err
	}

	p.redis.MarkEventSeen(ctx, evt.ID)
	util.WebhookEventsTotal.WithLabelValues(string(outcome)).Inc()

	switch {
	case errors.Is(conflict, models.ErrDuplicateEvent):
		p.logger.Info("Duplicate gateway event acknowledged",
			zap.String("event_id", evt.ID),
			zap.String("recorded_outcome", string(outcome)))
	case conflict != nil:
		p.logger.Warn("Transition conflict recorded",
			zap.String("event_id", evt.ID),
			zap.String("event_type", evt.EventType),
			zap.Error(conflict))
	case outcome == models.OutcomeProcessed:
		p.publishOutcome(ctx, evt, order, lowEvents)
	}

	return outcome, nil
}

// applyPaymentRows upserts the payment record for capture events and writes
// the refund row for refunds, inside the same transaction as the transition.
func (p *WebhookProcessor) applyPaymentRows(ctx context.Context, uow *store.UnitOfWork, evt *models.GatewayEvent, order *models.Order) error {
	now := time.Now()

	switch evt.EventType {
	case models.EventCaptureCompleted:
		return uow.UpsertPayment(ctx, &models.Payment{
			OrderID:     order.ID,
			GatewayTxID: evt.Resource.ID,
			Status:      models.PaymentStatusCompleted,
			Amount:      evt.Resource.Amount,
			CompletedAt: &now,
		})
	case models.EventCapturePending:
		return uow.UpsertPayment(ctx, &models.Payment{
			OrderID:     order.ID,
			GatewayTxID: evt.Resource.ID,
			Status:      models.PaymentStatusProcessing,
			Amount:      evt.Resource.Amount,
		})
	case models.EventCaptureDenied:
		return uow.UpsertPayment(ctx, &models.Payment{
			OrderID:       order.ID,
			GatewayTxID:   evt.Resource.ID,
			Status:        models.PaymentStatusFailed,
			Amount:        evt.Resource.Amount,
			FailureReason: evt.Resource.ReasonCode,
		})
	case models.EventCaptureRefunded:
		payment, err := uow.GetPaymentByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		refund := &models.Refund{
			PaymentID:       payment.ID,
			OrderID:         order.ID,
			GatewayRefundID: evt.Resource.ID,
			Amount:          evt.Resource.Amount,
			Status:          "completed",
		}
		if err := uow.InsertRefund(ctx, refund); err != nil {
			return err
		}
		payment.Status = models.PaymentStatusRefunded
		return uow.UpsertPayment(ctx, payment)
	}
	return nil
}

func (p *WebhookProcessor) publishOutcome(ctx context.Context, evt *models.GatewayEvent, order *models.Order, low []models.StockLowEvent) {
	switch evt.EventType {
	case models.EventCaptureCompleted:
		p.orders.publishOrderEvent(ctx, models.TopicEventOrderPaid, order, "")
	case models.EventCaptureDenied:
		p.orders.publishOrderEvent(ctx, models.TopicEventOrderCancelled, order, evt.Resource.ReasonCode)
	case models.EventCaptureRefunded:
		p.orders.publishOrderEvent(ctx, models.TopicEventOrderRefunded, order, evt.Resource.ReasonCode)
	}

	for i := range low {
		low[i].BaseEvent = models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.TopicEventStockLow,
			Timestamp: time.Now(),
		}
		if err := p.eventPublisher.PublishStockLow(ctx, &low[i]); err != nil {
			p.logger.Error("Failed to publish low stock event", zap.Error(err))
		}
	}
}

// scheduleRedelivery hands a conflicted event to the worker so it can be
// re-checked after a short delay instead of waiting for the gateway's retry.
func (p *WebhookProcessor) scheduleRedelivery(ctx context.Context, evt *models.GatewayEvent, rawBody []byte) {
	if len(rawBody) == 0 {
		// Synthetic events have no wire payload to replay.
		return
	}
	redelivery := &models.RedeliveryEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.TopicEventRedelivery,
			Timestamp: time.Now(),
		},
		GatewayEventID: evt.ID,
		RawPayload:     rawBody,
		Attempt:        1,
	}
	if err := p.eventPublisher.PublishRedelivery(ctx, redelivery); err != nil {
		p.logger.Error("Failed to schedule webhook redelivery",
			zap.String("event_id", evt.ID),
			zap.Error(err))
	}
}

// Reprocess re-runs a previously conflicted delivery. Used by the redelivery
// worker; the payload was verified on first receipt.
func (p *WebhookProcessor) Reprocess(ctx context.Context, rawBody []byte) (models.EventOutcome, error) {
	evt, err := models.ParseGatewayEvent(rawBody)
	if err != nil {
		return models.OutcomeFailed, fmt.Errorf("malformed redelivery payload: %w", err)
	}
	return p.Process(ctx, evt, rawBody)
}

// TriggerRefund is the support-tooling entry point. It builds a synthetic
// refund event and runs it through the same transition path as a gateway
// delivery, so the ledger arithmetic stays single-sourced.
func (p *WebhookProcessor) TriggerRefund(ctx context.Context, orderID int64, amount int64, reason string) (models.EventOutcome, error) {
	evt := &models.GatewayEvent{
		ID:        "manual-refund-" + uuid.New().String(),
		EventType: models.EventCaptureRefunded,
		Resource: models.GatewayResource{
			CustomID:   strconv.FormatInt(orderID, 10),
			ID:         "manual-" + uuid.New().String()[:8],
			Amount:     amount,
			ReasonCode: reason,
		},
	}
	outcome, err := p.Process(ctx, evt, nil)
	if err != nil {
		return outcome, err
	}
	if outcome == models.OutcomeConflict {
		return outcome, fmt.Errorf("order %d cannot be refunded in its current state: %w",
			orderID, models.ErrInvalidTransition)
	}
	return outcome, nil
}
