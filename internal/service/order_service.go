package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// OrderService owns the order aggregate: checkout, the state machine, and the
// ledger side effects each transition carries.
type OrderService struct {
	store          *store.Store
	redis          Cache
	ledger         *StockLedger
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(
	st *store.Store,
	redis Cache,
	ledger *StockLedger,
	eventPublisher *broker.EventPublisher,
) *OrderService {
	return &OrderService{
		store:          st,
		redis:          redis,
		ledger:         ledger,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest is the checkout boundary input. Tax, shipping and
// discount are computed by the excluded collaborators and arrive precomputed.
type CreateOrderRequest struct {
	Items           []OrderItemRequest `json:"items" binding:"required,min=1"`
	Region          models.Region      `json:"region" binding:"required"`
	CustomerEmail   string             `json:"customer_email" binding:"required,email"`
	ShippingAddress string             `json:"shipping_address" binding:"required"`
	Tax             int64              `json:"tax"`
	Shipping        int64              `json:"shipping"`
	Discount        int64              `json:"discount"`
	CouponCode      *string            `json:"coupon_code,omitempty"`
	IdempotencyKey  string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest is one checkout line.
type OrderItemRequest struct {
	ProductID int64   `json:"product_id" binding:"required"`
	OptionIDs []int64 `json:"option_ids"`
	Quantity  int     `json:"quantity" binding:"required,min=1"`
}

// CreateOrderResponse is returned to the checkout collaborator.
type CreateOrderResponse struct {
	OrderID     int64              `json:"order_id"`
	OrderNumber string             `json:"order_number"`
	Status      models.OrderStatus `json:"status"`
}

// CreateOrder creates the order, its price-frozen items and the stock
// reservation in one transaction. Failing the reservation rolls back the
// whole checkout.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if !req.Region.Valid() {
		return nil, fmt.Errorf("unknown region %q", req.Region)
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	if resp, err := s.findExisting(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if resp != nil {
		return resp, nil
	}

	products, err := s.validateItems(ctx, req)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	order := &models.Order{
		OrderNumber:     newOrderNumber(req.Region),
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		StockOp:         models.StockOpReserved,
		Region:          req.Region,
		CustomerEmail:   req.CustomerEmail,
		ShippingAddress: req.ShippingAddress,
		Tax:             req.Tax,
		Shipping:        req.Shipping,
		Discount:        req.Discount,
		CouponCode:      req.CouponCode,
		IdempotencyKey:  req.IdempotencyKey,
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for _, line := range req.Items {
		product := products[line.ProductID]
		order.Subtotal += product.Price * int64(line.Quantity)
		items = append(items, models.OrderItem{
			ProductID: line.ProductID,
			OptionIDs: pq.Int64Array(line.OptionIDs),
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
		})
	}
	order.Total = order.Subtotal + order.Tax + order.Shipping - order.Discount

	err = withConflictRetry(ctx, s.logger, func() error {
		return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
			if err := uow.InsertOrder(ctx, order); err != nil {
				return fmt.Errorf("failed to create order: %w", err)
			}
			for i := range items {
				items[i].OrderID = order.ID
				if err := uow.InsertOrderItem(ctx, &items[i]); err != nil {
					return fmt.Errorf("failed to create order item: %w", err)
				}
			}
			return s.ledger.Reserve(ctx, uow, items)
		})
	})
	if err != nil {
		if errors.Is(err, models.ErrOutOfStock) {
			util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
			return nil, err
		}
		if store.IsUniqueViolation(err) {
			// The redis fast path can miss after a cache flush; the unique
			// constraint on idempotency_key still catches the duplicate, and
			// the original order is the correct answer.
			if resp, lookupErr := s.lookupByKey(ctx, req.IdempotencyKey); lookupErr == nil && resp != nil {
				return resp, nil
			}
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("region", string(order.Region)))

	s.redis.RememberIdempotencyKey(ctx, req.IdempotencyKey, order.ID)

	return &CreateOrderResponse{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
	}, nil
}

func (s *OrderService) findExisting(ctx context.Context, key string) (*CreateOrderResponse, error) {
	// Redis is only a fast path; the unique constraint on idempotency_key is
	// the authority.
	if seen, _ := s.redis.CheckIdempotencyKey(ctx, key); !seen {
		return nil, nil
	}
	return s.lookupByKey(ctx, key)
}

func (s *OrderService) lookupByKey(ctx context.Context, key string) (*CreateOrderResponse, error) {
	existing, err := s.store.GetOrderByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	s.logger.Info("Duplicate checkout request",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", existing.ID))
	return &CreateOrderResponse{
		OrderID:     existing.ID,
		OrderNumber: existing.OrderNumber,
		Status:      existing.Status,
	}, nil
}

func (s *OrderService) validateItems(ctx context.Context, req *CreateOrderRequest) (map[int64]*models.Product, error) {
	productIDs := make([]int64, 0, len(req.Items))
	seen := make(map[int64]bool)
	for _, item := range req.Items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			productIDs = append(productIDs, item.ProductID)
		}
	}

	products, err := s.store.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	if len(products) != len(productIDs) {
		return nil, fmt.Errorf("some products: %w", models.ErrNotFound)
	}

	productMap := make(map[int64]*models.Product, len(products))
	for i := range products {
		if products[i].Region != req.Region {
			return nil, fmt.Errorf("product %d belongs to region %s, order is %s",
				products[i].ID, products[i].Region, req.Region)
		}
		productMap[products[i].ID] = &products[i]
	}
	return productMap, nil
}

// Transition applies one state-machine event to a locked order inside the
// caller's transaction: guard, ledger effect, then the status/stock_op update.
// Returns low-stock events for the caller to publish after commit.
func (s *OrderService) Transition(ctx context.Context, uow *store.UnitOfWork, order *models.Order, event TransitionEvent) ([]models.StockLowEvent, error) {
	next, err := NextState(order.Status, event)
	if err != nil {
		util.TransitionConflictsTotal.WithLabelValues(string(event)).Inc()
		return nil, err
	}

	items, err := uow.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	stockOp, low, err := s.ledger.Apply(ctx, uow, next.Effect, order, items)
	if err != nil {
		return nil, err
	}

	if err := uow.UpdateOrderState(ctx, order.ID, next.To, next.Payment, stockOp); err != nil {
		return nil, fmt.Errorf("failed to update order state: %w", err)
	}

	s.logger.Info("Order transition applied",
		zap.Int64("order_id", order.ID),
		zap.String("event", string(event)),
		zap.String("from", string(order.Status)),
		zap.String("to", string(next.To)))

	order.Status = next.To
	order.PaymentStatus = next.Payment
	order.StockOp = stockOp
	return low, nil
}

// Cancel applies user_cancel for an order still in pending/awaiting_capture,
// releasing its reservation.
func (s *OrderService) Cancel(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	var cancelled *models.Order
	err := withConflictRetry(ctx, s.logger, func() error {
		return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
			order, err := uow.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if _, err := s.Transition(ctx, uow, order, TransitionUserCancel); err != nil {
				return err
			}
			cancelled = order
			return nil
		})
	})
	if err != nil {
		return err
	}

	util.OrdersCancelledTotal.Inc()
	s.publishOrderEvent(ctx, models.TopicEventOrderCancelled, cancelled, "user_cancel")
	return nil
}

// ApplyFulfillment moves a paid order through shipped/delivered (admin).
func (s *OrderService) ApplyFulfillment(ctx context.Context, orderID int64, event TransitionEvent) error {
	if event != TransitionMarkShipped && event != TransitionMarkDelivered {
		return fmt.Errorf("%w: %s is not a fulfillment event", models.ErrInvalidTransition, event)
	}
	return withConflictRetry(ctx, s.logger, func() error {
		return s.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
			order, err := uow.GetOrderForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			_, err = s.Transition(ctx, uow, order, event)
			return err
		})
	})
}

// GetOrder retrieves an order and its items.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

func (s *OrderService) publishOrderEvent(ctx context.Context, eventType string, order *models.Order, reason string) {
	evt := &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Region:      order.Region,
		Total:       order.Total,
		Reason:      reason,
	}
	if err := s.eventPublisher.PublishOrderEvent(ctx, evt); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

// newOrderNumber builds the externally visible order number.
func newOrderNumber(region models.Region) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:10])
	return fmt.Sprintf("%s-%s-%s", strings.ToUpper(string(region)), time.Now().Format("20060102"), suffix)
}
