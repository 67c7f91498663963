package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// maxConflictRetries bounds internal retries on lock contention before the
// failure surfaces as transient.
const maxConflictRetries = 3

// StockLedger owns reservation and confirmation arithmetic. Mutations run
// inside the caller's unit of work so they commit together with the order
// state that justifies them. Option rows are always locked in ascending id
// order so contending transactions cannot deadlock.
type StockLedger struct {
	store  *store.Store
	logger *zap.Logger
}

// NewStockLedger creates a stock ledger over the given store.
func NewStockLedger(st *store.Store) *StockLedger {
	return &StockLedger{store: st, logger: util.GetLogger()}
}

// lockedStock is the per-transaction view of every stock row an order touches.
type lockedStock struct {
	optionQty  map[int64]int // option id -> total quantity across items
	productQty map[int64]int // product id -> quantity for untracked items
	options    map[int64]models.VariationOption
}

// resolveAndLock maps order items onto stock rows and takes their row locks.
// Items whose selected options include stock-tracked options reserve on each
// such option; items with no tracked option fall back to the product's
// top-level counter.
func (l *StockLedger) resolveAndLock(ctx context.Context, uow *store.UnitOfWork, items []models.OrderItem) (*lockedStock, error) {
	optionIDs := make([]int64, 0)
	seen := make(map[int64]bool)
	for _, item := range items {
		for _, id := range item.OptionIDs {
			if !seen[id] {
				seen[id] = true
				optionIDs = append(optionIDs, id)
			}
		}
	}
	sort.Slice(optionIDs, func(i, j int) bool { return optionIDs[i] < optionIDs[j] })

	options, err := uow.GetOptionsForUpdate(ctx, optionIDs)
	if err != nil {
		return nil, err
	}

	ls := &lockedStock{
		optionQty:  make(map[int64]int),
		productQty: make(map[int64]int),
		options:    make(map[int64]models.VariationOption, len(options)),
	}
	for _, opt := range options {
		ls.options[opt.ID] = opt
	}

	for _, item := range items {
		tracked := false
		for _, id := range item.OptionIDs {
			if opt, ok := ls.options[id]; ok && opt.TrackStock {
				ls.optionQty[id] += item.Quantity
				tracked = true
			}
		}
		if !tracked {
			ls.productQty[item.ProductID] += item.Quantity
		}
	}
	return ls, nil
}

func sortedKeys(m map[int64]int) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Reserve places a hold on every stock row the items resolve to. It must run
// in the same transaction as order creation; the row locks taken here are what
// prevent two checkouts from both taking the last unit.
func (l *StockLedger) Reserve(ctx context.Context, uow *store.UnitOfWork, items []models.OrderItem) error {
	ls, err := l.resolveAndLock(ctx, uow, items)
	if err != nil {
		return err
	}

	backorder := make(map[int64]bool)
	allowBackorder := func(productID int64) (bool, error) {
		if allow, ok := backorder[productID]; ok {
			return allow, nil
		}
		product, err := uow.GetProduct(ctx, productID)
		if err != nil {
			return false, err
		}
		backorder[productID] = product.AllowBackorder
		return product.AllowBackorder, nil
	}

	for _, id := range sortedKeys(ls.optionQty) {
		qty := ls.optionQty[id]
		opt := ls.options[id]
		if opt.Available() < qty {
			allow, err := allowBackorder(opt.ProductID)
			if err != nil {
				return err
			}
			if !allow {
				return fmt.Errorf("option %d: requested %d, available %d: %w",
					id, qty, opt.Available(), models.ErrOutOfStock)
			}
		}
		if err := uow.AddOptionReservation(ctx, id, qty); err != nil {
			return err
		}
	}

	for _, productID := range sortedKeys(ls.productQty) {
		qty := ls.productQty[productID]
		product, err := uow.GetProductForUpdate(ctx, productID)
		if err != nil {
			return err
		}
		if product.StockQuantity < qty && !product.AllowBackorder {
			return fmt.Errorf("product %d: requested %d, available %d: %w",
				productID, qty, product.StockQuantity, models.ErrOutOfStock)
		}
		if err := uow.AddProductStock(ctx, productID, -qty); err != nil {
			return err
		}
	}

	return nil
}

// Confirm converts the order's reservation into a permanent decrement. A
// second Confirm for the same order is a no-op; the order's stock_op column
// records what has already been applied.
func (l *StockLedger) Confirm(ctx context.Context, uow *store.UnitOfWork, order *models.Order, items []models.OrderItem) ([]models.StockLowEvent, error) {
	switch order.StockOp {
	case models.StockOpConfirmed:
		return nil, nil
	case models.StockOpReserved:
	default:
		return nil, fmt.Errorf("confirm for order %d with stock op %q: %w",
			order.ID, order.StockOp, models.ErrInvalidTransition)
	}

	ls, err := l.resolveAndLock(ctx, uow, items)
	if err != nil {
		return nil, err
	}

	var low []models.StockLowEvent
	for _, id := range sortedKeys(ls.optionQty) {
		qty := ls.optionQty[id]
		remaining, err := uow.ConfirmOptionReservation(ctx, id, qty)
		if err != nil {
			return nil, err
		}
		opt := ls.options[id]
		if remaining <= opt.LowStockThreshold {
			low = append(low, models.StockLowEvent{
				ProductID: opt.ProductID,
				OptionID:  id,
				Remaining: remaining,
				Threshold: opt.LowStockThreshold,
			})
		}
	}

	// Product-level holds were taken by direct decrement, so confirmation has
	// nothing left to apply there.
	return low, nil
}

// Release returns the order's reserved quantity without touching stock. Valid
// only before confirmation; a repeat Release is a no-op.
func (l *StockLedger) Release(ctx context.Context, uow *store.UnitOfWork, order *models.Order, items []models.OrderItem) error {
	switch order.StockOp {
	case models.StockOpReleased:
		return nil
	case models.StockOpReserved:
	default:
		return fmt.Errorf("release for order %d with stock op %q: %w",
			order.ID, order.StockOp, models.ErrInvalidTransition)
	}

	ls, err := l.resolveAndLock(ctx, uow, items)
	if err != nil {
		return err
	}

	for _, id := range sortedKeys(ls.optionQty) {
		if err := uow.ReleaseOptionReservation(ctx, id, ls.optionQty[id]); err != nil {
			return err
		}
	}
	for _, productID := range sortedKeys(ls.productQty) {
		if err := uow.AddProductStock(ctx, productID, ls.productQty[productID]); err != nil {
			return err
		}
	}
	return nil
}

// Restore re-increments stock after a refund. The reservation was already
// resolved by Confirm, so reserved quantities are untouched. A repeat Restore
// is a no-op.
func (l *StockLedger) Restore(ctx context.Context, uow *store.UnitOfWork, order *models.Order, items []models.OrderItem) error {
	switch order.StockOp {
	case models.StockOpRestored:
		return nil
	case models.StockOpConfirmed:
	default:
		return fmt.Errorf("restore for order %d with stock op %q: %w",
			order.ID, order.StockOp, models.ErrInvalidTransition)
	}

	ls, err := l.resolveAndLock(ctx, uow, items)
	if err != nil {
		return err
	}

	for _, id := range sortedKeys(ls.optionQty) {
		if err := uow.RestoreOptionStock(ctx, id, ls.optionQty[id]); err != nil {
			return err
		}
	}
	for _, productID := range sortedKeys(ls.productQty) {
		if err := uow.AddProductStock(ctx, productID, ls.productQty[productID]); err != nil {
			return err
		}
	}
	return nil
}

// Apply runs the ledger effect a transition carries and returns the stock op
// to record on the order.
func (l *StockLedger) Apply(ctx context.Context, uow *store.UnitOfWork, effect LedgerEffect, order *models.Order, items []models.OrderItem) (models.StockOp, []models.StockLowEvent, error) {
	switch effect {
	case EffectConfirm:
		low, err := l.Confirm(ctx, uow, order, items)
		return models.StockOpConfirmed, low, err
	case EffectRelease:
		return models.StockOpReleased, nil, l.Release(ctx, uow, order, items)
	case EffectRestore:
		return models.StockOpRestored, nil, l.Restore(ctx, uow, order, items)
	case EffectNone:
		return order.StockOp, nil, nil
	default:
		return models.StockOpNone, nil, fmt.Errorf("unhandled ledger effect %d", effect)
	}
}

// AdjustManual applies an audited administrative correction outside the order
// flow.
func (l *StockLedger) AdjustManual(ctx context.Context, optionID int64, delta int, reason string) error {
	if reason == "" {
		return fmt.Errorf("stock adjustment requires a reason")
	}

	err := withConflictRetry(ctx, l.logger, func() error {
		return l.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
			return uow.AdjustOptionStock(ctx, optionID, delta, reason)
		})
	})
	if err != nil {
		return err
	}

	l.logger.Info("Manual stock adjustment applied",
		zap.Int64("option_id", optionID),
		zap.Int("delta", delta),
		zap.String("reason", reason))
	return nil
}

// SetOptionStock overwrites an option's quantity and threshold (admin).
func (l *StockLedger) SetOptionStock(ctx context.Context, optionID int64, quantity, threshold int) error {
	if quantity < 0 || threshold < 0 {
		return fmt.Errorf("stock quantity and threshold must not be negative")
	}
	return l.store.WithinTx(ctx, func(uow *store.UnitOfWork) error {
		return uow.SetOptionStock(ctx, optionID, quantity, threshold)
	})
}

// withConflictRetry re-runs fn a bounded number of times when it fails with a
// retryable concurrency conflict.
func withConflictRetry(ctx context.Context, logger *zap.Logger, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxConflictRetries; attempt++ {
		err = fn()
		if err == nil || !store.IsRetryable(err) {
			return err
		}
		logger.Warn("Retrying after concurrency conflict",
			zap.Int("attempt", attempt),
			zap.Error(err))
		util.ConcurrencyRetriesTotal.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
		}
	}
	return err
}
