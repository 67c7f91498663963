package service

import (
	"context"

	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// StockDiagnostics surfaces the non-fatal divergence between a product's
// top-level stock counter and the sum of its stock-tracked options. The two
// counters are maintained independently; reconciliation is a manual admin
// action, never automatic.
type StockDiagnostics struct {
	store  *store.Store
	logger *zap.Logger
}

// NewStockDiagnostics creates the diagnostic service.
func NewStockDiagnostics(st *store.Store) *StockDiagnostics {
	return &StockDiagnostics{store: st, logger: util.GetLogger()}
}

// StockSummary computes the admin stock view, flagging a mismatch when any
// option tracks stock and the option-level sum diverges from the top-level
// counter.
func (d *StockDiagnostics) StockSummary(ctx context.Context, productID int64) (*models.StockSummary, error) {
	product, err := d.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	options, err := d.store.GetOptionsByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	sum, err := d.store.SumTrackedOptionStock(ctx, productID)
	if err != nil {
		return nil, err
	}

	tracked := false
	for _, opt := range options {
		if opt.TrackStock {
			tracked = true
			break
		}
	}

	summary := &models.StockSummary{
		ProductID:      productID,
		TopLevelStock:  product.StockQuantity,
		OptionStockSum: sum,
		Mismatch:       tracked && sum != product.StockQuantity,
		Options:        options,
	}

	if summary.Mismatch {
		util.StockMismatchesTotal.Inc()
		d.logger.Warn("Variation stock sum diverges from top-level counter",
			zap.Int64("product_id", productID),
			zap.Int("top_level", product.StockQuantity),
			zap.Int("option_sum", sum))
	}
	return summary, nil
}
