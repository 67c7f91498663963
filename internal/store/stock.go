package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const optionColumns = `id, variation_id, product_id, value, position, track_stock,
	stock_quantity, reserved_quantity, low_stock_threshold`

// GetOption retrieves one variation option.
func (s *Store) GetOption(ctx context.Context, id int64) (*models.VariationOption, error) {
	var opt models.VariationOption
	err := s.db.GetContext(ctx, &opt,
		"SELECT "+optionColumns+" FROM variation_options WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("option %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &opt, nil
}

// GetOptionsByProduct retrieves all options across a product's variations.
func (s *Store) GetOptionsByProduct(ctx context.Context, productID int64) ([]models.VariationOption, error) {
	var options []models.VariationOption
	err := s.db.SelectContext(ctx, &options,
		"SELECT "+optionColumns+" FROM variation_options WHERE product_id = $1 ORDER BY id",
		productID)
	return options, err
}

// GetOptionsForUpdate locks option rows for the remainder of the transaction.
// IDs are locked in ascending order so concurrent multi-item checkouts cannot
// deadlock against each other.
func (u *UnitOfWork) GetOptionsForUpdate(ctx context.Context, ids []int64) ([]models.VariationOption, error) {
	if len(ids) == 0 {
		return []models.VariationOption{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT "+optionColumns+" FROM variation_options WHERE id IN (?) ORDER BY id FOR UPDATE", ids)
	if err != nil {
		return nil, err
	}
	query = u.tx.Rebind(query)

	var options []models.VariationOption
	if err := u.tx.SelectContext(ctx, &options, query, args...); err != nil {
		return nil, err
	}
	if len(options) != len(ids) {
		return nil, fmt.Errorf("some variation options: %w", models.ErrNotFound)
	}
	return options, nil
}

// GetProductForUpdate locks a product row for the remainder of the transaction.
func (u *UnitOfWork) GetProductForUpdate(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := u.tx.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1 AND deleted_at IS NULL FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// AddOptionReservation moves qty into the reservation pool. The caller must
// hold the row lock and have checked availability.
func (u *UnitOfWork) AddOptionReservation(ctx context.Context, optionID int64, qty int) error {
	_, err := u.tx.ExecContext(ctx,
		"UPDATE variation_options SET reserved_quantity = reserved_quantity + $1 WHERE id = $2",
		qty, optionID)
	return err
}

// ConfirmOptionReservation converts a reservation into a permanent decrement
// and returns the remaining stock for low-stock checks.
func (u *UnitOfWork) ConfirmOptionReservation(ctx context.Context, optionID int64, qty int) (int, error) {
	var remaining int
	err := u.tx.GetContext(ctx, &remaining, `
		UPDATE variation_options
		SET stock_quantity = stock_quantity - $1, reserved_quantity = reserved_quantity - $1
		WHERE id = $2
		RETURNING stock_quantity`,
		qty, optionID)
	return remaining, err
}

// ReleaseOptionReservation returns reserved quantity without touching stock.
func (u *UnitOfWork) ReleaseOptionReservation(ctx context.Context, optionID int64, qty int) error {
	_, err := u.tx.ExecContext(ctx,
		"UPDATE variation_options SET reserved_quantity = reserved_quantity - $1 WHERE id = $2",
		qty, optionID)
	return err
}

// RestoreOptionStock re-increments stock after a refund. The reservation was
// already resolved by Confirm, so reserved_quantity is untouched.
func (u *UnitOfWork) RestoreOptionStock(ctx context.Context, optionID int64, qty int) error {
	_, err := u.tx.ExecContext(ctx,
		"UPDATE variation_options SET stock_quantity = stock_quantity + $1 WHERE id = $2",
		qty, optionID)
	return err
}

// AddProductStock shifts the top-level counter for products whose stock is not
// tracked per option. Negative delta reserves by direct decrement.
func (u *UnitOfWork) AddProductStock(ctx context.Context, productID int64, delta int) error {
	_, err := u.tx.ExecContext(ctx,
		"UPDATE products SET stock_quantity = stock_quantity + $1, updated_at = NOW() WHERE id = $2",
		delta, productID)
	return err
}

// SetOptionStock overwrites an option's quantity and threshold (admin).
func (u *UnitOfWork) SetOptionStock(ctx context.Context, optionID int64, quantity, threshold int) error {
	res, err := u.tx.ExecContext(ctx, `
		UPDATE variation_options
		SET stock_quantity = $1, low_stock_threshold = $2, track_stock = TRUE
		WHERE id = $3`,
		quantity, threshold, optionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("option %d: %w", optionID, models.ErrNotFound)
	}
	return nil
}

// AdjustOptionStock applies a manual delta under the row lock and records the
// audit row in the same transaction.
func (u *UnitOfWork) AdjustOptionStock(ctx context.Context, optionID int64, delta int, reason string) error {
	res, err := u.tx.ExecContext(ctx,
		"UPDATE variation_options SET stock_quantity = stock_quantity + $1 WHERE id = $2",
		delta, optionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("option %d: %w", optionID, models.ErrNotFound)
	}

	_, err = u.tx.ExecContext(ctx,
		"INSERT INTO stock_adjustments (option_id, delta, reason) VALUES ($1, $2, $3)",
		optionID, delta, reason)
	return err
}

// SumTrackedOptionStock sums stock_quantity across a product's stock-tracked
// options for the mismatch diagnostic.
func (s *Store) SumTrackedOptionStock(ctx context.Context, productID int64) (int, error) {
	var sum int
	err := s.db.GetContext(ctx, &sum, `
		SELECT COALESCE(SUM(stock_quantity), 0) FROM variation_options
		WHERE product_id = $1 AND track_stock = TRUE`, productID)
	return sum, err
}
