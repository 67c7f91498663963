package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// ProductPatch is a typed partial update: nil means "leave unchanged". It is
// applied through one static statement, never a concatenated SET list.
type ProductPatch struct {
	SKU            *string `json:"sku,omitempty"`
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	Price          *int64  `json:"price,omitempty"`
	ImageURL       *string `json:"image_url,omitempty"`
	StockQuantity  *int    `json:"stock_quantity,omitempty"`
	AllowBackorder *bool   `json:"allow_backorder,omitempty"`
}

// SharedFields strips the patch down to the subset that propagates to a
// pairing twin. Stock, SKU and backorder policy stay region-specific.
func (p ProductPatch) SharedFields() ProductPatch {
	return ProductPatch{
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		ImageURL:    p.ImageURL,
	}
}

// Empty reports whether the patch changes nothing.
func (p ProductPatch) Empty() bool {
	return p.SKU == nil && p.Name == nil && p.Description == nil &&
		p.Price == nil && p.ImageURL == nil && p.StockQuantity == nil &&
		p.AllowBackorder == nil
}

const productColumns = `id, sku, name, description, price, image_url, stock_quantity,
	allow_backorder, region, pairing_id, deleted_at, created_at, updated_at`

// GetProduct retrieves a live (not soft-deleted) product by ID.
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return getProduct(ctx, s.db, id)
}

// GetProduct retrieves a product inside the transaction.
func (u *UnitOfWork) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return getProduct(ctx, u.tx, id)
}

func getProduct(ctx context.Context, q sqlx.QueryerContext, id int64) (*models.Product, error) {
	var product models.Product
	err := sqlx.GetContext(ctx, q, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1 AND deleted_at IS NULL", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple live products by ID.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT "+productColumns+" FROM products WHERE id IN (?) AND deleted_at IS NULL", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// GetTwin resolves the product a pairing carries in the given region. A
// pairing id resolves to exactly one product per region.
func (u *UnitOfWork) GetTwin(ctx context.Context, pairingID string, region models.Region) (*models.Product, error) {
	var product models.Product
	err := u.tx.GetContext(ctx, &product,
		"SELECT "+productColumns+` FROM products
		 WHERE pairing_id = $1 AND region = $2 AND deleted_at IS NULL`,
		pairingID, region)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pairing %s twin: %w", pairingID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ApplyProductPatch applies a typed patch through a single static statement.
func (u *UnitOfWork) ApplyProductPatch(ctx context.Context, id int64, patch ProductPatch) error {
	res, err := u.tx.ExecContext(ctx, `
		UPDATE products SET
			sku             = COALESCE($1, sku),
			name            = COALESCE($2, name),
			description     = COALESCE($3, description),
			price           = COALESCE($4, price),
			image_url       = COALESCE($5, image_url),
			stock_quantity  = COALESCE($6, stock_quantity),
			allow_backorder = COALESCE($7, allow_backorder),
			updated_at      = NOW()
		WHERE id = $8 AND deleted_at IS NULL`,
		patch.SKU, patch.Name, patch.Description, patch.Price,
		patch.ImageURL, patch.StockQuantity, patch.AllowBackorder, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// BreakPairing clears the link on every product carrying the pairing id.
func (u *UnitOfWork) BreakPairing(ctx context.Context, pairingID string) (int64, error) {
	res, err := u.tx.ExecContext(ctx,
		"UPDATE products SET pairing_id = NULL, updated_at = NOW() WHERE pairing_id = $1",
		pairingID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetVariations retrieves a product's variation axes in display order.
func (u *UnitOfWork) GetVariations(ctx context.Context, productID int64) ([]models.ProductVariation, error) {
	var variations []models.ProductVariation
	err := u.tx.SelectContext(ctx, &variations,
		`SELECT id, product_id, name, position FROM product_variations
		 WHERE product_id = $1 ORDER BY position`, productID)
	return variations, err
}

// GetVariationOptions retrieves one variation's options in display order.
func (u *UnitOfWork) GetVariationOptions(ctx context.Context, variationID int64) ([]models.VariationOption, error) {
	var options []models.VariationOption
	err := u.tx.SelectContext(ctx, &options,
		`SELECT id, variation_id, product_id, value, position, track_stock,
		        stock_quantity, reserved_quantity, low_stock_threshold
		 FROM variation_options WHERE variation_id = $1 ORDER BY position`, variationID)
	return options, err
}

// UpsertVariationDefinition mirrors a variation axis onto the twin by name.
// Returns the twin-side variation id.
func (u *UnitOfWork) UpsertVariationDefinition(ctx context.Context, productID int64, name string, position int) (int64, error) {
	var id int64
	err := u.tx.GetContext(ctx, &id, `
		INSERT INTO product_variations (product_id, name, position)
		VALUES ($1, $2, $3)
		ON CONFLICT (product_id, name)
		DO UPDATE SET position = EXCLUDED.position
		RETURNING id`,
		productID, name, position)
	return id, err
}

// UpsertOptionDefinition mirrors an option onto the twin by value. Stock
// counters are only set on first insert; an existing twin option keeps its
// own pool untouched.
func (u *UnitOfWork) UpsertOptionDefinition(ctx context.Context, variationID, productID int64, opt models.VariationOption) error {
	_, err := u.tx.ExecContext(ctx, `
		INSERT INTO variation_options
			(variation_id, product_id, value, position, track_stock,
			 stock_quantity, reserved_quantity, low_stock_threshold)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6)
		ON CONFLICT (variation_id, value)
		DO UPDATE SET position = EXCLUDED.position`,
		variationID, productID, opt.Value, opt.Position, opt.TrackStock, opt.LowStockThreshold)
	return err
}
