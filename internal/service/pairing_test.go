package service

import (
	"context"
	"testing"

	"storefront/internal/models"
	"storefront/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func intPtr64(n int64) *int64 { return &n }

func TestUpdateProductUnpaired(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewPairingService(st, newFakeCache())

	mock.ExpectQuery(`FROM products WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs(int64(10)).
		WillReturnRows(productRows().AddRow(10, "SKU-10", "Shirt", "", 1000, "", 5, false, "us", nil, nil, now(), now()))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products SET[\s\S]+WHERE id = \$8 AND deleted_at IS NULL`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.UpdateProduct(context.Background(), 10, store.ProductPatch{Name: strPtr("Renamed")})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProductPropagatesSharedFieldsToTwin(t *testing.T) {
	st, mock := newMockStore(t)
	cache := newFakeCache()
	svc := NewPairingService(st, cache)

	mock.ExpectQuery(`FROM products WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs(int64(10)).
		WillReturnRows(productRows().AddRow(10, "SKU-10", "Shirt", "", 1000, "", 5, false, "us", "pair-1", nil, now(), now()))
	mock.ExpectBegin()
	// Full patch on the edited product, including the region-specific SKU.
	mock.ExpectExec(`UPDATE products SET[\s\S]+WHERE id = \$8 AND deleted_at IS NULL`).
		WithArgs("SKU-10-B", "Renamed", nil, int64(1200), nil, nil, nil, int64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM products[\s\S]+WHERE pairing_id = \$1 AND region = \$2`).
		WithArgs("pair-1", "eu").
		WillReturnRows(productRows().AddRow(9, "SKU-EU-9", "Shirt", "", 900, "", 2, false, "eu", "pair-1", nil, now(), now()))
	// Only the shared subset reaches the twin: SKU stays nil.
	mock.ExpectExec(`UPDATE products SET[\s\S]+WHERE id = \$8 AND deleted_at IS NULL`).
		WithArgs(nil, "Renamed", nil, int64(1200), nil, nil, nil, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM product_variations`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "name", "position"}))
	mock.ExpectCommit()

	patch := store.ProductPatch{
		SKU:   strPtr("SKU-10-B"),
		Name:  strPtr("Renamed"),
		Price: intPtr64(1200),
	}
	err := svc.UpdateProduct(context.Background(), 10, patch)

	require.NoError(t, err)
	assert.False(t, cache.locks["pairing:pair-1"], "lock should be released")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProductEmptyPatchIsNoOp(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewPairingService(st, newFakeCache())

	require.NoError(t, svc.UpdateProduct(context.Background(), 10, store.ProductPatch{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProductRejectedWhilePairingLocked(t *testing.T) {
	st, mock := newMockStore(t)
	cache := newFakeCache()
	cache.denyLocks = true
	svc := NewPairingService(st, cache)

	mock.ExpectQuery(`FROM products WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs(int64(10)).
		WillReturnRows(productRows().AddRow(10, "SKU-10", "Shirt", "", 1000, "", 5, false, "us", "pair-1", nil, now(), now()))

	err := svc.UpdateProduct(context.Background(), 10, store.ProductPatch{Name: strPtr("Renamed")})

	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBreakPairingNotFound(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewPairingService(st, newFakeCache())

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products SET pairing_id = NULL`).
		WithArgs("pair-9").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := svc.BreakPairing(context.Background(), "pair-9")

	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBreakPairingClearsBothTwins(t *testing.T) {
	st, mock := newMockStore(t)
	svc := NewPairingService(st, newFakeCache())

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products SET pairing_id = NULL`).
		WithArgs("pair-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, svc.BreakPairing(context.Background(), "pair-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
