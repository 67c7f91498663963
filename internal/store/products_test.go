package store

import (
	"context"
	"testing"

	"storefront/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductPatchSharedFields(t *testing.T) {
	sku := "SKU-1"
	name := "Shirt"
	price := int64(1000)
	stock := 5
	backorder := true

	patch := ProductPatch{
		SKU:            &sku,
		Name:           &name,
		Price:          &price,
		StockQuantity:  &stock,
		AllowBackorder: &backorder,
	}

	shared := patch.SharedFields()
	assert.Nil(t, shared.SKU)
	assert.Nil(t, shared.StockQuantity)
	assert.Nil(t, shared.AllowBackorder)
	assert.Equal(t, &name, shared.Name)
	assert.Equal(t, &price, shared.Price)
}

func TestProductPatchEmpty(t *testing.T) {
	assert.True(t, ProductPatch{}.Empty())

	name := "Shirt"
	assert.False(t, ProductPatch{Name: &name}.Empty())

	// A patch carrying only region-specific fields still changes something,
	// just not anything that crosses regions.
	stock := 3
	patch := ProductPatch{StockQuantity: &stock}
	assert.False(t, patch.Empty())
	assert.True(t, patch.SharedFields().Empty())
}

func TestApplyProductPatchNotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	name := "Renamed"
	err := st.WithinTx(context.Background(), func(uow *UnitOfWork) error {
		return uow.ApplyProductPatch(context.Background(), 99, ProductPatch{Name: &name})
	})

	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOptionsForUpdateRequiresAllRows(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM variation_options WHERE id IN \(\?, \?\) ORDER BY id FOR UPDATE`).
		WithArgs(int64(7), int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "variation_id", "product_id", "value", "position", "track_stock",
			"stock_quantity", "reserved_quantity", "low_stock_threshold",
		}).AddRow(7, 1, 10, "M", 1, true, 5, 0, 0))
	mock.ExpectRollback()

	err := st.WithinTx(context.Background(), func(uow *UnitOfWork) error {
		_, err := uow.GetOptionsForUpdate(context.Background(), []int64{7, 8})
		return err
	})

	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOptionsForUpdateEmptyInput(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := st.WithinTx(context.Background(), func(uow *UnitOfWork) error {
		options, err := uow.GetOptionsForUpdate(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, options)
		return nil
	})
	require.NoError(t, err)
}

func TestBreakPairingReportsAffectedRows(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products SET pairing_id = NULL`).
		WithArgs("pair-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	err := st.WithinTx(context.Background(), func(uow *UnitOfWork) error {
		affected, err := uow.BreakPairing(context.Background(), "pair-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), affected)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
