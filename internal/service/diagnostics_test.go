package service

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockSummaryFlagsMismatch(t *testing.T) {
	st, mock := newMockStore(t)
	diag := NewStockDiagnostics(st)

	mock.ExpectQuery(`FROM products WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs(int64(10)).
		WillReturnRows(productRows().AddRow(10, "SKU-10", "Shirt", "", 1000, "", 5, false, "us", nil, nil, now(), now()))
	mock.ExpectQuery(`FROM variation_options WHERE product_id = \$1 ORDER BY id`).
		WithArgs(int64(10)).
		WillReturnRows(optionRows().
			AddRow(7, 1, 10, "M", 1, true, 2, 0, 0).
			AddRow(8, 1, 10, "L", 2, true, 1, 0, 0))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(stock_quantity\), 0\) FROM variation_options`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(3))

	summary, err := diag.StockSummary(context.Background(), 10)

	require.NoError(t, err)
	assert.True(t, summary.Mismatch)
	assert.Equal(t, 5, summary.TopLevelStock)
	assert.Equal(t, 3, summary.OptionStockSum)
	assert.Len(t, summary.Options, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockSummaryNoMismatchWithoutTrackedOptions(t *testing.T) {
	st, mock := newMockStore(t)
	diag := NewStockDiagnostics(st)

	// Untracked options sell from the top-level counter, so a zero option sum
	// is not a divergence.
	mock.ExpectQuery(`FROM products WHERE id = \$1 AND deleted_at IS NULL`).
		WithArgs(int64(10)).
		WillReturnRows(productRows().AddRow(10, "SKU-10", "Shirt", "", 1000, "", 5, false, "us", nil, nil, now(), now()))
	mock.ExpectQuery(`FROM variation_options WHERE product_id = \$1 ORDER BY id`).
		WithArgs(int64(10)).
		WillReturnRows(optionRows().AddRow(7, 1, 10, "M", 1, false, 0, 0, 0))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(stock_quantity\), 0\) FROM variation_options`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))

	summary, err := diag.StockSummary(context.Background(), 10)

	require.NoError(t, err)
	assert.False(t, summary.Mismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}
