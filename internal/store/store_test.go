package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"storefront/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStoreWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func TestClassifyConcurrencyCodes(t *testing.T) {
	for _, code := range []pq.ErrorCode{"40001", "40P01", "55P03"} {
		err := classify(&pq.Error{Code: code})
		assert.ErrorIs(t, err, models.ErrConcurrencyConflict, string(code))
	}

	unique := classify(&pq.Error{Code: "23505"})
	assert.NotErrorIs(t, unique, models.ErrConcurrencyConflict)

	plain := errors.New("boom")
	assert.Equal(t, plain, classify(plain))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(classify(&pq.Error{Code: "40001"})))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsRetryable(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("failed to create order: %w", &pq.Error{Code: "23505"})
	assert.True(t, IsUniqueViolation(wrapped))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "40001"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := st.WithinTx(context.Background(), func(uow *UnitOfWork) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxClassifiesDeadlockFromBody(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").
		WillReturnError(&pq.Error{Code: "40P01"})
	mock.ExpectRollback()

	err := st.WithinTx(context.Background(), func(uow *UnitOfWork) error {
		return uow.UpdateOrderState(context.Background(), 1,
			models.OrderStatusPaid, models.PaymentStatusCompleted, models.StockOpConfirmed)
	})

	assert.True(t, IsRetryable(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTxClassifiesCommitConflict(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})

	err := st.WithinTx(context.Background(), func(uow *UnitOfWork) error {
		return nil
	})

	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
