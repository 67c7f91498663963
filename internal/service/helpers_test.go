package service

import (
	"context"
	"testing"
	"time"

	"storefront/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

// fakeCache is an in-memory Cache for tests. The services treat the cache as
// best effort, so a plain map is enough.
type fakeCache struct {
	idempotencyKeys map[string]bool
	seenEvents      map[string]bool
	locks           map[string]bool
	denyLocks       bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		idempotencyKeys: make(map[string]bool),
		seenEvents:      make(map[string]bool),
		locks:           make(map[string]bool),
	}
}

func (f *fakeCache) RememberIdempotencyKey(ctx context.Context, key string, orderID int64) {
	f.idempotencyKeys[key] = true
}

func (f *fakeCache) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	return f.idempotencyKeys[key], nil
}

func (f *fakeCache) MarkEventSeen(ctx context.Context, eventID string) {
	f.seenEvents[eventID] = true
}

func (f *fakeCache) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	return f.seenEvents[eventID], nil
}

func (f *fakeCache) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	if f.denyLocks || f.locks[lockKey] {
		return false, nil
	}
	f.locks[lockKey] = true
	return true, nil
}

func (f *fakeCache) ReleaseLock(ctx context.Context, lockKey string) error {
	delete(f.locks, lockKey)
	return nil
}

func now() time.Time { return time.Now() }

func newMockStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewStoreWithDB(sqlx.NewDb(db, "sqlmock")), mock
}

func optionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "variation_id", "product_id", "value", "position", "track_stock",
		"stock_quantity", "reserved_quantity", "low_stock_threshold",
	})
}

func orderRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "order_number", "status", "payment_status", "stock_op", "region",
		"customer_email", "shipping_address", "subtotal", "tax", "shipping",
		"discount", "total", "coupon_code", "idempotency_key", "created_at", "updated_at",
	})
}

func productRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "sku", "name", "description", "price", "image_url", "stock_quantity",
		"allow_backorder", "region", "pairing_id", "deleted_at", "created_at", "updated_at",
	})
}
