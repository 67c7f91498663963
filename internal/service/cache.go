package service

import (
	"context"
	"time"
)

// Cache is the fast-path surface the services need from redis. Implemented by
// redisclient.Client; everything behind it is best effort, the database stays
// the authority.
type Cache interface {
	RememberIdempotencyKey(ctx context.Context, key string, orderID int64)
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	MarkEventSeen(ctx context.Context, eventID string)
	SeenEvent(ctx context.Context, eventID string) (bool, error)
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}
