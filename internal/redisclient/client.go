package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps redis for the fast paths that sit in front of the database:
// checkout idempotency keys, seen webhook event ids, and pairing edit locks.
// Redis is never the authority for stock counts; those live only in the
// transactional store.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a redis client and verifies connectivity.
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

const (
	idempotencyTTL = 24 * time.Hour
	seenEventTTL   = 72 * time.Hour
)

// RememberIdempotencyKey records a completed checkout key. Best effort; the
// DB unique constraint is the authority.
func (c *Client) RememberIdempotencyKey(ctx context.Context, key string, orderID int64) {
	c.rdb.Set(ctx, "idempotency:"+key, orderID, idempotencyTTL)
}

// CheckIdempotencyKey reports whether a checkout key has been seen.
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, "idempotency:"+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkEventSeen records a processed gateway event id. Best effort.
func (c *Client) MarkEventSeen(ctx context.Context, eventID string) {
	c.rdb.Set(ctx, "webhook:seen:"+eventID, 1, seenEventTTL)
}

// SeenEvent reports whether a gateway event id was already processed. A miss
// proves nothing; the dedup row in the database decides.
func (c *Client) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, "webhook:seen:"+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AcquireLock takes a best-effort distributed lock.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "lock:"+lockKey, "1", ttl).Result()
}

// ReleaseLock releases a distributed lock.
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, "lock:"+lockKey).Err()
}
