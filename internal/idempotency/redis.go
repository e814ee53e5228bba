package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "donations:idempotency:"

// releaseScript deletes the key only while it still holds the given id
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Store backed by a shared Redis instance so that every replica
// of the service sees the same reservations.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// ConnectRedis dials addr and checks the connection
func ConnectRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return NewRedis(client, ttl), nil
}

// Lookup implements Store
func (r *Redis) Lookup(ctx context.Context, key string) (string, bool, error) {
	id, err := r.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return id, true, nil
}

// Reserve implements Store using SET NX so the check and the write are one
// atomic operation on the server.
func (r *Redis) Reserve(ctx context.Context, key, transactionID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+key, transactionID, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

// Release implements Store with a compare-and-delete script
func (r *Redis) Release(ctx context.Context, key, transactionID string) error {
	if err := releaseScript.Run(ctx, r.client, []string{redisKeyPrefix + key}, transactionID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// Close releases the underlying client
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Store = (*Redis)(nil)
