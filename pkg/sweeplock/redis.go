// Package sweeplock provides a Redis-backed lease that keeps at most one
// instance sweeping at a time.
package sweeplock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/chainsafe/stake-ledger/pkg/config"
)

// ErrLeaseLost is returned by Release when the lease expired or was taken by another owner.
var ErrLeaseLost = errors.New("sweep lease no longer held")

// releaseScript deletes the key only while it still holds our owner token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLocker holds a single named lease in Redis.
type RedisLocker struct {
	client redis.Cmdable
	key    string
	owner  string
}

// NewRedisLocker creates a lease on key. An empty owner gets a random token.
func NewRedisLocker(client redis.Cmdable, key, owner string) *RedisLocker {
	if owner == "" {
		owner = uuid.NewString()
	}
	return &RedisLocker{
		client: client,
		key:    key,
		owner:  owner,
	}
}

// Acquire takes the lease for ttl. It reports false when another owner holds it.
func (l *RedisLocker) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set lease %s: %w", l.key, err)
	}
	return ok, nil
}

// Release drops the lease if this owner still holds it.
func (l *RedisLocker) Release(ctx context.Context) error {
	n, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.owner).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Connect opens a Redis client from cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
