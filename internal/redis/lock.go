package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock held by another process")

// releaseScript deletes the key only if it still carries our token, so a
// holder whose TTL lapsed cannot release someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a single-key mutual exclusion lock built on SET NX.
type Lock struct {
	client *Client
	name   string
	ttl    time.Duration
	logger *zap.Logger
}

// NewLock creates a lock stored under name. ttl bounds how long a crashed
// holder can block others.
func NewLock(client *Client, name string, ttl time.Duration, logger *zap.Logger) *Lock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Lock{client: client, name: name, ttl: ttl, logger: logger}
}

// Acquire takes the lock and returns the function that releases it.
// Returns ErrLockHeld if the lock is already taken.
func (l *Lock) Acquire(ctx context.Context) (func(), error) {
	key := l.client.key("lock:" + l.name)
	token := uuid.NewString()

	ok, err := l.client.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func() {
		// Release must run even if the caller's context is done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client.rdb, []string{key}, token).Err(); err != nil {
			l.logger.Warn("failed to release lock", zap.String("lock", l.name), zap.Error(err))
		}
	}, nil
}
