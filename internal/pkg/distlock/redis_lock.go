package distlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/property-imports/internal/pkg/logger"
)

// releaseScript deletes KEYS[1] only when it still holds ARGV[1].
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLock provides distributed locking via Redis using SET NX with TTL.
// Every acquisition stores a fresh random token, so a holder whose lock
// expired and was re-acquired elsewhere cannot release the new owner's lock.
type RedisLock struct {
	client *redis.Client
	opts   Options
	log    *logger.Logger
}

// NewRedisLock creates a lock service backed by Redis.
func NewRedisLock(client *redis.Client, opts Options) *RedisLock {
	return &RedisLock{
		client: client,
		opts:   opts.withDefaults(),
		log:    logger.Component("distlock"),
	}
}

func (l *RedisLock) key(name string) string {
	return l.opts.KeyPrefix + name
}

// TryAcquire makes one SET NX PX attempt. A zero ttl uses the configured TTL.
func (l *RedisLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	if ttl <= 0 {
		ttl = l.opts.TTL
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(name), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Acquire blocks for at most MaxRetries extra attempts, RetryDelay apart.
// Only contention is retried; a Redis error fails immediately.
func (l *RedisLock) Acquire(ctx context.Context, name string) (string, error) {
	return acquireWithRetry(ctx, l.opts, name, l.TryAcquire)
}

// Release runs the compare-and-delete script. It reports false when the
// lock had already expired or belongs to another token.
func (l *RedisLock) Release(ctx context.Context, name, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", name, err)
	}
	return n == 1, nil
}

// WithLock acquires name, runs fn and releases. A release failure is logged
// and never replaces fn's result.
func (l *RedisLock) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	token, err := l.Acquire(ctx, name)
	if err != nil {
		return err
	}
	defer l.release(name, token)
	return fn(ctx)
}

// release uses its own context so a cancelled caller still frees the key.
func (l *RedisLock) release(name, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	released, err := l.Release(ctx, name, token)
	if err != nil {
		l.log.Error("failed to release lock", "lock", name, "error", err)
		return
	}
	if !released {
		l.log.Warn("lock expired before release", "lock", name)
	}
}
