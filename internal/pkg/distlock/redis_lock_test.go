package distlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisLock(t *testing.T, opts Options) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisLock(client, opts), mr
}

func TestRedisLock_TryAcquire(t *testing.T) {
	l, mr := setupRedisLock(t, DefaultOptions())
	ctx := context.Background()

	token, ok, err := l.TryAcquire(ctx, "imports:job:1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	stored, err := mr.Get("lock:imports:job:1")
	require.NoError(t, err)
	assert.Equal(t, token, stored)

	_, ok, err = l.TryAcquire(ctx, "imports:job:1", time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second attempt must fail while the lock is held")
}

func TestRedisLock_ReleaseRequiresToken(t *testing.T) {
	l, mr := setupRedisLock(t, DefaultOptions())
	ctx := context.Background()

	token, ok, err := l.TryAcquire(ctx, "job", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := l.Release(ctx, "job", "not-the-token")
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("lock:job"))

	released, err = l.Release(ctx, "job", token)
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("lock:job"))

	released, err = l.Release(ctx, "job", token)
	require.NoError(t, err)
	assert.False(t, released, "releasing twice is a no-op")
}

func TestRedisLock_ExpiredLockCanBeReacquired(t *testing.T) {
	l, mr := setupRedisLock(t, DefaultOptions())
	ctx := context.Background()

	first, ok, err := l.TryAcquire(ctx, "job", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(150 * time.Millisecond)

	second, ok, err := l.TryAcquire(ctx, "job", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, first, second)

	// The stale holder must not be able to free the new owner's lock.
	released, err := l.Release(ctx, "job", first)
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("lock:job"))
}

func TestRedisLock_AcquireExhaustsRetries(t *testing.T) {
	l, _ := setupRedisLock(t, Options{TTL: time.Minute, RetryDelay: time.Millisecond, MaxRetries: 3})
	ctx := context.Background()

	_, ok, err := l.TryAcquire(ctx, "job", 0)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = l.Acquire(ctx, "job")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.Contains(t, err.Error(), "job")
}

func TestRedisLock_AcquireWaitsForRelease(t *testing.T) {
	l, _ := setupRedisLock(t, Options{TTL: time.Minute, RetryDelay: 5 * time.Millisecond, MaxRetries: 200})
	ctx := context.Background()

	token, ok, err := l.TryAcquire(ctx, "job", 0)
	require.NoError(t, err)
	require.True(t, ok)

	go func() {
		time.Sleep(30 * time.Millisecond)
		l.Release(context.Background(), "job", token)
	}()

	next, err := l.Acquire(ctx, "job")
	require.NoError(t, err)
	assert.NotEqual(t, token, next)
}

func TestRedisLock_AcquireRedisDown(t *testing.T) {
	l, mr := setupRedisLock(t, Options{RetryDelay: time.Millisecond, MaxRetries: 100})
	mr.Close()

	start := time.Now()
	_, err := l.Acquire(context.Background(), "job")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotAcquired), "connection errors are not contention")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRedisLock_WithLockMutualExclusion(t *testing.T) {
	l, _ := setupRedisLock(t, Options{TTL: 5 * time.Second, RetryDelay: 2 * time.Millisecond, MaxRetries: 2000})
	ctx := context.Background()

	var inside, maxInside, runs int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(ctx, "job", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				atomic.AddInt32(&runs, 1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), runs)
	assert.Equal(t, int32(1), maxInside, "bodies must never overlap")
}

func TestRedisLock_WithLockReturnsBodyError(t *testing.T) {
	l, mr := setupRedisLock(t, DefaultOptions())
	bodyErr := errors.New("body failed")

	err := l.WithLock(context.Background(), "job", func(ctx context.Context) error { return bodyErr })
	assert.ErrorIs(t, err, bodyErr)
	assert.False(t, mr.Exists("lock:job"), "lock is released even when the body fails")
}
