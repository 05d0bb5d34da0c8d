package distlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunGuarded_Locked(t *testing.T) {
	l, mr := setupRedisLock(t, DefaultOptions())

	var sawKey bool
	guard, err := RunGuarded(context.Background(), l, "imports:job:7", func(ctx context.Context) error {
		sawKey = mr.Exists("lock:imports:job:7")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, guard.Held())
	assert.NotEmpty(t, guard.Token())
	assert.Equal(t, "locked", guard.String())
	assert.True(t, sawKey, "body runs while the key is held")
	assert.False(t, mr.Exists("lock:imports:job:7"))
}

func TestRunGuarded_DegradesWhenRedisDown(t *testing.T) {
	l, mr := setupRedisLock(t, DefaultOptions())
	mr.Close()

	ran := false
	guard, err := RunGuarded(context.Background(), l, "job", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, Unlocked, guard)
	assert.False(t, guard.Held())
}

func TestRunGuarded_DegradesWhenContended(t *testing.T) {
	l, _ := setupRedisLock(t, Options{TTL: time.Minute, RetryDelay: time.Millisecond, MaxRetries: 2})
	_, ok, err := l.TryAcquire(context.Background(), "job", 0)
	require.NoError(t, err)
	require.True(t, ok)

	guard, err := RunGuarded(context.Background(), l, "job", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.False(t, guard.Held())
}

func TestRunGuarded_NilLocker(t *testing.T) {
	guard, err := RunGuarded(context.Background(), nil, "job", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "unlocked", guard.String())
}

func TestRunGuarded_BodyErrorRunsOnce(t *testing.T) {
	l, _ := setupRedisLock(t, DefaultOptions())
	bodyErr := errors.New("persist failed")

	calls := 0
	guard, err := RunGuarded(context.Background(), l, "job", func(ctx context.Context) error {
		calls++
		return bodyErr
	})
	assert.ErrorIs(t, err, bodyErr)
	assert.True(t, guard.Held())
	assert.Equal(t, 1, calls)
}
