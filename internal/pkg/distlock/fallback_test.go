package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackLock_PrefersFirstBackend(t *testing.T) {
	redisLock, mr := setupRedisLock(t, DefaultOptions())
	pgLock, _ := setupPGLock(t, DefaultOptions())
	f := NewFallbackLock(redisLock, pgLock)

	token, err := f.Acquire(context.Background(), "job")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:job"))

	released, err := f.Release(context.Background(), "job", token)
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("lock:job"))
}

func TestFallbackLock_UsesAdvisoryLockWhenRedisDown(t *testing.T) {
	redisLock, mr := setupRedisLock(t, Options{RetryDelay: time.Millisecond, MaxRetries: 3})
	pgLock, mock := setupPGLock(t, DefaultOptions())
	f := NewFallbackLock(redisLock, pgLock)
	mr.Close()

	id := pgLock.lockID("job")
	mock.ExpectQuery(tryLockSQL).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery(unlockSQL).WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))

	guard, err := RunGuarded(context.Background(), f, "job", func(ctx context.Context) error {
		assert.Equal(t, 1, pgLock.Held())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, guard.Held(), "only unlocked when every backend fails")
	assert.Equal(t, 0, pgLock.Held())
}

func TestFallbackLock_ContentionDoesNotFallThrough(t *testing.T) {
	redisLock, _ := setupRedisLock(t, Options{TTL: time.Minute, RetryDelay: time.Millisecond, MaxRetries: 1})
	pgLock, _ := setupPGLock(t, DefaultOptions())
	f := NewFallbackLock(redisLock, pgLock)

	_, ok, err := redisLock.TryAcquire(context.Background(), "job", 0)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.Acquire(context.Background(), "job")
	assert.ErrorIs(t, err, ErrNotAcquired)

	_, ok, err = f.TryAcquire(context.Background(), "job", 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFallbackLock_AllBackendsDown(t *testing.T) {
	redisLock, mr := setupRedisLock(t, DefaultOptions())
	mr.Close()
	f := NewFallbackLock(redisLock, nil)

	ran := false
	guard, err := RunGuarded(context.Background(), f, "job", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, Unlocked, guard)
}

func TestFallbackLock_ReleaseForeignToken(t *testing.T) {
	redisLock, _ := setupRedisLock(t, DefaultOptions())
	f := NewFallbackLock(redisLock)

	_, err := f.Release(context.Background(), "job", "plain-token")
	assert.Error(t, err)
	_, err = f.Release(context.Background(), "job", "7:token")
	assert.Error(t, err)
}
