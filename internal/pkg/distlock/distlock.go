package distlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
)

// ErrNotAcquired is returned when a lock is held by someone else for the
// whole retry budget.
var ErrNotAcquired = errors.New("could not acquire lock")

// Locker is a named mutual-exclusion primitive shared across processes.
// Ownership is proven by the token returned from acquisition.
type Locker interface {
	// TryAcquire makes a single attempt. ok is false when the lock is held.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error)
	// Acquire retries TryAcquire with a fixed delay and fails with
	// ErrNotAcquired once the retry budget is spent.
	Acquire(ctx context.Context, name string) (string, error)
	// Release deletes the lock only if it still holds token.
	Release(ctx context.Context, name, token string) (bool, error)
}

// Options tunes lock expiry and the acquisition retry budget.
type Options struct {
	TTL        time.Duration
	RetryDelay time.Duration
	MaxRetries int
	KeyPrefix  string
}

// DefaultOptions returns a 10s TTL, 50 retries 50ms apart, prefix "lock:".
func DefaultOptions() Options {
	return Options{
		TTL:        10 * time.Second,
		RetryDelay: 50 * time.Millisecond,
		MaxRetries: 50,
		KeyPrefix:  "lock:",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TTL <= 0 {
		o.TTL = d.TTL
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = d.RetryDelay
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = d.KeyPrefix
	}
	return o
}

type tryFunc func(ctx context.Context, name string, ttl time.Duration) (string, bool, error)

// acquireWithRetry calls try until it wins, spending at most MaxRetries
// extra attempts RetryDelay apart. Only contention is retried.
func acquireWithRetry(ctx context.Context, opts Options, name string, try tryFunc) (string, error) {
	var token string
	err := retry.Do(
		func() error {
			t, ok, err := try(ctx, name, 0)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNotAcquired
			}
			token = t
			return nil
		},
		retry.Attempts(uint(opts.MaxRetries+1)),
		retry.Delay(opts.RetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrNotAcquired) }),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if errors.Is(err, ErrNotAcquired) {
			return "", fmt.Errorf("%w: %s", ErrNotAcquired, name)
		}
		return "", err
	}
	return token, nil
}
