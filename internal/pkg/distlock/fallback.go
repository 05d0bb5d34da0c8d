package distlock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ignite/property-imports/internal/pkg/logger"
)

// FallbackLock tries each backend in order and moves on only when a backend
// fails. Contention on a healthy backend is final: the holder is there.
// Tokens carry the index of the backend that issued them so Release goes
// back to the same one.
//
// Holders on different backends do not exclude each other. The fallback is
// for a lock service outage, not for running both at once.
type FallbackLock struct {
	backends []Locker
	log      *logger.Logger
}

// NewFallbackLock chains backends, most preferred first. Nil entries are
// skipped.
func NewFallbackLock(backends ...Locker) *FallbackLock {
	f := &FallbackLock{log: logger.Component("distlock")}
	for _, b := range backends {
		if b != nil {
			f.backends = append(f.backends, b)
		}
	}
	return f
}

func (f *FallbackLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	var lastErr error
	for i, b := range f.backends {
		token, ok, err := b.TryAcquire(ctx, name, ttl)
		if err != nil {
			lastErr = err
			f.log.Warn("lock backend failed, trying next", "lock", name, "backend", i, "error", err)
			continue
		}
		if !ok {
			return "", false, nil
		}
		return wrapToken(i, token), true, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no lock backend configured")
	}
	return "", false, lastErr
}

func (f *FallbackLock) Acquire(ctx context.Context, name string) (string, error) {
	var lastErr error
	for i, b := range f.backends {
		token, err := b.Acquire(ctx, name)
		if err == nil {
			return wrapToken(i, token), nil
		}
		if errors.Is(err, ErrNotAcquired) || ctx.Err() != nil {
			return "", err
		}
		lastErr = err
		f.log.Warn("lock backend failed, trying next", "lock", name, "backend", i, "error", err)
	}
	if lastErr == nil {
		lastErr = errors.New("no lock backend configured")
	}
	return "", lastErr
}

func (f *FallbackLock) Release(ctx context.Context, name, token string) (bool, error) {
	i, inner, err := unwrapToken(token)
	if err != nil || i >= len(f.backends) {
		return false, fmt.Errorf("release lock %s: foreign token", name)
	}
	return f.backends[i].Release(ctx, name, inner)
}

func wrapToken(backend int, token string) string {
	return strconv.Itoa(backend) + ":" + token
}

func unwrapToken(token string) (int, string, error) {
	idx, inner, ok := strings.Cut(token, ":")
	if !ok {
		return 0, "", errors.New("malformed token")
	}
	i, err := strconv.Atoi(idx)
	if err != nil || i < 0 {
		return 0, "", errors.New("malformed token")
	}
	return i, inner, nil
}
