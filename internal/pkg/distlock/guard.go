package distlock

import (
	"context"
	"time"

	"github.com/ignite/property-imports/internal/pkg/logger"
)

// Guard records how a guarded section ran: under a lock (with its token)
// or unlocked because the lock service could not be used.
type Guard struct {
	token string
}

// Unlocked is the Guard of a section that ran without the lock.
var Unlocked = Guard{}

// Locked returns the Guard of a section that held the lock with token.
func Locked(token string) Guard { return Guard{token: token} }

// Held reports whether the section ran under the lock.
func (g Guard) Held() bool { return g.token != "" }

// Token is the ownership token, empty when unlocked.
func (g Guard) Token() string { return g.token }

func (g Guard) String() string {
	if g.Held() {
		return "locked"
	}
	return "unlocked"
}

// RunGuarded runs fn under the named lock when it can be acquired. If the
// lock service is missing, unreachable or the lock stays contended past the
// retry budget, fn still runs, unlocked, and a warning is logged. Errors
// returned by fn are passed through and never trigger a second run.
func RunGuarded(ctx context.Context, l Locker, name string, fn func(ctx context.Context) error) (Guard, error) {
	log := logger.Component("distlock")
	if l == nil {
		log.Warn("no lock service configured, proceeding without lock", "lock", name)
		return Unlocked, fn(ctx)
	}

	token, err := l.Acquire(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return Unlocked, ctx.Err()
		}
		log.Warn("lock unavailable, proceeding without lock", "lock", name, "error", err)
		return Unlocked, fn(ctx)
	}

	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if released, rerr := l.Release(rctx, name, token); rerr != nil {
			log.Error("failed to release lock", "lock", name, "error", rerr)
		} else if !released {
			log.Warn("lock expired before release", "lock", name)
		}
	}()
	return Locked(token), fn(ctx)
}
