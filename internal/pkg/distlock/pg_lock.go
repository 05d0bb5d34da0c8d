package distlock

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/property-imports/internal/pkg/logger"
)

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// pg_try_advisory_lock / pg_advisory_unlock are session-scoped, so every
// acquisition pins its own *sql.Conn until Release. A crashed holder drops
// the session and with it the lock, which stands in for the Redis TTL.

// PGAdvisoryLock implements Locker with PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db   *sql.DB
	opts Options
	log  *logger.Logger

	mu   sync.Mutex
	held map[string]*sql.Conn // token -> session holding the lock
}

// NewPGAdvisoryLock creates a lock service backed by advisory locks on db.
func NewPGAdvisoryLock(db *sql.DB, opts Options) *PGAdvisoryLock {
	return &PGAdvisoryLock{
		db:   db,
		opts: opts.withDefaults(),
		log:  logger.Component("distlock"),
		held: make(map[string]*sql.Conn),
	}
}

// lockID derives a deterministic advisory key from the prefixed name.
func (l *PGAdvisoryLock) lockID(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(l.opts.KeyPrefix + name))
	return int64(h.Sum64())
}

// TryAcquire makes one pg_try_advisory_lock attempt on a dedicated
// connection. ttl is ignored: the lock lives as long as the session.
func (l *PGAdvisoryLock) TryAcquire(ctx context.Context, name string, _ time.Duration) (string, bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return "", false, fmt.Errorf("acquire lock %s: %w", name, err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID(name)).Scan(&acquired); err != nil {
		conn.Close()
		return "", false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !acquired {
		conn.Close()
		return "", false, nil
	}

	token := uuid.NewString()
	l.mu.Lock()
	l.held[token] = conn
	l.mu.Unlock()
	return token, true, nil
}

// Acquire blocks for at most MaxRetries extra attempts, RetryDelay apart.
func (l *PGAdvisoryLock) Acquire(ctx context.Context, name string) (string, error) {
	return acquireWithRetry(ctx, l.opts, name, l.TryAcquire)
}

// Release unlocks on the session that took the lock and hands the
// connection back to the pool. An unknown token reports false.
func (l *PGAdvisoryLock) Release(ctx context.Context, name, token string) (bool, error) {
	l.mu.Lock()
	conn, ok := l.held[token]
	delete(l.held, token)
	l.mu.Unlock()
	if !ok {
		return false, nil
	}

	var released bool
	err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID(name)).Scan(&released)
	if err != nil {
		// The session may still hold the lock; never return it to the pool.
		conn.Raw(func(interface{}) error { return driver.ErrBadConn })
		conn.Close()
		return false, fmt.Errorf("release lock %s: %w", name, err)
	}
	if cerr := conn.Close(); cerr != nil {
		l.log.Warn("failed to return lock connection", "lock", name, "error", cerr)
	}
	return released, nil
}

// Held reports how many locks this process currently holds.
func (l *PGAdvisoryLock) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
