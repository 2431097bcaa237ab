package scheduler

import (
	"context"
	"fmt"
	"time"
)

// LockLease is a held queue lock. Token proves ownership on renew and release.
type LockLease struct {
	Key      string
	Token    string
	ExpireAt time.Time
}

// Expired reports whether the lease lapsed at now without a successful renew.
func (l *LockLease) Expired(now time.Time) bool {
	return l == nil || !now.Before(l.ExpireAt)
}

// LockProvider guards a (connection, queue) pair so that one worker process
// drains it at a time. Redis and PostgreSQL implementations are provided.
type LockProvider interface {
	// Acquire returns false without error when another owner holds key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (*LockLease, bool, error)
	Renew(ctx context.Context, lease *LockLease, ttl time.Duration) error
	Release(ctx context.Context, lease *LockLease) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// LockKey is the lock name of one queue binding.
func LockKey(connection, queue string) string {
	return fmt.Sprintf("%s:%s:%s", defaultLockPrefix, connection, queue)
}
