package ports

import (
	"context"
	"errors"
	"time"
)

// ErrLockHeld is returned by TryLock when another owner holds the lock.
var ErrLockHeld = errors.New("lock held by another owner")

// UnlockFunc is a function that releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker defines the interface for distributed concurrency control.
// It allows the Session Manager to coordinate access across multiple instances (replicas).
type DistributedLocker interface {
	// TryLock attempts once to acquire the lock for key (e.g., session ID).
	// It returns ErrLockHeld if the lock is owned by someone else.
	// The lock stays held until the returned UnlockFunc is called, which MUST
	// happen. ttl only bounds how long a crashed owner keeps the key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
