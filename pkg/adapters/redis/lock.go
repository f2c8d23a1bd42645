package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/goop/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it is still owned by the caller.
var releaseScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// refreshScript extends the lock only if it is still owned by the caller.
var refreshScript = backend.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// Locker implements ports.DistributedLocker using Redis SET NX PX.
type Locker struct {
	client *backend.Client
	prefix string
}

// NewLocker creates a new Redis locker.
func NewLocker(client *backend.Client, prefix string) *Locker {
	return &Locker{
		client: client,
		prefix: prefix,
	}
}

// TryLock makes a single attempt to own key for ttl. The lock is renewed
// until the returned func releases it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	owner := uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKey, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error acquiring lock: %w", err)
	}
	if !ok {
		return nil, ports.ErrLockHeld
	}

	stop, done := make(chan struct{}), make(chan struct{})
	go l.keepAlive(lockKey, owner, ttl, stop, done)

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
		})
		return releaseScript.Run(ctx, l.client, []string{lockKey}, owner).Err()
	}, nil
}

// keepAlive extends the lock every third of its TTL until stop is closed or
// the lock is lost. A crashed owner stops renewing, so the key still expires.
func (l *Locker) keepAlive(key, owner string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := refreshScript.Run(ctx, l.client, []string{key}, owner, ttl.Milliseconds()).Int()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}
