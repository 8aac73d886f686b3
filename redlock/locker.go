// Package redlock provides a Redis lease that lets one of several replicas
// run a periodic job.
package redlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultTTL bounds how long a crashed holder blocks the others.
const DefaultTTL = time.Minute

var (
	// ErrNotAcquired is returned by TryLock when another holder has the lease.
	ErrNotAcquired = errors.New("redlock: lock not acquired")
	// ErrNotHeld is returned by Unlock when the lease expired or was never taken.
	ErrNotHeld = errors.New("redlock: lock not held")
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is a lease on one key. It is safe for concurrent use; at most one
// token is held at a time.
type Locker struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

// NewLocker creates a lease on key. A non-positive ttl uses DefaultTTL.
func NewLocker(client redis.Cmdable, key string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{client: client, key: key, ttl: ttl}
}

// TryLock takes the lease without waiting.
func (l *Locker) TryLock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.token != "" {
		return ErrNotAcquired
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("redlock: acquire %s: %w", l.key, err)
	}
	if !ok {
		log.Debug().Str("key", l.key).Msg("lock held elsewhere")
		return ErrNotAcquired
	}
	l.token = token
	log.Debug().Str("key", l.key).Dur("ttl", l.ttl).Msg("lock acquired")
	return nil
}

// Unlock releases the lease if it is still ours.
func (l *Locker) Unlock(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()

	if token == "" {
		return ErrNotHeld
	}

	released, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int64()
	if err != nil {
		return fmt.Errorf("redlock: release %s: %w", l.key, err)
	}
	if released == 0 {
		log.Warn().Str("key", l.key).Msg("lock expired before release")
		return ErrNotHeld
	}
	log.Debug().Str("key", l.key).Msg("lock released")
	return nil
}
