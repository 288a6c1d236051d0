// Package lock provides named, expiring mutual exclusion across workers.
//
// Billing operations that react to external state (for example two Stripe
// webhooks for the same subscription delivered concurrently) take a lock
// keyed by the external identifier so their read-modify-write cycles
// serialize.
package lock

import (
	"context"
	"fmt"
	"time"
)

// Release frees a held lock. Releasing a lock that already expired is not
// an error.
type Release func(ctx context.Context) error

// Locker acquires named locks.
type Locker interface {
	// Acquire blocks until key is held or wait elapses, in which case it
	// returns polar.ErrLockNotAcquired. ttl bounds how long the lock
	// survives a crashed holder.
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Release, error)
}

// Do runs fn while holding key.
func Do(ctx context.Context, l Locker, key string, ttl, wait time.Duration, fn func(ctx context.Context) error) (err error) {
	release, err := l.Acquire(ctx, key, ttl, wait)
	if err != nil {
		return fmt.Errorf("lock %q: %w", key, err)
	}
	defer func() {
		if relErr := release(context.WithoutCancel(ctx)); relErr != nil && err == nil {
			err = fmt.Errorf("release %q: %w", key, relErr)
		}
	}()
	return fn(ctx)
}
