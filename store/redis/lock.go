package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/lock"
)

// releaseScript deletes the lock only while it still holds our token, so a
// holder whose lock expired cannot free someone else's.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire takes the named lock with SET NX PX, retrying until wait elapses.
func (s *Store) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (lock.Release, error) {
	k := s.lockKey(key)
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := s.client.SetNX(ctx, k, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("polar/redis: acquire lock: %w", err)
		}
		if ok {
			return func(ctx context.Context) error {
				if err := releaseScript.Run(ctx, s.client, []string{k}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
					return fmt.Errorf("polar/redis: release lock: %w", err)
				}
				return nil
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, polar.ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}
