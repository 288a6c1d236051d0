package memory

import (
	"context"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/lock"
)

const lockPollInterval = 5 * time.Millisecond

type heldLock struct {
	token     uint64
	expiresAt time.Time
}

// Acquire polls until key is free or wait elapses.
func (m *Store) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (lock.Release, error) {
	deadline := time.Now().Add(wait)
	for {
		if token, ok := m.tryLock(key, ttl); ok {
			return func(context.Context) error {
				m.unlock(key, token)
				return nil
			}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, polar.ErrLockNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func (m *Store) tryLock(key string, ttl time.Duration) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if l, ok := m.locks[key]; ok && l.expiresAt.After(now) {
		return 0, false
	}
	m.lockSeq++
	m.locks[key] = &heldLock{token: m.lockSeq, expiresAt: now.Add(ttl)}
	return m.lockSeq, true
}

// unlock only removes the lock if it was not taken over after expiring.
func (m *Store) unlock(key string, token uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.locks[key]; ok && l.token == token {
		delete(m.locks, key)
	}
}
