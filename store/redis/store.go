// Package redis implements the short-lived coordination state of Polar on
// Redis: named locks and debounce records. Both are single keys with a TTL,
// so a crashed worker never leaves state behind for longer than the TTL.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
//
// The durable runtime and billing state lives in the postgres, bun or
// memory stores; a redis Store is composed next to them.
package redis

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/polarsource/polar-sub002/debounce"
	"github.com/polarsource/polar-sub002/lock"
)

var (
	_ debounce.Store = (*Store)(nil)
	_ lock.Locker    = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithPrefix overrides the key prefix. Useful when several environments
// share one Redis database.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithLockPollInterval sets how often a blocked Acquire retries.
func WithLockPollInterval(d time.Duration) Option {
	return func(s *Store) { s.pollInterval = d }
}

// Store is backed by a caller-owned Redis client.
type Store struct {
	client       goredis.UniversalClient
	logger       *slog.Logger
	prefix       string
	pollInterval time.Duration
}

// New creates a Redis-backed store.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:       client,
		logger:       slog.Default(),
		prefix:       defaultPrefix,
		pollInterval: 25 * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op; Redis is schemaless.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op. The caller owns the client.
func (s *Store) Close() error { return nil }
