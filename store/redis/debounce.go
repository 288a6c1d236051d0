package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/polarsource/polar-sub002/debounce"
	"github.com/polarsource/polar-sub002/id"
)

const maxTxRetries = 8

// debounceModel is the msgpack encoding of a debounce.Record.
type debounceModel struct {
	JobID           string    `msgpack:"job_id"`
	FirstEnqueuedAt time.Time `msgpack:"first_enqueued_at"`
	LastEnqueuedAt  time.Time `msgpack:"last_enqueued_at"`
}

func toDebounceModel(r *debounce.Record) *debounceModel {
	return &debounceModel{
		JobID:           r.JobID.String(),
		FirstEnqueuedAt: r.FirstEnqueuedAt.UTC(),
		LastEnqueuedAt:  r.LastEnqueuedAt.UTC(),
	}
}

func fromDebounceModel(m *debounceModel) (*debounce.Record, error) {
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, err
	}
	return &debounce.Record{
		JobID:           jobID,
		FirstEnqueuedAt: m.FirstEnqueuedAt,
		LastEnqueuedAt:  m.LastEnqueuedAt,
	}, nil
}

func readDebounce(ctx context.Context, c goredis.Cmdable, key string) (*debounce.Record, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m debounceModel
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode debounce record: %w", err)
	}
	return fromDebounceModel(&m)
}

// watch runs fn in an optimistic transaction on key, retrying when another
// client modified the key in between.
func (s *Store) watch(ctx context.Context, key string, fn func(tx *goredis.Tx) error) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return goredis.TxFailedErr
}

// TouchDebounce marks jobID as the latest job for key.
func (s *Store) TouchDebounce(ctx context.Context, key string, jobID id.JobID, now time.Time, ttl time.Duration) (*debounce.Record, error) {
	k := s.debounceKey(key)
	var out *debounce.Record

	err := s.watch(ctx, k, func(tx *goredis.Tx) error {
		rec, err := readDebounce(ctx, tx, k)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = &debounce.Record{FirstEnqueuedAt: now}
		}
		rec.JobID = jobID
		rec.LastEnqueuedAt = now

		raw, err := msgpack.Marshal(toDebounceModel(rec))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, k, raw, ttl)
			return nil
		})
		out = rec
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("polar/redis: touch debounce: %w", err)
	}
	return out, nil
}

// GetDebounce returns the record for key, or nil when none exists.
func (s *Store) GetDebounce(ctx context.Context, key string) (*debounce.Record, error) {
	rec, err := readDebounce(ctx, s.client, s.debounceKey(key))
	if err != nil {
		return nil, fmt.Errorf("polar/redis: get debounce: %w", err)
	}
	return rec, nil
}

// RestartDebounce sets FirstEnqueuedAt to now and keeps the TTL.
func (s *Store) RestartDebounce(ctx context.Context, key string, now time.Time) error {
	k := s.debounceKey(key)
	err := s.watch(ctx, k, func(tx *goredis.Tx) error {
		rec, err := readDebounce(ctx, tx, k)
		if err != nil || rec == nil {
			return err
		}
		rec.FirstEnqueuedAt = now
		raw, err := msgpack.Marshal(toDebounceModel(rec))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, k, raw, goredis.KeepTTL)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("polar/redis: restart debounce: %w", err)
	}
	return nil
}

// ClearDebounce deletes the record if jobID is still the latest.
func (s *Store) ClearDebounce(ctx context.Context, key string, jobID id.JobID) error {
	k := s.debounceKey(key)
	err := s.watch(ctx, k, func(tx *goredis.Tx) error {
		rec, err := readDebounce(ctx, tx, k)
		if err != nil || rec == nil {
			return err
		}
		if rec.JobID.String() != jobID.String() {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("polar/redis: clear debounce: %w", err)
	}
	return nil
}
