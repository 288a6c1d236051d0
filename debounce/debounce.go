// Package debounce collapses repeated enqueues of the same logical
// operation.
//
// Every enqueue that carries a debounce key records itself as the latest
// job for that key. When a job runs, it proceeds only if it is still the
// latest; older jobs are skipped because the newer one will do the same
// work. A key that keeps being re-enqueued would starve forever, so once
// the first pending enqueue is older than the max window, whichever job
// runs next proceeds and the window restarts.
package debounce

import (
	"context"
	"fmt"
	"time"

	"github.com/polarsource/polar-sub002/id"
)

// Record is the debounce state of one key.
type Record struct {
	JobID           id.JobID
	FirstEnqueuedAt time.Time
	LastEnqueuedAt  time.Time
}

// Store persists debounce records.
type Store interface {
	// TouchDebounce marks jobID as the latest job for key. FirstEnqueuedAt
	// is kept when the key already exists. The record expires after ttl.
	TouchDebounce(ctx context.Context, key string, jobID id.JobID, now time.Time, ttl time.Duration) (*Record, error)

	// GetDebounce returns the record for key, or nil when none exists.
	GetDebounce(ctx context.Context, key string) (*Record, error)

	// RestartDebounce sets FirstEnqueuedAt to now, keeping the latest job.
	RestartDebounce(ctx context.Context, key string, now time.Time) error

	// ClearDebounce deletes the record if jobID is still the latest.
	ClearDebounce(ctx context.Context, key string, jobID id.JobID) error
}

// Debouncer applies the debounce rules on top of a Store.
type Debouncer struct {
	store Store
}

// New creates a Debouncer.
func New(store Store) *Debouncer {
	return &Debouncer{store: store}
}

// ttl keeps a record around long enough to outlive both the min delay and
// the max window.
func ttl(minDelay, maxWindow time.Duration) time.Duration {
	d := 2 * (minDelay + maxWindow)
	if d < time.Hour {
		d = time.Hour
	}
	return d
}

// Enqueued records jobID as the latest job for key.
func (d *Debouncer) Enqueued(ctx context.Context, key string, jobID id.JobID, now time.Time, minDelay, maxWindow time.Duration) error {
	if _, err := d.store.TouchDebounce(ctx, key, jobID, now, ttl(minDelay, maxWindow)); err != nil {
		return fmt.Errorf("polar/debounce: touch %q: %w", key, err)
	}
	return nil
}

// ShouldRun reports whether jobID may execute now.
func (d *Debouncer) ShouldRun(ctx context.Context, key string, jobID id.JobID, now time.Time, maxWindow time.Duration) (bool, error) {
	rec, err := d.store.GetDebounce(ctx, key)
	if err != nil {
		return false, fmt.Errorf("polar/debounce: get %q: %w", key, err)
	}
	if rec == nil || rec.JobID.String() == jobID.String() {
		return true, nil
	}
	if maxWindow > 0 && now.Sub(rec.FirstEnqueuedAt) >= maxWindow {
		return true, nil
	}
	return false, nil
}

// Executed updates the key after jobID ran. The latest job clears the key;
// an older job that ran because the max window elapsed restarts the window.
func (d *Debouncer) Executed(ctx context.Context, key string, jobID id.JobID, now time.Time) error {
	rec, err := d.store.GetDebounce(ctx, key)
	if err != nil {
		return fmt.Errorf("polar/debounce: get %q: %w", key, err)
	}
	if rec == nil {
		return nil
	}
	if rec.JobID.String() == jobID.String() {
		return d.store.ClearDebounce(ctx, key, jobID)
	}
	return d.store.RestartDebounce(ctx, key, now)
}
