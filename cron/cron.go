// Package cron fires actors that declare a cron trigger.
//
// Entries live in the store so that every worker sees the same schedule,
// but only the cluster leader fires them, and each firing additionally
// holds a per-entry lock. An entry therefore fires at most once per tick
// across the cluster.
package cron

import (
	"context"
	"time"

	cronlib "github.com/robfig/cron/v3"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
)

// Entry is a recurring actor invocation.
type Entry struct {
	polar.Entity

	ID          id.CronID    `json:"id"`
	Name        string       `json:"name"`
	Schedule    string       `json:"schedule"`
	JobName     string       `json:"job_name"`
	Priority    job.Priority `json:"priority"`
	Payload     []byte       `json:"payload,omitempty"`
	LastRunAt   *time.Time   `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time   `json:"next_run_at,omitempty"`
	LockedBy    string       `json:"locked_by,omitempty"`
	LockedUntil *time.Time   `json:"locked_until,omitempty"`
	Enabled     bool         `json:"enabled"`
}

// Store defines the persistence contract for cron entries.
type Store interface {
	// RegisterCron persists a new entry. Returns polar.ErrDuplicateCron if
	// the name already exists.
	RegisterCron(ctx context.Context, entry *Entry) error

	// GetCron retrieves an entry by ID.
	GetCron(ctx context.Context, entryID id.CronID) (*Entry, error)

	// ListCrons returns all entries.
	ListCrons(ctx context.Context) ([]*Entry, error)

	// AcquireCronLock attempts to lock an entry for workerID until ttl
	// elapses. Returns true if the lock was acquired.
	AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseCronLock releases the entry lock held by workerID.
	ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error

	// UpdateCronLastRun records when an entry last fired.
	UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error

	// UpdateCronEntry updates Schedule, Enabled and NextRunAt.
	UpdateCronEntry(ctx context.Context, entry *Entry) error

	// DeleteCron removes an entry.
	DeleteCron(ctx context.Context, entryID id.CronID) error
}

// Standard 5-field expressions plus descriptors such as "@every 30s".
var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return parser.Parse(expr)
}

// NewEntry builds an enabled entry for an actor, due at the next
// occurrence of its schedule after now.
func NewEntry(actor string, schedule string, priority job.Priority, now time.Time) (*Entry, error) {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	next := sched.Next(now)
	return &Entry{
		Entity:    polar.NewEntity(),
		ID:        id.NewCronID(),
		Name:      actor,
		Schedule:  schedule,
		JobName:   actor,
		Priority:  priority,
		Payload:   []byte(`{}`),
		NextRunAt: &next,
		Enabled:   true,
	}, nil
}
