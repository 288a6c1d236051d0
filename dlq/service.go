package dlq

import (
	"context"
	"fmt"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds an Entry from a failed job and persists it.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	return s.store.PushDLQ(ctx, &Entry{
		ID:         id.NewDLQID(),
		JobID:      j.ID,
		JobName:    j.Name,
		Queue:      j.Queue,
		Priority:   j.Priority,
		Payload:    j.Payload,
		Error:      jobErr.Error(),
		RetryCount: j.RetryCount,
		MaxRetries: j.MaxRetries,
		ScopeAppID: j.ScopeAppID,
		ScopeOrgID: j.ScopeOrgID,
		FailedAt:   now,
		CreatedAt:  now,
		MinBackoff: j.MinBackoff,
		MaxBackoff: j.MaxBackoff,
		Timeout:    j.Timeout,
	})
}

// Replay re-enqueues an entry as a fresh pending job with a full retry
// budget and the failed job's backoff and timeout, and marks the entry
// replayed. Replaying an entry twice is
// rejected with polar.ErrInvalidState.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.ReplayedAt != nil {
		return nil, fmt.Errorf("%w: dlq entry %s already replayed", polar.ErrInvalidState, entryID)
	}

	j := &job.Job{
		Entity:     polar.NewEntity(),
		ID:         id.NewJobID(),
		Name:       entry.JobName,
		Queue:      entry.Queue,
		Priority:   entry.Priority,
		Payload:    entry.Payload,
		State:      job.StatePending,
		MaxRetries: entry.MaxRetries,
		MinBackoff: entry.MinBackoff,
		MaxBackoff: entry.MaxBackoff,
		Timeout:    entry.Timeout,
		ScopeAppID: entry.ScopeAppID,
		ScopeOrgID: entry.ScopeOrgID,
		RunAt:      time.Now().UTC(),
	}
	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}
	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		return j, err
	}
	return j, nil
}

// List returns DLQ entries.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Purge drops entries older than olderThan.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.store.PurgeDLQ(ctx, time.Now().UTC().Add(-olderThan))
}

// DLQStore returns the underlying store.
func (s *Service) DLQStore() Store { return s.store }
