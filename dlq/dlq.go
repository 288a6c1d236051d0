// Package dlq holds jobs that exhausted their retry budget or failed
// permanently. Entries keep the original payload and final error so an
// operator can inspect them and replay them once the cause is fixed.
package dlq

import (
	"context"
	"time"

	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
)

// Entry is a job moved to the dead letter queue.
type Entry struct {
	ID         id.DLQID     `json:"id"`
	JobID      id.JobID     `json:"job_id"`
	JobName    string       `json:"job_name"`
	Queue      string       `json:"queue"`
	Priority   job.Priority `json:"priority"`
	Payload    []byte       `json:"payload"`
	Error      string       `json:"error"`
	RetryCount int          `json:"retry_count"`
	MaxRetries int          `json:"max_retries"`
	ScopeAppID string       `json:"scope_app_id,omitempty"`
	ScopeOrgID string       `json:"scope_org_id,omitempty"`
	FailedAt   time.Time    `json:"failed_at"`
	ReplayedAt *time.Time   `json:"replayed_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`

	// Per-job overrides carried over to a replayed job.
	MinBackoff time.Duration `json:"min_backoff,omitempty"`
	MaxBackoff time.Duration `json:"max_backoff,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// ListOpts controls pagination and filtering for DLQ list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// Store defines the persistence contract for the dead letter queue.
type Store interface {
	// PushDLQ adds a failed job entry.
	PushDLQ(ctx context.Context, entry *Entry) error

	// ListDLQ returns entries, newest first.
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDLQ retrieves an entry by ID.
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)

	// ReplayDLQ marks an entry as replayed.
	ReplayDLQ(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ removes entries that failed before the given time.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	// CountDLQ returns the number of entries.
	CountDLQ(ctx context.Context) (int64, error)
}
