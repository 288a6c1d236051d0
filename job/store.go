package job

import (
	"context"
	"time"

	"github.com/polarsource/polar-sub002/id"
)

// ListOpts pages through jobs. A zero Limit returns everything and an
// empty Queue matches every queue.
type ListOpts struct {
	Limit  int
	Offset int
	Queue  string
}

// CountOpts narrows CountJobs. Empty fields match everything.
type CountOpts struct {
	Queue string
	State State
}

// Store persists the job table that workers claim from.
//
// DequeueJobs is the only method with concurrency requirements: a job
// it returns must not be returned to any other caller until UpdateJob
// moves it out of running or ReapStaleJobs hands it back. Results are
// ordered by the position of the job's queue in queues, then priority
// descending, then RunAt ascending; jobs whose RunAt is in the future
// are not eligible.
type Store interface {
	EnqueueJob(ctx context.Context, j *Job) error
	DequeueJobs(ctx context.Context, queues []string, limit int) ([]*Job, error)

	// GetJob returns polar.ErrJobNotFound for unknown ids.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)
	UpdateJob(ctx context.Context, j *Job) error
	DeleteJob(ctx context.Context, jobID id.JobID) error
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// HeartbeatJob stamps a running job owned by workerID.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns running jobs whose heartbeat is older than
	// threshold. The caller resets and saves them.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
