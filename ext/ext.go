// Package ext defines the extension system of the job runtime.
//
// Extensions are notified of lifecycle events and react to them: recording
// metrics, writing logs, forwarding to other systems. Each hook is a
// separate interface so extensions opt in only to the events they care
// about:
//
//	type slowJobs struct{}
//
//	func (slowJobs) Name() string { return "slow-jobs" }
//
//	func (slowJobs) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    if elapsed > time.Minute {
//	        slog.WarnContext(ctx, "slow job", "job_name", j.Name)
//	    }
//	    return nil
//	}
//
// The [Registry] fans each event out to the registered extensions that
// implement the matching hook.
package ext

import (
	"context"
	"time"

	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobEnqueued is called after a job is persisted.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobDLQ is called when a job is moved to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// JobSkipped is called when a debounced job is superseded by a newer one.
type JobSkipped interface {
	OnJobSkipped(ctx context.Context, j *job.Job) error
}

// CronFired is called when a cron entry fires and enqueues a job.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
