// Package cluster tracks the workers of a deployment and elects the one
// that runs singleton duties: firing cron entries and reaping jobs left
// behind by crashed workers.
//
// Each worker registers itself and heartbeats. Leadership is a lease
// taken with AcquireLeadership and kept alive with RenewLeadership; a
// leader that stops renewing loses it after the TTL.
package cluster

import (
	"context"
	"time"

	"github.com/polarsource/polar-sub002/id"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState string

const (
	// WorkerActive means the worker is healthy and processing jobs.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker finishes in-flight jobs but takes
	// no new ones.
	WorkerDraining WorkerState = "draining"
	// WorkerDead means the worker stopped heartbeating.
	WorkerDead WorkerState = "dead"
)

// Worker is one running worker process.
type Worker struct {
	ID          id.WorkerID       `json:"id"`
	Hostname    string            `json:"hostname"`
	Queues      []string          `json:"queues"`
	Concurrency int               `json:"concurrency"`
	State       WorkerState       `json:"state"`
	IsLeader    bool              `json:"is_leader"`
	LeaderUntil *time.Time        `json:"leader_until,omitempty"`
	LastSeen    time.Time         `json:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Store defines the persistence contract for cluster membership.
type Store interface {
	// RegisterWorker adds a worker to the registry.
	RegisterWorker(ctx context.Context, w *Worker) error

	// DeregisterWorker removes a worker from the registry.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// HeartbeatWorker updates the worker's last-seen timestamp.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error

	// ListWorkers returns all registered workers.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// ReapDeadWorkers returns workers not seen within threshold.
	ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*Worker, error)

	// AcquireLeadership makes workerID leader if there is none or the
	// current lease expired.
	AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// RenewLeadership extends the lease if workerID holds it.
	RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// GetLeader returns the current leader, or nil.
	GetLeader(ctx context.Context) (*Worker, error)
}
