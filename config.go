package polar

import "time"

// Priority queue names. Workers drain them in this order.
const (
	QueueHighPriority   = "high_priority"
	QueueMediumPriority = "medium_priority"
	QueueLowPriority    = "low_priority"
)

// Config holds configuration for the Runtime.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int

	// Queues is the list of queues this runtime will poll, highest
	// priority first.
	Queues []string

	// PollInterval is how often to poll for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long before a job without heartbeat is
	// considered stale.
	StaleJobThreshold time.Duration

	// MaxRetries is applied to actors that do not set their own.
	MaxRetries int

	// MinBackoff and MaxBackoff bound the retry delay for actors that do
	// not set their own.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		Queues:            []string{QueueHighPriority, QueueMediumPriority, QueueLowPriority},
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 30 * time.Second,
		MaxRetries:        20,
		MinBackoff:        2 * time.Second,
		MaxBackoff:        10 * time.Minute,
	}
}
