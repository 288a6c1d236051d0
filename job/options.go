package job

import (
	"encoding/json"
	"time"

	"github.com/polarsource/polar-sub002/id"
)

// Options configures an actor's defaults and, at enqueue time, a single job.
type Options struct {
	// MaxRetries is the retry budget before the job is moved to the DLQ.
	// A negative value inherits the runtime default.
	MaxRetries int

	// Queue overrides the queue derived from Priority.
	Queue string

	// Priority selects the queue when Queue is empty.
	Priority Priority

	// Timeout is the maximum duration a job may run before being cancelled.
	Timeout time.Duration

	// RunAt schedules the job for future execution. Zero means immediate.
	RunAt time.Time

	// Delay is added to the enqueue time when RunAt is zero.
	Delay time.Duration

	// MinBackoff and MaxBackoff bound the retry delay. Zero inherits the
	// runtime default.
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// CronTrigger is a cron expression that periodically enqueues the actor.
	CronTrigger string

	// DebounceKey is an explicit debounce key for one job.
	DebounceKey string

	// DebounceKeyFunc derives the debounce key from the JSON payload.
	DebounceKeyFunc func(payload []byte) string

	// DebounceMin delays execution so that rapid enqueues collapse.
	// DebounceMax bounds how long a key may keep being superseded.
	DebounceMin time.Duration
	DebounceMax time.Duration

	// JobID pins the job ID so that enqueueing twice is detectable.
	JobID id.JobID
}

// DefaultOptions returns Options that inherit every runtime default.
func DefaultOptions() Options {
	return Options{
		MaxRetries: -1,
		Priority:   PriorityLow,
		Timeout:    5 * time.Minute,
	}
}

// ResolveQueue returns Queue, or the queue of Priority when unset.
func (o Options) ResolveQueue() string {
	if o.Queue != "" {
		return o.Queue
	}
	return o.Priority.Queue()
}

// ResolveDebounceKey returns the explicit key, or the one derived from the
// payload.
func (o Options) ResolveDebounceKey(payload []byte) string {
	if o.DebounceKey != "" {
		return o.DebounceKey
	}
	if o.DebounceKeyFunc != nil {
		return o.DebounceKeyFunc(payload)
	}
	return ""
}

// Option is a functional option for configuring an actor or a job.
type Option func(*Options)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithQueue pins the queue name, ignoring priority routing.
func WithQueue(q string) Option {
	return func(o *Options) { o.Queue = q }
}

// WithPriority sets the job priority.
func WithPriority(p Priority) Option {
	return func(o *Options) { o.Priority = p }
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) { o.RunAt = t }
}

// WithDelay schedules the job d after it is enqueued.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithBackoff bounds the retry delay.
func WithBackoff(minDelay, maxDelay time.Duration) Option {
	return func(o *Options) {
		o.MinBackoff = minDelay
		o.MaxBackoff = maxDelay
	}
}

// WithCronTrigger makes the actor run on a cron schedule.
func WithCronTrigger(expr string) Option {
	return func(o *Options) { o.CronTrigger = expr }
}

// WithDebounceKey sets an explicit debounce key for one job.
func WithDebounceKey(key string) Option {
	return func(o *Options) { o.DebounceKey = key }
}

// WithDebounceWindow sets the min delay and max window applied to
// debounced jobs.
func WithDebounceWindow(minDelay, maxWindow time.Duration) Option {
	return func(o *Options) {
		o.DebounceMin = minDelay
		o.DebounceMax = maxWindow
	}
}

// WithDebounce derives the debounce key from the typed payload and sets the
// debounce window. A payload that does not decode yields no key.
func WithDebounce[T any](keyFn func(T) string, minDelay, maxWindow time.Duration) Option {
	return func(o *Options) {
		o.DebounceKeyFunc = func(payload []byte) string {
			var t T
			if err := json.Unmarshal(payload, &t); err != nil {
				return ""
			}
			return keyFn(t)
		}
		o.DebounceMin = minDelay
		o.DebounceMax = maxWindow
	}
}

// WithJobID pins the ID of the enqueued job.
func WithJobID(jobID id.JobID) Option {
	return func(o *Options) { o.JobID = jobID }
}
