package polar

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Runtime.
type Option func(*Runtime) error

// Storer is the minimal store interface held by the Runtime.
// It covers lifecycle operations only. The subsystem interfaces
// (job.Store, dlq.Store, cron.Store, cluster.Store) are asserted by the
// engine package, which sits above the packages that import this one.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Runtime is the central coordinator for actor execution, cron scheduling
// and cluster membership.
//
// Create one with New() and functional options, then hand it to
// engine.Build which plugs the worker pool and extensions back in.
type Runtime struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner

	started bool
}

// New creates a new Runtime with the given options.
func New(opts ...Option) (*Runtime, error) {
	r := &Runtime{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Logger returns the runtime's logger.
func (r *Runtime) Logger() *slog.Logger { return r.logger }

// Store returns the runtime's store.
func (r *Runtime) Store() Storer { return r.store }

// Config returns a copy of the runtime's configuration.
func (r *Runtime) Config() Config { return r.config }

// SetPool sets the worker pool (called by the engine package).
func (r *Runtime) SetPool(p poolRunner) { r.pool = p }

// SetExtensions sets the extension emitter (called by the engine package).
func (r *Runtime) SetExtensions(e extensionEmitter) { r.extensions = e }

// Start begins job processing.
func (r *Runtime) Start(ctx context.Context) error {
	if r.pool == nil {
		return ErrNoStore
	}
	if err := r.pool.Start(ctx); err != nil {
		return err
	}
	r.started = true
	return nil
}

// Stop gracefully shuts down the runtime.
func (r *Runtime) Stop(ctx context.Context) error {
	if r.pool != nil && r.started {
		if err := r.pool.Stop(ctx); err != nil {
			r.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
	}
	if r.extensions != nil {
		r.extensions.EmitShutdown(ctx)
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrent job processors.
func WithConcurrency(n int) Option {
	return func(r *Runtime) error {
		r.config.Concurrency = n
		return nil
	}
}

// WithQueues sets the queues the runtime will poll, highest priority first.
func WithQueues(queues []string) Option {
	return func(r *Runtime) error {
		r.config.Queues = queues
		return nil
	}
}

// WithPollInterval sets how often idle workers poll the store.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runtime) error {
		r.config.PollInterval = d
		return nil
	}
}

// WithShutdownTimeout bounds how long Stop waits for in-flight jobs.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Runtime) error {
		r.config.ShutdownTimeout = d
		return nil
	}
}

// WithDefaultRetries sets the retry budget and backoff bounds applied to
// actors that do not declare their own.
func WithDefaultRetries(maxRetries int, minBackoff, maxBackoff time.Duration) Option {
	return func(r *Runtime) error {
		r.config.MaxRetries = maxRetries
		r.config.MinBackoff = minBackoff
		r.config.MaxBackoff = maxBackoff
		return nil
	}
}

// WithLogger sets the structured logger for the runtime.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) error {
		r.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the job runtime.
func WithStore(s Storer) Option {
	return func(r *Runtime) error {
		r.store = s
		return nil
	}
}
