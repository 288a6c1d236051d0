// Package engine wires the Polar task runtime together: the actor
// registry, middleware chain, worker pool, cron scheduler, dead letter
// queue and debouncer. It is what actors and the billing services enqueue
// through.
//
// The root polar package defines Entity, which every subsystem imports,
// so it cannot import them back. Engine sits above the subsystems and
// below the application:
//
//	rt, _ := polar.New(polar.WithStore(memory.New()))
//	eng, _ := engine.Build(rt)
//	_ = engine.Register(ctx, eng, order.CreateActor(svc))
//	_ = eng.Start(ctx)
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	gu "github.com/xraph/go-utils/metrics"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/backoff"
	"github.com/polarsource/polar-sub002/cluster"
	"github.com/polarsource/polar-sub002/cron"
	"github.com/polarsource/polar-sub002/debounce"
	"github.com/polarsource/polar-sub002/dlq"
	"github.com/polarsource/polar-sub002/ext"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/lock"
	mw "github.com/polarsource/polar-sub002/middleware"
	"github.com/polarsource/polar-sub002/observability"
	"github.com/polarsource/polar-sub002/queue"
	"github.com/polarsource/polar-sub002/scope"
	"github.com/polarsource/polar-sub002/worker"
)

const instrumentationName = "github.com/polarsource/polar-sub002"

// Engine is the assembled task runtime. Use Build to create one.
type Engine struct {
	rt         *polar.Runtime
	config     polar.Config
	extensions *ext.Registry
	registry   *job.Registry
	jobStore   job.Store
	dlqService *dlq.Service
	debouncer  *debounce.Debouncer
	locker     lock.Locker
	bo         backoff.Strategy
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	cronStore    cron.Store
	clusterStore cluster.Store
	scheduler    *cron.Scheduler

	queueConfigs []queue.Config
	queueManager *queue.Manager

	debounceStore  debounce.Store
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metricFactory  gu.MetricFactory
	metrics        *observability.MetricsExtension

	stopHeartbeat chan struct{}
	heartbeatWG   sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware appends middleware after the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the retry strategy for jobs that carry no backoff
// bounds of their own.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithQueueConfig limits queues. Queues not listed run unlimited.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) { eng.queueConfigs = append(eng.queueConfigs, configs...) }
}

// WithTracerProvider sets the TracerProvider of the tracing middleware.
// The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets the MeterProvider of the metrics middleware.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// WithMetricFactory sets the factory behind the lifecycle counters.
func WithMetricFactory(f gu.MetricFactory) Option {
	return func(eng *Engine) { eng.metricFactory = f }
}

// WithDebounceStore sets where debounce records live, for stores that do
// not implement debounce.Store themselves.
func WithDebounceStore(s debounce.Store) Option {
	return func(eng *Engine) { eng.debounceStore = s }
}

// WithLocker sets the distributed lock, for stores that do not implement
// lock.Locker themselves.
func WithLocker(l lock.Locker) Option {
	return func(eng *Engine) { eng.locker = l }
}

// Build assembles an Engine on top of rt. The runtime's store must
// implement job.Store, dlq.Store, cron.Store and cluster.Store.
func Build(rt *polar.Runtime, opts ...Option) (*Engine, error) {
	logger := rt.Logger()
	store := rt.Store()
	if store == nil {
		return nil, polar.ErrNoStore
	}

	js, ok := store.(job.Store)
	if !ok {
		return nil, errors.New("polar: store does not implement job.Store")
	}
	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, errors.New("polar: store does not implement dlq.Store")
	}
	cs, ok := store.(cron.Store)
	if !ok {
		return nil, errors.New("polar: store does not implement cron.Store")
	}
	cls, ok := store.(cluster.Store)
	if !ok {
		return nil, errors.New("polar: store does not implement cluster.Store")
	}

	eng := &Engine{
		rt:            rt,
		config:        rt.Config(),
		extensions:    ext.NewRegistry(logger),
		registry:      job.NewRegistry(),
		jobStore:      js,
		cronStore:     cs,
		clusterStore:  cls,
		logger:        logger,
		stopHeartbeat: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.NewBounded(eng.config.MinBackoff, eng.config.MaxBackoff)
	}
	if eng.debounceStore == nil {
		if s, ok := store.(debounce.Store); ok {
			eng.debounceStore = s
		}
	}
	if eng.debounceStore != nil {
		eng.debouncer = debounce.New(eng.debounceStore)
	}
	if eng.locker == nil {
		if l, ok := store.(lock.Locker); ok {
			eng.locker = l
		}
	}

	eng.dlqService = dlq.NewService(ds, js)

	tracingMw := mw.Tracing()
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	}
	metricsMw := mw.Metrics()
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	}

	if eng.metricFactory != nil {
		eng.metrics = observability.NewMetricsExtensionWithFactory(eng.metricFactory)
	} else {
		eng.metrics = observability.NewMetricsExtension()
	}
	eng.extensions.Register(eng.metrics)

	// recover → tracing → metrics → logging → scope → timeout → user
	chain := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Scope(),
		mw.Timeout(),
	}
	chain = append(chain, eng.mws...)

	execOpts := []worker.ExecutorOption{
		worker.WithEnqueuer(eng),
		worker.WithMiddleware(chain...),
	}
	if eng.debouncer != nil {
		execOpts = append(execOpts, worker.WithDebouncer(eng.debouncer))
	}
	executor := worker.NewExecutor(eng.registry, eng.extensions, js, eng.dlqService, eng.bo, logger, execOpts...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(eng.config.Concurrency),
		worker.WithPoolQueues(eng.config.Queues),
		worker.WithPollInterval(eng.config.PollInterval),
		worker.WithHeartbeatInterval(eng.config.HeartbeatInterval),
		worker.WithStaleJobThreshold(eng.config.StaleJobThreshold),
	}
	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}
	eng.pool = worker.NewPool(js, executor, eng.extensions, logger, poolOpts...)

	rt.SetPool(eng.pool)
	rt.SetExtensions(eng.extensions)

	eng.scheduler = cron.NewScheduler(cs, cls, eng.enqueueForCron, eng.extensions, eng.pool.WorkerID(), logger)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	now := time.Now().UTC()
	w := &cluster.Worker{
		ID:          eng.pool.WorkerID(),
		Hostname:    hostname,
		Queues:      eng.config.Queues,
		Concurrency: eng.config.Concurrency,
		State:       cluster.WorkerActive,
		LastSeen:    now,
		CreatedAt:   now,
	}
	if err := cls.RegisterWorker(context.Background(), w); err != nil {
		logger.Warn("failed to register worker in cluster store", slog.String("error", err.Error()))
	}

	return eng, nil
}

func (eng *Engine) enqueueForCron(ctx context.Context, name string, payload []byte, opts ...job.Option) (id.JobID, error) {
	j, err := eng.EnqueueRaw(ctx, name, payload, opts...)
	if err != nil {
		return id.Nil, err
	}
	return j.ID, nil
}

// Register adds an actor. An actor with a cron trigger also gets a cron
// entry; registering the same cron twice is a no-op.
func Register[T any](ctx context.Context, eng *Engine, actor *job.Actor[T]) error {
	job.Register(eng.registry, actor)

	if actor.Opts.CronTrigger == "" {
		return nil
	}
	entry, err := cron.NewEntry(actor.Name, actor.Opts.CronTrigger, actor.Opts.Priority, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("invalid cron trigger %q for actor %q: %w", actor.Opts.CronTrigger, actor.Name, err)
	}
	if err := eng.cronStore.RegisterCron(ctx, entry); err != nil {
		if errors.Is(err, polar.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("register cron for actor %q: %w", actor.Name, err)
	}
	eng.logger.Info("cron registered",
		slog.String("actor", actor.Name),
		slog.String("schedule", entry.Schedule),
		slog.Time("next_run_at", *entry.NextRunAt),
	)
	return nil
}

// Enqueue marshals payload and enqueues a job for the named actor.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for actor %q: %w", name, err)
	}
	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. The actor's
// registered options apply first, then opts.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	entry, ok := eng.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", polar.ErrUnknownActor, name)
	}

	o := entry.Opts
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = eng.config.MaxRetries
	}

	now := time.Now().UTC()
	runAt := now
	switch {
	case !o.RunAt.IsZero():
		runAt = o.RunAt.UTC()
	case o.Delay > 0:
		runAt = now.Add(o.Delay)
	}

	appID, orgID := scope.Capture(ctx)
	j := &job.Job{
		Entity:     polar.NewEntity(),
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      o.ResolveQueue(),
		Payload:    payload,
		State:      job.StatePending,
		Priority:   o.Priority,
		MaxRetries: o.MaxRetries,
		MinBackoff: o.MinBackoff,
		MaxBackoff: o.MaxBackoff,
		Timeout:    o.Timeout,
		ScopeAppID: appID,
		ScopeOrgID: orgID,
	}
	if !o.JobID.IsNil() {
		j.ID = o.JobID
	}

	if key := o.ResolveDebounceKey(payload); key != "" && eng.debouncer != nil {
		j.DebounceKey = key
		runAt = runAt.Add(o.DebounceMin)
		// The record must exist before the job is visible to workers.
		if err := eng.debouncer.Enqueued(ctx, key, j.ID, now, o.DebounceMin, o.DebounceMax); err != nil {
			return nil, err
		}
	}
	j.RunAt = runAt

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}
	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Run calls fn with an enqueue buffer and flushes it through the engine
// when fn succeeds.
func (eng *Engine) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return jobqueue.Run(ctx, eng, fn)
}

// Start starts the cron scheduler, the cluster heartbeat and the worker
// pool.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	eng.heartbeatWG.Add(1)
	go eng.heartbeatLoop(context.WithoutCancel(ctx))
	return eng.rt.Start(ctx)
}

func (eng *Engine) heartbeatLoop(ctx context.Context) {
	defer eng.heartbeatWG.Done()

	interval := eng.config.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-eng.stopHeartbeat:
			return
		case <-ticker.C:
			if err := eng.clusterStore.HeartbeatWorker(ctx, eng.pool.WorkerID()); err != nil {
				eng.logger.Warn("worker heartbeat failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop deregisters the worker, stops the scheduler and drains the pool.
func (eng *Engine) Stop(ctx context.Context) error {
	close(eng.stopHeartbeat)
	eng.heartbeatWG.Wait()

	if err := eng.clusterStore.DeregisterWorker(ctx, eng.pool.WorkerID()); err != nil {
		eng.logger.Warn("failed to deregister worker", slog.String("error", err.Error()))
	}
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}
	return eng.rt.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the actor registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Runtime returns the underlying Runtime.
func (eng *Engine) Runtime() *polar.Runtime { return eng.rt }

// JobStore returns the job store.
func (eng *Engine) JobStore() job.Store { return eng.jobStore }

// DLQService returns the dead letter queue service.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// CronStore returns the cron store.
func (eng *Engine) CronStore() cron.Store { return eng.cronStore }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }

// Locker returns the distributed lock, or nil when the store has none.
func (eng *Engine) Locker() lock.Locker { return eng.locker }

// Metrics returns the lifecycle counters.
func (eng *Engine) Metrics() *observability.MetricsExtension { return eng.metrics }

// QueueManager returns the queue manager, or nil without queue configs.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
