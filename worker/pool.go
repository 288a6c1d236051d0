package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/ext"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
)

// QueueManager gates dequeued jobs by queue and organization.
// queue.Manager satisfies it.
type QueueManager interface {
	// Acquire reports whether a job of queue and organization may start
	// now. A true result must be paired with Release.
	Acquire(queue, orgID string) bool
	Release(queue, orgID string)
}

// Pool runs concurrency goroutines that each claim one job at a time.
// Queues are listed highest priority first and the store drains them in
// that order, so high_priority work never waits behind low_priority.
type Pool struct {
	store      job.Store
	executor   *Executor
	extensions *ext.Registry
	limits     QueueManager
	logger     *slog.Logger
	workerID   id.WorkerID

	concurrency int
	queues      []string
	idle        time.Duration
	heartbeat   time.Duration
	staleAfter  time.Duration

	mu     sync.Mutex
	stop   context.CancelFunc
	group  *errgroup.Group
	closed bool

	running inflight
}

// inflight tracks the cancel funcs of jobs this worker is executing.
type inflight struct {
	mu   sync.Mutex
	jobs map[string]inflightJob
}

type inflightJob struct {
	id     id.JobID
	cancel context.CancelFunc
}

func (f *inflight) add(j *job.Job, cancel context.CancelFunc) {
	f.mu.Lock()
	f.jobs[j.ID.String()] = inflightJob{id: j.ID, cancel: cancel}
	f.mu.Unlock()
}

func (f *inflight) remove(j *job.Job) {
	f.mu.Lock()
	delete(f.jobs, j.ID.String())
	f.mu.Unlock()
}

func (f *inflight) ids() []id.JobID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]id.JobID, 0, len(f.jobs))
	for _, r := range f.jobs {
		out = append(out, r.id)
	}
	return out
}

func (f *inflight) cancelAll(logger *slog.Logger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, r := range f.jobs {
		logger.Warn("cancelling running job", slog.String("job_id", key))
		r.cancel()
	}
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of dequeue goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues to drain, highest priority first.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long an idle goroutine waits before asking
// the store again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.idle = d }
}

// WithHeartbeatInterval sets how often running jobs are heartbeated.
// Zero disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeat = d }
}

// WithStaleJobThreshold sets how old a running job's heartbeat may get
// before the job is handed back to pending. Zero disables reaping.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleAfter = d }
}

// WithQueueManager sets per-queue and per-organization limits.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.limits = m }
}

// WithWorkerID pins the worker identifier, mainly for tests.
func WithWorkerID(workerID id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:       store,
		executor:    executor,
		extensions:  extensions,
		logger:      logger,
		workerID:    id.NewWorkerID(),
		concurrency: 10,
		queues:      polar.DefaultConfig().Queues,
		idle:        time.Second,
		running:     inflight{jobs: make(map[string]inflightJob)},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the identifier this pool claims jobs under.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the pool in the background. The pool outlives ctx; use
// Stop to end it. Calling Start twice is a no-op.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.group != nil || p.closed {
		return nil
	}

	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	p.stop, p.group = stop, g

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		g.Go(func() error { p.claimLoop(gctx); return nil })
	}
	if p.heartbeat > 0 {
		g.Go(func() error { p.every(gctx, p.heartbeat, p.beat); return nil })
	}
	if p.staleAfter > 0 {
		g.Go(func() error { p.every(gctx, p.staleAfter, p.reap); return nil })
	}
	return nil
}

// Stop ends the claim loops and waits for running jobs. When ctx expires
// first, running jobs are cancelled and Stop waits for them to return.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed || p.group == nil {
		p.closed = true
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	stop, g := p.stop, p.group
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	stop()

	drained := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.logger.Info("worker pool stopped")
	case <-ctx.Done():
		p.logger.Warn("worker pool drain timed out")
		p.running.cancelAll(p.logger)
		<-drained
	}
	return nil
}

// claimLoop runs until ctx is cancelled. Jobs execute on a context that
// is detached from ctx so Stop lets them finish.
func (p *Pool) claimLoop(ctx context.Context) {
	for ctx.Err() == nil {
		claimed, err := p.store.DequeueJobs(ctx, p.queues, 1)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				p.logger.Error("dequeue failed", slog.String("error", err.Error()))
			}
			p.wait(ctx, p.idle)
			continue
		case len(claimed) == 0:
			p.wait(ctx, p.idle)
			continue
		}

		j := claimed[0]
		j.WorkerID = p.workerID
		if !p.admit(j) {
			p.wait(ctx, p.idle)
			continue
		}
		p.run(context.WithoutCancel(ctx), j)
	}
}

// admit checks queue limits. A refused job goes back to pending one poll
// interval in the future.
func (p *Pool) admit(j *job.Job) bool {
	if p.limits == nil || p.limits.Acquire(j.Queue, j.ScopeOrgID) {
		return true
	}
	j.State = job.StatePending
	j.RunAt = time.Now().UTC().Add(p.idle)
	if err := p.store.UpdateJob(context.Background(), j); err != nil {
		p.logger.Error("requeue of limited job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.String("error", err.Error()),
		)
	}
	return false
}

func (p *Pool) run(parent context.Context, j *job.Job) {
	ctx, cancel := context.WithCancel(parent)
	p.running.add(j, cancel)
	defer func() {
		p.running.remove(j)
		cancel()
		if p.limits != nil {
			p.limits.Release(j.Queue, j.ScopeOrgID)
		}
	}()

	p.extensions.EmitJobStarted(ctx, j)
	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) beat(ctx context.Context) {
	for _, jobID := range p.running.ids() {
		if err := p.store.HeartbeatJob(ctx, jobID, p.workerID); err != nil {
			p.logger.Warn("job heartbeat failed",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reap hands jobs of crashed workers back to pending.
func (p *Pool) reap(ctx context.Context) {
	stale, err := p.store.ReapStaleJobs(ctx, p.staleAfter)
	if err != nil {
		p.logger.Error("stale job scan failed", slog.String("error", err.Error()))
		return
	}
	for _, j := range stale {
		j.State = job.StatePending
		j.RunAt = time.Now().UTC()
		j.WorkerID = id.Nil
		j.HeartbeatAt = nil
		j.StartedAt = nil
		if err := p.store.UpdateJob(ctx, j); err != nil {
			p.logger.Error("stale job reset failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Info("stale job requeued",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
		)
	}
}

func (p *Pool) every(ctx context.Context, d time.Duration, fn func(context.Context)) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}

func (p *Pool) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
