package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/polarsource/polar-sub002/cluster"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
)

// EnqueueFunc is the callback the scheduler uses to enqueue jobs.
type EnqueueFunc func(ctx context.Context, name string, payload []byte, opts ...job.Option) (id.JobID, error)

// Emitter emits cron lifecycle events. ext.Registry satisfies it.
type Emitter interface {
	EmitCronFired(ctx context.Context, entryName string, jobID id.JobID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often due entries are checked.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tick = d }
}

// WithLockTTL sets how long a fired entry stays locked if the worker
// dies before releasing it.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithLeaderTTL sets the leadership lease. It is renewed every half TTL.
func WithLeaderTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.leaderTTL = d }
}

// Scheduler turns cron entries into jobs. Only the cluster leader fires,
// and each firing also holds the entry lock, so two workers that briefly
// both believe they lead still enqueue once.
type Scheduler struct {
	entries  Store
	cluster  cluster.Store
	enqueue  EnqueueFunc
	emitter  Emitter
	workerID id.WorkerID
	logger   *slog.Logger

	tick      time.Duration
	lockTTL   time.Duration
	leaderTTL time.Duration

	schedules sync.Map // expression -> cronlib.Schedule

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	entries Store,
	clusterStore cluster.Store,
	enqueue EnqueueFunc,
	emitter Emitter,
	workerID id.WorkerID,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		entries:   entries,
		cluster:   clusterStore,
		enqueue:   enqueue,
		emitter:   emitter,
		workerID:  workerID,
		logger:    logger.With(slog.String("component", "cron")),
		tick:      time.Second,
		lockTTL:   30 * time.Second,
		leaderTTL: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the scheduler in the background until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	s.stop, s.done = stop, make(chan struct{})

	go s.loop(runCtx)
	s.logger.Info("cron scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tick),
	)
	return nil
}

// Stop ends the loop and waits for an in-progress tick.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()
	<-done
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	lease := time.NewTicker(s.leaderTTL / 2)
	defer lease.Stop()
	ticks := time.NewTicker(s.tick)
	defer ticks.Stop()

	s.TryLeadership(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-lease.C:
			s.TryLeadership(ctx)
		case <-ticks.C:
			s.Tick(ctx, time.Now().UTC())
		}
	}
}

// TryLeadership renews this worker's lease, or takes leadership when the
// previous lease has lapsed.
func (s *Scheduler) TryLeadership(ctx context.Context) {
	if ok, err := s.cluster.RenewLeadership(ctx, s.workerID, s.leaderTTL); err != nil {
		s.logger.Warn("leadership renew failed", slog.String("error", err.Error()))
		return
	} else if ok {
		return
	}

	ok, err := s.cluster.AcquireLeadership(ctx, s.workerID, s.leaderTTL)
	switch {
	case err != nil:
		s.logger.Warn("leadership acquire failed", slog.String("error", err.Error()))
	case ok:
		s.logger.Info("cron leadership acquired", slog.String("worker_id", s.workerID.String()))
	}
}

// Tick fires every enabled entry whose next run is at or before now.
// Followers return without reading entries.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if !s.leading(ctx) {
		return
	}
	entries, err := s.entries.ListCrons(ctx)
	if err != nil {
		s.logger.Error("list cron entries failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		if e.Enabled && e.NextRunAt != nil && !e.NextRunAt.After(now) {
			s.fire(ctx, e, now)
		}
	}
}

func (s *Scheduler) leading(ctx context.Context) bool {
	leader, err := s.cluster.GetLeader(ctx)
	if err != nil {
		s.logger.Warn("leader lookup failed", slog.String("error", err.Error()))
		return false
	}
	return leader != nil && leader.ID.String() == s.workerID.String()
}

func (s *Scheduler) fire(ctx context.Context, e *Entry, now time.Time) {
	log := s.logger.With(slog.String("cron_name", e.Name), slog.String("cron_id", e.ID.String()))

	locked, err := s.entries.AcquireCronLock(ctx, e.ID, s.workerID, s.lockTTL)
	if err != nil || !locked {
		if err != nil {
			log.Error("cron lock failed", slog.String("error", err.Error()))
		}
		return
	}
	defer func() {
		if err := s.entries.ReleaseCronLock(ctx, e.ID, s.workerID); err != nil {
			log.Error("cron unlock failed", slog.String("error", err.Error()))
		}
	}()

	jobID, err := s.enqueue(ctx, e.JobName, e.Payload, job.WithPriority(e.Priority))
	if err != nil {
		log.Error("cron enqueue failed", slog.String("error", err.Error()))
		return
	}
	if err := s.advance(ctx, e, now); err != nil {
		log.Error("cron advance failed", slog.String("error", err.Error()))
	}

	if s.emitter != nil {
		s.emitter.EmitCronFired(ctx, e.Name, jobID)
	}
	log.Info("cron fired", slog.String("job_id", jobID.String()))
}

// advance records the run and moves NextRunAt past now.
func (s *Scheduler) advance(ctx context.Context, e *Entry, now time.Time) error {
	if err := s.entries.UpdateCronLastRun(ctx, e.ID, now); err != nil {
		return fmt.Errorf("last run: %w", err)
	}
	sched, err := s.schedule(e.Schedule)
	if err != nil {
		return err
	}
	next := sched.Next(now)
	e.LastRunAt = &now
	e.NextRunAt = &next
	if err := s.entries.UpdateCronEntry(ctx, e); err != nil {
		return fmt.Errorf("next run: %w", err)
	}
	return nil
}

func (s *Scheduler) schedule(expr string) (cronlib.Schedule, error) {
	if v, ok := s.schedules.Load(expr); ok {
		return v.(cronlib.Schedule), nil
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	s.schedules.Store(expr, sched)
	return sched, nil
}
