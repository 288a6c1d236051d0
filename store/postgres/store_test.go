//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/cluster"
	"github.com/polarsource/polar-sub002/cron"
	"github.com/polarsource/polar-sub002/dlq"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/store/postgres"
)

func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("polar_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	s, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func newJob(name, queue string, priority job.Priority, runAt time.Time) *job.Job {
	return &job.Job{
		Entity:     polar.NewEntity(),
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      queue,
		Payload:    []byte(`{}`),
		State:      job.StatePending,
		Priority:   priority,
		MaxRetries: 3,
		RunAt:      runAt,
		Timeout:    time.Minute,
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestJobStore_EnqueueAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := newJob("order.created", polar.QueueHighPriority, job.PriorityHigh, time.Now().UTC())
	j.DebounceKey = "customer:1"
	j.MinBackoff = time.Second
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.EnqueueJob(ctx, j); !errors.Is(err, polar.ErrJobAlreadyExists) {
		t.Fatalf("duplicate enqueue: got %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != j.Name || got.Priority != job.PriorityHigh || got.DebounceKey != "customer:1" {
		t.Fatalf("unexpected job: %+v", got)
	}
	if got.MinBackoff != time.Second || got.Timeout != time.Minute {
		t.Fatalf("durations not round-tripped: %v %v", got.MinBackoff, got.Timeout)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, polar.ErrJobNotFound) {
		t.Fatalf("missing job: got %v", err)
	}
}

func TestJobStore_DequeueOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Add(-time.Minute)

	low := newJob("a", polar.QueueLowPriority, job.PriorityLow, now)
	high := newJob("b", polar.QueueHighPriority, job.PriorityHigh, now.Add(time.Second))
	future := newJob("c", polar.QueueHighPriority, job.PriorityHigh, time.Now().Add(time.Hour))
	for _, j := range []*job.Job{low, high, future} {
		if err := s.EnqueueJob(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	queues := []string{polar.QueueHighPriority, polar.QueueMediumPriority, polar.QueueLowPriority}
	got, err := s.DequeueJobs(ctx, queues, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("dequeued %d jobs, want 2", len(got))
	}
	if got[0].ID.String() != high.ID.String() || got[1].ID.String() != low.ID.String() {
		t.Fatalf("wrong order: %s, %s", got[0].Name, got[1].Name)
	}
	if got[0].State != job.StateRunning || got[0].StartedAt == nil {
		t.Fatalf("dequeued job not running: %+v", got[0])
	}

	again, err := s.DequeueJobs(ctx, queues, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("jobs claimed twice: %d", len(again))
	}

	n, err := s.CountJobs(ctx, job.CountOpts{State: job.StateRunning})
	if err != nil || n != 2 {
		t.Fatalf("count running: %d, %v", n, err)
	}
}

func TestJobStore_UpdateListReap(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := newJob("a", polar.QueueLowPriority, job.PriorityLow, time.Now().UTC())
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	stale := time.Now().UTC().Add(-time.Hour)
	j.State = job.StateRunning
	j.HeartbeatAt = &stale
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("update: %v", err)
	}

	reaped, err := s.ReapStaleJobs(ctx, time.Minute)
	if err != nil || len(reaped) != 1 {
		t.Fatalf("reap: %d, %v", len(reaped), err)
	}

	wkr := id.NewWorkerID()
	if err := s.HeartbeatJob(ctx, j.ID, wkr); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	reaped, _ = s.ReapStaleJobs(ctx, time.Minute)
	if len(reaped) != 0 {
		t.Fatalf("heartbeat did not refresh: %d", len(reaped))
	}

	running, err := s.ListJobsByState(ctx, job.StateRunning, job.ListOpts{Limit: 10})
	if err != nil || len(running) != 1 {
		t.Fatalf("list: %d, %v", len(running), err)
	}
	if running[0].WorkerID.String() != wkr.String() {
		t.Fatalf("worker id: got %s", running[0].WorkerID)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteJob(ctx, j.ID); !errors.Is(err, polar.ErrJobNotFound) {
		t.Fatalf("second delete: got %v", err)
	}
}

func TestCronStore_Lock(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry, err := cron.NewEntry("subscription.cycle_due", "*/15 * * * *", job.PriorityMedium, time.Now())
	if err != nil {
		t.Fatalf("new entry: %v", err)
	}
	if err := s.RegisterCron(ctx, entry); err != nil {
		t.Fatalf("register: %v", err)
	}
	dup, _ := cron.NewEntry("subscription.cycle_due", "*/15 * * * *", job.PriorityMedium, time.Now())
	if err := s.RegisterCron(ctx, dup); !errors.Is(err, polar.ErrDuplicateCron) {
		t.Fatalf("duplicate: got %v", err)
	}

	a, b := id.NewWorkerID(), id.NewWorkerID()
	if ok, err := s.AcquireCronLock(ctx, entry.ID, a, time.Minute); err != nil || !ok {
		t.Fatalf("acquire a: %v %v", ok, err)
	}
	if ok, err := s.AcquireCronLock(ctx, entry.ID, b, time.Minute); err != nil || ok {
		t.Fatalf("acquire b while held: %v %v", ok, err)
	}
	if err := s.ReleaseCronLock(ctx, entry.ID, a); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := s.AcquireCronLock(ctx, entry.ID, b, time.Minute); err != nil || !ok {
		t.Fatalf("acquire b after release: %v %v", ok, err)
	}
	if _, err := s.AcquireCronLock(ctx, id.NewCronID(), a, time.Minute); !errors.Is(err, polar.ErrCronNotFound) {
		t.Fatalf("missing entry: got %v", err)
	}

	at := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.UpdateCronLastRun(ctx, entry.ID, at); err != nil {
		t.Fatalf("last run: %v", err)
	}
	entry.Enabled = false
	if err := s.UpdateCronEntry(ctx, entry); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetCron(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Enabled || got.LastRunAt == nil || !got.LastRunAt.Equal(at) {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestDLQStore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := &dlq.Entry{ID: id.NewDLQID(), JobID: id.NewJobID(), JobName: "a", Queue: "q", Payload: []byte(`{}`), FailedAt: now.Add(-48 * time.Hour), CreatedAt: now}
	recent := &dlq.Entry{ID: id.NewDLQID(), JobID: id.NewJobID(), JobName: "b", Queue: "q", Payload: []byte(`{}`), FailedAt: now, CreatedAt: now, MinBackoff: time.Second, Timeout: time.Minute}
	for _, e := range []*dlq.Entry{old, recent} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	list, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %d, %v", len(list), err)
	}
	if list[0].JobName != "b" {
		t.Fatalf("newest first: got %s", list[0].JobName)
	}

	if err := s.ReplayDLQ(ctx, recent.ID); err != nil {
		t.Fatalf("replay: %v", err)
	}
	got, _ := s.GetDLQ(ctx, recent.ID)
	if got.ReplayedAt == nil {
		t.Fatal("replayed_at not set")
	}
	if got.MinBackoff != time.Second || got.Timeout != time.Minute {
		t.Fatalf("durations not round-tripped: %v %v", got.MinBackoff, got.Timeout)
	}

	n, err := s.PurgeDLQ(ctx, now.Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("purge: %d, %v", n, err)
	}
	if c, _ := s.CountDLQ(ctx); c != 1 {
		t.Fatalf("count after purge: %d", c)
	}
}

func TestClusterStore_Leadership(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := &cluster.Worker{ID: id.NewWorkerID(), Hostname: "a", Queues: []string{"q"}, State: cluster.WorkerActive, LastSeen: now, CreatedAt: now}
	b := &cluster.Worker{ID: id.NewWorkerID(), Hostname: "b", Queues: []string{"q"}, State: cluster.WorkerActive, LastSeen: now, CreatedAt: now.Add(time.Millisecond)}
	for _, w := range []*cluster.Worker{a, b} {
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	if ok, err := s.AcquireLeadership(ctx, a.ID, time.Minute); err != nil || !ok {
		t.Fatalf("a acquire: %v %v", ok, err)
	}
	if ok, err := s.AcquireLeadership(ctx, b.ID, time.Minute); err != nil || ok {
		t.Fatalf("b acquire while a leads: %v %v", ok, err)
	}
	if ok, _ := s.RenewLeadership(ctx, b.ID, time.Minute); ok {
		t.Fatal("non-leader renewed")
	}

	leader, err := s.GetLeader(ctx)
	if err != nil || leader == nil || leader.ID.String() != a.ID.String() {
		t.Fatalf("leader: %+v, %v", leader, err)
	}

	if err := s.DeregisterWorker(ctx, a.ID); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if ok, err := s.AcquireLeadership(ctx, b.ID, time.Minute); err != nil || !ok {
		t.Fatalf("b acquire after a left: %v %v", ok, err)
	}

	workers, err := s.ListWorkers(ctx)
	if err != nil || len(workers) != 1 || !workers[0].IsLeader {
		t.Fatalf("workers: %+v, %v", workers, err)
	}
}
