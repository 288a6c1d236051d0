package cron_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/polarsource/polar-sub002/cluster"
	"github.com/polarsource/polar-sub002/cron"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/store/memory"
)

type stubEmitter struct {
	mu    sync.Mutex
	names []string
}

func (e *stubEmitter) EmitCronFired(_ context.Context, entryName string, _ id.JobID) {
	e.mu.Lock()
	e.names = append(e.names, entryName)
	e.mu.Unlock()
}

type enqueueCall struct {
	Name     string
	Priority job.Priority
}

type enqueueSpy struct {
	mu    sync.Mutex
	calls []enqueueCall
}

func (e *enqueueSpy) Fn() cron.EnqueueFunc {
	return func(_ context.Context, name string, _ []byte, opts ...job.Option) (id.JobID, error) {
		o := job.DefaultOptions()
		for _, opt := range opts {
			opt(&o)
		}
		e.mu.Lock()
		e.calls = append(e.calls, enqueueCall{Name: name, Priority: o.Priority})
		e.mu.Unlock()
		return id.NewJobID(), nil
	}
}

func (e *enqueueSpy) Calls() []enqueueCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]enqueueCall(nil), e.calls...)
}

// setup registers a worker and returns a scheduler for it.
func setup(t *testing.T, s *memory.Store, spy *enqueueSpy, em *stubEmitter) (*cron.Scheduler, id.WorkerID) {
	t.Helper()
	workerID := id.NewWorkerID()
	w := &cluster.Worker{ID: workerID, State: cluster.WorkerActive, LastSeen: time.Now().UTC(), CreatedAt: time.Now().UTC()}
	if err := s.RegisterWorker(context.Background(), w); err != nil {
		t.Fatal(err)
	}
	return cron.NewScheduler(s, s, spy.Fn(), em, workerID, nil), workerID
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/15 * * * *", false},
		{"15 * * * *", false},
		{"@hourly", false},
		{"* * * * * *", true},
		{"not a schedule", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := cron.ParseSchedule(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSchedule(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestNewEntry(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 7, 0, 0, time.UTC)
	entry, err := cron.NewEntry("subscription.cycle_due", "*/15 * * * *", job.PriorityMedium, now)
	if err != nil {
		t.Fatal(err)
	}
	if entry.JobName != "subscription.cycle_due" || !entry.Enabled {
		t.Errorf("entry = %+v", entry)
	}
	want := time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC)
	if entry.NextRunAt == nil || !entry.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", entry.NextRunAt, want)
	}

	if _, err := cron.NewEntry("bad", "nope", job.PriorityLow, now); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestTickFiresDueEntries(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	spy := &enqueueSpy{}
	em := &stubEmitter{}
	sched, _ := setup(t, s, spy, em)

	now := time.Now().UTC()
	due, err := cron.NewEntry("external_event.resend_unhandled", "15 * * * *", job.PriorityLow, now.Add(-2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	notDue, err := cron.NewEntry("subscription.cycle_due", "@yearly", job.PriorityMedium, now)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range []*cron.Entry{due, notDue} {
		if err := s.RegisterCron(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	sched.TryLeadership(ctx)
	sched.Tick(ctx, now)

	calls := spy.Calls()
	if len(calls) != 1 || calls[0].Name != "external_event.resend_unhandled" {
		t.Fatalf("enqueue calls = %+v", calls)
	}
	if calls[0].Priority != job.PriorityLow {
		t.Errorf("priority = %v, want low", calls[0].Priority)
	}
	if len(em.names) != 1 {
		t.Errorf("emitted %d cron fired events, want 1", len(em.names))
	}

	got, err := s.GetCron(ctx, due.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastRunAt == nil || got.NextRunAt == nil || !got.NextRunAt.After(now) {
		t.Errorf("entry not advanced: last=%v next=%v", got.LastRunAt, got.NextRunAt)
	}

	// The advanced entry is no longer due on the same tick.
	sched.Tick(ctx, now)
	if n := len(spy.Calls()); n != 1 {
		t.Errorf("entry fired again: %d calls", n)
	}
}

func TestTickOnlyOnLeader(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	leaderSpy, followerSpy := &enqueueSpy{}, &enqueueSpy{}
	leader, _ := setup(t, s, leaderSpy, &stubEmitter{})
	follower, _ := setup(t, s, followerSpy, &stubEmitter{})

	now := time.Now().UTC()
	entry, err := cron.NewEntry("subscription.cycle_due", "*/15 * * * *", job.PriorityMedium, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterCron(ctx, entry); err != nil {
		t.Fatal(err)
	}

	leader.TryLeadership(ctx)
	follower.TryLeadership(ctx)

	follower.Tick(ctx, now)
	if n := len(followerSpy.Calls()); n != 0 {
		t.Fatalf("follower fired %d entries", n)
	}
	leader.Tick(ctx, now)
	if n := len(leaderSpy.Calls()); n != 1 {
		t.Fatalf("leader fired %d entries, want 1", n)
	}
}

func TestTickSkipsDisabled(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	spy := &enqueueSpy{}
	sched, _ := setup(t, s, spy, &stubEmitter{})

	now := time.Now().UTC()
	entry, err := cron.NewEntry("subscription.cycle_due", "*/15 * * * *", job.PriorityMedium, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	entry.Enabled = false
	if err := s.RegisterCron(ctx, entry); err != nil {
		t.Fatal(err)
	}

	sched.TryLeadership(ctx)
	sched.Tick(ctx, now)
	if n := len(spy.Calls()); n != 0 {
		t.Errorf("disabled entry fired %d times", n)
	}
}

func TestStartStop(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	spy := &enqueueSpy{}
	workerID := id.NewWorkerID()
	if err := s.RegisterWorker(ctx, &cluster.Worker{ID: workerID, LastSeen: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	sched := cron.NewScheduler(s, s, spy.Fn(), nil, workerID, nil,
		cron.WithTickInterval(10*time.Millisecond),
		cron.WithLeaderTTL(100*time.Millisecond),
	)

	entry, err := cron.NewEntry("held_balance.sweep", "@every 1s", job.PriorityLow, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RegisterCron(ctx, entry); err != nil {
		t.Fatal(err)
	}

	if err := sched.Start(ctx); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(spy.Calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := sched.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if len(spy.Calls()) == 0 {
		t.Error("scheduler never fired the due entry")
	}
}
