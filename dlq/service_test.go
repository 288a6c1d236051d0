package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/dlq"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/store/memory"
)

func failedJob(name string, payload []byte) *job.Job {
	return &job.Job{
		Entity:     polar.NewEntity(),
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      polar.QueueMediumPriority,
		Priority:   job.PriorityMedium,
		Payload:    payload,
		State:      job.StateFailed,
		MaxRetries: 10,
		RetryCount: 10,
		ScopeOrgID: "org_test",
		RunAt:      time.Now().UTC(),
	}
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	j := failedJob("webhook.send", []byte(`{"type":"order.paid"}`))
	if err := svc.Push(ctx, j, errors.New("endpoint returned 500")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := svc.List(ctx, dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.JobID.String() != j.ID.String() {
		t.Errorf("JobID = %v, want %v", e.JobID, j.ID)
	}
	if e.JobName != "webhook.send" || e.Priority != job.PriorityMedium {
		t.Errorf("entry = %+v", e)
	}
	if e.Error != "endpoint returned 500" {
		t.Errorf("Error = %q", e.Error)
	}
	if e.RetryCount != 10 || e.ScopeOrgID != "org_test" {
		t.Errorf("RetryCount = %d, ScopeOrgID = %q", e.RetryCount, e.ScopeOrgID)
	}
}

func TestService_Replay(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	j := failedJob("order.created", []byte(`{"order_id":"ord_1"}`))
	if err := svc.Push(ctx, j, errors.New("boom")); err != nil {
		t.Fatal(err)
	}
	entries, _ := svc.List(ctx, dlq.ListOpts{})
	entryID := entries[0].ID

	replayed, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.ID.String() == j.ID.String() {
		t.Error("replay reused the original job ID")
	}
	if replayed.State != job.StatePending || replayed.RetryCount != 0 {
		t.Errorf("replayed job state=%q retries=%d", replayed.State, replayed.RetryCount)
	}

	stored, err := s.GetJob(ctx, replayed.ID)
	if err != nil {
		t.Fatalf("replayed job not in store: %v", err)
	}
	if string(stored.Payload) != `{"order_id":"ord_1"}` || stored.Queue != polar.QueueMediumPriority {
		t.Errorf("stored job = %+v", stored)
	}

	if _, err := svc.Replay(ctx, entryID); !errors.Is(err, polar.ErrInvalidState) {
		t.Errorf("second Replay: got %v, want ErrInvalidState", err)
	}
}

func TestService_Replay_KeepsJobOverrides(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	j := failedJob("webhook.send", []byte(`{}`))
	j.MinBackoff = 5 * time.Second
	j.MaxBackoff = time.Minute
	j.Timeout = 30 * time.Second
	if err := svc.Push(ctx, j, errors.New("endpoint down")); err != nil {
		t.Fatal(err)
	}
	entries, _ := svc.List(ctx, dlq.ListOpts{})

	replayed, err := svc.Replay(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	stored, err := s.GetJob(ctx, replayed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.MinBackoff != 5*time.Second || stored.MaxBackoff != time.Minute || stored.Timeout != 30*time.Second {
		t.Errorf("min=%v max=%v timeout=%v", stored.MinBackoff, stored.MaxBackoff, stored.Timeout)
	}
}

func TestService_Replay_NotFound(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)

	_, err := svc.Replay(context.Background(), id.NewDLQID())
	if !errors.Is(err, polar.ErrDLQNotFound) {
		t.Errorf("got %v, want ErrDLQNotFound", err)
	}
}

func TestService_Purge(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	old := &dlq.Entry{ID: id.NewDLQID(), JobName: "old", FailedAt: time.Now().UTC().Add(-48 * time.Hour)}
	if err := s.PushDLQ(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := svc.Push(ctx, failedJob("recent", nil), errors.New("x")); err != nil {
		t.Fatal(err)
	}

	n, err := svc.Purge(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if c, _ := s.CountDLQ(ctx); c != 1 {
		t.Errorf("remaining = %d, want 1", c)
	}
}
