package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/audit"
	"github.com/polarsource/polar-sub002/broker"
	"github.com/polarsource/polar-sub002/engine"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/store/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []*audit.Event
	err    error
}

func (r *recorder) Record(_ context.Context, e *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Action
	}
	return out
}

func testJob() *job.Job {
	return &job.Job{
		ID:         id.NewJobID(),
		Name:       "order.created",
		Queue:      polar.QueueMediumPriority,
		ScopeOrgID: "org_1",
		MaxRetries: 3,
		RetryCount: 3,
	}
}

func TestExtension_Severity(t *testing.T) {
	ctx := context.Background()
	j := testJob()

	tests := []struct {
		name     string
		fire     func(e *audit.Extension) error
		action   string
		severity string
		outcome  string
	}{
		{"enqueued", func(e *audit.Extension) error { return e.OnJobEnqueued(ctx, j) }, audit.ActionJobEnqueued, audit.SeverityInfo, audit.OutcomeSuccess},
		{"completed", func(e *audit.Extension) error { return e.OnJobCompleted(ctx, j, time.Second) }, audit.ActionJobCompleted, audit.SeverityInfo, audit.OutcomeSuccess},
		{"retrying", func(e *audit.Extension) error { return e.OnJobRetrying(ctx, j, 2, time.Now()) }, audit.ActionJobRetrying, audit.SeverityWarning, audit.OutcomeFailure},
		{"skipped", func(e *audit.Extension) error { return e.OnJobSkipped(ctx, j) }, audit.ActionJobSkipped, audit.SeverityWarning, audit.OutcomeSuccess},
		{"dlq", func(e *audit.Extension) error { return e.OnJobDLQ(ctx, j, errors.New("card declined")) }, audit.ActionJobDLQ, audit.SeverityCritical, audit.OutcomeFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			if err := tt.fire(audit.New(rec)); err != nil {
				t.Fatalf("hook returned %v", err)
			}
			if len(rec.events) != 1 {
				t.Fatalf("events = %d, want 1", len(rec.events))
			}
			got := rec.events[0]
			if got.Action != tt.action || got.Severity != tt.severity || got.Outcome != tt.outcome {
				t.Errorf("got %s/%s/%s, want %s/%s/%s", got.Action, got.Severity, got.Outcome, tt.action, tt.severity, tt.outcome)
			}
			if got.OrganizationID != "org_1" {
				t.Errorf("organization = %q", got.OrganizationID)
			}
			if got.Metadata["job_name"] != "order.created" {
				t.Errorf("job_name = %v", got.Metadata["job_name"])
			}
		})
	}
}

func TestExtension_DLQReason(t *testing.T) {
	rec := &recorder{}
	e := audit.New(rec)
	_ = e.OnJobDLQ(context.Background(), testJob(), errors.New("card declined"))
	if rec.events[0].Reason != "card declined" {
		t.Errorf("reason = %q", rec.events[0].Reason)
	}
}

func TestExtension_WithActions(t *testing.T) {
	rec := &recorder{}
	e := audit.New(rec, audit.WithActions(audit.ActionJobDLQ))
	ctx := context.Background()
	j := testJob()

	_ = e.OnJobEnqueued(ctx, j)
	_ = e.OnJobStarted(ctx, j)
	_ = e.OnJobDLQ(ctx, j, errors.New("boom"))

	if got := rec.actions(); len(got) != 1 || got[0] != audit.ActionJobDLQ {
		t.Errorf("actions = %v, want [job.dlq]", got)
	}
}

func TestExtension_RecorderErrorIsSwallowed(t *testing.T) {
	rec := &recorder{err: errors.New("sink down")}
	if err := audit.New(rec).OnJobFailed(context.Background(), testJob(), errors.New("boom")); err != nil {
		t.Errorf("hook returned %v", err)
	}
}

func TestBrokerRecorder(t *testing.T) {
	b := broker.NewMemory()
	e := audit.New(audit.BrokerRecorder(b))
	if err := e.OnCronFired(context.Background(), "subscription.cycle_due", id.NewJobID()); err != nil {
		t.Fatal(err)
	}

	msgs := b.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Topic != audit.Topic || msgs[0].Headers["action"] != audit.ActionCronFired {
		t.Errorf("message = %+v", msgs[0])
	}
	var evt audit.Event
	if err := json.Unmarshal(msgs[0].Data, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.ResourceID != "subscription.cycle_due" {
		t.Errorf("resource_id = %q", evt.ResourceID)
	}
}

func TestExtension_WiredIntoEngine(t *testing.T) {
	rec := &recorder{}
	rt, err := polar.New(polar.WithStore(memory.New()))
	if err != nil {
		t.Fatal(err)
	}
	eng, err := engine.Build(rt, engine.WithExtension(audit.New(rec)))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	noop := func(context.Context, struct{}) error { return nil }
	if err := engine.Register(ctx, eng, job.NewActor("noop", noop)); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.Enqueue(ctx, eng, "noop", struct{}{}); err != nil {
		t.Fatal(err)
	}
	if got := rec.actions(); len(got) != 1 || got[0] != audit.ActionJobEnqueued {
		t.Errorf("actions = %v", got)
	}
}
