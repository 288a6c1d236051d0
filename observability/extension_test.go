package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/ext"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/observability"
)

func newTestExtension() *observability.MetricsExtension {
	return observability.NewMetricsExtensionWithFactory(gu.NewMetricsCollector("test"))
}

func newTestJob(queue string) *job.Job {
	return &job.Job{ID: id.NewJobID(), Name: "order.created", Queue: queue}
}

func TestMetricsExtension_Name(t *testing.T) {
	if got := newTestExtension().Name(); got != "observability-metrics" {
		t.Errorf("Name() = %q", got)
	}
}

func TestMetricsExtension_PerQueueEnqueued(t *testing.T) {
	e := newTestExtension()
	ctx := context.Background()

	_ = e.OnJobEnqueued(ctx, newTestJob(polar.QueueHighPriority))
	_ = e.OnJobEnqueued(ctx, newTestJob(polar.QueueHighPriority))
	_ = e.OnJobEnqueued(ctx, newTestJob(polar.QueueLowPriority))

	if v := e.JobEnqueued.Value(); v != 3 {
		t.Errorf("JobEnqueued = %v, want 3", v)
	}
	if v := e.QueueEnqueued(polar.QueueHighPriority).Value(); v != 2 {
		t.Errorf("high queue = %v, want 2", v)
	}
	if v := e.QueueEnqueued(polar.QueueLowPriority).Value(); v != 1 {
		t.Errorf("low queue = %v, want 1", v)
	}
	if v := e.QueueEnqueued(polar.QueueMediumPriority).Value(); v != 0 {
		t.Errorf("medium queue = %v, want 0", v)
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e := newTestExtension()
	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob(polar.QueueMediumPriority)

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitJobDLQ(ctx, j, errors.New("dead"))
	reg.EmitJobSkipped(ctx, j)
	reg.EmitCronFired(ctx, "subscription.cycle_due", id.NewJobID())

	checks := []struct {
		name    string
		counter gu.Counter
	}{
		{"JobEnqueued", e.JobEnqueued},
		{"JobStarted", e.JobStarted},
		{"JobCompleted", e.JobCompleted},
		{"JobFailed", e.JobFailed},
		{"JobRetried", e.JobRetried},
		{"JobDLQ", e.JobDLQ},
		{"JobSkipped", e.JobSkipped},
		{"CronFired", e.CronFired},
	}
	for _, c := range checks {
		if v := c.counter.Value(); v != 1 {
			t.Errorf("%s: want 1, got %v", c.name, v)
		}
	}
}
