// Package observability records runtime counters through a go-utils
// MetricFactory. Register MetricsExtension as an extension; per-execution
// tracing and latency live in the middleware package.
package observability

import (
	"context"
	"sync"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/polarsource/polar-sub002/ext"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
)

var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobStarted   = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobDLQ       = (*MetricsExtension)(nil)
	_ ext.JobSkipped   = (*MetricsExtension)(nil)
	_ ext.CronFired    = (*MetricsExtension)(nil)
)

// MetricsExtension counts job lifecycle events, both in total and per
// priority queue.
type MetricsExtension struct {
	JobEnqueued  gu.Counter
	JobStarted   gu.Counter
	JobCompleted gu.Counter
	JobFailed    gu.Counter
	JobRetried   gu.Counter
	JobDLQ       gu.Counter
	JobSkipped   gu.Counter
	CronFired    gu.Counter

	factory gu.MetricFactory

	mu       sync.Mutex
	perQueue map[string]gu.Counter
}

// NewMetricsExtension creates a MetricsExtension backed by a fresh
// collector.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithFactory(gu.NewMetricsCollector("polar/observability"))
}

// NewMetricsExtensionWithFactory creates a MetricsExtension on factory.
func NewMetricsExtensionWithFactory(factory gu.MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		JobEnqueued:  factory.Counter("polar.job.enqueued"),
		JobStarted:   factory.Counter("polar.job.started"),
		JobCompleted: factory.Counter("polar.job.completed"),
		JobFailed:    factory.Counter("polar.job.failed"),
		JobRetried:   factory.Counter("polar.job.retried"),
		JobDLQ:       factory.Counter("polar.job.dlq"),
		JobSkipped:   factory.Counter("polar.job.skipped"),
		CronFired:    factory.Counter("polar.cron.fired"),
		factory:      factory,
		perQueue:     make(map[string]gu.Counter),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// QueueEnqueued returns the enqueue counter of one queue.
func (m *MetricsExtension) QueueEnqueued(queue string) gu.Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.perQueue[queue]
	if !ok {
		c = m.factory.Counter("polar.queue." + queue + ".enqueued")
		m.perQueue[queue] = c
	}
	return c
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(_ context.Context, j *job.Job) error {
	m.JobEnqueued.Inc()
	m.QueueEnqueued(j.Queue).Inc()
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(context.Context, *job.Job) error {
	m.JobStarted.Inc()
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(context.Context, *job.Job, time.Duration) error {
	m.JobCompleted.Inc()
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(context.Context, *job.Job, error) error {
	m.JobFailed.Inc()
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(context.Context, *job.Job, int, time.Time) error {
	m.JobRetried.Inc()
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(context.Context, *job.Job, error) error {
	m.JobDLQ.Inc()
	return nil
}

// OnJobSkipped implements ext.JobSkipped.
func (m *MetricsExtension) OnJobSkipped(context.Context, *job.Job) error {
	m.JobSkipped.Inc()
	return nil
}

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(context.Context, string, id.JobID) error {
	m.CronFired.Inc()
	return nil
}
