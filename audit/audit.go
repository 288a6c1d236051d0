// Package audit records an audit trail of the task runtime. It is an
// extension: every job and cron lifecycle hook becomes an Event handed to
// a Recorder, tagged with the organization the job ran for.
//
// Terminal failures are critical, retries and superseded jobs warnings,
// everything else info. Filter with WithActions:
//
//	eng, _ := engine.Build(rt, engine.WithExtension(
//	    audit.New(audit.BrokerRecorder(b), audit.WithActions(audit.ActionJobFailed, audit.ActionJobDLQ)),
//	))
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/polarsource/polar-sub002/broker"
	"github.com/polarsource/polar-sub002/ext"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
)

var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobEnqueued  = (*Extension)(nil)
	_ ext.JobStarted   = (*Extension)(nil)
	_ ext.JobCompleted = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
	_ ext.JobRetrying  = (*Extension)(nil)
	_ ext.JobDLQ       = (*Extension)(nil)
	_ ext.JobSkipped   = (*Extension)(nil)
	_ ext.CronFired    = (*Extension)(nil)
)

// Actions, one per lifecycle hook.
const (
	ActionJobEnqueued  = "job.enqueued"
	ActionJobStarted   = "job.started"
	ActionJobCompleted = "job.completed"
	ActionJobFailed    = "job.failed"
	ActionJobRetrying  = "job.retrying"
	ActionJobDLQ       = "job.dlq"
	ActionJobSkipped   = "job.skipped"
	ActionCronFired    = "cron.fired"
)

// Severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Topic is where BrokerRecorder publishes.
const Topic = "polar.audit"

// AllActions returns every action the extension emits.
func AllActions() []string {
	return []string{
		ActionJobEnqueued,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobRetrying,
		ActionJobDLQ,
		ActionJobSkipped,
		ActionCronFired,
	}
}

// Event is one audit record.
type Event struct {
	Action         string         `json:"action"`
	Severity       string         `json:"severity"`
	Outcome        string         `json:"outcome"`
	Resource       string         `json:"resource"`
	ResourceID     string         `json:"resource_id"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	At             time.Time      `json:"at"`
}

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, e *Event) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, e *Event) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, e *Event) error { return f(ctx, e) }

// LogRecorder writes events to logger at a level matching their severity.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, e *Event) error {
		level := slog.LevelInfo
		switch e.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		logger.LogAttrs(ctx, level, "audit",
			slog.String("action", e.Action),
			slog.String("outcome", e.Outcome),
			slog.String("resource_id", e.ResourceID),
			slog.String("organization_id", e.OrganizationID),
			slog.Any("metadata", e.Metadata),
		)
		return nil
	})
}

// BrokerRecorder publishes events on Topic, keyed by organization so that
// one organization's trail stays ordered.
func BrokerRecorder(b broker.MessageBroker) Recorder {
	return RecorderFunc(func(ctx context.Context, e *Event) error {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("polar/audit: marshal: %w", err)
		}
		return b.Publish(ctx, Topic, e.OrganizationID, data, map[string]string{"action": e.Action})
	})
}

// Option configures an Extension.
type Option func(*Extension)

// WithActions records only the listed actions. All are recorded by
// default.
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithLogger sets the logger used when the recorder fails.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

// Extension forwards lifecycle hooks to a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an Extension recording through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit" }

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	e.recordJob(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess, j, nil,
		"run_at", j.RunAt.Format(time.RFC3339))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	e.recordJob(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j, nil,
		"worker_id", j.WorkerID.String())
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	e.recordJob(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess, j, nil,
		"elapsed_ms", elapsed.Milliseconds())
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	e.recordJob(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure, j, jobErr,
		"retry_count", j.RetryCount, "max_retries", j.MaxRetries)
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	e.recordJob(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure, j, nil,
		"attempt", attempt, "next_run_at", nextRunAt.Format(time.RFC3339))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (e *Extension) OnJobDLQ(ctx context.Context, j *job.Job, jobErr error) error {
	e.recordJob(ctx, ActionJobDLQ, SeverityCritical, OutcomeFailure, j, jobErr,
		"retry_count", j.RetryCount)
	return nil
}

// OnJobSkipped implements ext.JobSkipped.
func (e *Extension) OnJobSkipped(ctx context.Context, j *job.Job) error {
	e.recordJob(ctx, ActionJobSkipped, SeverityWarning, OutcomeSuccess, j, nil,
		"debounce_key", j.DebounceKey)
	return nil
}

// OnCronFired implements ext.CronFired.
func (e *Extension) OnCronFired(ctx context.Context, entryName string, jobID id.JobID) error {
	e.record(ctx, &Event{
		Action:     ActionCronFired,
		Severity:   SeverityInfo,
		Outcome:    OutcomeSuccess,
		Resource:   "cron_entry",
		ResourceID: entryName,
		Metadata:   map[string]any{"job_id": jobID.String()},
	})
	return nil
}

func (e *Extension) recordJob(ctx context.Context, action, severity, outcome string, j *job.Job, jobErr error, kv ...any) {
	meta := make(map[string]any, len(kv)/2+2)
	meta["job_name"] = j.Name
	meta["queue"] = j.Queue
	for i := 0; i+1 < len(kv); i += 2 {
		meta[fmt.Sprint(kv[i])] = kv[i+1]
	}
	evt := &Event{
		Action:         action,
		Severity:       severity,
		Outcome:        outcome,
		Resource:       "job",
		ResourceID:     j.ID.String(),
		OrganizationID: j.ScopeOrgID,
		Metadata:       meta,
	}
	if jobErr != nil {
		evt.Reason = jobErr.Error()
	}
	e.record(ctx, evt)
}

// record logs recorder errors instead of returning them.
func (e *Extension) record(ctx context.Context, evt *Event) {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return
	}
	evt.At = e.now()
	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit record failed",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", err.Error()),
		)
	}
}
