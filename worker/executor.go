// Package worker runs jobs. An Executor invokes one job through the
// middleware chain; a Pool keeps a set of goroutines dequeuing and
// executing jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/backoff"
	"github.com/polarsource/polar-sub002/debounce"
	"github.com/polarsource/polar-sub002/dlq"
	"github.com/polarsource/polar-sub002/ext"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/middleware"
)

// Executor runs a single job and records its outcome.
//
// Every job gets its own jobqueue buffer. Follow-up jobs the handler
// enqueues are flushed only when the handler succeeds, so a failed
// attempt never dispatches them and a retried attempt does not dispatch
// them twice. A flush the enqueuer rejects fails the attempt, and the
// retry runs the handler again.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	debouncer  *debounce.Debouncer
	enqueuer   jobqueue.Enqueuer
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithDebouncer enables skipping of superseded debounced jobs.
func WithDebouncer(d *debounce.Debouncer) ExecutorOption {
	return func(e *Executor) { e.debouncer = d }
}

// WithEnqueuer sets where follow-up jobs are flushed. Without one,
// follow-ups are dropped with a warning.
func WithEnqueuer(q jobqueue.Enqueuer) ExecutorOption {
	return func(e *Executor) { e.enqueuer = q }
}

// WithMiddleware sets the middleware chain.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// NewExecutor creates an Executor.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	bo backoff.Strategy,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	e := &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		backoff:    bo,
		mw:         middleware.Chain(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs j and persists its next state: completed, skipped,
// retrying or failed. The returned error is the handler's, or a store
// error.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	entry, ok := e.registry.Get(j.Name)
	if !ok {
		return e.sendToDLQ(ctx, j, fmt.Errorf("%w: %s", polar.ErrUnknownActor, j.Name))
	}

	if j.DebounceKey != "" && e.debouncer != nil {
		run, err := e.debouncer.ShouldRun(ctx, j.DebounceKey, j.ID, time.Now().UTC(), entry.Opts.DebounceMax)
		if err != nil {
			return e.handleFailure(ctx, j, err, time.Now().UTC())
		}
		if !run {
			return e.skip(ctx, j)
		}
	}

	ctx, buf := jobqueue.Open(ctx)
	terminal := func(ctx context.Context) error {
		return entry.Handler(ctx, j.Payload)
	}

	start := time.Now()
	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)
	now := time.Now().UTC()
	j.UpdatedAt = now

	if err != nil {
		if n := buf.Discard(); n > 0 {
			e.logger.Debug("discarded follow-up jobs of failed job",
				slog.String("job_id", j.ID.String()),
				slog.Int("count", n),
			)
		}
		return e.handleFailure(ctx, j, err, now)
	}

	if err := e.flush(ctx, j, buf); err != nil {
		return e.handleFailure(ctx, j, err, now)
	}
	e.settleDebounce(ctx, j, now)
	return e.handleSuccess(ctx, j, now, elapsed)
}

func (e *Executor) flush(ctx context.Context, j *job.Job, buf *jobqueue.Manager) error {
	if buf.Len() == 0 {
		return nil
	}
	if e.enqueuer == nil {
		e.logger.Warn("no enqueuer configured, dropping follow-up jobs",
			slog.String("job_id", j.ID.String()),
			slog.Int("count", buf.Discard()),
		)
		return nil
	}
	if err := buf.Flush(context.WithoutCancel(ctx), e.enqueuer); err != nil {
		e.logger.Error("failed to flush follow-up jobs",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("polar/worker: flush follow-ups of %s: %w", j.Name, err)
	}
	return nil
}

// settleDebounce releases j's debounce key once j will not run again.
func (e *Executor) settleDebounce(ctx context.Context, j *job.Job, now time.Time) {
	if j.DebounceKey == "" || e.debouncer == nil {
		return
	}
	if err := e.debouncer.Executed(ctx, j.DebounceKey, j.ID, now); err != nil {
		e.logger.Warn("debounce update failed",
			slog.String("job_id", j.ID.String()),
			slog.String("debounce_key", j.DebounceKey),
			slog.String("error", err.Error()),
		)
	}
}

func (e *Executor) skip(ctx context.Context, j *job.Job) error {
	now := time.Now().UTC()
	j.State = job.StateSkipped
	j.CompletedAt = &now
	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update skipped job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	e.extensions.EmitJobSkipped(ctx, j)
	e.logger.Debug("job superseded by a newer one",
		slog.String("job_id", j.ID.String()),
		slog.String("debounce_key", j.DebounceKey),
	)
	return nil
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// handleFailure retries the job or, when it failed permanently or ran out
// of retries, moves it to the DLQ.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.LastError = handlerErr.Error()

	if job.IsPermanent(handlerErr) {
		return e.sendToDLQ(ctx, j, handlerErr)
	}

	j.RetryCount++
	if j.RetryCount <= j.MaxRetries {
		return e.scheduleRetry(ctx, j, handlerErr, now)
	}
	return e.sendToDLQ(ctx, j, handlerErr)
}

func (e *Executor) strategy(j *job.Job) backoff.Strategy {
	if j.MinBackoff > 0 {
		return backoff.NewBounded(j.MinBackoff, j.MaxBackoff)
	}
	return e.backoff
}

func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	delay := e.strategy(j).Delay(j.RetryCount)
	j.RunAt = now.Add(delay)
	j.State = job.StateRetrying
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobRetrying(ctx, j, j.RetryCount, j.RunAt)
	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.RetryCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("polar/worker: %s retry %d/%d: %w", j.Name, j.RetryCount, j.MaxRetries, handlerErr)
}

func (e *Executor) sendToDLQ(ctx context.Context, j *job.Job, handlerErr error) error {
	j.State = job.StateFailed
	j.LastError = handlerErr.Error()

	if err := e.store.UpdateJob(ctx, j); err != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	if e.dlqService != nil {
		if err := e.dlqService.Push(ctx, j, handlerErr); err != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	e.settleDebounce(ctx, j, time.Now().UTC())
	e.extensions.EmitJobFailed(ctx, j, handlerErr)
	e.extensions.EmitJobDLQ(ctx, j, handlerErr)

	e.logger.Warn("job moved to DLQ",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("retry_count", j.RetryCount),
		slog.Bool("permanent", job.IsPermanent(handlerErr)),
		slog.String("error", handlerErr.Error()),
	)
	return handlerErr
}
