package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/polarsource/polar-sub002/job"
)

// Logging returns middleware that logs job start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []any{
			slog.String("actor", j.Name),
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.Int("retry_count", j.RetryCount),
		}
		if j.ScopeOrgID != "" {
			attrs = append(attrs, slog.String("organization_id", j.ScopeOrgID))
		}
		logger.DebugContext(ctx, "job started", attrs...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			logger.ErrorContext(ctx, "job failed", append(attrs, slog.String("error", err.Error()))...)
			return err
		}
		logger.InfoContext(ctx, "job completed", attrs...)
		return nil
	}
}
