package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/polarsource/polar-sub002/job"
)

// Recover returns middleware that converts handler panics into errors.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(ctx, "job handler panicked",
					slog.String("actor", j.Name),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in actor %s: %v", j.Name, r)
			}
		}()
		return next(ctx)
	}
}
