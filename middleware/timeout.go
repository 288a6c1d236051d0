package middleware

import (
	"context"

	"github.com/polarsource/polar-sub002/job"
)

// Timeout returns middleware that enforces the job's execution deadline.
// A zero Timeout leaves the context untouched.
func Timeout() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()
		return next(ctx)
	}
}
