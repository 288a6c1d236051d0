package middleware

import (
	"context"

	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/scope"
)

// Scope returns middleware that restores the organization scope captured
// when the job was enqueued.
func Scope() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return next(scope.Restore(ctx, j.ScopeAppID, j.ScopeOrgID))
	}
}
