// Package middleware provides composable middleware for job execution.
//
// A [Middleware] wraps a job handler. Middleware are composed with [Chain]
// and applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
// Built-in middleware:
//
//   - [Recover] converts panics into errors
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-actor duration and outcome
//   - [Logging] logs start and outcome
//   - [Scope] restores the organization scope captured at enqueue time
//   - [Timeout] cancels the job context after the job's timeout
package middleware
