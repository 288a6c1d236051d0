// Package job defines the job entity, its state machine, actors and the
// store interface.
//
// # Job Entity
//
// A [Job] is one deferred invocation of an actor. It carries a JSON payload
// and progresses through a state machine:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → failed (moved to the DLQ)
//	pending → running → skipped (superseded by a newer debounced job)
//	pending → cancelled
//
// The [Priority] of a job selects its queue (high_priority,
// medium_priority, low_priority). Workers poll the queues in that order.
//
// # Actors
//
// An [Actor] is a named, typed handler plus the defaults every job for it
// inherits: priority, retry budget, backoff bounds, an optional cron
// trigger and an optional debounce key:
//
//	var CycleSubscription = job.NewActor("subscription.cycle",
//	    func(ctx context.Context, p CyclePayload) error { ... },
//	    job.WithPriority(job.PriorityMedium),
//	    job.WithMaxRetries(5),
//	)
//
// [Registry] maps actor names to type-erased [HandlerFunc] values plus
// those defaults. The engine package provides engine.Register and
// engine.Enqueue on top of it.
package job
