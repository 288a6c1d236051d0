// Package polar is the billing worker of the Polar merchant-of-record
// platform. It couples a durable actor runtime (priority queues, retries,
// cron triggers, debounce, buffered enqueue) with the billing domain that
// runs on top of it: subscriptions, orders, the seller ledger, usage meters
// and inbound/outbound webhooks.
//
// # Quick Start
//
//	rt, err := polar.New(
//	    polar.WithStore(pgStore),
//	    polar.WithConcurrency(20),
//	)
//
// # Architecture
//
// Each subsystem (job, cron, dlq, cluster) and each billing package
// (subscription, order, transaction, meter, externalevent) defines its own
// store interface. A backend implements the ones it serves: the pgx store
// holds the job runtime, the bun store holds billing state, redis holds
// locks and debounce records, mongo holds raw usage events.
//
// Work that must happen after a unit of work commits is buffered with
// jobqueue.Enqueue and flushed by the caller (or by the executor once the
// current job succeeds), so a rolled back transaction never leaks jobs.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package polar
