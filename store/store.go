// Package store defines the aggregate persistence interfaces.
//
// Each subsystem defines its own store interface; the composites here
// group them by what a backend has to provide:
//
//   - Runtime: jobs, cron entries, the dead letter queue and cluster
//     membership, plus lifecycle. engine.Build needs one.
//   - Billing: organizations, catalog, subscriptions, orders, the ledger,
//     meters and external events. billing.Register needs one.
//   - Store: both, plus debounce records and locks.
//
// # Backends
//
//   - store/memory: everything, in process, for tests and local runs
//   - store/postgres: Runtime on pgx
//   - store/bun: Billing on bun (Postgres, or SQLite for local runs)
//   - store/redis: debounce records and locks
//   - store/mongo: raw meter events
//
// Call Migrate once at startup to create or update the schema.
package store

import (
	"context"

	"github.com/polarsource/polar-sub002/account"
	"github.com/polarsource/polar-sub002/benefit"
	"github.com/polarsource/polar-sub002/cluster"
	"github.com/polarsource/polar-sub002/cron"
	"github.com/polarsource/polar-sub002/debounce"
	"github.com/polarsource/polar-sub002/discount"
	"github.com/polarsource/polar-sub002/dlq"
	"github.com/polarsource/polar-sub002/externalevent"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/lock"
	"github.com/polarsource/polar-sub002/meter"
	"github.com/polarsource/polar-sub002/order"
	"github.com/polarsource/polar-sub002/product"
	"github.com/polarsource/polar-sub002/subscription"
	"github.com/polarsource/polar-sub002/transaction"
)

// Lifecycle is implemented by every backend.
type Lifecycle interface {
	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Runtime persists the task runtime.
type Runtime interface {
	job.Store
	cron.Store
	dlq.Store
	cluster.Store
	Lifecycle
}

// Billing persists the billing domain.
type Billing interface {
	account.Store
	product.Store
	discount.Store
	benefit.Store
	subscription.Store
	order.Store
	transaction.Store
	meter.Store
	externalevent.Store
}

// Store is a backend that provides everything.
type Store interface {
	Runtime
	Billing
	debounce.Store
	lock.Locker
	meter.EventStore
}
