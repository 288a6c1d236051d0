// Package memory implements every Polar store interface in process.
//
// All state lives in maps guarded by one RWMutex. Reads return copies so
// callers can mutate results without racing the store. It backs unit
// tests and single-process development runs.
package memory

import (
	"context"
	"sync"
	"time"

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
	"github.com/polarsource/polar-sub002/store"
	"github.com/polarsource/polar-sub002/subscription"
	"github.com/polarsource/polar-sub002/transaction"
)

// Compile-time checks.
var (
	_ store.Store         = (*Store)(nil)
	_ job.Store           = (*Store)(nil)
	_ cron.Store          = (*Store)(nil)
	_ dlq.Store           = (*Store)(nil)
	_ cluster.Store       = (*Store)(nil)
	_ debounce.Store      = (*Store)(nil)
	_ lock.Locker         = (*Store)(nil)
	_ account.Store       = (*Store)(nil)
	_ product.Store       = (*Store)(nil)
	_ discount.Store      = (*Store)(nil)
	_ benefit.Store       = (*Store)(nil)
	_ subscription.Store  = (*Store)(nil)
	_ order.Store         = (*Store)(nil)
	_ transaction.Store   = (*Store)(nil)
	_ meter.Store         = (*Store)(nil)
	_ meter.EventStore    = (*Store)(nil)
	_ externalevent.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	// Runtime.
	jobs      map[string]*job.Job
	crons     map[string]*cron.Entry
	dlqs      map[string]*dlq.Entry
	workers   map[string]*cluster.Worker
	debounces map[string]*debounceRecord
	locks     map[string]*heldLock
	lockSeq   uint64

	leader      string
	leaderUntil time.Time

	// Billing.
	organizations  map[string]*account.Organization
	accounts       map[string]*account.Account
	products       map[string]*product.Product
	discounts      map[string]*discount.Discount
	benefits       map[string]*benefit.Benefit
	grants         map[string]*benefit.Grant // key: subscription:benefit
	subscriptions  map[string]*subscription.Subscription
	orders         map[string]*order.Order
	transactions   map[string]*transaction.Transaction // key: kind:order
	heldBalances   map[string]*transaction.HeldBalance
	meters         map[string]*meter.Meter
	meterEvents    map[string]*meter.Event // key: organization:external_id
	billingEntries map[string]*meter.BillingEntry
	externalEvents map[string]*externalevent.Event
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:      make(map[string]*job.Job),
		crons:     make(map[string]*cron.Entry),
		dlqs:      make(map[string]*dlq.Entry),
		workers:   make(map[string]*cluster.Worker),
		debounces: make(map[string]*debounceRecord),
		locks:     make(map[string]*heldLock),

		organizations:  make(map[string]*account.Organization),
		accounts:       make(map[string]*account.Account),
		products:       make(map[string]*product.Product),
		discounts:      make(map[string]*discount.Discount),
		benefits:       make(map[string]*benefit.Benefit),
		grants:         make(map[string]*benefit.Grant),
		subscriptions:  make(map[string]*subscription.Subscription),
		orders:         make(map[string]*order.Order),
		transactions:   make(map[string]*transaction.Transaction),
		heldBalances:   make(map[string]*transaction.HeldBalance),
		meters:         make(map[string]*meter.Meter),
		meterEvents:    make(map[string]*meter.Event),
		billingEntries: make(map[string]*meter.BillingEntry),
		externalEvents: make(map[string]*externalevent.Event),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
