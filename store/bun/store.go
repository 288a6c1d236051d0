// Package bunstore persists the billing domain with the Bun ORM. It runs on
// PostgreSQL (pgdialect with pgdriver) in production and on SQLite
// (sqlitedialect with go-sqlite3) for local development and tests.
//
// The caller owns the *bun.DB; Store never closes it.
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	s := bunstore.New(db)
//	if err := s.Migrate(ctx); err != nil { ... }
package bunstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"

	// Registers the "sqlite3" database/sql driver used by OpenSQLite.
	_ "github.com/mattn/go-sqlite3"

	"github.com/polarsource/polar-sub002/store"
)

var _ store.Billing = (*Store)(nil)

// Store implements store.Billing on a *bun.DB.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New wraps db.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenPostgres returns a *bun.DB on PostgreSQL.
func OpenPostgres(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// OpenSQLite returns a *bun.DB on SQLite. Use "file::memory:?cache=shared"
// for an in-memory database.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("polar/bun: open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// DB returns the underlying *bun.DB.
func (s *Store) DB() *bun.DB { return s.db }

var models = []any{
	(*organizationModel)(nil),
	(*accountModel)(nil),
	(*productModel)(nil),
	(*discountModel)(nil),
	(*benefitModel)(nil),
	(*grantModel)(nil),
	(*subscriptionModel)(nil),
	(*orderModel)(nil),
	(*transactionModel)(nil),
	(*heldBalanceModel)(nil),
	(*meterModel)(nil),
	(*billingEntryModel)(nil),
	(*externalEventModel)(nil),
}

type index struct {
	model   any
	name    string
	columns []string
	unique  bool
	where   string
}

var indexes = []index{
	{model: (*productModel)(nil), name: "idx_polar_products_stripe", columns: []string{"stripe_product_id"}},
	{model: (*grantModel)(nil), name: "idx_polar_grants_sub_benefit", columns: []string{"subscription_id", "benefit_id"}, unique: true},
	{model: (*subscriptionModel)(nil), name: "idx_polar_subscriptions_stripe", columns: []string{"stripe_subscription_id"}, unique: true, where: "stripe_subscription_id <> ''"},
	{model: (*subscriptionModel)(nil), name: "idx_polar_subscriptions_due", columns: []string{"status", "current_period_end"}},
	{model: (*subscriptionModel)(nil), name: "idx_polar_subscriptions_customer", columns: []string{"customer_id"}},
	{model: (*orderModel)(nil), name: "idx_polar_orders_invoice", columns: []string{"stripe_invoice_id"}, unique: true, where: "stripe_invoice_id <> ''"},
	{model: (*orderModel)(nil), name: "idx_polar_orders_idempotency", columns: []string{"idempotency_key"}, unique: true, where: "idempotency_key <> ''"},
	{model: (*orderModel)(nil), name: "idx_polar_orders_subscription", columns: []string{"subscription_id"}},
	{model: (*transactionModel)(nil), name: "idx_polar_transactions_kind_order", columns: []string{"kind", "order_id"}, unique: true},
	{model: (*transactionModel)(nil), name: "idx_polar_transactions_org", columns: []string{"organization_id"}},
	{model: (*heldBalanceModel)(nil), name: "idx_polar_held_balances_org", columns: []string{"organization_id"}},
	{model: (*billingEntryModel)(nil), name: "idx_polar_billing_entries_period", columns: []string{"subscription_id", "meter_id", "period_start"}, unique: true},
	{model: (*externalEventModel)(nil), name: "idx_polar_external_events_source", columns: []string{"source", "external_id"}, unique: true},
}

// Migrate creates missing tables and indexes. It is safe to run on every
// start.
func (s *Store) Migrate(ctx context.Context) error {
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("polar/bun: create table for %T: %w", m, err)
		}
	}
	for _, idx := range indexes {
		q := s.db.NewCreateIndex().Model(idx.model).Index(idx.name).IfNotExists().Column(idx.columns...)
		if idx.unique {
			q = q.Unique()
		}
		if idx.where != "" {
			q = q.Where(idx.where)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("polar/bun: create index %s: %w", idx.name, err)
		}
	}
	s.logger.Debug("billing schema ready", slog.Int("tables", len(models)), slog.Int("indexes", len(indexes)))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the caller owns the *bun.DB.
func (s *Store) Close() error { return nil }
