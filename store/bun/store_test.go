package bunstore_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/account"
	"github.com/polarsource/polar-sub002/benefit"
	"github.com/polarsource/polar-sub002/externalevent"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/meter"
	"github.com/polarsource/polar-sub002/order"
	"github.com/polarsource/polar-sub002/product"
	"github.com/polarsource/polar-sub002/subscription"
	"github.com/polarsource/polar-sub002/transaction"
	bunstore "github.com/polarsource/polar-sub002/store/bun"
)

// newSQLiteStore returns a migrated store on a private in-memory database.
func newSQLiteStore(t *testing.T) *bunstore.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := bunstore.OpenSQLite("file:" + name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := bunstore.New(db)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// base is whole-second UTC so SQLite text timestamps compare in order.
var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func entityAt(t time.Time) polar.Entity {
	return polar.Entity{CreatedAt: t, UpdatedAt: t}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestOrganization_RoundTrip(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	org := &account.Organization{Entity: entityAt(base), ID: id.NewOrganizationID(), Name: "Acme", Slug: "acme"}
	require.NoError(t, s.CreateOrganization(ctx, org))

	got, err := s.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Slug)
	assert.False(t, got.HasAccount())

	dup := &account.Organization{Entity: entityAt(base), ID: id.NewOrganizationID(), Name: "Other", Slug: "acme"}
	assert.ErrorIs(t, s.CreateOrganization(ctx, dup), polar.ErrAlreadyExists)

	acct := &account.Account{Entity: entityAt(base), ID: id.NewAccountID()}
	require.NoError(t, s.CreateAccount(ctx, acct))
	org.AccountID = acct.ID
	require.NoError(t, s.UpdateOrganization(ctx, org))

	got, err = s.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.ID.String(), got.AccountID.String())

	_, err = s.GetOrganization(ctx, id.NewOrganizationID())
	assert.ErrorIs(t, err, polar.ErrOrganizationNotFound)
	assert.ErrorIs(t, s.UpdateOrganization(ctx, dup), polar.ErrOrganizationNotFound)
}

func TestProduct_StripeLookup(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	meterID := id.NewMeterID()
	p := &product.Product{
		Entity:          entityAt(base),
		ID:              id.NewProductID(),
		OrganizationID:  id.NewOrganizationID(),
		Name:            "Pro",
		StripeProductID: "prod_1",
		MeterPrices:     []meter.Price{{MeterID: meterID, UnitAmount: 5}},
		BenefitIDs:      []id.BenefitID{id.NewBenefitID()},
	}
	require.NoError(t, s.CreateProduct(ctx, p))

	got, err := s.GetProductByStripeID(ctx, "prod_1")
	require.NoError(t, err)
	assert.Equal(t, p.ID.String(), got.ID.String())
	require.Len(t, got.MeterPrices, 1)
	assert.Equal(t, meterID.String(), got.MeterPrices[0].MeterID.String())
	assert.Len(t, got.BenefitIDs, 1)

	_, err = s.GetProductByStripeID(ctx, "")
	assert.ErrorIs(t, err, polar.ErrProductNotFound)
}

func TestGrant_UpsertReplaces(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	subID, benefitID := id.NewSubscriptionID(), id.NewBenefitID()
	g := &benefit.Grant{Entity: entityAt(base), ID: id.NewBenefitGrantID(), SubscriptionID: subID, BenefitID: benefitID}
	require.NoError(t, s.UpsertGrant(ctx, g))

	revoked := base.Add(time.Hour)
	g.RevokedAt = &revoked
	require.NoError(t, s.UpsertGrant(ctx, g))

	grants, err := s.ListGrants(ctx, subID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.NotNil(t, grants[0].RevokedAt)
	assert.True(t, grants[0].RevokedAt.Equal(revoked))

	_, err = s.GetGrant(ctx, subID, id.NewBenefitID())
	assert.ErrorIs(t, err, polar.ErrBenefitGrantNotFound)
}

func TestSubscription_DueAndStripeID(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	customer := id.NewCustomerID()

	mk := func(status subscription.Status, end time.Time, stripeID string) *subscription.Subscription {
		sub := &subscription.Subscription{
			Entity:               entityAt(base),
			ID:                   id.NewSubscriptionID(),
			CustomerID:           customer,
			Status:               status,
			Currency:             "usd",
			RecurringInterval:    product.IntervalMonth,
			IntervalCount:        1,
			CurrentPeriodStart:   end.AddDate(0, -1, 0),
			CurrentPeriodEnd:     end,
			StripeSubscriptionID: stripeID,
		}
		require.NoError(t, s.CreateSubscription(ctx, sub))
		return sub
	}
	due := mk(subscription.StatusActive, base.Add(-time.Hour), "sub_a")
	mk(subscription.StatusActive, base.Add(time.Hour), "")
	mk(subscription.StatusCanceled, base.Add(-time.Hour), "")
	trialing := mk(subscription.StatusTrialing, base.Add(-2*time.Hour), "")

	got, err := s.ListDueSubscriptions(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, trialing.ID.String(), got[0].ID.String())
	assert.Equal(t, due.ID.String(), got[1].ID.String())

	byStripe, err := s.GetSubscriptionByStripeID(ctx, "sub_a")
	require.NoError(t, err)
	assert.Equal(t, due.ID.String(), byStripe.ID.String())

	dup := *due
	dup.ID = id.NewSubscriptionID()
	assert.ErrorIs(t, s.CreateSubscription(ctx, &dup), polar.ErrAlreadyExists)

	due.Status = subscription.StatusPastDue
	due.PendingEffects = []jobqueue.Record{{Name: "benefit.revoke", Payload: json.RawMessage(`{"benefit_id":"x"}`), OrgID: "org_1"}}
	require.NoError(t, s.UpdateSubscription(ctx, due))
	reloaded, err := s.GetSubscription(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, reloaded.Status)
	require.Len(t, reloaded.PendingEffects, 1)
	assert.Equal(t, "benefit.revoke", reloaded.PendingEffects[0].Name)
	assert.Equal(t, "org_1", reloaded.PendingEffects[0].OrgID)
	assert.JSONEq(t, `{"benefit_id":"x"}`, string(reloaded.PendingEffects[0].Payload))

	mine, err := s.ListSubscriptionsByCustomer(ctx, customer)
	require.NoError(t, err)
	assert.Len(t, mine, 4)
}

func TestOrder_Uniqueness(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	subID := id.NewSubscriptionID()

	o := &order.Order{
		Entity:          entityAt(base),
		ID:              id.NewOrderID(),
		SubscriptionID:  subID,
		BillingReason:   order.ReasonSubscriptionCreate,
		Total:           1000,
		Currency:        "usd",
		Items:           []order.Item{{Label: "Pro", Amount: 1000}},
		StripeInvoiceID: "in_1",
		IdempotencyKey:  "subscription_create:" + subID.String(),
	}
	require.NoError(t, s.CreateOrder(ctx, o))

	sameInvoice := &order.Order{Entity: entityAt(base), ID: id.NewOrderID(), StripeInvoiceID: "in_1"}
	assert.ErrorIs(t, s.CreateOrder(ctx, sameInvoice), polar.ErrAlreadyExists)

	sameKey := &order.Order{Entity: entityAt(base), ID: id.NewOrderID(), IdempotencyKey: o.IdempotencyKey}
	assert.ErrorIs(t, s.CreateOrder(ctx, sameKey), polar.ErrAlreadyExists)

	// Orders without an invoice or key never collide.
	require.NoError(t, s.CreateOrder(ctx, &order.Order{Entity: entityAt(base), ID: id.NewOrderID()}))
	require.NoError(t, s.CreateOrder(ctx, &order.Order{Entity: entityAt(base), ID: id.NewOrderID()}))

	got, err := s.GetOrderByIdempotencyKey(ctx, o.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, o.ID.String(), got.ID.String())
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(1000), got.Items[0].Amount)

	_, err = s.GetOrderByStripeInvoiceID(ctx, "")
	assert.ErrorIs(t, err, polar.ErrOrderNotFound)

	list, err := s.ListOrdersBySubscription(ctx, subID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTransaction_Ledger(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	orgID, orderID := id.NewOrganizationID(), id.NewOrderID()

	pay := &transaction.Transaction{ID: id.NewTransactionID(), Kind: transaction.KindPayment, OrganizationID: orgID, OrderID: orderID, Amount: 1000, CreatedAt: base}
	require.NoError(t, s.InsertTransaction(ctx, pay))

	again := *pay
	again.ID = id.NewTransactionID()
	assert.ErrorIs(t, s.InsertTransaction(ctx, &again), polar.ErrAlreadyExists)

	bal := &transaction.Transaction{ID: id.NewTransactionID(), Kind: transaction.KindBalance, OrganizationID: orgID, OrderID: orderID, Amount: 950, CreatedAt: base.Add(time.Second)}
	require.NoError(t, s.InsertTransaction(ctx, bal))

	got, err := s.GetTransaction(ctx, transaction.KindBalance, orderID)
	require.NoError(t, err)
	assert.Equal(t, int64(950), got.Amount)

	rows, err := s.ListTransactions(ctx, orgID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, transaction.KindPayment, rows[0].Kind)

	_, err = s.GetTransaction(ctx, transaction.KindPayout, orderID)
	assert.ErrorIs(t, err, polar.ErrTransactionNotFound)
}

func TestHeldBalance_Lifecycle(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	orgID, orderID := id.NewOrganizationID(), id.NewOrderID()

	held := &transaction.HeldBalance{ID: id.NewHeldBalanceID(), OrganizationID: orgID, OrderID: orderID, Amount: 950, CreatedAt: base}
	require.NoError(t, s.InsertHeldBalance(ctx, held))

	other := &transaction.HeldBalance{ID: id.NewHeldBalanceID(), OrganizationID: orgID, OrderID: orderID, CreatedAt: base}
	assert.ErrorIs(t, s.InsertHeldBalance(ctx, other), polar.ErrAlreadyExists)

	list, err := s.ListHeldBalances(ctx, orgID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteHeldBalance(ctx, held.ID))
	_, err = s.GetHeldBalance(ctx, orderID)
	assert.ErrorIs(t, err, polar.ErrHeldBalanceNotFound)
	assert.ErrorIs(t, s.DeleteHeldBalance(ctx, held.ID), polar.ErrHeldBalanceNotFound)
}

func TestBillingEntry_OnePerPeriod(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	m := &meter.Meter{Entity: entityAt(base), ID: id.NewMeterID(), OrganizationID: id.NewOrganizationID(), Name: "API calls"}
	require.NoError(t, s.CreateMeter(ctx, m))
	gotMeter, err := s.GetMeter(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "API calls", gotMeter.Name)

	subID := id.NewSubscriptionID()
	e := &meter.BillingEntry{
		ID:             id.NewBillingEntryID(),
		SubscriptionID: subID,
		MeterID:        m.ID,
		PeriodStart:    base,
		PeriodEnd:      base.AddDate(0, 1, 0),
		Units:          42,
		Amount:         210,
		CreatedAt:      base,
	}
	require.NoError(t, s.InsertBillingEntry(ctx, e))

	dup := *e
	dup.ID = id.NewBillingEntryID()
	assert.ErrorIs(t, s.InsertBillingEntry(ctx, &dup), polar.ErrAlreadyExists)

	got, err := s.GetBillingEntry(ctx, subID, m.ID, base)
	require.NoError(t, err)
	assert.Equal(t, float64(42), got.Units)

	_, err = s.GetBillingEntry(ctx, subID, m.ID, base.AddDate(0, 1, 0))
	assert.ErrorIs(t, err, polar.ErrBillingEntryNotFound)
}

func TestExternalEvent_Handling(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	e := &externalevent.Event{
		ID:         id.NewExternalEventID(),
		Source:     externalevent.SourceStripe,
		Task:       "stripe.webhook.invoice.paid",
		ExternalID: "evt_1",
		Data:       json.RawMessage(`{"id":"evt_1"}`),
		CreatedAt:  base.Add(-time.Hour),
	}
	require.NoError(t, s.InsertExternalEvent(ctx, e))

	dup := *e
	dup.ID = id.NewExternalEventID()
	assert.ErrorIs(t, s.InsertExternalEvent(ctx, &dup), polar.ErrAlreadyExists)

	got, err := s.GetExternalEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(got.Data))
	assert.False(t, got.IsHandled())

	unhandled, err := s.ListUnhandledExternalEvents(ctx, externalevent.SourceStripe, base)
	require.NoError(t, err)
	assert.Len(t, unhandled, 1)

	require.NoError(t, s.MarkExternalEventHandled(ctx, e.ID, base))
	unhandled, err = s.ListUnhandledExternalEvents(ctx, externalevent.SourceStripe, base)
	require.NoError(t, err)
	assert.Empty(t, unhandled)

	assert.ErrorIs(t, s.MarkExternalEventHandled(ctx, id.NewExternalEventID(), base), polar.ErrExternalEventNotFound)
}

func TestGetOrder_NoRowsOnPostgres(t *testing.T) {
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery(`SELECT .* FROM "polar_orders"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	s := bunstore.New(db)
	_, err = s.GetOrder(context.Background(), id.NewOrderID())
	assert.ErrorIs(t, err, polar.ErrOrderNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
