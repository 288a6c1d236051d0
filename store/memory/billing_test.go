package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/externalevent"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/meter"
	"github.com/polarsource/polar-sub002/order"
	"github.com/polarsource/polar-sub002/subscription"
	"github.com/polarsource/polar-sub002/transaction"
)

func TestOrderUniqueness(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	o := &order.Order{Entity: polar.NewEntity(), ID: id.NewOrderID(), StripeInvoiceID: "in_1", IdempotencyKey: "subscription_create:sub_1"}
	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		order *order.Order
	}{
		{"same invoice", &order.Order{ID: id.NewOrderID(), StripeInvoiceID: "in_1"}},
		{"same idempotency key", &order.Order{ID: id.NewOrderID(), IdempotencyKey: "subscription_create:sub_1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.CreateOrder(ctx, tt.order); !errors.Is(err, polar.ErrAlreadyExists) {
				t.Errorf("got %v, want ErrAlreadyExists", err)
			}
		})
	}

	got, err := s.GetOrderByIdempotencyKey(ctx, "subscription_create:sub_1")
	if err != nil || got.ID.String() != o.ID.String() {
		t.Fatalf("GetOrderByIdempotencyKey = %v, %v", got, err)
	}
	if _, err := s.GetOrderByStripeInvoiceID(ctx, ""); !errors.Is(err, polar.ErrOrderNotFound) {
		t.Errorf("empty invoice lookup: %v", err)
	}
}

func TestTransactionUniqueness(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	orderID := id.NewOrderID()

	pay := &transaction.Transaction{ID: id.NewTransactionID(), Kind: transaction.KindPayment, OrderID: orderID, Amount: 1000}
	if err := s.InsertTransaction(ctx, pay); err != nil {
		t.Fatal(err)
	}
	again := *pay
	again.ID = id.NewTransactionID()
	if err := s.InsertTransaction(ctx, &again); !errors.Is(err, polar.ErrAlreadyExists) {
		t.Fatalf("duplicate payment: %v", err)
	}
	bal := &transaction.Transaction{ID: id.NewTransactionID(), Kind: transaction.KindBalance, OrderID: orderID, Amount: 1000}
	if err := s.InsertTransaction(ctx, bal); err != nil {
		t.Fatalf("balance for same order: %v", err)
	}

	held := &transaction.HeldBalance{ID: id.NewHeldBalanceID(), OrderID: orderID}
	if err := s.InsertHeldBalance(ctx, held); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertHeldBalance(ctx, &transaction.HeldBalance{ID: id.NewHeldBalanceID(), OrderID: orderID}); !errors.Is(err, polar.ErrAlreadyExists) {
		t.Fatalf("duplicate held balance: %v", err)
	}
	if err := s.DeleteHeldBalance(ctx, held.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetHeldBalance(ctx, orderID); !errors.Is(err, polar.ErrHeldBalanceNotFound) {
		t.Errorf("GetHeldBalance after delete: %v", err)
	}
}

func TestListDueSubscriptions(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(status subscription.Status, end time.Time) *subscription.Subscription {
		sub := &subscription.Subscription{Entity: polar.NewEntity(), ID: id.NewSubscriptionID(), Status: status, CurrentPeriodEnd: end}
		if err := s.CreateSubscription(ctx, sub); err != nil {
			t.Fatal(err)
		}
		return sub
	}
	due := mk(subscription.StatusActive, now.Add(-time.Hour))
	mk(subscription.StatusActive, now.Add(time.Hour))
	mk(subscription.StatusCanceled, now.Add(-time.Hour))
	trialing := mk(subscription.StatusTrialing, now.Add(-2*time.Hour))

	got, err := s.ListDueSubscriptions(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("due = %d, want 2", len(got))
	}
	if got[0].ID.String() != trialing.ID.String() || got[1].ID.String() != due.ID.String() {
		t.Errorf("due order wrong: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestMeterEvents(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	org, cus := id.NewOrganizationID(), id.NewCustomerID()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	events := []*meter.Event{
		{ID: id.NewMeterEventID(), OrganizationID: org, CustomerID: cus, Name: "api.call", ExternalID: "e1", Timestamp: base},
		{ID: id.NewMeterEventID(), OrganizationID: org, CustomerID: cus, Name: "api.call", ExternalID: "e2", Timestamp: base.Add(time.Hour)},
		{ID: id.NewMeterEventID(), OrganizationID: org, CustomerID: cus, Name: "api.call", ExternalID: "e3", Timestamp: base.Add(24 * time.Hour)},
	}
	n, err := s.InsertEvents(ctx, events)
	if err != nil || n != 3 {
		t.Fatalf("InsertEvents = %d, %v", n, err)
	}
	n, _ = s.InsertEvents(ctx, events[:1])
	if n != 0 {
		t.Errorf("re-insert counted %d new events", n)
	}

	got, err := s.ListEvents(ctx, meter.EventFilter{OrganizationID: org, CustomerID: cus, Name: "api.call", Start: base, End: base.Add(24 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("events in [start, end) = %d, want 2", len(got))
	}
}

func TestExternalEvents(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	e := &externalevent.Event{ID: id.NewExternalEventID(), Source: externalevent.SourceStripe, ExternalID: "evt_1", CreatedAt: now.Add(-time.Hour)}
	if err := s.InsertExternalEvent(ctx, e); err != nil {
		t.Fatal(err)
	}
	dup := *e
	dup.ID = id.NewExternalEventID()
	if err := s.InsertExternalEvent(ctx, &dup); !errors.Is(err, polar.ErrAlreadyExists) {
		t.Fatalf("duplicate external ID: %v", err)
	}

	unhandled, _ := s.ListUnhandledExternalEvents(ctx, externalevent.SourceStripe, now)
	if len(unhandled) != 1 {
		t.Fatalf("unhandled = %d, want 1", len(unhandled))
	}
	if err := s.MarkExternalEventHandled(ctx, e.ID, now); err != nil {
		t.Fatal(err)
	}
	unhandled, _ = s.ListUnhandledExternalEvents(ctx, externalevent.SourceStripe, now)
	if len(unhandled) != 0 {
		t.Errorf("unhandled after mark = %d, want 0", len(unhandled))
	}
}
