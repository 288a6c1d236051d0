// Package subscription owns the subscription lifecycle.
//
// A subscription's status follows Stripe's for subscriptions billed
// through Stripe, and Polar's own cycle for the rest. Every change goes
// through one path that compares the state before and after and derives
// the side effects from the difference: webhooks, benefit grants or
// revocations, and a customer state refresh. A change that leaves status,
// period, cancellation and discount untouched produces no side effects.
//
// Changes are serialized per subscription with a lock keyed by the Stripe
// subscription id, so concurrent webhook deliveries cannot both observe
// the same old state and apply their effects twice.
//
// The side-effect jobs of a change are saved on the subscription in the
// same write as the change, then enqueued while the lock is still held
// and cleared. Jobs that fail to enqueue stay saved and go out on the
// next change or cycle of the subscription, so a store error after the
// write cannot lose them.
package subscription

import (
	"context"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/meter"
	"github.com/polarsource/polar-sub002/product"
)

// Status is the lifecycle status of a subscription.
type Status string

const (
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusRevoked           Status = "revoked"
)

// IsBillable reports whether the customer is entitled to benefits.
func (s Status) IsBillable() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a subscription may move from one status
// to another. Revoked is terminal and canceled may only be revoked.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusRevoked:
		return false
	case StatusCanceled:
		return to == StatusRevoked
	default:
		return true
	}
}

// Subscription is a recurring billing relationship between a customer and
// a product.
type Subscription struct {
	polar.Entity

	ID                   id.SubscriptionID `json:"id"`
	OrganizationID       id.OrganizationID `json:"organization_id"`
	CustomerID           id.CustomerID     `json:"customer_id"`
	ProductID            id.ProductID      `json:"product_id"`
	DiscountID           id.DiscountID     `json:"discount_id,omitempty"`
	Status               Status            `json:"status"`
	Amount               int64             `json:"amount"`
	Currency             string            `json:"currency"`
	RecurringInterval    product.Interval  `json:"recurring_interval"`
	IntervalCount        int               `json:"interval_count"`
	Meters               []meter.Price     `json:"meters,omitempty"`
	StartedAt            time.Time         `json:"started_at"`
	CurrentPeriodStart   time.Time         `json:"current_period_start"`
	CurrentPeriodEnd     time.Time         `json:"current_period_end"`
	TrialEnd             *time.Time        `json:"trial_end,omitempty"`
	CancelAtPeriodEnd    bool              `json:"cancel_at_period_end"`
	CanceledAt           *time.Time        `json:"canceled_at,omitempty"`
	EndsAt               *time.Time        `json:"ends_at,omitempty"`
	EndedAt              *time.Time        `json:"ended_at,omitempty"`
	StripeSubscriptionID string            `json:"stripe_subscription_id,omitempty"`

	// PendingEffects are side-effect jobs saved with the change that
	// produced them and not yet enqueued.
	PendingEffects []jobqueue.Record `json:"-"`
}

// LockKey is the key that serializes changes to the subscription.
func (s *Subscription) LockKey() string {
	if s.StripeSubscriptionID != "" {
		return lockKey(s.StripeSubscriptionID)
	}
	return lockKey(s.ID.String())
}

func lockKey(k string) string { return "subscription:" + k }

// Store defines the persistence contract for subscriptions.
type Store interface {
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeID string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error

	// ListDueSubscriptions returns billable subscriptions whose current
	// period ended at or before the given time.
	ListDueSubscriptions(ctx context.Context, before time.Time, limit int) ([]*Subscription, error)

	// ListSubscriptionsByCustomer returns a customer's subscriptions.
	ListSubscriptionsByCustomer(ctx context.Context, customerID id.CustomerID) ([]*Subscription, error)
}
