package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/order"
	"github.com/polarsource/polar-sub002/subscription"
)

var billableStatuses = []string{
	string(subscription.StatusActive),
	string(subscription.StatusTrialing),
	string(subscription.StatusPastDue),
}

// CreateSubscription persists a new subscription. Stripe IDs are unique.
func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	return s.insert(ctx, "subscription", toSubscriptionModel(sub))
}

// GetSubscription retrieves a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	if err := s.selectOne(ctx, "subscription", m, polar.ErrSubscriptionNotFound, "id = ?", subID.String()); err != nil {
		return nil, err
	}
	return fromSubscriptionModel(m)
}

// GetSubscriptionByStripeID retrieves a subscription by its Stripe ID.
func (s *Store) GetSubscriptionByStripeID(ctx context.Context, stripeID string) (*subscription.Subscription, error) {
	if stripeID == "" {
		return nil, polar.ErrSubscriptionNotFound
	}
	m := new(subscriptionModel)
	if err := s.selectOne(ctx, "subscription", m, polar.ErrSubscriptionNotFound, "stripe_subscription_id = ?", stripeID); err != nil {
		return nil, err
	}
	return fromSubscriptionModel(m)
}

// UpdateSubscription replaces an existing subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return polar.ErrAlreadyExists
		}
		return fmt.Errorf("polar/bun: update subscription: %w", err)
	}
	if affected(res) == 0 {
		return polar.ErrSubscriptionNotFound
	}
	return nil
}

// ListDueSubscriptions returns billable subscriptions whose current period
// ended at or before the given time, earliest first.
func (s *Store) ListDueSubscriptions(ctx context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	var rows []subscriptionModel
	q := s.db.NewSelect().Model(&rows).
		Where("status IN (?)", bun.In(billableStatuses)).
		Where("current_period_end <= ?", before.UTC()).
		Order("current_period_end ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("polar/bun: list due subscriptions: %w", err)
	}
	return fromSubscriptionModels(rows)
}

// ListSubscriptionsByCustomer returns a customer's subscriptions, oldest
// first.
func (s *Store) ListSubscriptionsByCustomer(ctx context.Context, customerID id.CustomerID) ([]*subscription.Subscription, error) {
	var rows []subscriptionModel
	err := s.db.NewSelect().Model(&rows).
		Where("customer_id = ?", customerID.String()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("polar/bun: list subscriptions by customer: %w", err)
	}
	return fromSubscriptionModels(rows)
}

func fromSubscriptionModels(rows []subscriptionModel) ([]*subscription.Subscription, error) {
	out := make([]*subscription.Subscription, 0, len(rows))
	for i := range rows {
		sub, err := fromSubscriptionModel(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, nil
}

// CreateOrder persists a new order. Stripe invoice IDs and idempotency
// keys are unique when set.
func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	return s.insert(ctx, "order", toOrderModel(o))
}

// GetOrder retrieves an order by ID.
func (s *Store) GetOrder(ctx context.Context, orderID id.OrderID) (*order.Order, error) {
	return s.getOrder(ctx, "id = ?", orderID.String())
}

// GetOrderByStripeInvoiceID retrieves an order by its Stripe invoice.
func (s *Store) GetOrderByStripeInvoiceID(ctx context.Context, invoiceID string) (*order.Order, error) {
	if invoiceID == "" {
		return nil, polar.ErrOrderNotFound
	}
	return s.getOrder(ctx, "stripe_invoice_id = ?", invoiceID)
}

// GetOrderByIdempotencyKey retrieves an order by its idempotency key.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	if key == "" {
		return nil, polar.ErrOrderNotFound
	}
	return s.getOrder(ctx, "idempotency_key = ?", key)
}

func (s *Store) getOrder(ctx context.Context, where string, arg any) (*order.Order, error) {
	m := new(orderModel)
	if err := s.selectOne(ctx, "order", m, polar.ErrOrderNotFound, where, arg); err != nil {
		return nil, err
	}
	return fromOrderModel(m)
}

// ListOrdersBySubscription returns a subscription's orders, oldest first.
func (s *Store) ListOrdersBySubscription(ctx context.Context, subscriptionID id.SubscriptionID) ([]*order.Order, error) {
	var rows []orderModel
	err := s.db.NewSelect().Model(&rows).
		Where("subscription_id = ?", subscriptionID.String()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("polar/bun: list orders: %w", err)
	}
	out := make([]*order.Order, 0, len(rows))
	for i := range rows {
		o, convErr := fromOrderModel(&rows[i])
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, o)
	}
	return out, nil
}
