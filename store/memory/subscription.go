package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/subscription"
)

// CreateSubscription persists a new subscription. Stripe IDs are unique.
func (m *Store) CreateSubscription(_ context.Context, s *subscription.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.ID.String()
	if _, ok := m.subscriptions[key]; ok {
		return polar.ErrAlreadyExists
	}
	if s.StripeSubscriptionID != "" {
		for _, existing := range m.subscriptions {
			if existing.StripeSubscriptionID == s.StripeSubscriptionID {
				return polar.ErrAlreadyExists
			}
		}
	}
	m.subscriptions[key] = copySubscription(s)
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (m *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subscriptions[subID.String()]
	if !ok {
		return nil, polar.ErrSubscriptionNotFound
	}
	return copySubscription(s), nil
}

// GetSubscriptionByStripeID retrieves a subscription by its Stripe ID.
func (m *Store) GetSubscriptionByStripeID(_ context.Context, stripeID string) (*subscription.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if stripeID == "" {
		return nil, polar.ErrSubscriptionNotFound
	}
	for _, s := range m.subscriptions {
		if s.StripeSubscriptionID == stripeID {
			return copySubscription(s), nil
		}
	}
	return nil, polar.ErrSubscriptionNotFound
}

// UpdateSubscription replaces an existing subscription.
func (m *Store) UpdateSubscription(_ context.Context, s *subscription.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := s.ID.String()
	if _, ok := m.subscriptions[key]; !ok {
		return polar.ErrSubscriptionNotFound
	}
	m.subscriptions[key] = copySubscription(s)
	return nil
}

// ListDueSubscriptions returns billable subscriptions whose current period
// ended at or before the given time, earliest first.
func (m *Store) ListDueSubscriptions(_ context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*subscription.Subscription
	for _, s := range m.subscriptions {
		if !s.Status.IsBillable() || s.CurrentPeriodEnd.After(before) {
			continue
		}
		result = append(result, copySubscription(s))
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CurrentPeriodEnd.Before(result[k].CurrentPeriodEnd)
	})
	return paginate(result, 0, limit), nil
}

// ListSubscriptionsByCustomer returns a customer's subscriptions, oldest
// first.
func (m *Store) ListSubscriptionsByCustomer(_ context.Context, customerID id.CustomerID) ([]*subscription.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*subscription.Subscription
	for _, s := range m.subscriptions {
		if s.CustomerID.String() == customerID.String() {
			result = append(result, copySubscription(s))
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].StartedAt.Before(result[k].StartedAt)
	})
	return result, nil
}

func copySubscription(s *subscription.Subscription) *subscription.Subscription {
	cp := *s
	cp.Meters = slices.Clone(s.Meters)
	cp.PendingEffects = slices.Clone(s.PendingEffects)
	return &cp
}
