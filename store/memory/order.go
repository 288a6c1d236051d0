package memory

import (
	"context"
	"slices"
	"sort"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/order"
)

// CreateOrder persists a new order. Stripe invoice IDs and idempotency
// keys are unique when set.
func (m *Store) CreateOrder(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := o.ID.String()
	if _, ok := m.orders[key]; ok {
		return polar.ErrAlreadyExists
	}
	for _, existing := range m.orders {
		if o.StripeInvoiceID != "" && existing.StripeInvoiceID == o.StripeInvoiceID {
			return polar.ErrAlreadyExists
		}
		if o.IdempotencyKey != "" && existing.IdempotencyKey == o.IdempotencyKey {
			return polar.ErrAlreadyExists
		}
	}
	m.orders[key] = copyOrder(o)
	return nil
}

// GetOrder retrieves an order by ID.
func (m *Store) GetOrder(_ context.Context, orderID id.OrderID) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[orderID.String()]
	if !ok {
		return nil, polar.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

// GetOrderByStripeInvoiceID retrieves an order by its Stripe invoice.
func (m *Store) GetOrderByStripeInvoiceID(_ context.Context, invoiceID string) (*order.Order, error) {
	return m.findOrder(func(o *order.Order) bool {
		return invoiceID != "" && o.StripeInvoiceID == invoiceID
	})
}

// GetOrderByIdempotencyKey retrieves an order by its idempotency key.
func (m *Store) GetOrderByIdempotencyKey(_ context.Context, key string) (*order.Order, error) {
	return m.findOrder(func(o *order.Order) bool {
		return key != "" && o.IdempotencyKey == key
	})
}

// ListOrdersBySubscription returns a subscription's orders, oldest first.
func (m *Store) ListOrdersBySubscription(_ context.Context, subscriptionID id.SubscriptionID) ([]*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*order.Order
	for _, o := range m.orders {
		if o.SubscriptionID.String() == subscriptionID.String() {
			result = append(result, copyOrder(o))
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

func (m *Store) findOrder(match func(*order.Order) bool) (*order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, o := range m.orders {
		if match(o) {
			return copyOrder(o), nil
		}
	}
	return nil, polar.ErrOrderNotFound
}

func copyOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	return &cp
}
