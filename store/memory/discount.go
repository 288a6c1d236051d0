package memory

import (
	"context"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/discount"
	"github.com/polarsource/polar-sub002/id"
)

// CreateDiscount persists a new discount.
func (m *Store) CreateDiscount(_ context.Context, d *discount.Discount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := d.ID.String()
	if _, ok := m.discounts[key]; ok {
		return polar.ErrAlreadyExists
	}
	cp := *d
	m.discounts[key] = &cp
	return nil
}

// GetDiscount retrieves a discount by ID.
func (m *Store) GetDiscount(_ context.Context, discountID id.DiscountID) (*discount.Discount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.discounts[discountID.String()]
	if !ok {
		return nil, polar.ErrDiscountNotFound
	}
	cp := *d
	return &cp, nil
}
