package memory

import (
	"context"
	"sort"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/benefit"
	"github.com/polarsource/polar-sub002/id"
)

func grantKey(subID id.SubscriptionID, benefitID id.BenefitID) string {
	return subID.String() + ":" + benefitID.String()
}

// CreateBenefit persists a new benefit.
func (m *Store) CreateBenefit(_ context.Context, b *benefit.Benefit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := b.ID.String()
	if _, ok := m.benefits[key]; ok {
		return polar.ErrAlreadyExists
	}
	cp := *b
	m.benefits[key] = &cp
	return nil
}

// GetBenefit retrieves a benefit by ID.
func (m *Store) GetBenefit(_ context.Context, benefitID id.BenefitID) (*benefit.Benefit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.benefits[benefitID.String()]
	if !ok {
		return nil, polar.ErrBenefitNotFound
	}
	cp := *b
	return &cp, nil
}

// GetGrant returns the grant of a benefit to a subscription.
func (m *Store) GetGrant(_ context.Context, subscriptionID id.SubscriptionID, benefitID id.BenefitID) (*benefit.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.grants[grantKey(subscriptionID, benefitID)]
	if !ok {
		return nil, polar.ErrBenefitGrantNotFound
	}
	cp := *g
	return &cp, nil
}

// UpsertGrant inserts or replaces the grant for (subscription, benefit).
func (m *Store) UpsertGrant(_ context.Context, g *benefit.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *g
	m.grants[grantKey(g.SubscriptionID, g.BenefitID)] = &cp
	return nil
}

// ListGrants returns a subscription's grants, oldest first.
func (m *Store) ListGrants(_ context.Context, subscriptionID id.SubscriptionID) ([]*benefit.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*benefit.Grant
	for _, g := range m.grants {
		if g.SubscriptionID.String() != subscriptionID.String() {
			continue
		}
		cp := *g
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}
