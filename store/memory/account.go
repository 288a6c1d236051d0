package memory

import (
	"context"
	"slices"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/account"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/product"
)

// CreateOrganization persists a new organization. Slugs are unique.
func (m *Store) CreateOrganization(_ context.Context, o *account.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.organizations {
		if existing.Slug == o.Slug {
			return polar.ErrAlreadyExists
		}
	}
	cp := *o
	m.organizations[o.ID.String()] = &cp
	return nil
}

// GetOrganization retrieves an organization by ID.
func (m *Store) GetOrganization(_ context.Context, orgID id.OrganizationID) (*account.Organization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.organizations[orgID.String()]
	if !ok {
		return nil, polar.ErrOrganizationNotFound
	}
	cp := *o
	return &cp, nil
}

// UpdateOrganization replaces an existing organization.
func (m *Store) UpdateOrganization(_ context.Context, o *account.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := o.ID.String()
	if _, ok := m.organizations[key]; !ok {
		return polar.ErrOrganizationNotFound
	}
	cp := *o
	m.organizations[key] = &cp
	return nil
}

// CreateAccount persists a new payout account.
func (m *Store) CreateAccount(_ context.Context, a *account.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := a.ID.String()
	if _, ok := m.accounts[key]; ok {
		return polar.ErrAlreadyExists
	}
	cp := *a
	m.accounts[key] = &cp
	return nil
}

// GetAccount retrieves an account by ID.
func (m *Store) GetAccount(_ context.Context, accountID id.AccountID) (*account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[accountID.String()]
	if !ok {
		return nil, polar.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

// CreateProduct persists a new product.
func (m *Store) CreateProduct(_ context.Context, p *product.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := p.ID.String()
	if _, ok := m.products[key]; ok {
		return polar.ErrAlreadyExists
	}
	m.products[key] = copyProduct(p)
	return nil
}

// GetProduct retrieves a product by ID.
func (m *Store) GetProduct(_ context.Context, productID id.ProductID) (*product.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products[productID.String()]
	if !ok {
		return nil, polar.ErrProductNotFound
	}
	return copyProduct(p), nil
}

// GetProductByStripeID retrieves a product by its Stripe product ID.
func (m *Store) GetProductByStripeID(_ context.Context, stripeProductID string) (*product.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.products {
		if stripeProductID != "" && p.StripeProductID == stripeProductID {
			return copyProduct(p), nil
		}
	}
	return nil, polar.ErrProductNotFound
}

func copyProduct(p *product.Product) *product.Product {
	cp := *p
	cp.MeterPrices = slices.Clone(p.MeterPrices)
	cp.BenefitIDs = slices.Clone(p.BenefitIDs)
	return &cp
}
