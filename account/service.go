package account

import (
	"context"
	"fmt"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/scope"
)

// TaskReleaseHeldBalances is the actor that moves an organization's held
// balances onto its newly linked account.
const TaskReleaseHeldBalances = "held_balance.release"

// OrganizationPayload identifies the organization a task operates on.
type OrganizationPayload struct {
	OrganizationID id.OrganizationID `json:"organization_id"`
}

// Service implements organization and account operations.
type Service struct {
	store Store
}

// NewService creates an account service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// LinkAccount attaches a payout account to an organization and buffers the
// release of any balance held while the organization had none. Relinking
// the same account is a no-op.
func (s *Service) LinkAccount(ctx context.Context, orgID id.OrganizationID, accountID id.AccountID) (*Organization, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("polar/account: link: %w", err)
	}
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, fmt.Errorf("polar/account: link: %w", err)
	}
	if org.AccountID.String() == accountID.String() {
		return org, nil
	}

	org.AccountID = accountID
	org.Touch()
	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		return nil, fmt.Errorf("polar/account: link: %w", err)
	}

	ctx = scope.WithOrganization(ctx, orgID.String())
	if err := jobqueue.Enqueue(ctx, TaskReleaseHeldBalances, OrganizationPayload{OrganizationID: orgID}); err != nil {
		return nil, fmt.Errorf("polar/account: link: %w", err)
	}
	return org, nil
}

// CreateOrganization persists a new organization.
func (s *Service) CreateOrganization(ctx context.Context, name, slug string) (*Organization, error) {
	org := &Organization{
		Entity: polar.NewEntity(),
		ID:     id.NewOrganizationID(),
		Name:   name,
		Slug:   slug,
	}
	if err := s.store.CreateOrganization(ctx, org); err != nil {
		return nil, fmt.Errorf("polar/account: create organization: %w", err)
	}
	return org, nil
}

// CreateAccount persists a new payout account.
func (s *Service) CreateAccount(ctx context.Context, stripeAccountID, country, currency string) (*Account, error) {
	a := &Account{
		Entity:          polar.NewEntity(),
		ID:              id.NewAccountID(),
		StripeAccountID: stripeAccountID,
		Country:         country,
		Currency:        currency,
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("polar/account: create account: %w", err)
	}
	return a, nil
}
