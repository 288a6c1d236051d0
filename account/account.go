// Package account manages organizations and the payout accounts that
// receive their funds.
package account

import (
	"context"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
)

// Organization is a seller on the platform.
type Organization struct {
	polar.Entity

	ID        id.OrganizationID `json:"id"`
	Name      string            `json:"name"`
	Slug      string            `json:"slug"`
	AccountID id.AccountID      `json:"account_id,omitempty"`
}

// HasAccount reports whether a payout account is linked.
func (o *Organization) HasAccount() bool { return !o.AccountID.IsNil() }

// Account is a payout destination, typically a Stripe Connect account.
type Account struct {
	polar.Entity

	ID              id.AccountID `json:"id"`
	StripeAccountID string       `json:"stripe_account_id"`
	Country         string       `json:"country"`
	Currency        string       `json:"currency"`
}

// Store defines the persistence contract for organizations and accounts.
type Store interface {
	CreateOrganization(ctx context.Context, o *Organization) error
	GetOrganization(ctx context.Context, orgID id.OrganizationID) (*Organization, error)
	UpdateOrganization(ctx context.Context, o *Organization) error

	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, accountID id.AccountID) (*Account, error)
}
