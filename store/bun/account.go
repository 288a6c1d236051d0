package bunstore

import (
	"context"
	"fmt"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/account"
	"github.com/polarsource/polar-sub002/benefit"
	"github.com/polarsource/polar-sub002/discount"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/product"
)

// insert runs an INSERT for model, mapping unique violations to
// polar.ErrAlreadyExists.
func (s *Store) insert(ctx context.Context, what string, model any) error {
	if _, err := s.db.NewInsert().Model(model).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return polar.ErrAlreadyExists
		}
		return fmt.Errorf("polar/bun: insert %s: %w", what, err)
	}
	return nil
}

// selectOne scans the row matching where into model, mapping no rows to
// notFound.
func (s *Store) selectOne(ctx context.Context, what string, model any, notFound error, where string, args ...any) error {
	err := s.db.NewSelect().Model(model).Where(where, args...).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return notFound
		}
		return fmt.Errorf("polar/bun: get %s: %w", what, err)
	}
	return nil
}

// CreateOrganization persists a new organization. Slugs are unique.
func (s *Store) CreateOrganization(ctx context.Context, o *account.Organization) error {
	return s.insert(ctx, "organization", toOrganizationModel(o))
}

// GetOrganization retrieves an organization by ID.
func (s *Store) GetOrganization(ctx context.Context, orgID id.OrganizationID) (*account.Organization, error) {
	m := new(organizationModel)
	if err := s.selectOne(ctx, "organization", m, polar.ErrOrganizationNotFound, "id = ?", orgID.String()); err != nil {
		return nil, err
	}
	return fromOrganizationModel(m)
}

// UpdateOrganization replaces an existing organization.
func (s *Store) UpdateOrganization(ctx context.Context, o *account.Organization) error {
	m := toOrganizationModel(o)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("polar/bun: update organization: %w", err)
	}
	if affected(res) == 0 {
		return polar.ErrOrganizationNotFound
	}
	return nil
}

// CreateAccount persists a new payout account.
func (s *Store) CreateAccount(ctx context.Context, a *account.Account) error {
	return s.insert(ctx, "account", toAccountModel(a))
}

// GetAccount retrieves an account by ID.
func (s *Store) GetAccount(ctx context.Context, accountID id.AccountID) (*account.Account, error) {
	m := new(accountModel)
	if err := s.selectOne(ctx, "account", m, polar.ErrAccountNotFound, "id = ?", accountID.String()); err != nil {
		return nil, err
	}
	return fromAccountModel(m)
}

// CreateProduct persists a new product.
func (s *Store) CreateProduct(ctx context.Context, p *product.Product) error {
	return s.insert(ctx, "product", toProductModel(p))
}

// GetProduct retrieves a product by ID.
func (s *Store) GetProduct(ctx context.Context, productID id.ProductID) (*product.Product, error) {
	m := new(productModel)
	if err := s.selectOne(ctx, "product", m, polar.ErrProductNotFound, "id = ?", productID.String()); err != nil {
		return nil, err
	}
	return fromProductModel(m)
}

// GetProductByStripeID retrieves a product by its Stripe product ID.
func (s *Store) GetProductByStripeID(ctx context.Context, stripeProductID string) (*product.Product, error) {
	if stripeProductID == "" {
		return nil, polar.ErrProductNotFound
	}
	m := new(productModel)
	if err := s.selectOne(ctx, "product", m, polar.ErrProductNotFound, "stripe_product_id = ?", stripeProductID); err != nil {
		return nil, err
	}
	return fromProductModel(m)
}

// CreateDiscount persists a new discount.
func (s *Store) CreateDiscount(ctx context.Context, d *discount.Discount) error {
	return s.insert(ctx, "discount", toDiscountModel(d))
}

// GetDiscount retrieves a discount by ID.
func (s *Store) GetDiscount(ctx context.Context, discountID id.DiscountID) (*discount.Discount, error) {
	m := new(discountModel)
	if err := s.selectOne(ctx, "discount", m, polar.ErrDiscountNotFound, "id = ?", discountID.String()); err != nil {
		return nil, err
	}
	return fromDiscountModel(m)
}

// CreateBenefit persists a new benefit.
func (s *Store) CreateBenefit(ctx context.Context, b *benefit.Benefit) error {
	return s.insert(ctx, "benefit", toBenefitModel(b))
}

// GetBenefit retrieves a benefit by ID.
func (s *Store) GetBenefit(ctx context.Context, benefitID id.BenefitID) (*benefit.Benefit, error) {
	m := new(benefitModel)
	if err := s.selectOne(ctx, "benefit", m, polar.ErrBenefitNotFound, "id = ?", benefitID.String()); err != nil {
		return nil, err
	}
	return fromBenefitModel(m)
}

// GetGrant returns the grant of a benefit to a subscription.
func (s *Store) GetGrant(ctx context.Context, subscriptionID id.SubscriptionID, benefitID id.BenefitID) (*benefit.Grant, error) {
	m := new(grantModel)
	err := s.selectOne(ctx, "grant", m, polar.ErrBenefitGrantNotFound,
		"subscription_id = ? AND benefit_id = ?", subscriptionID.String(), benefitID.String())
	if err != nil {
		return nil, err
	}
	return fromGrantModel(m)
}

// UpsertGrant inserts or replaces the grant for (subscription, benefit).
func (s *Store) UpsertGrant(ctx context.Context, g *benefit.Grant) error {
	_, err := s.db.NewInsert().Model(toGrantModel(g)).
		On("CONFLICT (subscription_id, benefit_id) DO UPDATE").
		Set("customer_id = EXCLUDED.customer_id").
		Set("granted_at = EXCLUDED.granted_at").
		Set("revoked_at = EXCLUDED.revoked_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("polar/bun: upsert grant: %w", err)
	}
	return nil
}

// ListGrants returns a subscription's grants, oldest first.
func (s *Store) ListGrants(ctx context.Context, subscriptionID id.SubscriptionID) ([]*benefit.Grant, error) {
	var rows []grantModel
	err := s.db.NewSelect().Model(&rows).
		Where("subscription_id = ?", subscriptionID.String()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("polar/bun: list grants: %w", err)
	}
	out := make([]*benefit.Grant, 0, len(rows))
	for i := range rows {
		g, convErr := fromGrantModel(&rows[i])
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, g)
	}
	return out, nil
}
