// Package benefit grants customers the perks attached to products they pay
// for (license keys, repository access, downloads) and takes them away when
// the subscription stops being billable.
package benefit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/webhook"
)

// Actor names.
const (
	TaskGrant  = "benefit.grant"
	TaskRevoke = "benefit.revoke"
)

// Benefit is a perk an organization attaches to products.
type Benefit struct {
	polar.Entity

	ID             id.BenefitID      `json:"id"`
	OrganizationID id.OrganizationID `json:"organization_id"`
	Type           string            `json:"type"`
	Description    string            `json:"description"`
}

// Grant is the state of one benefit for one subscription. (SubscriptionID,
// BenefitID) is unique.
type Grant struct {
	polar.Entity

	ID             id.BenefitGrantID `json:"id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	CustomerID     id.CustomerID     `json:"customer_id"`
	BenefitID      id.BenefitID      `json:"benefit_id"`
	GrantedAt      *time.Time        `json:"granted_at,omitempty"`
	RevokedAt      *time.Time        `json:"revoked_at,omitempty"`
}

// IsGranted reports whether the customer currently holds the benefit.
func (g *Grant) IsGranted() bool { return g.GrantedAt != nil && g.RevokedAt == nil }

// Store defines the persistence contract for benefits and grants.
type Store interface {
	CreateBenefit(ctx context.Context, b *Benefit) error
	GetBenefit(ctx context.Context, benefitID id.BenefitID) (*Benefit, error)

	// GetGrant returns polar.ErrBenefitGrantNotFound when no grant exists.
	GetGrant(ctx context.Context, subscriptionID id.SubscriptionID, benefitID id.BenefitID) (*Grant, error)
	// UpsertGrant inserts or replaces the grant for its key.
	UpsertGrant(ctx context.Context, g *Grant) error
	ListGrants(ctx context.Context, subscriptionID id.SubscriptionID) ([]*Grant, error)
}

// Payload is the job payload of TaskGrant and TaskRevoke.
type Payload struct {
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	CustomerID     id.CustomerID     `json:"customer_id"`
	OrganizationID id.OrganizationID `json:"organization_id"`
	BenefitID      id.BenefitID      `json:"benefit_id"`
}

// Service applies grants and revocations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a benefit service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Grant gives the benefit to the subscription's customer. Granting an
// already granted benefit is a no-op.
func (s *Service) Grant(ctx context.Context, p Payload) error {
	g, err := s.store.GetGrant(ctx, p.SubscriptionID, p.BenefitID)
	switch {
	case errors.Is(err, polar.ErrBenefitGrantNotFound):
		g = &Grant{
			Entity:         polar.NewEntity(),
			ID:             id.NewBenefitGrantID(),
			SubscriptionID: p.SubscriptionID,
			CustomerID:     p.CustomerID,
			BenefitID:      p.BenefitID,
		}
	case err != nil:
		return fmt.Errorf("polar/benefit: grant: %w", err)
	case g.IsGranted():
		return nil
	}

	now := time.Now().UTC()
	g.GrantedAt = &now
	g.RevokedAt = nil
	g.Touch()
	if err := s.store.UpsertGrant(ctx, g); err != nil {
		return fmt.Errorf("polar/benefit: grant: %w", err)
	}

	s.logger.Info("benefit granted",
		slog.String("subscription_id", p.SubscriptionID.String()),
		slog.String("benefit_id", p.BenefitID.String()),
	)
	return webhook.Enqueue(ctx, webhook.EventBenefitGrantCreated, p.OrganizationID, g)
}

// Revoke takes the benefit away. Revoking a benefit that was never granted
// or is already revoked is a no-op.
func (s *Service) Revoke(ctx context.Context, p Payload) error {
	g, err := s.store.GetGrant(ctx, p.SubscriptionID, p.BenefitID)
	if errors.Is(err, polar.ErrBenefitGrantNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("polar/benefit: revoke: %w", err)
	}
	if !g.IsGranted() {
		return nil
	}

	now := time.Now().UTC()
	g.RevokedAt = &now
	g.Touch()
	if err := s.store.UpsertGrant(ctx, g); err != nil {
		return fmt.Errorf("polar/benefit: revoke: %w", err)
	}

	s.logger.Info("benefit revoked",
		slog.String("subscription_id", p.SubscriptionID.String()),
		slog.String("benefit_id", p.BenefitID.String()),
	)
	return webhook.Enqueue(ctx, webhook.EventBenefitGrantRevoked, p.OrganizationID, g)
}

// GrantActor returns the TaskGrant actor.
func (s *Service) GrantActor() *job.Actor[Payload] {
	return job.NewActor(TaskGrant, s.Grant, job.WithPriority(job.PriorityMedium))
}

// RevokeActor returns the TaskRevoke actor.
func (s *Service) RevokeActor() *job.Actor[Payload] {
	return job.NewActor(TaskRevoke, s.Revoke, job.WithPriority(job.PriorityMedium))
}
