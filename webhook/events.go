package webhook

import (
	"context"

	"github.com/xraph/relay"
	"github.com/xraph/relay/catalog"
)

// Outbound event types.
const (
	EventSubscriptionCreated    = "subscription.created"
	EventSubscriptionUpdated    = "subscription.updated"
	EventSubscriptionActive     = "subscription.active"
	EventSubscriptionCanceled   = "subscription.canceled"
	EventSubscriptionUncanceled = "subscription.uncanceled"
	EventSubscriptionRevoked    = "subscription.revoked"
	EventOrderCreated           = "order.created"
	EventOrderPaid              = "order.paid"
	EventBenefitGrantCreated    = "benefit_grant.created"
	EventBenefitGrantRevoked    = "benefit_grant.revoked"
	EventCustomerStateChanged   = "customer.state_changed"
)

const catalogVersion = "2025-06-01"

// AllDefinitions returns the catalog entries for every outbound event type.
func AllDefinitions() []catalog.WebhookDefinition {
	return []catalog.WebhookDefinition{
		{Name: EventSubscriptionCreated, Description: "A customer subscribed to a product.", Group: "subscriptions", Version: catalogVersion},
		{Name: EventSubscriptionUpdated, Description: "A subscription changed.", Group: "subscriptions", Version: catalogVersion},
		{Name: EventSubscriptionActive, Description: "A subscription became active.", Group: "subscriptions", Version: catalogVersion},
		{Name: EventSubscriptionCanceled, Description: "A subscription was canceled or scheduled to cancel.", Group: "subscriptions", Version: catalogVersion},
		{Name: EventSubscriptionUncanceled, Description: "A scheduled cancellation was withdrawn.", Group: "subscriptions", Version: catalogVersion},
		{Name: EventSubscriptionRevoked, Description: "A subscription ended and its benefits were revoked.", Group: "subscriptions", Version: catalogVersion},
		{Name: EventOrderCreated, Description: "An order was created.", Group: "orders", Version: catalogVersion},
		{Name: EventOrderPaid, Description: "An order's payment was recorded.", Group: "orders", Version: catalogVersion},
		{Name: EventBenefitGrantCreated, Description: "A benefit was granted to a customer.", Group: "benefits", Version: catalogVersion},
		{Name: EventBenefitGrantRevoked, Description: "A benefit grant was revoked.", Group: "benefits", Version: catalogVersion},
		{Name: EventCustomerStateChanged, Description: "A customer's subscriptions or benefits changed.", Group: "customers", Version: catalogVersion},
	}
}

// RegisterAll registers every outbound event type in the Relay catalog.
func RegisterAll(ctx context.Context, r *relay.Relay) error {
	for _, def := range AllDefinitions() {
		if _, err := r.RegisterEventType(ctx, def); err != nil {
			return err
		}
	}
	return nil
}
