// Package order records completed purchases and subscription renewals.
//
// Orders are immutable. Creating one kicks off a chain of jobs: the
// payment is recorded, the seller's balance is credited, and the
// organization's webhooks are notified. Every step is idempotent, so the
// chain can be re-run for an order without double crediting.
package order

import (
	"context"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
)

// BillingReason records why an order was created.
type BillingReason string

const (
	ReasonPurchase           BillingReason = "purchase"
	ReasonSubscriptionCreate BillingReason = "subscription_create"
	ReasonSubscriptionCycle  BillingReason = "subscription_cycle"
	ReasonSubscriptionUpdate BillingReason = "subscription_update"
)

// Item is one order line. Metered lines carry the meter and units billed.
type Item struct {
	Label   string     `json:"label"`
	Amount  int64      `json:"amount"`
	MeterID id.MeterID `json:"meter_id,omitempty"`
	Units   float64    `json:"units,omitempty"`
}

// Order is an immutable purchase record. Amounts are in minor units.
type Order struct {
	polar.Entity

	ID              id.OrderID        `json:"id"`
	OrganizationID  id.OrganizationID `json:"organization_id"`
	CustomerID      id.CustomerID     `json:"customer_id"`
	ProductID       id.ProductID      `json:"product_id"`
	SubscriptionID  id.SubscriptionID `json:"subscription_id,omitempty"`
	DiscountID      id.DiscountID     `json:"discount_id,omitempty"`
	BillingReason   BillingReason     `json:"billing_reason"`
	Subtotal        int64             `json:"subtotal"`
	Discount        int64             `json:"discount"`
	Tax             int64             `json:"tax"`
	Total           int64             `json:"total"`
	Currency        string            `json:"currency"`
	Items           []Item            `json:"items"`
	StripeInvoiceID string            `json:"stripe_invoice_id,omitempty"`
	IdempotencyKey  string            `json:"idempotency_key,omitempty"`
}

// Store defines the persistence contract for orders.
type Store interface {
	// CreateOrder returns polar.ErrAlreadyExists when StripeInvoiceID or
	// IdempotencyKey is set and already used.
	CreateOrder(ctx context.Context, o *Order) error

	GetOrder(ctx context.Context, orderID id.OrderID) (*Order, error)
	GetOrderByStripeInvoiceID(ctx context.Context, invoiceID string) (*Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*Order, error)

	// ListOrdersBySubscription returns a subscription's orders, oldest first.
	ListOrdersBySubscription(ctx context.Context, subscriptionID id.SubscriptionID) ([]*Order, error)
}
