// Package product defines what organizations sell: one-time or recurring
// prices, metered prices and the benefits a purchase grants.
package product

import (
	"context"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/meter"
)

// Interval is the unit of a recurring billing period.
type Interval string

const (
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// Advance returns t moved forward by count intervals.
func (i Interval) Advance(t time.Time, count int) time.Time {
	if count < 1 {
		count = 1
	}
	switch i {
	case IntervalDay:
		return t.AddDate(0, 0, count)
	case IntervalWeek:
		return t.AddDate(0, 0, 7*count)
	case IntervalYear:
		return t.AddDate(count, 0, 0)
	default:
		return t.AddDate(0, count, 0)
	}
}

// Product is a sellable item.
type Product struct {
	polar.Entity

	ID                id.ProductID      `json:"id"`
	OrganizationID    id.OrganizationID `json:"organization_id"`
	Name              string            `json:"name"`
	Amount            int64             `json:"amount"`
	Currency          string            `json:"currency"`
	RecurringInterval Interval          `json:"recurring_interval,omitempty"`
	IntervalCount     int               `json:"interval_count,omitempty"`
	MeterPrices       []meter.Price     `json:"meter_prices,omitempty"`
	BenefitIDs        []id.BenefitID    `json:"benefit_ids,omitempty"`
	StripeProductID   string            `json:"stripe_product_id,omitempty"`
	IsArchived        bool              `json:"is_archived"`
}

// IsRecurring reports whether the product is sold as a subscription.
func (p *Product) IsRecurring() bool { return p.RecurringInterval != "" }

// Store defines the persistence contract for products.
type Store interface {
	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, productID id.ProductID) (*Product, error)
	GetProductByStripeID(ctx context.Context, stripeProductID string) (*Product, error)
}
