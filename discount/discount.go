// Package discount computes price reductions for orders and subscription
// cycles.
package discount

import (
	"context"
	"errors"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
)

// ErrInvalidDiscount is returned when a discount's fields are inconsistent.
var ErrInvalidDiscount = errors.New("polar/discount: invalid discount")

// Type selects how the discount amount is computed.
type Type string

const (
	TypePercentage Type = "percentage"
	TypeFixed      Type = "fixed"
)

// Duration controls for how many billing cycles a discount applies.
type Duration string

const (
	DurationOnce      Duration = "once"
	DurationForever   Duration = "forever"
	DurationRepeating Duration = "repeating"
)

// Discount is a reduction an organization grants on its products.
type Discount struct {
	polar.Entity

	ID               id.DiscountID     `json:"id"`
	OrganizationID   id.OrganizationID `json:"organization_id"`
	Name             string            `json:"name"`
	Code             string            `json:"code,omitempty"`
	Type             Type              `json:"type"`
	BasisPoints      int               `json:"basis_points,omitempty"`
	Amount           int64             `json:"amount,omitempty"`
	Currency         string            `json:"currency,omitempty"`
	Duration         Duration          `json:"duration"`
	DurationInMonths int               `json:"duration_in_months,omitempty"`
}

// Validate checks the discount is internally consistent.
func (d *Discount) Validate() error {
	switch d.Type {
	case TypePercentage:
		if d.BasisPoints <= 0 || d.BasisPoints > 10_000 {
			return errors.Join(ErrInvalidDiscount, errors.New("basis points must be in (0, 10000]"))
		}
	case TypeFixed:
		if d.Amount <= 0 || d.Currency == "" {
			return errors.Join(ErrInvalidDiscount, errors.New("fixed discount needs a positive amount and a currency"))
		}
	default:
		return errors.Join(ErrInvalidDiscount, errors.New("unknown type "+string(d.Type)))
	}
	switch d.Duration {
	case DurationOnce, DurationForever:
	case DurationRepeating:
		if d.DurationInMonths < 1 {
			return errors.Join(ErrInvalidDiscount, errors.New("repeating discount needs duration_in_months"))
		}
	default:
		return errors.Join(ErrInvalidDiscount, errors.New("unknown duration "+string(d.Duration)))
	}
	return nil
}

// Apply returns the amount subtracted from amount, within [0, amount].
func (d *Discount) Apply(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	var off int64
	switch d.Type {
	case TypePercentage:
		// Round half up in minor units.
		off = (amount*int64(d.BasisPoints) + 5_000) / 10_000
	case TypeFixed:
		off = d.Amount
	}
	return min(max(off, 0), amount)
}

// IsApplicable reports whether the discount still applies to the period
// starting at periodStart of a subscription that started at startedAt.
func (d *Discount) IsApplicable(startedAt, periodStart time.Time) bool {
	switch d.Duration {
	case DurationForever:
		return true
	case DurationOnce:
		return !periodStart.After(startedAt)
	case DurationRepeating:
		return periodStart.Before(startedAt.AddDate(0, d.DurationInMonths, 0))
	default:
		return false
	}
}

// Store defines the persistence contract for discounts.
type Store interface {
	CreateDiscount(ctx context.Context, d *Discount) error
	GetDiscount(ctx context.Context, discountID id.DiscountID) (*Discount, error)
}
