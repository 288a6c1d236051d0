package bunstore

import (
	"context"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/meter"
)

// CreateMeter persists a new meter.
func (s *Store) CreateMeter(ctx context.Context, mt *meter.Meter) error {
	return s.insert(ctx, "meter", toMeterModel(mt))
}

// GetMeter retrieves a meter by ID.
func (s *Store) GetMeter(ctx context.Context, meterID id.MeterID) (*meter.Meter, error) {
	m := new(meterModel)
	if err := s.selectOne(ctx, "meter", m, polar.ErrMeterNotFound, "id = ?", meterID.String()); err != nil {
		return nil, err
	}
	return fromMeterModel(m)
}

// InsertBillingEntry persists a billing entry, one per subscription, meter
// and period start.
func (s *Store) InsertBillingEntry(ctx context.Context, e *meter.BillingEntry) error {
	return s.insert(ctx, "billing entry", toBillingEntryModel(e))
}

// GetBillingEntry returns the entry for a subscription, meter and period.
func (s *Store) GetBillingEntry(ctx context.Context, subscriptionID id.SubscriptionID, meterID id.MeterID, periodStart time.Time) (*meter.BillingEntry, error) {
	m := new(billingEntryModel)
	err := s.selectOne(ctx, "billing entry", m, polar.ErrBillingEntryNotFound,
		"subscription_id = ? AND meter_id = ? AND period_start = ?",
		subscriptionID.String(), meterID.String(), periodStart.UTC())
	if err != nil {
		return nil, err
	}
	return fromBillingEntryModel(m)
}
