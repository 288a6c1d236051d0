package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/meter"
)

// CreateMeter persists a new meter.
func (m *Store) CreateMeter(_ context.Context, mt *meter.Meter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := mt.ID.String()
	if _, ok := m.meters[key]; ok {
		return polar.ErrAlreadyExists
	}
	cp := *mt
	m.meters[key] = &cp
	return nil
}

// GetMeter retrieves a meter by ID.
func (m *Store) GetMeter(_ context.Context, meterID id.MeterID) (*meter.Meter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mt, ok := m.meters[meterID.String()]
	if !ok {
		return nil, polar.ErrMeterNotFound
	}
	cp := *mt
	return &cp, nil
}

func billingEntryKey(subID id.SubscriptionID, meterID id.MeterID, periodStart time.Time) string {
	return fmt.Sprintf("%s:%s:%d", subID, meterID, periodStart.Unix())
}

// InsertBillingEntry persists a billing entry, one per subscription, meter
// and period start.
func (m *Store) InsertBillingEntry(_ context.Context, e *meter.BillingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := billingEntryKey(e.SubscriptionID, e.MeterID, e.PeriodStart)
	if _, ok := m.billingEntries[key]; ok {
		return polar.ErrAlreadyExists
	}
	cp := *e
	m.billingEntries[key] = &cp
	return nil
}

// GetBillingEntry returns the entry for a subscription, meter and period.
func (m *Store) GetBillingEntry(_ context.Context, subscriptionID id.SubscriptionID, meterID id.MeterID, periodStart time.Time) (*meter.BillingEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.billingEntries[billingEntryKey(subscriptionID, meterID, periodStart)]
	if !ok {
		return nil, polar.ErrBillingEntryNotFound
	}
	cp := *e
	return &cp, nil
}

// InsertEvents stores events not yet known by (organization, external ID).
func (m *Store) InsertEvents(_ context.Context, events []*meter.Event) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, e := range events {
		key := e.OrganizationID.String() + ":" + e.ExternalID
		if _, ok := m.meterEvents[key]; ok {
			continue
		}
		cp := *e
		cp.Metadata = maps.Clone(e.Metadata)
		m.meterEvents[key] = &cp
		inserted++
	}
	return inserted, nil
}

// ListEvents returns matching events ordered by timestamp. Start is
// inclusive and End exclusive.
func (m *Store) ListEvents(_ context.Context, f meter.EventFilter) ([]*meter.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*meter.Event
	for _, e := range m.meterEvents {
		if !f.OrganizationID.IsNil() && e.OrganizationID.String() != f.OrganizationID.String() {
			continue
		}
		if !f.CustomerID.IsNil() && e.CustomerID.String() != f.CustomerID.String() {
			continue
		}
		if f.Name != "" && e.Name != f.Name {
			continue
		}
		if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
			continue
		}
		if !f.End.IsZero() && !e.Timestamp.Before(f.End) {
			continue
		}
		cp := *e
		cp.Metadata = maps.Clone(e.Metadata)
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].Timestamp.Before(result[k].Timestamp)
	})
	return result, nil
}
