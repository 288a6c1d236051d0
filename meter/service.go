package meter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
)

// ErrInvalidEvent is returned by Ingest for events missing required fields.
var ErrInvalidEvent = errors.New("polar/meter: invalid event")

// Price bills a meter's units at UnitAmount minor units each.
type Price struct {
	MeterID    id.MeterID `json:"meter_id"`
	UnitAmount int64      `json:"unit_amount"`
}

// Usage identifies what CreateBillingEntries bills.
type Usage struct {
	SubscriptionID id.SubscriptionID
	OrganizationID id.OrganizationID
	CustomerID     id.CustomerID
	Currency       string
	Prices         []Price
}

// Service ingests and aggregates usage.
type Service struct {
	store  Store
	events EventStore
}

// NewService creates a meter service.
func NewService(store Store, events EventStore) *Service {
	return &Service{store: store, events: events}
}

// Store returns the meter store.
func (s *Service) Store() Store { return s.store }

// Ingest validates and stores events, skipping already ingested external
// ids. It returns how many events were new.
func (s *Service) Ingest(ctx context.Context, events []*Event) (int, error) {
	for i, e := range events {
		if e.OrganizationID.IsNil() || e.CustomerID.IsNil() || e.Name == "" || e.ExternalID == "" {
			return 0, fmt.Errorf("%w: event %d needs organization, customer, name and external id", ErrInvalidEvent, i)
		}
		if e.ID.IsNil() {
			e.ID = id.NewMeterEventID()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
	}
	n, err := s.events.InsertEvents(ctx, events)
	if err != nil {
		return 0, fmt.Errorf("polar/meter: ingest: %w", err)
	}
	return n, nil
}

// Aggregate reduces a customer's events for m within [start, end) to units.
func (s *Service) Aggregate(ctx context.Context, m *Meter, customerID id.CustomerID, start, end time.Time) (float64, error) {
	events, err := s.events.ListEvents(ctx, EventFilter{
		OrganizationID: m.OrganizationID,
		CustomerID:     customerID,
		Name:           m.EventName,
		Start:          start,
		End:            end,
	})
	if err != nil {
		return 0, fmt.Errorf("polar/meter: aggregate %s: %w", m.Name, err)
	}
	return aggregate(m, events), nil
}

func aggregate(m *Meter, events []*Event) float64 {
	switch m.Aggregation {
	case AggregationSum:
		var total float64
		for _, e := range events {
			if v, ok := number(e.Metadata[m.Property]); ok {
				total += v
			}
		}
		return total
	case AggregationMax:
		var peak float64
		for _, e := range events {
			if v, ok := number(e.Metadata[m.Property]); ok && v > peak {
				peak = v
			}
		}
		return peak
	case AggregationUnique:
		seen := make(map[string]struct{})
		for _, e := range events {
			if v, ok := e.Metadata[m.Property]; ok {
				seen[fmt.Sprint(v)] = struct{}{}
			}
		}
		return float64(len(seen))
	default:
		return float64(len(events))
	}
}

// number accepts the numeric types JSON and BSON decoding produce.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// CreateBillingEntries aggregates each metered price over [start, end) and
// stores one entry per meter. Entries that already exist for the period
// are returned unchanged, so the call is safe to repeat.
func (s *Service) CreateBillingEntries(ctx context.Context, u Usage, start, end time.Time) ([]*BillingEntry, error) {
	entries := make([]*BillingEntry, len(u.Prices))

	g, gctx := errgroup.WithContext(ctx)
	for i, price := range u.Prices {
		g.Go(func() error {
			e, err := s.billingEntry(gctx, u, price, start, end)
			if err != nil {
				return err
			}
			entries[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) billingEntry(ctx context.Context, u Usage, price Price, start, end time.Time) (*BillingEntry, error) {
	existing, err := s.store.GetBillingEntry(ctx, u.SubscriptionID, price.MeterID, start)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, polar.ErrBillingEntryNotFound) {
		return nil, fmt.Errorf("polar/meter: billing entry: %w", err)
	}

	m, err := s.store.GetMeter(ctx, price.MeterID)
	if err != nil {
		return nil, fmt.Errorf("polar/meter: billing entry: %w", err)
	}
	units, err := s.Aggregate(ctx, m, u.CustomerID, start, end)
	if err != nil {
		return nil, err
	}

	e := &BillingEntry{
		ID:             id.NewBillingEntryID(),
		SubscriptionID: u.SubscriptionID,
		CustomerID:     u.CustomerID,
		MeterID:        price.MeterID,
		PeriodStart:    start,
		PeriodEnd:      end,
		Units:          units,
		UnitAmount:     price.UnitAmount,
		Amount:         int64(math.Round(units * float64(price.UnitAmount))),
		Currency:       u.Currency,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.InsertBillingEntry(ctx, e); err != nil {
		if errors.Is(err, polar.ErrAlreadyExists) {
			return s.store.GetBillingEntry(ctx, u.SubscriptionID, price.MeterID, start)
		}
		return nil, fmt.Errorf("polar/meter: billing entry: %w", err)
	}
	return e, nil
}
