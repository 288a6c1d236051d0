// Package meter turns customer usage events into billable units.
//
// Events are ingested with an external id so that clients can retry
// without double counting. At the end of each subscription period the
// events matching each metered price are aggregated into one billing
// entry per (subscription, meter, period).
package meter

import (
	"context"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
)

// Aggregation selects how matching events are reduced to units.
type Aggregation string

const (
	AggregationCount  Aggregation = "count"
	AggregationSum    Aggregation = "sum"
	AggregationMax    Aggregation = "max"
	AggregationUnique Aggregation = "unique"
)

// Meter counts one kind of usage.
type Meter struct {
	polar.Entity

	ID             id.MeterID        `json:"id"`
	OrganizationID id.OrganizationID `json:"organization_id"`
	Name           string            `json:"name"`
	EventName      string            `json:"event_name"`
	Aggregation    Aggregation       `json:"aggregation"`
	// Property is the metadata key summed, maxed or counted distinct.
	// Count ignores it.
	Property string `json:"property,omitempty"`
}

// Event is one usage event. ExternalID is unique per organization.
type Event struct {
	ID             id.MeterEventID   `json:"id"`
	OrganizationID id.OrganizationID `json:"organization_id"`
	CustomerID     id.CustomerID     `json:"customer_id"`
	Name           string            `json:"name"`
	ExternalID     string            `json:"external_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
}

// EventFilter selects events in [Start, End).
type EventFilter struct {
	OrganizationID id.OrganizationID
	CustomerID     id.CustomerID
	Name           string
	Start          time.Time
	End            time.Time
}

// BillingEntry is the usage billed for one meter over one subscription
// period. (SubscriptionID, MeterID, PeriodStart) is unique.
type BillingEntry struct {
	ID             id.BillingEntryID `json:"id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	CustomerID     id.CustomerID     `json:"customer_id"`
	MeterID        id.MeterID        `json:"meter_id"`
	PeriodStart    time.Time         `json:"period_start"`
	PeriodEnd      time.Time         `json:"period_end"`
	Units          float64           `json:"units"`
	UnitAmount     int64             `json:"unit_amount"`
	Amount         int64             `json:"amount"`
	Currency       string            `json:"currency"`
	CreatedAt      time.Time         `json:"created_at"`
}

// EventStore persists usage events.
type EventStore interface {
	// InsertEvents stores events whose ExternalID is not yet known for the
	// organization and returns how many were new.
	InsertEvents(ctx context.Context, events []*Event) (int, error)

	// ListEvents returns matching events ordered by timestamp.
	ListEvents(ctx context.Context, f EventFilter) ([]*Event, error)
}

// Store persists meters and billing entries.
type Store interface {
	CreateMeter(ctx context.Context, m *Meter) error
	GetMeter(ctx context.Context, meterID id.MeterID) (*Meter, error)

	// InsertBillingEntry returns polar.ErrAlreadyExists when an entry for
	// the same subscription, meter and period start exists.
	InsertBillingEntry(ctx context.Context, e *BillingEntry) error

	// GetBillingEntry returns the entry for a subscription, meter and
	// period start.
	GetBillingEntry(ctx context.Context, subscriptionID id.SubscriptionID, meterID id.MeterID, periodStart time.Time) (*BillingEntry, error)
}
