// Package externalevent deduplicates inbound webhooks.
//
// Providers such as Stripe deliver at least once. Each delivery is
// recorded under (source, external id) before any work is scheduled; a
// redelivery hits the unique key and is dropped. The handling job then
// marks the record handled, so a job retried after success does nothing.
package externalevent

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/polarsource/polar-sub002/id"
)

var (
	// ErrDuplicate is returned by Enqueue for an already recorded event.
	ErrDuplicate = errors.New("polar/externalevent: duplicate event")
	// ErrAlreadyHandled is returned by Handle for an already handled event.
	ErrAlreadyHandled = errors.New("polar/externalevent: event already handled")
)

// Source names the provider an event came from.
type Source string

const (
	SourceStripe Source = "stripe"
	SourceGitHub Source = "github"
)

// Event is one inbound webhook delivery.
type Event struct {
	ID         id.ExternalEventID `json:"id"`
	Source     Source             `json:"source"`
	Task       string             `json:"task"`
	ExternalID string             `json:"external_id"`
	Data       json.RawMessage    `json:"data"`
	HandledAt  *time.Time         `json:"handled_at,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// IsHandled reports whether the event was processed.
func (e *Event) IsHandled() bool { return e.HandledAt != nil }

// Store defines the persistence contract for external events.
type Store interface {
	// InsertExternalEvent returns polar.ErrAlreadyExists when (Source,
	// ExternalID) is already recorded.
	InsertExternalEvent(ctx context.Context, e *Event) error

	GetExternalEvent(ctx context.Context, eventID id.ExternalEventID) (*Event, error)

	// MarkExternalEventHandled sets HandledAt.
	MarkExternalEventHandled(ctx context.Context, eventID id.ExternalEventID, at time.Time) error

	// ListUnhandledExternalEvents returns events of source created before
	// the given time that were never handled, oldest first.
	ListUnhandledExternalEvents(ctx context.Context, source Source, before time.Time) ([]*Event, error)
}
