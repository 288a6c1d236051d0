package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/externalevent"
	"github.com/polarsource/polar-sub002/id"
)

// InsertExternalEvent persists an external event. (Source, ExternalID) is
// unique.
func (m *Store) InsertExternalEvent(_ context.Context, e *externalevent.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.externalEvents {
		if existing.Source == e.Source && existing.ExternalID == e.ExternalID {
			return polar.ErrAlreadyExists
		}
	}
	cp := *e
	cp.Data = slices.Clone(e.Data)
	m.externalEvents[e.ID.String()] = &cp
	return nil
}

// GetExternalEvent retrieves an external event by ID.
func (m *Store) GetExternalEvent(_ context.Context, eventID id.ExternalEventID) (*externalevent.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.externalEvents[eventID.String()]
	if !ok {
		return nil, polar.ErrExternalEventNotFound
	}
	cp := *e
	return &cp, nil
}

// MarkExternalEventHandled sets HandledAt.
func (m *Store) MarkExternalEventHandled(_ context.Context, eventID id.ExternalEventID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.externalEvents[eventID.String()]
	if !ok {
		return polar.ErrExternalEventNotFound
	}
	t := at
	e.HandledAt = &t
	return nil
}

// ListUnhandledExternalEvents returns unhandled events of source created
// before the given time, oldest first.
func (m *Store) ListUnhandledExternalEvents(_ context.Context, source externalevent.Source, before time.Time) ([]*externalevent.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*externalevent.Event
	for _, e := range m.externalEvents {
		if e.Source != source || e.IsHandled() || !e.CreatedAt.Before(before) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}
