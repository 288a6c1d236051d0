package bunstore

import (
	"context"
	"fmt"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/externalevent"
	"github.com/polarsource/polar-sub002/id"
)

// InsertExternalEvent persists an external event. (Source, ExternalID) is
// unique.
func (s *Store) InsertExternalEvent(ctx context.Context, e *externalevent.Event) error {
	return s.insert(ctx, "external event", toExternalEventModel(e))
}

// GetExternalEvent retrieves an external event by ID.
func (s *Store) GetExternalEvent(ctx context.Context, eventID id.ExternalEventID) (*externalevent.Event, error) {
	m := new(externalEventModel)
	if err := s.selectOne(ctx, "external event", m, polar.ErrExternalEventNotFound, "id = ?", eventID.String()); err != nil {
		return nil, err
	}
	return fromExternalEventModel(m)
}

// MarkExternalEventHandled sets HandledAt.
func (s *Store) MarkExternalEventHandled(ctx context.Context, eventID id.ExternalEventID, at time.Time) error {
	res, err := s.db.NewUpdate().Model((*externalEventModel)(nil)).
		Set("handled_at = ?", at.UTC()).
		Where("id = ?", eventID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("polar/bun: mark external event handled: %w", err)
	}
	if affected(res) == 0 {
		return polar.ErrExternalEventNotFound
	}
	return nil
}

// ListUnhandledExternalEvents returns unhandled events of source created
// before the given time, oldest first.
func (s *Store) ListUnhandledExternalEvents(ctx context.Context, source externalevent.Source, before time.Time) ([]*externalevent.Event, error) {
	var rows []externalEventModel
	err := s.db.NewSelect().Model(&rows).
		Where("source = ?", string(source)).
		Where("handled_at IS NULL").
		Where("created_at < ?", before.UTC()).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("polar/bun: list unhandled external events: %w", err)
	}
	out := make([]*externalevent.Event, 0, len(rows))
	for i := range rows {
		e, convErr := fromExternalEventModel(&rows[i])
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, e)
	}
	return out, nil
}
