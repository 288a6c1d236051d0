package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/meter"
)

type eventModel struct {
	ID             string         `bson:"_id"`
	OrganizationID string         `bson:"organization_id"`
	CustomerID     string         `bson:"customer_id"`
	Name           string         `bson:"name"`
	ExternalID     string         `bson:"external_id"`
	Timestamp      time.Time      `bson:"timestamp"`
	Metadata       map[string]any `bson:"metadata,omitempty"`
}

func toEventModel(e *meter.Event) *eventModel {
	return &eventModel{
		ID:             e.ID.String(),
		OrganizationID: e.OrganizationID.String(),
		CustomerID:     e.CustomerID.String(),
		Name:           e.Name,
		ExternalID:     e.ExternalID,
		Timestamp:      e.Timestamp.UTC(),
		Metadata:       e.Metadata,
	}
}

func fromEventModel(m *eventModel) (*meter.Event, error) {
	eventID, err := id.ParseWithPrefix(m.ID, id.PrefixMeterEvent)
	if err != nil {
		return nil, fmt.Errorf("polar/mongo: parse event id %q: %w", m.ID, err)
	}
	orgID, err := id.ParseOrganizationID(m.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("polar/mongo: parse organization id %q: %w", m.OrganizationID, err)
	}
	customerID, err := id.ParseWithPrefix(m.CustomerID, id.PrefixCustomer)
	if err != nil {
		return nil, fmt.Errorf("polar/mongo: parse customer id %q: %w", m.CustomerID, err)
	}
	return &meter.Event{
		ID:             eventID,
		OrganizationID: orgID,
		CustomerID:     customerID,
		Name:           m.Name,
		ExternalID:     m.ExternalID,
		Timestamp:      m.Timestamp,
		Metadata:       m.Metadata,
	}, nil
}

// InsertEvents stores events whose ExternalID is new for the organization
// and returns how many were new. Duplicates are skipped, not errors.
func (s *Store) InsertEvents(ctx context.Context, events []*meter.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	docs := make([]any, len(events))
	for i, e := range events {
		docs[i] = toEventModel(e)
	}

	_, err := s.events().InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return len(docs), nil
	}
	dups, ok := duplicateCount(err)
	if !ok {
		return 0, fmt.Errorf("polar/mongo: insert events: %w", err)
	}
	if dups > 0 {
		s.logger.Debug("skipped duplicate meter events", "count", dups)
	}
	return len(docs) - dups, nil
}

// ListEvents returns matching events ordered by timestamp. Start is
// inclusive and End exclusive; zero values leave that side open.
func (s *Store) ListEvents(ctx context.Context, f meter.EventFilter) ([]*meter.Event, error) {
	filter := bson.D{}
	if !f.OrganizationID.IsNil() {
		filter = append(filter, bson.E{Key: "organization_id", Value: f.OrganizationID.String()})
	}
	if !f.CustomerID.IsNil() {
		filter = append(filter, bson.E{Key: "customer_id", Value: f.CustomerID.String()})
	}
	if f.Name != "" {
		filter = append(filter, bson.E{Key: "name", Value: f.Name})
	}
	window := bson.D{}
	if !f.Start.IsZero() {
		window = append(window, bson.E{Key: "$gte", Value: f.Start.UTC()})
	}
	if !f.End.IsZero() {
		window = append(window, bson.E{Key: "$lt", Value: f.End.UTC()})
	}
	if len(window) > 0 {
		filter = append(filter, bson.E{Key: "timestamp", Value: window})
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := s.events().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("polar/mongo: list events: %w", err)
	}

	var models []eventModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("polar/mongo: list events: %w", err)
	}

	out := make([]*meter.Event, 0, len(models))
	for i := range models {
		e, convErr := fromEventModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, e)
	}
	return out, nil
}
