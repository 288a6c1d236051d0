// Package mongo stores raw usage events for meters in MongoDB. Events are
// append-only and high volume, so they live apart from the relational
// billing schema.
//
// The caller owns the *mongo.Database lifecycle; Store never closes it:
//
//	client, _ := mongo.Connect(options.Client().ApplyURI(uri))
//	s := mongostore.New(client.Database("polar"))
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/polarsource/polar-sub002/meter"
)

const colMeterEvents = "polar_meter_events"

var _ meter.EventStore = (*Store)(nil)

// Store implements meter.EventStore on a MongoDB database.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store on db.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the underlying database.
func (s *Store) Database() *mongod.Database {
	return s.db
}

func (s *Store) events() *mongod.Collection {
	return s.db.Collection(colMeterEvents)
}

// Migrate creates the event indexes. CreateMany is a no-op for indexes
// that already exist.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("polar/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// Close is a no-op because the caller owns the client.
func (s *Store) Close() error {
	return nil
}

// duplicateCount returns how many write errors in err are duplicate key
// violations, and whether every error was one.
func duplicateCount(err error) (int, bool) {
	var bwe mongod.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
		return 0, false
	}
	dups := 0
	for _, we := range bwe.WriteErrors {
		if we.Code != 11000 {
			return dups, false
		}
		dups++
	}
	return dups, true
}

func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colMeterEvents: {
			// Ingestion is idempotent per organization.
			{
				Keys:    bson.D{{Key: "organization_id", Value: 1}, {Key: "external_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{
				{Key: "organization_id", Value: 1},
				{Key: "customer_id", Value: 1},
				{Key: "name", Value: 1},
				{Key: "timestamp", Value: 1},
			}},
		},
	}
}
