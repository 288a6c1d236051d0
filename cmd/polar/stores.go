package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/polarsource/polar-sub002/debounce"
	"github.com/polarsource/polar-sub002/lock"
	"github.com/polarsource/polar-sub002/meter"
	"github.com/polarsource/polar-sub002/settings"
	"github.com/polarsource/polar-sub002/store"
	bunstore "github.com/polarsource/polar-sub002/store/bun"
	"github.com/polarsource/polar-sub002/store/memory"
	mongostore "github.com/polarsource/polar-sub002/store/mongo"
	"github.com/polarsource/polar-sub002/store/postgres"
	redisstore "github.com/polarsource/polar-sub002/store/redis"
)

// stores is the set of backends selected by settings.
type stores struct {
	runtime  store.Runtime
	billing  store.Billing
	locker   lock.Locker
	debounce debounce.Store
	events   meter.EventStore

	lifecycles []store.Lifecycle
	closers    []func() error
}

func openStores(ctx context.Context, s *settings.Settings, logger *slog.Logger) (*stores, error) {
	if s.Database.Type == "memory" {
		mem := memory.New()
		logger.Warn("using the in-memory store; state is lost on exit")
		return &stores{
			runtime:    mem,
			billing:    mem,
			locker:     mem,
			debounce:   mem,
			events:     mem,
			lifecycles: []store.Lifecycle{mem},
		}, nil
	}

	st := &stores{}
	if err := st.openPostgres(ctx, s, logger); err != nil {
		_ = st.close()
		return nil, err
	}
	if err := st.openBilling(s, logger); err != nil {
		_ = st.close()
		return nil, err
	}
	if err := st.openMongo(ctx, s, logger); err != nil {
		_ = st.close()
		return nil, err
	}
	st.openRedis(s, logger)
	return st, nil
}

func (st *stores) openPostgres(ctx context.Context, s *settings.Settings, logger *slog.Logger) error {
	cfg, err := pgxpool.ParseConfig(s.Database.DSN)
	if err != nil {
		return fmt.Errorf("polar: parse database dsn: %w", err)
	}
	if s.Database.MaxConns > 0 {
		cfg.MaxConns = s.Database.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("polar: connect postgres: %w", err)
	}
	st.closers = append(st.closers, func() error { pool.Close(); return nil })

	rt := postgres.NewFromPool(pool, postgres.WithLogger(logger))
	st.runtime = rt
	st.lifecycles = append(st.lifecycles, rt)
	return nil
}

func (st *stores) openBilling(s *settings.Settings, logger *slog.Logger) error {
	var b *bunstore.Store
	switch s.Database.BillingDialect {
	case "sqlite":
		db, err := bunstore.OpenSQLite(s.Database.SQLitePath)
		if err != nil {
			return fmt.Errorf("polar: open sqlite: %w", err)
		}
		st.closers = append(st.closers, db.Close)
		b = bunstore.New(db, bunstore.WithLogger(logger))
	default:
		db := bunstore.OpenPostgres(s.Database.DSN)
		st.closers = append(st.closers, db.Close)
		b = bunstore.New(db, bunstore.WithLogger(logger))
	}
	st.billing = b
	st.lifecycles = append(st.lifecycles, b)
	return nil
}

func (st *stores) openMongo(ctx context.Context, s *settings.Settings, logger *slog.Logger) error {
	if s.Mongo.URI == "" {
		mem := memory.New()
		logger.Warn("mongo not configured; meter events are kept in memory")
		st.events = mem
		return nil
	}
	client, err := mongod.Connect(options.Client().ApplyURI(s.Mongo.URI))
	if err != nil {
		return fmt.Errorf("polar: connect mongo: %w", err)
	}
	st.closers = append(st.closers, func() error { return client.Disconnect(context.Background()) })

	ms := mongostore.New(client.Database(s.Mongo.Database), mongostore.WithLogger(logger))
	if err := ms.Ping(ctx); err != nil {
		return fmt.Errorf("polar: ping mongo: %w", err)
	}
	st.events = ms
	st.lifecycles = append(st.lifecycles, ms)
	return nil
}

func (st *stores) openRedis(s *settings.Settings, logger *slog.Logger) {
	if s.Redis.Addr == "" {
		mem := memory.New()
		logger.Warn("redis not configured; locks and debounce records are process-local")
		st.locker = mem
		st.debounce = mem
		return
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     s.Redis.Addr,
		Password: s.Redis.Password,
		DB:       s.Redis.DB,
	})
	st.closers = append(st.closers, client.Close)

	rs := redisstore.New(client, redisstore.WithLogger(logger))
	st.locker = rs
	st.debounce = rs
	st.lifecycles = append(st.lifecycles, rs)
}

// migrate runs every backend's migrations in order.
func (st *stores) migrate(ctx context.Context, logger *slog.Logger) error {
	for _, l := range st.lifecycles {
		if err := l.Ping(ctx); err != nil {
			return fmt.Errorf("polar: ping %T: %w", l, err)
		}
		if err := l.Migrate(ctx); err != nil {
			return fmt.Errorf("polar: migrate %T: %w", l, err)
		}
		logger.Info("migrated", slog.String("store", fmt.Sprintf("%T", l)))
	}
	return nil
}

// close releases connections in reverse order of opening.
func (st *stores) close() error {
	var errs []error
	for i := len(st.closers) - 1; i >= 0; i-- {
		errs = append(errs, st.closers[i]())
	}
	st.closers = nil
	return errors.Join(errs...)
}
