package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/relay"
	relaymem "github.com/xraph/relay/store/memory"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/audit"
	"github.com/polarsource/polar-sub002/billing"
	"github.com/polarsource/polar-sub002/broker"
	"github.com/polarsource/polar-sub002/engine"
	"github.com/polarsource/polar-sub002/settings"
	"github.com/polarsource/polar-sub002/telemetry"
	"github.com/polarsource/polar-sub002/webhook"
)

// app is a fully wired process: stores, engine and billing services.
type app struct {
	settings *settings.Settings
	logger   *slog.Logger
	stores   *stores
	broker   broker.MessageBroker
	engine   *engine.Engine
	billing  *billing.Services

	shutdownTelemetry func(context.Context) error
}

// loadSettings reads the settings file and builds the process logger.
func loadSettings(configPath string) (*settings.Settings, *slog.Logger, error) {
	s, err := settings.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := s.NewLogger(nil)
	slog.SetDefault(logger)
	return s, logger, nil
}

func newApp(ctx context.Context, configPath string) (a *app, err error) {
	s, logger, err := loadSettings(configPath)
	if err != nil {
		return nil, err
	}
	a = &app{settings: s, logger: logger}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
		}
	}()

	tp, shutdown, err := telemetry.Init(ctx, s.Observability)
	if err != nil {
		return a, err
	}
	a.shutdownTelemetry = shutdown

	if a.stores, err = openStores(ctx, s, logger); err != nil {
		return a, err
	}
	if a.broker, err = broker.New(ctx, s.Broker); err != nil {
		return a, err
	}

	rt, err := polar.New(append(s.RuntimeOptions(),
		polar.WithStore(a.stores.runtime),
		polar.WithLogger(logger),
	)...)
	if err != nil {
		return a, err
	}

	a.engine, err = engine.Build(rt,
		engine.WithQueueConfig(s.Queues...),
		engine.WithLocker(a.stores.locker),
		engine.WithDebounceStore(a.stores.debounce),
		engine.WithTracerProvider(tp),
		engine.WithExtension(audit.New(a.auditRecorder(), audit.WithLogger(logger))),
	)
	if err != nil {
		return a, err
	}

	r, err := relay.New(relay.WithStore(relaymem.New()))
	if err != nil {
		return a, fmt.Errorf("polar: relay: %w", err)
	}
	if err := webhook.RegisterAll(ctx, r); err != nil {
		return a, fmt.Errorf("polar: register webhook catalog: %w", err)
	}

	a.billing, err = billing.Register(ctx, a.engine, billing.Deps{
		Store:         a.stores.billing,
		Events:        a.stores.events,
		Locker:        a.stores.locker,
		Relay:         r,
		WebhookEvents: s.Webhooks.Events,
		Broker:        a.broker,
		Logger:        logger,
	})
	if err != nil {
		return a, err
	}
	return a, nil
}

// auditRecorder publishes audit events on an external broker and logs
// them otherwise.
func (a *app) auditRecorder() audit.Recorder {
	switch a.settings.Broker.Type {
	case "", "memory":
		return audit.LogRecorder(a.logger)
	default:
		return audit.BrokerRecorder(a.broker)
	}
}

// close stops the engine when it was built and releases every resource.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.engine != nil {
		errs = append(errs, a.engine.Stop(ctx))
	}
	if a.broker != nil {
		errs = append(errs, a.broker.Close())
	}
	if a.stores != nil {
		errs = append(errs, a.stores.close())
	}
	if a.shutdownTelemetry != nil {
		errs = append(errs, a.shutdownTelemetry(ctx))
	}
	return errors.Join(errs...)
}
