// Package billing assembles the billing services on top of an engine and
// registers every billing actor with it.
package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/relay"

	"github.com/polarsource/polar-sub002/account"
	"github.com/polarsource/polar-sub002/benefit"
	"github.com/polarsource/polar-sub002/broker"
	"github.com/polarsource/polar-sub002/engine"
	"github.com/polarsource/polar-sub002/externalevent"
	"github.com/polarsource/polar-sub002/lock"
	"github.com/polarsource/polar-sub002/meter"
	"github.com/polarsource/polar-sub002/order"
	"github.com/polarsource/polar-sub002/store"
	"github.com/polarsource/polar-sub002/subscription"
	"github.com/polarsource/polar-sub002/transaction"
	"github.com/polarsource/polar-sub002/webhook"
)

var (
	// ErrNoLocker is returned when neither Deps nor the engine provide a
	// lock.
	ErrNoLocker = errors.New("polar/billing: no distributed lock configured")
	// ErrNoRelay is returned without a webhook Relay.
	ErrNoRelay = errors.New("polar/billing: no webhook relay configured")
)

// Deps are the collaborators of the billing services.
type Deps struct {
	Store store.Billing

	// Events holds raw meter events. It defaults to Store when Store
	// implements meter.EventStore.
	Events meter.EventStore

	// Locker defaults to the engine's.
	Locker lock.Locker

	// Relay delivers outbound webhooks.
	Relay *relay.Relay

	// WebhookEvents restricts which events are delivered. Empty means all.
	WebhookEvents []string

	// Broker receives domain events. It defaults to an in-process broker.
	Broker broker.MessageBroker

	Logger *slog.Logger
}

// Services are the assembled billing services.
type Services struct {
	Accounts       *account.Service
	Benefits       *benefit.Service
	Meters         *meter.Service
	Transactions   *transaction.Service
	Orders         *order.Service
	Subscriptions  *subscription.Service
	ExternalEvents *externalevent.Service
	Webhooks       *webhook.Sender
	Broker         broker.MessageBroker
}

// Register builds the billing services and registers their actors with
// eng.
func Register(ctx context.Context, eng *engine.Engine, d Deps) (*Services, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Locker == nil {
		d.Locker = eng.Locker()
	}
	if d.Locker == nil {
		return nil, ErrNoLocker
	}
	if d.Relay == nil {
		return nil, ErrNoRelay
	}
	if d.Events == nil {
		if es, ok := d.Store.(meter.EventStore); ok {
			d.Events = es
		}
	}
	if d.Broker == nil {
		d.Broker = broker.NewMemory()
	}

	svc := &Services{
		Accounts:       account.NewService(d.Store),
		Benefits:       benefit.NewService(d.Store, d.Logger),
		Meters:         meter.NewService(d.Store, d.Events),
		ExternalEvents: externalevent.NewService(d.Store, d.Locker, d.Logger),
		Broker:         d.Broker,
	}
	svc.Transactions = transaction.NewService(d.Store, d.Store, d.Locker, d.Logger)
	svc.Orders = order.NewService(d.Store, svc.Transactions, d.Logger)
	svc.Subscriptions = subscription.NewService(subscription.Deps{
		Store:     d.Store,
		Products:  d.Store,
		Discounts: d.Store,
		Meters:    svc.Meters,
		Orders:    svc.Orders,
		Locker:    d.Locker,
		Enqueuer:  eng,
		Logger:    d.Logger,
	})

	senderOpts := []webhook.Option{webhook.WithLogger(d.Logger)}
	if len(d.WebhookEvents) > 0 {
		senderOpts = append(senderOpts, webhook.WithEvents(d.WebhookEvents...))
	}
	svc.Webhooks = webhook.NewSender(d.Relay, senderOpts...)

	err := errors.Join(
		engine.Register(ctx, eng, svc.Subscriptions.CycleActor()),
		engine.Register(ctx, eng, svc.Subscriptions.CycleDueActor()),
		engine.Register(ctx, eng, svc.Subscriptions.CustomerStateChangedActor()),
		engine.Register(ctx, eng, svc.Subscriptions.StripeUpdateActor(svc.ExternalEvents)),
		engine.Register(ctx, eng, svc.Orders.CreatedActor()),
		engine.Register(ctx, eng, svc.Orders.BalanceActor()),
		engine.Register(ctx, eng, svc.Transactions.ReleaseActor()),
		engine.Register(ctx, eng, svc.Benefits.GrantActor()),
		engine.Register(ctx, eng, svc.Benefits.RevokeActor()),
		engine.Register(ctx, eng, svc.ExternalEvents.ResendActor()),
		engine.Register(ctx, eng, svc.Webhooks.Actor()),
		engine.Register(ctx, eng, broker.Actor(d.Broker)),
	)
	if err != nil {
		return nil, err
	}

	d.Logger.Info("billing actors registered", slog.Int("actors", len(eng.Registry().Names())))
	return svc, nil
}
