package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/discount"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/lock"
	"github.com/polarsource/polar-sub002/meter"
	"github.com/polarsource/polar-sub002/order"
	"github.com/polarsource/polar-sub002/product"
)

var (
	// ErrNotRecurring is returned when subscribing to a one-time product.
	ErrNotRecurring = errors.New("polar/subscription: product is not recurring")
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the subscription's current status. It wraps polar.ErrInvalidState.
	ErrInvalidTransition = fmt.Errorf("polar/subscription: %w", polar.ErrInvalidState)
)

const (
	lockTTL  = 30 * time.Second
	lockWait = 15 * time.Second
)

// Deps are the collaborators of a Service.
type Deps struct {
	Store     Store
	Products  product.Store
	Discounts discount.Store
	Meters    *meter.Service
	Orders    *order.Service
	Locker    lock.Locker
	// Enqueuer receives side-effect jobs. Without one they go to the job
	// queue buffer open in the caller's context.
	Enqueuer jobqueue.Enqueuer
	Logger   *slog.Logger
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// Service implements the subscription lifecycle.
type Service struct {
	store     Store
	products  product.Store
	discounts discount.Store
	meters    *meter.Service
	orders    *order.Service
	locker    lock.Locker
	enqueuer  jobqueue.Enqueuer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a subscription service.
func NewService(d Deps) *Service {
	s := &Service{
		store:     d.Store,
		products:  d.Products,
		discounts: d.Discounts,
		meters:    d.Meters,
		orders:    d.Orders,
		locker:    d.Locker,
		enqueuer:  d.Enqueuer,
		logger:    d.Logger,
		now:       d.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// CreateParams describes a new subscription.
type CreateParams struct {
	CustomerID           id.CustomerID
	ProductID            id.ProductID
	DiscountID           id.DiscountID
	TrialEnd             *time.Time
	StripeSubscriptionID string
}

// Create starts a subscription. It is active, or trialing until TrialEnd.
// An active subscription is charged for its first period right away.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Subscription, error) {
	prod, err := s.products.GetProduct(ctx, p.ProductID)
	if err != nil {
		return nil, fmt.Errorf("polar/subscription: create: %w", err)
	}
	if !prod.IsRecurring() {
		return nil, ErrNotRecurring
	}

	now := s.now()
	sub := &Subscription{
		Entity:               polar.NewEntity(),
		ID:                   id.NewSubscriptionID(),
		OrganizationID:       prod.OrganizationID,
		CustomerID:           p.CustomerID,
		ProductID:            prod.ID,
		DiscountID:           p.DiscountID,
		Status:               StatusActive,
		Amount:               prod.Amount,
		Currency:             prod.Currency,
		RecurringInterval:    prod.RecurringInterval,
		IntervalCount:        max(prod.IntervalCount, 1),
		Meters:               prod.MeterPrices,
		StartedAt:            now,
		CurrentPeriodStart:   now,
		StripeSubscriptionID: p.StripeSubscriptionID,
	}
	if p.TrialEnd != nil && p.TrialEnd.After(now) {
		sub.Status = StatusTrialing
		sub.TrialEnd = p.TrialEnd
		sub.CurrentPeriodEnd = *p.TrialEnd
	} else {
		sub.CurrentPeriodEnd = sub.RecurringInterval.Advance(now, sub.IntervalCount)
	}

	var disc *discount.Discount
	if !p.DiscountID.IsNil() {
		if disc, err = s.discountFor(ctx, sub, sub.CurrentPeriodStart); err != nil {
			return nil, err
		}
	}

	effects, buf := jobqueue.Open(ctx)
	if sub.Status == StatusActive {
		_, err := s.orders.Create(effects, order.CreateParams{
			OrganizationID: sub.OrganizationID,
			CustomerID:     sub.CustomerID,
			ProductID:      sub.ProductID,
			SubscriptionID: sub.ID,
			BillingReason:  order.ReasonSubscriptionCreate,
			Items:          []order.Item{{Label: prod.Name, Amount: sub.Amount}},
			Currency:       sub.Currency,
			Discount:       disc,
			IdempotencyKey: "subscription_create:" + sub.ID.String(),
		})
		if err != nil {
			return nil, err
		}
	}

	if err := s.applyEffects(effects, nil, sub, prod.BenefitIDs); err != nil {
		return nil, err
	}

	sub.PendingEffects = jobqueue.Records(buf.Pending())
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("polar/subscription: create: %w", err)
	}

	s.logger.Info("subscription created",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("status", string(sub.Status)),
	)
	out := sub
	err = lock.Do(ctx, s.locker, sub.LockKey(), lockTTL, lockWait, func(ctx context.Context) error {
		cur, err := s.store.GetSubscription(ctx, sub.ID)
		if err != nil {
			return err
		}
		out = cur
		return s.dispatch(ctx, cur)
	})
	return out, err
}

// mutation changes sub in place and reports whether it changed anything.
// Jobs it buffers in ctx are saved and dispatched with the change.
type mutation func(ctx context.Context, sub *Subscription) (bool, error)

// mutate loads a subscription under its lock and applies fn to it.
func (s *Service) mutate(ctx context.Context, subID id.SubscriptionID, fn mutation) (*Subscription, error) {
	sub, err := s.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}
	var out *Subscription
	err = lock.Do(ctx, s.locker, sub.LockKey(), lockTTL, lockWait, func(ctx context.Context) error {
		// Reload: the copy read before locking may be stale.
		sub, err := s.store.GetSubscription(ctx, subID)
		if err != nil {
			return err
		}
		out, err = s.apply(ctx, sub, fn)
		return err
	})
	return out, err
}

// apply runs fn and, when it reports a change, saves the subscription
// together with the side effects of the change. Pending effects are then
// dispatched, including ones left over from an earlier change.
func (s *Service) apply(ctx context.Context, sub *Subscription, fn mutation) (*Subscription, error) {
	prev := snap(sub)
	effects, buf := jobqueue.Open(ctx)
	changed, err := fn(effects, sub)
	if err != nil {
		return sub, err
	}

	if changed {
		if !prev.equal(snap(sub)) {
			prod, err := s.products.GetProduct(ctx, sub.ProductID)
			if err != nil {
				return nil, fmt.Errorf("polar/subscription: effects: %w", err)
			}
			if err := s.applyEffects(effects, &prev, sub, prod.BenefitIDs); err != nil {
				return nil, err
			}
			s.logger.Info("subscription updated",
				slog.String("subscription_id", sub.ID.String()),
				slog.String("from", string(prev.status)),
				slog.String("to", string(sub.Status)),
			)
		}
		sub.PendingEffects = append(sub.PendingEffects, jobqueue.Records(buf.Pending())...)
		sub.Touch()
		if err := s.store.UpdateSubscription(ctx, sub); err != nil {
			return nil, fmt.Errorf("polar/subscription: update %s: %w", sub.ID, err)
		}
	}
	return sub, s.dispatch(ctx, sub)
}

// CancelParams controls a cancellation.
type CancelParams struct {
	// Immediately revokes the subscription now instead of at period end.
	Immediately bool
}

// Cancel schedules the subscription to end at the end of its current
// period, or revokes it right away with Immediately.
func (s *Service) Cancel(ctx context.Context, subID id.SubscriptionID, p CancelParams) (*Subscription, error) {
	if p.Immediately {
		return s.Revoke(ctx, subID)
	}
	return s.mutate(ctx, subID, func(_ context.Context, sub *Subscription) (bool, error) {
		if !sub.Status.IsBillable() && sub.Status != StatusIncomplete {
			return false, fmt.Errorf("%w: cannot cancel a %s subscription", ErrInvalidTransition, sub.Status)
		}
		if sub.CancelAtPeriodEnd {
			return false, nil
		}
		now := s.now()
		end := sub.CurrentPeriodEnd
		sub.CancelAtPeriodEnd = true
		sub.CanceledAt = &now
		sub.EndsAt = &end
		return true, nil
	})
}

// Uncancel withdraws a scheduled cancellation.
func (s *Service) Uncancel(ctx context.Context, subID id.SubscriptionID) (*Subscription, error) {
	return s.mutate(ctx, subID, func(_ context.Context, sub *Subscription) (bool, error) {
		if !sub.Status.IsBillable() {
			return false, fmt.Errorf("%w: cannot uncancel a %s subscription", ErrInvalidTransition, sub.Status)
		}
		if !sub.CancelAtPeriodEnd {
			return false, nil
		}
		sub.CancelAtPeriodEnd = false
		sub.CanceledAt = nil
		sub.EndsAt = nil
		return true, nil
	})
}

// Revoke ends the subscription immediately. Revoking a revoked
// subscription is a no-op.
func (s *Service) Revoke(ctx context.Context, subID id.SubscriptionID) (*Subscription, error) {
	return s.mutate(ctx, subID, func(_ context.Context, sub *Subscription) (bool, error) {
		if sub.Status == StatusRevoked {
			return false, nil
		}
		now := s.now()
		sub.Status = StatusRevoked
		sub.CancelAtPeriodEnd = false
		if sub.CanceledAt == nil {
			sub.CanceledAt = &now
		}
		sub.EndsAt = &now
		sub.EndedAt = &now
		return true, nil
	})
}

// ApplyDiscount sets the discount used from the next cycle on.
func (s *Service) ApplyDiscount(ctx context.Context, subID id.SubscriptionID, discountID id.DiscountID) (*Subscription, error) {
	d, err := s.discounts.GetDiscount(ctx, discountID)
	if err != nil {
		return nil, fmt.Errorf("polar/subscription: apply discount: %w", err)
	}
	return s.mutate(ctx, subID, func(_ context.Context, sub *Subscription) (bool, error) {
		if d.OrganizationID.String() != sub.OrganizationID.String() {
			return false, fmt.Errorf("polar/subscription: discount %s belongs to another organization: %w", discountID, polar.ErrDiscountNotFound)
		}
		if sub.Status == StatusCanceled || sub.Status == StatusRevoked {
			return false, fmt.Errorf("%w: cannot discount a %s subscription", ErrInvalidTransition, sub.Status)
		}
		if sub.DiscountID.String() == discountID.String() {
			return false, nil
		}
		sub.DiscountID = discountID
		return true, nil
	})
}

// Cycle renews a subscription whose period ended: the period advances and
// a renewal order is created for the new period plus the metered usage of
// the one that ended. A subscription scheduled to cancel ends instead.
// It returns the renewal order, or nil when there was nothing to cycle.
func (s *Service) Cycle(ctx context.Context, subID id.SubscriptionID, now time.Time) (*order.Order, error) {
	var renewal *order.Order
	_, err := s.mutate(ctx, subID, func(ctx context.Context, sub *Subscription) (bool, error) {
		if !sub.Status.IsBillable() || sub.CurrentPeriodEnd.After(now) {
			return false, nil
		}

		if sub.CancelAtPeriodEnd {
			ended := sub.CurrentPeriodEnd
			sub.Status = StatusCanceled
			sub.EndedAt = &ended
			return true, nil
		}

		prevStart, prevEnd := sub.CurrentPeriodStart, sub.CurrentPeriodEnd
		nextEnd := sub.RecurringInterval.Advance(prevEnd, sub.IntervalCount)

		o, err := s.renewalOrder(ctx, sub, prevStart, prevEnd)
		if err != nil {
			return false, err
		}
		renewal = o

		sub.CurrentPeriodStart = prevEnd
		sub.CurrentPeriodEnd = nextEnd
		if sub.Status == StatusTrialing {
			sub.Status = StatusActive
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return renewal, nil
}

func (s *Service) renewalOrder(ctx context.Context, sub *Subscription, prevStart, prevEnd time.Time) (*order.Order, error) {
	prod, err := s.products.GetProduct(ctx, sub.ProductID)
	if err != nil {
		return nil, fmt.Errorf("polar/subscription: cycle: %w", err)
	}
	items := []order.Item{{Label: prod.Name, Amount: sub.Amount}}

	if len(sub.Meters) > 0 {
		entries, err := s.meters.CreateBillingEntries(ctx, meter.Usage{
			SubscriptionID: sub.ID,
			OrganizationID: sub.OrganizationID,
			CustomerID:     sub.CustomerID,
			Currency:       sub.Currency,
			Prices:         sub.Meters,
		}, prevStart, prevEnd)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			items = append(items, order.Item{
				Label:   "Metered usage",
				Amount:  e.Amount,
				MeterID: e.MeterID,
				Units:   e.Units,
			})
		}
	}

	disc, err := s.discountFor(ctx, sub, prevEnd)
	if err != nil {
		return nil, err
	}

	return s.orders.Create(ctx, order.CreateParams{
		OrganizationID: sub.OrganizationID,
		CustomerID:     sub.CustomerID,
		ProductID:      sub.ProductID,
		SubscriptionID: sub.ID,
		BillingReason:  order.ReasonSubscriptionCycle,
		Items:          items,
		Currency:       sub.Currency,
		Discount:       disc,
		IdempotencyKey: fmt.Sprintf("subscription_cycle:%s:%d", sub.ID, prevEnd.Unix()),
	})
}

// discountFor returns the subscription's discount when it applies to the
// period starting at periodStart, or nil.
func (s *Service) discountFor(ctx context.Context, sub *Subscription, periodStart time.Time) (*discount.Discount, error) {
	if sub.DiscountID.IsNil() {
		return nil, nil
	}
	d, err := s.discounts.GetDiscount(ctx, sub.DiscountID)
	if err != nil {
		return nil, fmt.Errorf("polar/subscription: discount: %w", err)
	}
	if !d.IsApplicable(sub.StartedAt, periodStart) {
		return nil, nil
	}
	return d, nil
}
