package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v72"

	"github.com/polarsource/polar-sub002/externalevent"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/webhook"
)

// Actor names.
const (
	TaskCycle                = "subscription.cycle"
	TaskCycleDue             = "subscription.cycle_due"
	TaskCustomerStateChanged = "customer.state_changed"
	TaskStripeUpdate         = "stripe.subscription.update"
)

// dueBatchSize bounds how many subscriptions one CycleDue run enqueues.
const dueBatchSize = 500

// CyclePayload is the job payload of TaskCycle.
type CyclePayload struct {
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
}

// CycleDue buffers TaskCycle for every subscription whose period ended by
// now and returns how many were buffered. Repeated runs before the cycle
// job executes collapse onto one job per subscription.
func (s *Service) CycleDue(ctx context.Context, now time.Time) (int, error) {
	subs, err := s.store.ListDueSubscriptions(ctx, now, dueBatchSize)
	if err != nil {
		return 0, fmt.Errorf("polar/subscription: cycle due: %w", err)
	}
	for _, sub := range subs {
		err := jobqueue.Enqueue(ctx, TaskCycle, CyclePayload{SubscriptionID: sub.ID},
			job.WithDebounceKey(TaskCycle+":"+sub.ID.String()),
		)
		if err != nil {
			return 0, err
		}
	}
	return len(subs), nil
}

// CycleActor returns the TaskCycle actor.
func (s *Service) CycleActor() *job.Actor[CyclePayload] {
	return job.NewActor(TaskCycle, func(ctx context.Context, p CyclePayload) error {
		_, err := s.Cycle(ctx, p.SubscriptionID, s.now())
		return err
	}, job.WithPriority(job.PriorityMedium), job.WithDebounceWindow(0, time.Hour))
}

// CycleDueActor returns the TaskCycleDue cron actor.
func (s *Service) CycleDueActor() *job.Actor[struct{}] {
	return job.NewActor(TaskCycleDue, func(ctx context.Context, _ struct{}) error {
		_, err := s.CycleDue(ctx, s.now())
		return err
	}, job.WithCronTrigger("*/15 * * * *"), job.WithPriority(job.PriorityLow))
}

// CustomerState is the body of the customer.state_changed webhook.
type CustomerState struct {
	CustomerID          id.CustomerID   `json:"customer_id"`
	ActiveSubscriptions []*Subscription `json:"active_subscriptions"`
}

// CustomerStateChanged sends the customer's current billable
// subscriptions to the organization's webhooks.
func (s *Service) CustomerStateChanged(ctx context.Context, p CustomerPayload) error {
	subs, err := s.store.ListSubscriptionsByCustomer(ctx, p.CustomerID)
	if err != nil {
		return fmt.Errorf("polar/subscription: customer state: %w", err)
	}
	state := CustomerState{CustomerID: p.CustomerID, ActiveSubscriptions: []*Subscription{}}
	for _, sub := range subs {
		if sub.Status.IsBillable() {
			state.ActiveSubscriptions = append(state.ActiveSubscriptions, sub)
		}
	}
	return webhook.Enqueue(ctx, webhook.EventCustomerStateChanged, p.OrganizationID, state)
}

// CustomerStateChangedActor returns the debounced TaskCustomerStateChanged
// actor.
func (s *Service) CustomerStateChangedActor() *job.Actor[CustomerPayload] {
	return job.NewActor(TaskCustomerStateChanged, s.CustomerStateChanged,
		job.WithPriority(job.PriorityMedium),
		customerDebounce,
	)
}

// StripeUpdateActor returns the TaskStripeUpdate actor. It handles a
// recorded Stripe customer.subscription.* event exactly once.
func (s *Service) StripeUpdateActor(events *externalevent.Service) *job.Actor[externalevent.Payload] {
	return job.NewActor(TaskStripeUpdate, func(ctx context.Context, p externalevent.Payload) error {
		err := events.Handle(ctx, externalevent.SourceStripe, p.EventID, func(ctx context.Context, e *externalevent.Event) error {
			var evt stripe.Event
			if err := json.Unmarshal(e.Data, &evt); err != nil {
				return job.Permanent(fmt.Errorf("decode stripe event %s: %w", e.ExternalID, err))
			}
			if evt.Data == nil {
				return job.Permanent(fmt.Errorf("stripe event %s has no data", e.ExternalID))
			}
			var ss stripe.Subscription
			if err := json.Unmarshal(evt.Data.Raw, &ss); err != nil {
				return job.Permanent(fmt.Errorf("decode stripe subscription in %s: %w", e.ExternalID, err))
			}
			_, err := s.UpdateFromStripe(ctx, &ss)
			return err
		})
		if errors.Is(err, externalevent.ErrAlreadyHandled) {
			return nil
		}
		return err
	}, job.WithPriority(job.PriorityHigh), job.WithMaxRetries(10))
}
