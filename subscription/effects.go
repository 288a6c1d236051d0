package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/polarsource/polar-sub002/benefit"
	"github.com/polarsource/polar-sub002/broker"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/scope"
	"github.com/polarsource/polar-sub002/webhook"
)

// snapshot is the part of a subscription whose change has side effects.
type snapshot struct {
	status            Status
	periodStart       time.Time
	periodEnd         time.Time
	cancelAtPeriodEnd bool
	discountID        string
}

func snap(s *Subscription) snapshot {
	return snapshot{
		status:            s.Status,
		periodStart:       s.CurrentPeriodStart,
		periodEnd:         s.CurrentPeriodEnd,
		cancelAtPeriodEnd: s.CancelAtPeriodEnd,
		discountID:        s.DiscountID.String(),
	}
}

func (a snapshot) equal(b snapshot) bool {
	return a.status == b.status &&
		a.periodStart.Equal(b.periodStart) &&
		a.periodEnd.Equal(b.periodEnd) &&
		a.cancelAtPeriodEnd == b.cancelAtPeriodEnd &&
		a.discountID == b.discountID
}

// webhookEvents maps a change to the outbound event types it produces.
// prev is nil for a new subscription.
func webhookEvents(prev *snapshot, cur snapshot) []string {
	if prev == nil {
		events := []string{webhook.EventSubscriptionCreated}
		if cur.status == StatusActive {
			events = append(events, webhook.EventSubscriptionActive)
		}
		return events
	}

	events := []string{webhook.EventSubscriptionUpdated}
	statusChanged := prev.status != cur.status
	if statusChanged {
		switch cur.status {
		case StatusActive:
			events = append(events, webhook.EventSubscriptionActive)
		case StatusRevoked:
			events = append(events, webhook.EventSubscriptionRevoked)
		}
	}
	// A scheduled cancellation already announced itself when it was set.
	canceled := !prev.cancelAtPeriodEnd &&
		(cur.cancelAtPeriodEnd || (statusChanged && cur.status == StatusCanceled))
	if canceled {
		events = append(events, webhook.EventSubscriptionCanceled)
	}
	if prev.cancelAtPeriodEnd && !cur.cancelAtPeriodEnd && cur.status.IsBillable() {
		events = append(events, webhook.EventSubscriptionUncanceled)
	}
	return events
}

// CustomerPayload is the job payload of TaskCustomerStateChanged.
type CustomerPayload struct {
	CustomerID     id.CustomerID     `json:"customer_id"`
	OrganizationID id.OrganizationID `json:"organization_id"`
}

// applyEffects buffers the side effects of moving sub from prev to its
// current state. It buffers nothing when nothing relevant changed. Every
// job is scoped to the subscription's organization.
func (s *Service) applyEffects(ctx context.Context, prev *snapshot, sub *Subscription, benefitIDs []id.BenefitID) error {
	cur := snap(sub)
	if prev != nil && prev.equal(cur) {
		return nil
	}
	ctx = scope.WithOrganization(ctx, sub.OrganizationID.String())

	var errs []error
	for _, evt := range webhookEvents(prev, cur) {
		errs = append(errs, webhook.Enqueue(ctx, evt, sub.OrganizationID, sub))
	}

	wasBillable := prev != nil && prev.status.IsBillable()
	isBillable := cur.status.IsBillable()
	if wasBillable != isBillable {
		task := benefit.TaskRevoke
		if isBillable {
			task = benefit.TaskGrant
		}
		for _, benefitID := range benefitIDs {
			errs = append(errs, jobqueue.Enqueue(ctx, task, benefit.Payload{
				SubscriptionID: sub.ID,
				CustomerID:     sub.CustomerID,
				OrganizationID: sub.OrganizationID,
				BenefitID:      benefitID,
			}))
		}
	}

	errs = append(errs,
		jobqueue.Enqueue(ctx, TaskCustomerStateChanged, CustomerPayload{
			CustomerID:     sub.CustomerID,
			OrganizationID: sub.OrganizationID,
		}),
		broker.Enqueue(ctx, "subscription.changed", sub.ID.String(), sub),
	)
	return errors.Join(errs...)
}

// customerDebounce collapses bursts of state changes for one customer.
var customerDebounce = job.WithDebounce(func(p CustomerPayload) string {
	return "customer.state_changed:" + p.CustomerID.String()
}, 2*time.Second, 30*time.Second)

// dispatch enqueues sub's pending effects and saves whatever could not be
// enqueued. The caller holds the subscription lock.
func (s *Service) dispatch(ctx context.Context, sub *Subscription) error {
	if len(sub.PendingEffects) == 0 {
		return nil
	}
	rest, err := jobqueue.Dispatch(ctx, s.enqueuer, sub.PendingEffects)
	sent := len(sub.PendingEffects) - len(rest)
	if sent == 0 {
		return err
	}
	sub.PendingEffects = rest
	if saveErr := s.store.UpdateSubscription(ctx, sub); saveErr != nil {
		// The sent jobs stay recorded and will be enqueued again.
		return errors.Join(err, fmt.Errorf("polar/subscription: clear effects of %s: %w", sub.ID, saveErr))
	}
	return err
}
