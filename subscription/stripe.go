package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v72"

	"github.com/polarsource/polar-sub002/lock"
)

// statusFromStripe maps a Stripe status to ours. Unknown values map to
// incomplete, which any later update may move out of.
func statusFromStripe(st stripe.SubscriptionStatus) Status {
	switch st {
	case stripe.SubscriptionStatusActive:
		return StatusActive
	case stripe.SubscriptionStatusTrialing:
		return StatusTrialing
	case stripe.SubscriptionStatusPastDue:
		return StatusPastDue
	case stripe.SubscriptionStatusCanceled:
		return StatusCanceled
	case stripe.SubscriptionStatusUnpaid:
		return StatusUnpaid
	case stripe.SubscriptionStatusIncompleteExpired:
		return StatusIncompleteExpired
	default:
		return StatusIncomplete
	}
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// UpdateFromStripe mirrors a Stripe subscription onto ours. Updates that
// would break the transition rules, such as a late "active" for a revoked
// subscription, are ignored.
func (s *Service) UpdateFromStripe(ctx context.Context, ss *stripe.Subscription) (*Subscription, error) {
	var out *Subscription
	err := lock.Do(ctx, s.locker, lockKey(ss.ID), lockTTL, lockWait, func(ctx context.Context) error {
		sub, err := s.store.GetSubscriptionByStripeID(ctx, ss.ID)
		if err != nil {
			return fmt.Errorf("polar/subscription: stripe %s: %w", ss.ID, err)
		}

		out, err = s.apply(ctx, sub, func(_ context.Context, sub *Subscription) (bool, error) {
			status := statusFromStripe(ss.Status)
			if !CanTransition(sub.Status, status) {
				s.logger.Warn("ignoring stripe subscription update",
					slog.String("subscription_id", sub.ID.String()),
					slog.String("stripe_subscription_id", ss.ID),
					slog.String("from", string(sub.Status)),
					slog.String("to", string(status)),
				)
				return false, nil
			}

			sub.Status = status
			if t := unixTime(ss.CurrentPeriodStart); t != nil {
				sub.CurrentPeriodStart = *t
			}
			if t := unixTime(ss.CurrentPeriodEnd); t != nil {
				sub.CurrentPeriodEnd = *t
			}
			sub.TrialEnd = unixTime(ss.TrialEnd)
			sub.CancelAtPeriodEnd = ss.CancelAtPeriodEnd
			sub.CanceledAt = unixTime(ss.CanceledAt)
			sub.EndedAt = unixTime(ss.EndedAt)
			switch {
			case ss.CancelAt > 0:
				sub.EndsAt = unixTime(ss.CancelAt)
			case ss.CancelAtPeriodEnd:
				end := sub.CurrentPeriodEnd
				sub.EndsAt = &end
			default:
				sub.EndsAt = sub.EndedAt
			}
			return true, nil
		})
		return err
	})
	return out, err
}
