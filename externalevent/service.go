package externalevent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/lock"
)

// TaskResendUnhandled is the cron actor that re-enqueues stuck events.
const TaskResendUnhandled = "external_event.resend_unhandled"

// Payload is the job payload of every event handling task.
type Payload struct {
	EventID id.ExternalEventID `json:"event_id"`
}

// Service records and hands out external events.
type Service struct {
	store  Store
	locker lock.Locker
	logger *slog.Logger
}

// NewService creates an external event service.
func NewService(store Store, locker lock.Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, locker: locker, logger: logger}
}

// Enqueue records an event and buffers the task that handles it. A
// redelivered event returns ErrDuplicate and buffers nothing.
func (s *Service) Enqueue(ctx context.Context, source Source, task, externalID string, data json.RawMessage) (*Event, error) {
	e := &Event{
		ID:         id.NewExternalEventID(),
		Source:     source,
		Task:       task,
		ExternalID: externalID,
		Data:       data,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.InsertExternalEvent(ctx, e); err != nil {
		if errors.Is(err, polar.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s %s", ErrDuplicate, source, externalID)
		}
		return nil, fmt.Errorf("polar/externalevent: enqueue: %w", err)
	}
	if err := jobqueue.Enqueue(ctx, task, Payload{EventID: e.ID}, job.WithPriority(job.PriorityHigh)); err != nil {
		return nil, err
	}
	return e, nil
}

// Handle runs fn for an unhandled event of source and marks it handled
// when fn succeeds. Concurrent calls for the same event serialize; the
// loser gets ErrAlreadyHandled.
func (s *Service) Handle(ctx context.Context, source Source, eventID id.ExternalEventID, fn func(ctx context.Context, e *Event) error) error {
	return lock.Do(ctx, s.locker, "external_event:"+eventID.String(), time.Minute, 30*time.Second, func(ctx context.Context) error {
		e, err := s.store.GetExternalEvent(ctx, eventID)
		if err != nil {
			return fmt.Errorf("polar/externalevent: handle: %w", err)
		}
		if e.Source != source {
			return fmt.Errorf("polar/externalevent: handle: event %s is from %s, not %s: %w", eventID, e.Source, source, polar.ErrExternalEventNotFound)
		}
		if e.IsHandled() {
			return ErrAlreadyHandled
		}

		if err := fn(ctx, e); err != nil {
			return err
		}
		return s.store.MarkExternalEventHandled(ctx, eventID, time.Now().UTC())
	})
}

// ResendUnhandled buffers the task of every event of source older than
// olderThan that was never handled, and returns how many were buffered.
func (s *Service) ResendUnhandled(ctx context.Context, source Source, olderThan time.Duration) (int, error) {
	events, err := s.store.ListUnhandledExternalEvents(ctx, source, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("polar/externalevent: resend: %w", err)
	}
	for _, e := range events {
		if err := jobqueue.Enqueue(ctx, e.Task, Payload{EventID: e.ID}, job.WithPriority(job.PriorityHigh)); err != nil {
			return 0, err
		}
	}
	if len(events) > 0 {
		s.logger.Warn("resending unhandled external events",
			slog.String("source", string(source)),
			slog.Int("count", len(events)),
		)
	}
	return len(events), nil
}

// ResendPayload is the job payload of TaskResendUnhandled.
type ResendPayload struct {
	Source    Source        `json:"source"`
	OlderThan time.Duration `json:"older_than"`
}

// ResendActor returns the hourly TaskResendUnhandled actor. An empty
// payload, as fired by cron, resends Stripe events older than an hour.
func (s *Service) ResendActor() *job.Actor[ResendPayload] {
	return job.NewActor(TaskResendUnhandled, func(ctx context.Context, p ResendPayload) error {
		if p.Source == "" {
			p.Source = SourceStripe
		}
		if p.OlderThan <= 0 {
			p.OlderThan = time.Hour
		}
		_, err := s.ResendUnhandled(ctx, p.Source, p.OlderThan)
		return err
	}, job.WithCronTrigger("15 * * * *"), job.WithPriority(job.PriorityLow))
}
