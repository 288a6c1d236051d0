// Package webhook delivers outbound events to the endpoints organizations
// configure. Domain code buffers a webhook.send job with Enqueue; the actor
// hands the event to Relay, which owns endpoint fan-out, signing and
// delivery retries.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/xraph/relay"
	"github.com/xraph/relay/event"

	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/jobqueue"
	"github.com/polarsource/polar-sub002/scope"
)

// TaskSend is the actor that delivers one event.
const TaskSend = "webhook.send"

// Payload is the job payload of TaskSend.
type Payload struct {
	Type           string            `json:"type"`
	OrganizationID id.OrganizationID `json:"organization_id"`
	Data           json.RawMessage   `json:"data"`
}

// Enqueue buffers delivery of an event for an organization.
func Enqueue(ctx context.Context, eventType string, orgID id.OrganizationID, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("polar/webhook: marshal %s: %w", eventType, err)
	}
	ctx = scope.WithOrganization(ctx, orgID.String())
	return jobqueue.Enqueue(ctx, TaskSend, Payload{
		Type:           eventType,
		OrganizationID: orgID,
		Data:           raw,
	}, job.WithPriority(job.PriorityMedium))
}

// Option configures a Sender.
type Option func(*Sender)

// WithEvents restricts delivery to the listed event types. Others are
// dropped silently.
func WithEvents(events ...string) Option {
	return func(s *Sender) {
		s.enabled = make(map[string]bool, len(events))
		for _, e := range events {
			s.enabled[e] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) { s.logger = l }
}

// Sender hands events to Relay.
type Sender struct {
	relay   *relay.Relay
	enabled map[string]bool // nil means all
	logger  *slog.Logger
}

// NewSender creates a Sender.
func NewSender(r *relay.Relay, opts ...Option) *Sender {
	s := &Sender{relay: r, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send delivers one event. The organization is the Relay tenant, so only
// that organization's endpoints receive it.
func (s *Sender) Send(ctx context.Context, p Payload) error {
	if s.enabled != nil && !s.enabled[p.Type] {
		s.logger.Debug("webhook event disabled", slog.String("type", p.Type))
		return nil
	}
	err := s.relay.Send(ctx, &event.Event{
		Type:     p.Type,
		TenantID: p.OrganizationID.String(),
		Data:     p.Data,
	})
	if err != nil {
		return fmt.Errorf("polar/webhook: send %s: %w", p.Type, err)
	}
	return nil
}

// Actor returns the TaskSend actor backed by s.
func (s *Sender) Actor() *job.Actor[Payload] {
	return job.NewActor(TaskSend, s.Send,
		job.WithPriority(job.PriorityMedium),
		job.WithMaxRetries(10),
	)
}
