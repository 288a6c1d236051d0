package broker

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// PubSub publishes to Google Cloud Pub/Sub, one topic per message topic.
type PubSub struct {
	client *pubsub.Client
}

// NewPubSub creates a Pub/Sub client for the project.
func NewPubSub(ctx context.Context, projectID string) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("polar/broker: pubsub client: %w", err)
	}
	return &PubSub{client: client}, nil
}

// Publish implements MessageBroker. It waits for the server ack.
func (p *PubSub) Publish(ctx context.Context, topic, key string, data []byte, headers map[string]string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pubsub publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "gcp_pubsub"),
			attribute.String("messaging.destination.name", topic),
		),
	)
	defer span.End()

	attrs := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, attrs)
	for k, v := range headers {
		attrs[k] = v
	}

	t := p.client.Topic(topic)
	if key != "" {
		t.EnableMessageOrdering = true
	}
	res := t.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: key,
	})
	if _, err := res.Get(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// Close closes the client.
func (p *PubSub) Close() error { return p.client.Close() }
