package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/polarsource/polar-sub002/broker"

// RabbitMQ publishes to a topic exchange, using the message topic as the
// routing key. Channels are pooled.
type RabbitMQ struct {
	conn     *amqp.Connection
	exchange string
	pool     chan *amqp.Channel

	mu     sync.Mutex
	closed bool
}

// NewRabbitMQ dials the broker and declares the exchange.
func NewRabbitMQ(s Settings) (*RabbitMQ, error) {
	if s.PoolSize <= 0 {
		s.PoolSize = 4
	}
	if s.Exchange == "" {
		s.Exchange = "polar.events"
	}

	conn, err := amqp.Dial(s.URL)
	if err != nil {
		return nil, fmt.Errorf("polar/broker: connect to rabbitmq: %w", err)
	}

	r := &RabbitMQ{conn: conn, exchange: s.Exchange, pool: make(chan *amqp.Channel, s.PoolSize)}
	for range s.PoolSize {
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("polar/broker: open channel: %w", err)
		}
		r.pool <- ch
	}

	ch := <-r.pool
	err = ch.ExchangeDeclare(s.Exchange, "topic", true, false, false, false, nil)
	r.pool <- ch
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("polar/broker: declare exchange %s: %w", s.Exchange, err)
	}
	return r, nil
}

// Publish implements MessageBroker.
func (r *RabbitMQ) Publish(ctx context.Context, topic, key string, data []byte, headers map[string]string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rabbitmq publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.destination.name", r.exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", topic),
		),
	)
	defer span.End()

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	table := amqp.Table{}
	for k, v := range headers {
		table[k] = v
	}
	for k, v := range carrier {
		table[k] = v
	}
	if key != "" {
		table["x-message-key"] = key
	}

	var ch *amqp.Channel
	select {
	case ch = <-r.pool:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { r.pool <- ch }()

	err := ch.Publish(r.exchange, topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
		Headers:     table,
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("messaging.message.body.size", len(data)))
	return nil
}

// Close closes the pooled channels and the connection.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for range cap(r.pool) {
		ch := <-r.pool
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, r.conn.Close())
	return errors.Join(errs...)
}
