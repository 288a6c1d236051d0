// Package broker publishes domain events (orders, subscription changes) to
// a message broker for internal consumers. Domain code buffers an
// events.publish job with Enqueue so that an event is only published once
// the unit of work that produced it succeeded.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/jobqueue"
)

// TaskPublish is the actor that publishes one domain event.
const TaskPublish = "events.publish"

// MessageBroker publishes messages to a topic or exchange.
type MessageBroker interface {
	Publish(ctx context.Context, topic, key string, data []byte, headers map[string]string) error
	Close() error
}

// Message is the job payload of TaskPublish.
type Message struct {
	Topic   string            `json:"topic"`
	Key     string            `json:"key,omitempty"`
	Data    json.RawMessage   `json:"data"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Enqueue buffers publication of data on topic. key orders messages that
// share it on brokers that support ordering.
func Enqueue(ctx context.Context, topic, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("polar/broker: marshal %s: %w", topic, err)
	}
	return jobqueue.Enqueue(ctx, TaskPublish, Message{Topic: topic, Key: key, Data: raw})
}

// Actor returns the TaskPublish actor publishing through b.
func Actor(b MessageBroker) *job.Actor[Message] {
	return job.NewActor(TaskPublish, func(ctx context.Context, m Message) error {
		if err := b.Publish(ctx, m.Topic, m.Key, m.Data, m.Headers); err != nil {
			return fmt.Errorf("polar/broker: publish %s: %w", m.Topic, err)
		}
		return nil
	}, job.WithPriority(job.PriorityLow))
}

// Memory keeps published messages in process. It backs local runs and
// tests.
type Memory struct {
	mu       sync.Mutex
	messages []Message
}

// NewMemory creates an empty in-process broker.
func NewMemory() *Memory { return &Memory{} }

// Publish implements MessageBroker.
func (m *Memory) Publish(_ context.Context, topic, key string, data []byte, headers map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{Topic: topic, Key: key, Data: append(json.RawMessage(nil), data...), Headers: headers})
	return nil
}

// Messages returns a snapshot of published messages.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Close implements MessageBroker.
func (m *Memory) Close() error { return nil }
