package broker

import (
	"context"
	"fmt"
)

// Settings selects and configures a broker.
type Settings struct {
	Type      string `mapstructure:"type" validate:"omitempty,oneof=memory rabbitmq gcp-pubsub"`
	URL       string `mapstructure:"url" validate:"required_if=Type rabbitmq"`
	Exchange  string `mapstructure:"exchange"`
	ProjectID string `mapstructure:"project_id" validate:"required_if=Type gcp-pubsub"`
	PoolSize  int    `mapstructure:"pool_size"`
}

// New builds the broker selected by settings. An empty type selects the
// in-process broker.
func New(ctx context.Context, s Settings) (MessageBroker, error) {
	switch s.Type {
	case "", "memory":
		return NewMemory(), nil
	case "rabbitmq":
		b, err := NewRabbitMQ(s)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "gcp-pubsub":
		b, err := NewPubSub(ctx, s.ProjectID)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("polar/broker: unsupported broker type %q", s.Type)
	}
}
