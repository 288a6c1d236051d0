package job

import "context"

// Actor is a typed, named background task.
// T is the payload type (must be JSON-serializable).
type Actor[T any] struct {
	// Name is the unique identifier jobs use to address this actor.
	Name string

	// Handler processes one job payload.
	Handler func(ctx context.Context, payload T) error

	// Opts are the defaults every job for this actor inherits.
	Opts Options
}

// NewActor creates a typed actor.
func NewActor[T any](name string, handler func(ctx context.Context, payload T) error, opts ...Option) *Actor[T] {
	a := &Actor[T]{
		Name:    name,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&a.Opts)
	}
	return a
}
