// Package jobqueue buffers job enqueues for the duration of a unit of work.
//
// Domain code never talks to the job store directly. It calls Enqueue,
// which appends to the buffer attached to the context. Whoever opened the
// buffer decides its fate: Flush after the surrounding transaction commits
// (or after the current job succeeds), Discard when it rolls back. A
// failed unit of work therefore never leaks follow-up jobs, and a job that
// is retried does not dispatch its follow-ups twice.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/polarsource/polar-sub002/job"
	"github.com/polarsource/polar-sub002/scope"
)

// ErrNoJobQueue is returned by Enqueue when no buffer is open in the context.
var ErrNoJobQueue = errors.New("polar/jobqueue: no job queue open in context")

// Enqueuer persists a job. engine.Engine satisfies it.
type Enqueuer interface {
	EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error)
}

// Pending is one buffered enqueue. AppID and OrgID are the scope of the
// context it was buffered from; Flush enqueues under that scope.
type Pending struct {
	Name    string
	Payload []byte
	Opts    []job.Option
	AppID   string
	OrgID   string
}

// Record is the storable form of a Pending. Only the priority survives of
// its options; everything else comes from the actor's registration.
type Record struct {
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload"`
	Priority *job.Priority   `json:"priority,omitempty"`
	AppID    string          `json:"app_id,omitempty"`
	OrgID    string          `json:"org_id,omitempty"`
}

// Record converts p for storage.
func (p Pending) Record() Record {
	r := Record{Name: p.Name, Payload: json.RawMessage(p.Payload), AppID: p.AppID, OrgID: p.OrgID}
	o := job.Options{Priority: -1}
	for _, opt := range p.Opts {
		opt(&o)
	}
	if o.Priority >= 0 {
		prio := o.Priority
		r.Priority = &prio
	}
	return r
}

// Options returns the enqueue options r was recorded with.
func (r Record) Options() []job.Option {
	if r.Priority == nil {
		return nil
	}
	return []job.Option{job.WithPriority(*r.Priority)}
}

// Context returns ctx carrying r's scope.
func (r Record) Context(ctx context.Context) context.Context {
	return scope.Restore(ctx, r.AppID, r.OrgID)
}

// Records converts pending for storage.
func Records(pending []Pending) []Record {
	out := make([]Record, len(pending))
	for i, p := range pending {
		out[i] = p.Record()
	}
	return out
}

// Dispatch enqueues records in order through e, stopping at the first
// failure. It returns the records that were not enqueued, the failed one
// first. A nil e re-buffers them into the buffer open in ctx instead.
func Dispatch(ctx context.Context, e Enqueuer, records []Record) ([]Record, error) {
	for i, r := range records {
		var err error
		if e == nil {
			err = EnqueueRaw(r.Context(ctx), r.Name, r.Payload, r.Options()...)
		} else {
			_, err = e.EnqueueRaw(r.Context(ctx), r.Name, r.Payload, r.Options()...)
		}
		if err != nil {
			return records[i:], fmt.Errorf("polar/jobqueue: dispatch %q: %w", r.Name, err)
		}
	}
	return nil, nil
}

// Manager holds the jobs buffered by one unit of work.
type Manager struct {
	mu      sync.Mutex
	pending []Pending
}

type ctxKey struct{}

// Open attaches a fresh buffer to ctx.
func Open(ctx context.Context) (context.Context, *Manager) {
	m := &Manager{}
	return context.WithValue(ctx, ctxKey{}, m), m
}

// From returns the buffer attached to ctx.
func From(ctx context.Context) (*Manager, bool) {
	m, ok := ctx.Value(ctxKey{}).(*Manager)
	return m, ok
}

// Enqueue JSON-encodes payload and buffers it for the actor name.
func Enqueue[T any](ctx context.Context, name string, payload T, opts ...job.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("polar/jobqueue: marshal payload for %q: %w", name, err)
	}
	return EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw buffers a pre-serialized payload.
func EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) error {
	m, ok := From(ctx)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoJobQueue, name)
	}
	appID, orgID := scope.Capture(ctx)
	m.mu.Lock()
	m.pending = append(m.pending, Pending{Name: name, Payload: payload, Opts: opts, AppID: appID, OrgID: orgID})
	m.mu.Unlock()
	return nil
}

// Len returns the number of buffered jobs.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Pending returns a snapshot of the buffered jobs.
func (m *Manager) Pending() []Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Pending, len(m.pending))
	copy(out, m.pending)
	return out
}

// Flush enqueues every buffered job in order and empties the buffer.
// Every job is attempted; the errors of the failed ones are joined.
func (m *Manager) Flush(ctx context.Context, e Enqueuer) error {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	var errs []error
	for _, p := range pending {
		pctx := scope.Restore(ctx, p.AppID, p.OrgID)
		if _, err := e.EnqueueRaw(pctx, p.Name, p.Payload, p.Opts...); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %q: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Discard drops every buffered job and returns how many were dropped.
func (m *Manager) Discard() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.pending)
	m.pending = nil
	return n
}

// Run opens a buffer, calls fn and flushes the buffer if fn succeeds.
// When fn fails the buffer is discarded and fn's error returned.
func Run(ctx context.Context, e Enqueuer, fn func(ctx context.Context) error) error {
	ctx, m := Open(ctx)
	if err := fn(ctx); err != nil {
		m.Discard()
		return err
	}
	return m.Flush(ctx, e)
}
