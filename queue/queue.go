// Package queue gates dequeued jobs by queue and by organization.
//
// Jobs land in one of three priority queues. A Manager can cap how many
// jobs of a queue run at once on this worker and how fast they start, and
// can apply the same limits to one organization within a queue so that a
// single seller emitting a burst of webhooks does not starve the others:
//
//	m := queue.NewManager(
//	    queue.Config{Name: polar.QueueLowPriority, MaxConcurrency: 4},
//	)
//	m.SetOrganizationConfig(queue.OrganizationConfig{
//	    Queue:          polar.QueueMediumPriority,
//	    OrganizationID: orgID,
//	    RateLimit:      5,
//	})
//
// Rate limits are token buckets from golang.org/x/time/rate.
package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config limits one queue.
type Config struct {
	// Name is the queue name, as in job.Job.Queue.
	Name string `mapstructure:"name" validate:"required"`

	// MaxConcurrency caps simultaneously running jobs of this queue.
	// Zero means only the pool-wide concurrency applies.
	MaxConcurrency int `mapstructure:"max_concurrency" validate:"gte=0"`

	// RateLimit is the sustained starts per second. Zero disables it.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`

	// RateBurst defaults to 1 when RateLimit is set.
	RateBurst int `mapstructure:"rate_burst" validate:"gte=0"`
}

// limits is the runtime state shared by queue and organization gates.
type limits struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newLimits(rateLimit float64, burst, maxConcurrency int) *limits {
	l := &limits{maxConcurrency: maxConcurrency}
	if rateLimit > 0 {
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
	}
	return l
}

// blocked reports whether the gate refuses another job. It consumes a
// rate token when it does not.
func (l *limits) blocked() bool {
	if l.maxConcurrency > 0 && l.active >= l.maxConcurrency {
		return true
	}
	return l.limiter != nil && !l.limiter.Allow()
}

// Manager enforces queue and organization limits. It is safe for
// concurrent use.
type Manager struct {
	mu            sync.Mutex
	queues        map[string]*limits
	organizations map[string]*limits
}

// NewManager creates a Manager. Queues without a Config are unlimited.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues:        make(map[string]*limits, len(configs)),
		organizations: make(map[string]*limits),
	}
	for _, cfg := range configs {
		m.queues[cfg.Name] = newLimits(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	}
	return m
}

// Acquire reports whether a job of queue and organization may start. On
// true the caller must call Release once the job finishes.
func (m *Manager) Acquire(queue, orgID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[queue]
	if q != nil && q.blocked() {
		return false
	}

	var o *limits
	if orgID != "" {
		o = m.organizations[orgKey(queue, orgID)]
		if o != nil && o.blocked() {
			return false
		}
	}

	if q != nil {
		q.active++
	}
	if o != nil {
		o.active++
	}
	return true
}

// Release frees the slot taken by Acquire.
func (m *Manager) Release(queue, orgID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q := m.queues[queue]; q != nil && q.active > 0 {
		q.active--
	}
	if orgID != "" {
		if o := m.organizations[orgKey(queue, orgID)]; o != nil && o.active > 0 {
			o.active--
		}
	}
}

// SetQueueConfig replaces the limits of a queue, keeping its active count.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := newLimits(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if existing := m.queues[cfg.Name]; existing != nil {
		l.active = existing.active
	}
	m.queues[cfg.Name] = l
}

// ActiveCount returns the running jobs of a limited queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q := m.queues[queue]; q != nil {
		return q.active
	}
	return 0
}
