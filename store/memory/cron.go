package memory

import (
	"context"
	"sort"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/cron"
	"github.com/polarsource/polar-sub002/id"
)

// RegisterCron persists a new cron entry. Names are unique.
func (m *Store) RegisterCron(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.crons {
		if e.Name == entry.Name {
			return polar.ErrDuplicateCron
		}
	}
	cp := *entry
	m.crons[entry.ID.String()] = &cp
	return nil
}

// GetCron retrieves a cron entry by ID.
func (m *Store) GetCron(_ context.Context, entryID id.CronID) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return nil, polar.ErrCronNotFound
	}
	cp := *e
	return &cp, nil
}

// ListCrons returns all cron entries ordered by name.
func (m *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cron.Entry, 0, len(m.crons))
	for _, e := range m.crons {
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Name < result[k].Name })
	return result, nil
}

// AcquireCronLock locks an entry for workerID. A lock held by another
// worker is only taken over once it expired.
func (m *Store) AcquireCronLock(_ context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return false, polar.ErrCronNotFound
	}

	now := time.Now().UTC()
	owner := workerID.String()
	if e.LockedBy != "" && e.LockedBy != owner && e.LockedUntil != nil && e.LockedUntil.After(now) {
		return false, nil
	}

	until := now.Add(ttl)
	e.LockedBy = owner
	e.LockedUntil = &until
	return true, nil
}

// ReleaseCronLock releases the lock if workerID holds it.
func (m *Store) ReleaseCronLock(_ context.Context, entryID id.CronID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return polar.ErrCronNotFound
	}
	if e.LockedBy != workerID.String() {
		return nil
	}
	e.LockedBy = ""
	e.LockedUntil = nil
	return nil
}

// UpdateCronLastRun records when an entry last fired.
func (m *Store) UpdateCronLastRun(_ context.Context, entryID id.CronID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return polar.ErrCronNotFound
	}
	t := at
	e.LastRunAt = &t
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateCronEntry updates the mutable fields of an entry.
func (m *Store) UpdateCronEntry(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entry.ID.String()]
	if !ok {
		return polar.ErrCronNotFound
	}
	e.Schedule = entry.Schedule
	e.Enabled = entry.Enabled
	e.NextRunAt = entry.NextRunAt
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteCron removes a cron entry.
func (m *Store) DeleteCron(_ context.Context, entryID id.CronID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.crons[key]; !ok {
		return polar.ErrCronNotFound
	}
	delete(m.crons, key)
	return nil
}
