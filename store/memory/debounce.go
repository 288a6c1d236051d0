package memory

import (
	"context"
	"time"

	"github.com/polarsource/polar-sub002/debounce"
	"github.com/polarsource/polar-sub002/id"
)

type debounceRecord struct {
	debounce.Record
	expiresAt time.Time
}

// TouchDebounce marks jobID as the latest job for key.
func (m *Store) TouchDebounce(_ context.Context, key string, jobID id.JobID, now time.Time, ttl time.Duration) (*debounce.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.debounces[key]
	if !ok || rec.expiresAt.Before(now) {
		rec = &debounceRecord{Record: debounce.Record{FirstEnqueuedAt: now}}
		m.debounces[key] = rec
	}
	rec.JobID = jobID
	rec.LastEnqueuedAt = now
	rec.expiresAt = now.Add(ttl)

	cp := rec.Record
	return &cp, nil
}

// GetDebounce returns the record for key, or nil when none exists.
func (m *Store) GetDebounce(_ context.Context, key string) (*debounce.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.debounces[key]
	if !ok || rec.expiresAt.Before(time.Now().UTC()) {
		return nil, nil //nolint:nilnil // absent key
	}
	cp := rec.Record
	return &cp, nil
}

// RestartDebounce sets FirstEnqueuedAt to now.
func (m *Store) RestartDebounce(_ context.Context, key string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.debounces[key]; ok {
		rec.FirstEnqueuedAt = now
	}
	return nil
}

// ClearDebounce deletes the record if jobID is still the latest.
func (m *Store) ClearDebounce(_ context.Context, key string, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.debounces[key]; ok && rec.JobID.String() == jobID.String() {
		delete(m.debounces, key)
	}
	return nil
}
