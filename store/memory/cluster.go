package memory

import (
	"context"
	"sort"
	"time"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/cluster"
	"github.com/polarsource/polar-sub002/id"
)

// RegisterWorker adds or replaces a worker in the registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.workers[w.ID.String()] = &cp
	return nil
}

// DeregisterWorker removes a worker and drops its leadership.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return polar.ErrWorkerNotFound
	}
	delete(m.workers, key)
	if m.leader == key {
		m.leader = ""
		m.leaderUntil = time.Time{}
	}
	return nil
}

// HeartbeatWorker updates the worker's last-seen timestamp.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return polar.ErrWorkerNotFound
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// ListWorkers returns all registered workers.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		result = append(result, m.workerCopy(w))
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ReapDeadWorkers returns workers not seen within threshold.
func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range m.workers {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, m.workerCopy(w))
		}
	}
	return dead, nil
}

// AcquireLeadership makes workerID leader if there is none or the current
// lease expired.
func (m *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := workerID.String()
	if m.leader != "" && m.leader != key && m.leaderUntil.After(now) {
		return false, nil
	}
	m.leader = key
	m.leaderUntil = now.Add(ttl)
	return true, nil
}

// RenewLeadership extends the lease if workerID holds it.
func (m *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.leader != workerID.String() {
		return false, nil
	}
	m.leaderUntil = time.Now().UTC().Add(ttl)
	return true, nil
}

// GetLeader returns the current leader, or nil when there is none or the
// leader is not registered.
func (m *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || !m.leaderUntil.After(time.Now().UTC()) {
		return nil, nil //nolint:nilnil // no leader is not an error
	}
	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil //nolint:nilnil // leader not registered
	}
	return m.workerCopy(w), nil
}

// workerCopy must be called with mu held.
func (m *Store) workerCopy(w *cluster.Worker) *cluster.Worker {
	cp := *w
	cp.Queues = append([]string(nil), w.Queues...)
	if m.leader == w.ID.String() && m.leaderUntil.After(time.Now().UTC()) {
		cp.IsLeader = true
		until := m.leaderUntil
		cp.LeaderUntil = &until
	} else {
		cp.IsLeader = false
		cp.LeaderUntil = nil
	}
	return &cp
}
