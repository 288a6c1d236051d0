package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/cluster"
	"github.com/polarsource/polar-sub002/id"
)

// leaderLockKey is the advisory lock that serializes leader election.
const leaderLockKey int64 = 0x706f6c6172 // "polar"

const workerColumns = `
	id, hostname, queues, concurrency, state,
	is_leader, leader_until, last_seen, metadata, created_at`

// RegisterWorker adds or replaces a worker in the registry.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO polar_workers (`+workerColumns+`)
		VALUES ($1, $2, $3, $4, $5, FALSE, NULL, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname, queues = EXCLUDED.queues,
			concurrency = EXCLUDED.concurrency, state = EXCLUDED.state,
			last_seen = EXCLUDED.last_seen, metadata = EXCLUDED.metadata`,
		w.ID.String(), w.Hostname, w.Queues, w.Concurrency, string(w.State),
		w.LastSeen, w.Metadata, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("polar/postgres: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker, which also drops its leadership.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM polar_workers WHERE id = $1`, workerID.String())
	if err != nil {
		return fmt.Errorf("polar/postgres: deregister worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return polar.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker updates the worker's last-seen timestamp.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE polar_workers SET last_seen = NOW() WHERE id = $1`, workerID.String())
	if err != nil {
		return fmt.Errorf("polar/postgres: heartbeat worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return polar.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	return s.queryWorkers(ctx, `SELECT `+workerColumns+` FROM polar_workers ORDER BY created_at ASC`)
}

// ReapDeadWorkers returns workers not seen within threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	return s.queryWorkers(ctx,
		`SELECT `+workerColumns+` FROM polar_workers WHERE last_seen < $1`,
		time.Now().UTC().Add(-threshold),
	)
}

// AcquireLeadership makes workerID leader if there is none or the current
// lease expired. The worker must be registered.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (acquired bool, err error) {
	wID := workerID.String()
	now := time.Now().UTC()

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, leaderLockKey); err != nil {
			return err
		}

		var other bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM polar_workers
				WHERE is_leader AND leader_until > $2 AND id <> $1
			)`, wID, now,
		).Scan(&other); err != nil {
			return err
		}
		if other {
			return nil
		}

		if _, err := tx.Exec(ctx,
			`UPDATE polar_workers SET is_leader = FALSE, leader_until = NULL WHERE is_leader AND id <> $1`, wID,
		); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE polar_workers SET is_leader = TRUE, leader_until = $2 WHERE id = $1`, wID, now.Add(ttl),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return polar.ErrWorkerNotFound
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("polar/postgres: acquire leadership: %w", err)
	}
	return acquired, nil
}

// RenewLeadership extends the lease if workerID holds it.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE polar_workers SET leader_until = $2
		WHERE id = $1 AND is_leader AND leader_until > $3`,
		workerID.String(), now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("polar/postgres: renew leadership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetLeader returns the current leader, or nil.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+workerColumns+` FROM polar_workers
		WHERE is_leader AND leader_until > NOW()
		LIMIT 1`)
	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil //nolint:nilnil // no leader is not an error
		}
		return nil, fmt.Errorf("polar/postgres: get leader: %w", err)
	}
	return w, nil
}

func (s *Store) queryWorkers(ctx context.Context, query string, args ...any) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("polar/postgres: query workers: %w", err)
	}
	defer rows.Close()

	var workers []*cluster.Worker
	for rows.Next() {
		w, scanErr := scanWorker(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("polar/postgres: scan worker row: %w", scanErr)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("polar/postgres: iterate worker rows: %w", err)
	}
	return workers, nil
}

func scanWorker(row pgx.Row) (*cluster.Worker, error) {
	var (
		w        cluster.Worker
		idStr    string
		stateStr string
	)
	err := row.Scan(
		&idStr, &w.Hostname, &w.Queues, &w.Concurrency, &stateStr,
		&w.IsLeader, &w.LeaderUntil, &w.LastSeen, &w.Metadata, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if w.ID, err = id.ParseWorkerID(idStr); err != nil {
		return nil, fmt.Errorf("polar/postgres: parse worker id %q: %w", idStr, err)
	}
	w.State = cluster.WorkerState(stateStr)
	if w.IsLeader && (w.LeaderUntil == nil || !w.LeaderUntil.After(time.Now())) {
		w.IsLeader = false
		w.LeaderUntil = nil
	}
	return &w, nil
}
