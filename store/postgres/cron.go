package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/cron"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
)

const cronColumns = `
	id, name, schedule, job_name, priority, payload,
	last_run_at, next_run_at, locked_by, locked_until,
	enabled, created_at, updated_at`

// RegisterCron persists a new entry. Names are unique.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO polar_cron_entries (`+cronColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.JobName, int(entry.Priority), entry.Payload,
		entry.LastRunAt, entry.NextRunAt, entry.LockedBy, entry.LockedUntil,
		entry.Enabled, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return polar.ErrDuplicateCron
		}
		return fmt.Errorf("polar/postgres: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves an entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+cronColumns+` FROM polar_cron_entries WHERE id = $1`, entryID.String())
	e, err := scanCron(row)
	if err != nil {
		if isNoRows(err) {
			return nil, polar.ErrCronNotFound
		}
		return nil, fmt.Errorf("polar/postgres: get cron: %w", err)
	}
	return e, nil
}

// ListCrons returns all entries ordered by name.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+cronColumns+` FROM polar_cron_entries ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("polar/postgres: list crons: %w", err)
	}
	defer rows.Close()

	var entries []*cron.Entry
	for rows.Next() {
		e, scanErr := scanCron(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("polar/postgres: scan cron row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("polar/postgres: iterate cron rows: %w", err)
	}
	return entries, nil
}

// AcquireCronLock locks an entry for workerID. A lock held by another
// worker is only taken over once it expired.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE polar_cron_entries
		SET locked_by = $2, locked_until = $3, updated_at = NOW()
		WHERE id = $1
		  AND (locked_by = '' OR locked_by = $2 OR locked_until IS NULL OR locked_until <= $4)`,
		entryID.String(), workerID.String(), now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("polar/postgres: acquire cron lock: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM polar_cron_entries WHERE id = $1)`, entryID.String(),
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("polar/postgres: check cron exists: %w", err)
	}
	if !exists {
		return false, polar.ErrCronNotFound
	}
	return false, nil
}

// ReleaseCronLock releases the lock if workerID holds it.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE polar_cron_entries
		SET locked_by = '', locked_until = NULL, updated_at = NOW()
		WHERE id = $1 AND locked_by = $2`,
		entryID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("polar/postgres: release cron lock: %w", err)
	}
	return nil
}

// UpdateCronLastRun records when an entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE polar_cron_entries SET last_run_at = $2, updated_at = NOW() WHERE id = $1`,
		entryID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("polar/postgres: update cron last run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return polar.ErrCronNotFound
	}
	return nil
}

// UpdateCronEntry updates Schedule, Enabled and NextRunAt.
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE polar_cron_entries
		SET schedule = $2, enabled = $3, next_run_at = $4, updated_at = NOW()
		WHERE id = $1`,
		entry.ID.String(), entry.Schedule, entry.Enabled, entry.NextRunAt,
	)
	if err != nil {
		return fmt.Errorf("polar/postgres: update cron entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return polar.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes an entry.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM polar_cron_entries WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("polar/postgres: delete cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return polar.ErrCronNotFound
	}
	return nil
}

func scanCron(row pgx.Row) (*cron.Entry, error) {
	var (
		e        cron.Entry
		idStr    string
		priority int
	)
	err := row.Scan(
		&idStr, &e.Name, &e.Schedule, &e.JobName, &priority, &e.Payload,
		&e.LastRunAt, &e.NextRunAt, &e.LockedBy, &e.LockedUntil,
		&e.Enabled, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.ID, err = id.ParseCronID(idStr)
	if err != nil {
		return nil, fmt.Errorf("polar/postgres: parse cron id %q: %w", idStr, err)
	}
	e.Priority = job.Priority(priority)
	return &e, nil
}
