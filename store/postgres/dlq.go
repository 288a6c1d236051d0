package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/dlq"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
)

const dlqColumns = `
	id, job_id, job_name, queue, priority, payload, error,
	retry_count, max_retries, scope_app_id, scope_org_id,
	failed_at, replayed_at, created_at,
	min_backoff, max_backoff, timeout`

// PushDLQ adds a failed job entry.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO polar_dlq (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		entry.ID.String(), entry.JobID.String(), entry.JobName, entry.Queue, int(entry.Priority),
		entry.Payload, entry.Error, entry.RetryCount, entry.MaxRetries,
		entry.ScopeAppID, entry.ScopeOrgID, entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
		entry.MinBackoff.Nanoseconds(), entry.MaxBackoff.Nanoseconds(), entry.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("polar/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns entries, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM polar_dlq WHERE TRUE`
	var args []any
	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}
	query += " ORDER BY failed_at DESC"
	query, args = paging(query, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("polar/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("polar/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("polar/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves an entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM polar_dlq WHERE id = $1`, entryID.String())
	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, polar.ErrDLQNotFound
		}
		return nil, fmt.Errorf("polar/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks an entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE polar_dlq SET replayed_at = NOW() WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("polar/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return polar.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM polar_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("polar/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM polar_dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("polar/postgres: count dlq: %w", err)
	}
	return n, nil
}

func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e             dlq.Entry
		idStr, jobStr string
		priority      int

		minBackoff, maxBackoff, timeout int64
	)
	err := row.Scan(
		&idStr, &jobStr, &e.JobName, &e.Queue, &priority, &e.Payload, &e.Error,
		&e.RetryCount, &e.MaxRetries, &e.ScopeAppID, &e.ScopeOrgID,
		&e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
		&minBackoff, &maxBackoff, &timeout,
	)
	if err != nil {
		return nil, err
	}
	if e.ID, err = id.ParseDLQID(idStr); err != nil {
		return nil, fmt.Errorf("polar/postgres: parse dlq id %q: %w", idStr, err)
	}
	if e.JobID, err = id.ParseJobID(jobStr); err != nil {
		return nil, fmt.Errorf("polar/postgres: parse job id %q: %w", jobStr, err)
	}
	e.Priority = job.Priority(priority)
	e.MinBackoff = time.Duration(minBackoff)
	e.MaxBackoff = time.Duration(maxBackoff)
	e.Timeout = time.Duration(timeout)
	return &e, nil
}
