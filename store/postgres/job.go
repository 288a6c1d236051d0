package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	polar "github.com/polarsource/polar-sub002"
	"github.com/polarsource/polar-sub002/id"
	"github.com/polarsource/polar-sub002/job"
)

const jobColumns = `
	id, name, queue, payload, state, priority, max_retries, retry_count,
	min_backoff, max_backoff, debounce_key, last_error,
	scope_app_id, scope_org_id, worker_id,
	run_at, started_at, completed_at, heartbeat_at, timeout,
	created_at, updated_at`

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO polar_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22)`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State), int(j.Priority),
		j.MaxRetries, j.RetryCount,
		j.MinBackoff.Nanoseconds(), j.MaxBackoff.Nanoseconds(), j.DebounceKey, j.LastError,
		j.ScopeAppID, j.ScopeOrgID, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt, j.Timeout.Nanoseconds(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return polar.ErrJobAlreadyExists
		}
		return fmt.Errorf("polar/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs claims up to limit runnable jobs. Queues are drained in the
// order given, then by priority (descending) and RunAt (ascending).
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			SELECT id FROM polar_jobs
			WHERE state IN ('pending', 'retrying')
			  AND queue = ANY($1)
			  AND run_at <= NOW()
			ORDER BY array_position($1, queue), priority DESC, run_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE polar_jobs j
		SET state = 'running', started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
		FROM claimed
		WHERE j.id = claimed.id
		RETURNING `+prefixed("j", jobColumns),
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("polar/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	rank := make(map[string]int, len(queues))
	for i, q := range queues {
		rank[q] = i
	}
	sortJobs(jobs, rank)
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM polar_jobs WHERE id = $1`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, polar.ErrJobNotFound
		}
		return nil, fmt.Errorf("polar/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE polar_jobs SET
			name = $2, queue = $3, payload = $4, state = $5, priority = $6,
			max_retries = $7, retry_count = $8, min_backoff = $9, max_backoff = $10,
			debounce_key = $11, last_error = $12, scope_app_id = $13, scope_org_id = $14,
			worker_id = $15, run_at = $16, started_at = $17, completed_at = $18,
			heartbeat_at = $19, timeout = $20, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Name, j.Queue, j.Payload, string(j.State), int(j.Priority),
		j.MaxRetries, j.RetryCount, j.MinBackoff.Nanoseconds(), j.MaxBackoff.Nanoseconds(),
		j.DebounceKey, j.LastError, j.ScopeAppID, j.ScopeOrgID,
		j.WorkerID.String(), j.RunAt, j.StartedAt, j.CompletedAt,
		j.HeartbeatAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("polar/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return polar.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM polar_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("polar/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return polar.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in the given state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM polar_jobs WHERE state = $1`
	args := []any{string(state)}
	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}
	query += " ORDER BY created_at ASC"
	query, args = paging(query, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("polar/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE polar_jobs SET heartbeat_at = NOW(), worker_id = $2, updated_at = NOW() WHERE id = $1`,
		jobID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("polar/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return polar.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM polar_jobs
		WHERE state = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < $1`,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("polar/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM polar_jobs WHERE TRUE`
	var args []any
	if opts.Queue != "" {
		args = append(args, opts.Queue)
		query += fmt.Sprintf(" AND queue = $%d", len(args))
	}
	if opts.State != "" {
		args = append(args, string(opts.State))
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("polar/postgres: count jobs: %w", err)
	}
	return count, nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                 job.Job
		idStr, stateStr   string
		workerStr         string
		priority          int
		minBackoff, maxBo int64
		timeoutNs         int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.Payload, &stateStr, &priority, &j.MaxRetries, &j.RetryCount,
		&minBackoff, &maxBo, &j.DebounceKey, &j.LastError,
		&j.ScopeAppID, &j.ScopeOrgID, &workerStr,
		&j.RunAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt, &timeoutNs,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.ID, err = id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("polar/postgres: parse job id %q: %w", idStr, err)
	}
	j.State = job.State(stateStr)
	j.Priority = job.Priority(priority)
	j.MinBackoff = time.Duration(minBackoff)
	j.MaxBackoff = time.Duration(maxBo)
	j.Timeout = time.Duration(timeoutNs)
	if workerStr != "" {
		if w, wErr := id.ParseWorkerID(workerStr); wErr == nil {
			j.WorkerID = w
		}
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("polar/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("polar/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
