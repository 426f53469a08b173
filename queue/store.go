package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/listkeeper/listkeeper/errors"
)

// Store provides SQLite persistence for jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a job store backed by the given database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `seq, id, job_type, payload, priority, status, attempts, max_attempts,
	run_after, blocked_by, worker_id, lease_expires_at, last_error,
	created_at, started_at, completed_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var payload []byte
	var blockedBy, workerID, lastError sql.NullString
	var leaseExpiresAt, startedAt, completedAt sql.NullTime

	err := row.Scan(
		&j.Seq, &j.ID, &j.Type, &payload, &j.Priority, &j.Status,
		&j.Attempts, &j.MaxAttempts, &j.RunAfter, &blockedBy, &workerID,
		&leaseExpiresAt, &lastError, &j.CreatedAt, &startedAt, &completedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		j.Payload = json.RawMessage(payload)
	}
	j.BlockedBy = blockedBy.String
	j.WorkerID = workerID.String
	j.LastError = lastError.String
	if leaseExpiresAt.Valid {
		t := leaseExpiresAt.Time
		j.LeaseExpiresAt = &t
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Insert persists a new job and assigns its sequence number
func (s *Store) Insert(ctx context.Context, job *Job) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, job_type, payload, priority, status, attempts, max_attempts,
			run_after, blocked_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, []byte(job.Payload), job.Priority, job.Status,
		job.Attempts, job.MaxAttempts, job.RunAfter, nullStr(job.BlockedBy),
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert job")
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to read job sequence")
	}
	job.Seq = seq
	return nil
}

// Get retrieves a job by ID
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM jobs WHERE id = ?`, jobColumns), id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.WithDetail(errors.ErrNotFound, "job: "+id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return job, nil
}

// Lease atomically claims the next eligible job for the given worker.
//
// Eligibility: status pending, run_after in the past, and any blocked_by
// dependency already succeeded. Ordering: priority ascending, then insert
// sequence (FIFO within a priority class). Before claiming, running jobs
// with expired leases are returned to pending (or dead-lettered if their
// attempts are spent) and pending jobs whose blocker died are dead-lettered.
//
// Returns (nil, nil) when no job is eligible. types, when non-empty,
// restricts the claim to the listed job types.
func (s *Store) Lease(ctx context.Context, workerID string, types []string, leaseDur time.Duration) (*Job, error) {
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin lease transaction")
	}
	defer tx.Rollback()

	// Reclaim expired leases. The worker that held them is presumed dead;
	// its attempt was spent.
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'dead', worker_id = NULL, lease_expires_at = NULL,
			last_error = 'lease expired after final attempt', completed_at = ?, updated_at = ?
		WHERE status = 'running' AND lease_expires_at <= ? AND attempts >= max_attempts`,
		now, now, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dead-letter expired jobs")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', worker_id = NULL, lease_expires_at = NULL,
			last_error = 'lease expired', updated_at = ?
		WHERE status = 'running' AND lease_expires_at <= ?`,
		now, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reclaim expired leases")
	}

	// A pending job whose blocker can never succeed will never run
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'dead',
			last_error = 'blocking job ' || blocked_by || ' is dead', completed_at = ?, updated_at = ?
		WHERE status = 'pending' AND blocked_by IS NOT NULL
			AND blocked_by IN (SELECT id FROM jobs WHERE status = 'dead')`,
		now, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dead-letter blocked jobs")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM jobs
		WHERE status = 'pending' AND run_after <= ?
			AND (blocked_by IS NULL
				OR blocked_by IN (SELECT id FROM jobs WHERE status = 'succeeded'))`,
		jobColumns)
	args := []interface{}{now}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += fmt.Sprintf(" AND job_type IN (%s)", strings.Join(placeholders, ", "))
	}
	query += " ORDER BY priority ASC, seq ASC LIMIT 1"

	job, err := scanJob(tx.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		if err := tx.Commit(); err != nil {
			return nil, errors.Wrap(err, "failed to commit lease transaction")
		}
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select eligible job")
	}

	expires := now.Add(leaseDur)
	result, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'running', worker_id = ?, lease_expires_at = ?,
			attempts = attempts + 1, started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		workerID, expires, now, now, job.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim job")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to verify job claim")
	}
	if rows != 1 {
		// Lost the race to another leaser; caller polls again
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit lease transaction")
	}

	job.Status = StatusRunning
	job.WorkerID = workerID
	job.LeaseExpiresAt = &expires
	job.Attempts++
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.UpdatedAt = now
	return job, nil
}

// Complete marks a running job succeeded. The worker must still hold the lease.
func (s *Store) Complete(ctx context.Context, jobID, workerID string) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'succeeded', worker_id = NULL, lease_expires_at = NULL,
			last_error = NULL, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running' AND worker_id = ?`,
		now, now, jobID, workerID)
	if err != nil {
		return errors.Wrap(err, "failed to complete job")
	}
	return s.requireOwned(result, jobID, workerID)
}

// Fail records a failed attempt for a running job. Transient failures with
// attempts remaining return to pending with runAfter as the retry time;
// permanent failures and exhausted retries go dead.
func (s *Store) Fail(ctx context.Context, jobID, workerID, errMsg string, retryable bool, runAfter time.Time) error {
	now := time.Now()

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if retryable && job.Attempts < job.MaxAttempts {
		result, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = 'pending', worker_id = NULL, lease_expires_at = NULL,
				last_error = ?, run_after = ?, updated_at = ?
			WHERE id = ? AND status = 'running' AND worker_id = ?`,
			errMsg, runAfter, now, jobID, workerID)
		if err != nil {
			return errors.Wrap(err, "failed to requeue job")
		}
		return s.requireOwned(result, jobID, workerID)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'dead', worker_id = NULL, lease_expires_at = NULL,
			last_error = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running' AND worker_id = ?`,
		errMsg, now, now, jobID, workerID)
	if err != nil {
		return errors.Wrap(err, "failed to dead-letter job")
	}
	return s.requireOwned(result, jobID, workerID)
}

// requireOwned converts a zero-row update into a conflict error: the lease
// was lost (expired and reclaimed) or the job is not running
func (s *Store) requireOwned(result sql.Result, jobID, workerID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check update result")
	}
	if rows == 0 {
		return errors.WithDetailf(errors.ErrConflict,
			"job %s is not running under worker %s", jobID, workerID)
	}
	return nil
}

// ExtendLease pushes out the lease expiry for a long-running job
func (s *Store) ExtendLease(ctx context.Context, jobID, workerID string, leaseDur time.Duration) error {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND status = 'running' AND worker_id = ?`,
		now.Add(leaseDur), now, jobID, workerID)
	if err != nil {
		return errors.Wrap(err, "failed to extend lease")
	}
	return s.requireOwned(result, jobID, workerID)
}

// Cancel dead-letters a pending job. For a running job the cancellation is
// advisory: the current attempt finishes, but no further retries are granted.
func (s *Store) Cancel(ctx context.Context, jobID string) error {
	now := time.Now()

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.Status {
	case StatusPending:
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET status = 'dead', last_error = 'cancelled',
				completed_at = ?, updated_at = ?
			WHERE id = ? AND status = 'pending'`,
			now, now, jobID)
		if err != nil {
			return errors.Wrap(err, "failed to cancel job")
		}
		return nil
	case StatusRunning:
		_, err := s.db.ExecContext(ctx, `
			UPDATE jobs SET max_attempts = attempts, updated_at = ?
			WHERE id = ? AND status = 'running'`,
			now, jobID)
		if err != nil {
			return errors.Wrap(err, "failed to cancel running job")
		}
		return nil
	default:
		return errors.WithDetailf(errors.ErrInvalidState,
			"cannot cancel job %s in status %s", jobID, job.Status)
	}
}

// Retry returns a dead job to pending with a fresh retry budget
func (s *Store) Retry(ctx context.Context, jobID string) (*Job, error) {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', attempts = 0, run_after = ?,
			last_error = NULL, completed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'dead'`,
		now, now, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to retry job")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to check retry result")
	}
	if rows == 0 {
		job, err := s.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return nil, errors.WithDetailf(errors.ErrInvalidState,
			"cannot retry job %s in status %s", jobID, job.Status)
	}
	return s.Get(ctx, jobID)
}

// ListByStatus returns jobs in the given status, newest first
func (s *Store) ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM jobs WHERE status = ? ORDER BY seq DESC LIMIT ?`, jobColumns),
		status, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ListRecent returns the most recently enqueued jobs regardless of status
func (s *Store) ListRecent(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM jobs ORDER BY seq DESC LIMIT ?`, jobColumns), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns job counts by status
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query job stats")
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan job stats")
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Cleanup deletes terminal jobs that completed before the cutoff. A job
// still named as blocked_by of a live job survives: deleting it would
// strand the dependent, which can no longer prove its blocker succeeded.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('succeeded', 'dead') AND completed_at < ?
			AND id NOT IN (
				SELECT blocked_by FROM jobs
				WHERE blocked_by IS NOT NULL AND status IN ('pending', 'running'))`,
		cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up jobs")
	}
	return result.RowsAffected()
}
