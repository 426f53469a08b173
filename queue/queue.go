package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/listkeeper/listkeeper/logger"
)

// Queue is the durable job queue. It wraps the store with enqueue
// notification so idle workers wake immediately instead of waiting for
// their next poll tick.
type Queue struct {
	store   *Store
	backoff BackoffConfig

	mu          sync.Mutex
	rng         *rand.Rand
	subscribers []chan struct{}
}

// New creates a queue over the given database
func New(db *sql.DB) *Queue {
	return &Queue{
		store:   NewStore(db),
		backoff: DefaultBackoff,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewWithBackoff creates a queue with a custom retry delay curve
func NewWithBackoff(db *sql.DB, backoff BackoffConfig) *Queue {
	q := New(db)
	q.backoff = backoff
	return q
}

// Enqueue persists a new job and wakes subscribed workers
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload json.RawMessage, opts Options) (*Job, error) {
	job := NewJob(jobType, payload, opts)
	if err := q.store.Insert(ctx, job); err != nil {
		return nil, err
	}

	logger.Logger.Debugw("Enqueued job",
		"job_id", job.ID,
		"type", job.Type,
		"priority", job.Priority,
		"blocked_by", job.BlockedBy)

	q.notify()
	return job, nil
}

// Lease claims the next eligible job for workerID, or returns (nil, nil)
// when nothing is eligible. See Store.Lease for the eligibility rules.
func (q *Queue) Lease(ctx context.Context, workerID string, types []string, leaseDur time.Duration) (*Job, error) {
	return q.store.Lease(ctx, workerID, types, leaseDur)
}

// Complete marks a leased job as succeeded and wakes subscribers, since a
// success may unblock a dependent job
func (q *Queue) Complete(ctx context.Context, jobID, workerID string) error {
	if err := q.store.Complete(ctx, jobID, workerID); err != nil {
		return err
	}
	logger.Logger.Debugw("Completed job", "job_id", jobID, "worker_id", workerID)
	q.notify()
	return nil
}

// Fail records a failed attempt. Retryable failures with budget remaining
// return to pending after an exponential backoff with jitter; everything
// else dead-letters.
func (q *Queue) Fail(ctx context.Context, jobID, workerID string, jobErr error, retryable bool) error {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now()
	q.mu.Lock()
	runAfter := NextRetryAt(now, job.Attempts, q.backoff, q.rng)
	q.mu.Unlock()

	errMsg := "unknown error"
	if jobErr != nil {
		errMsg = jobErr.Error()
	}

	if err := q.store.Fail(ctx, jobID, workerID, errMsg, retryable, runAfter); err != nil {
		return err
	}

	if retryable && job.Attempts < job.MaxAttempts {
		logger.Logger.Infow("Job failed, will retry",
			"job_id", jobID,
			"attempt", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"retry_at", runAfter,
			"error", errMsg)
	} else {
		logger.Logger.Warnw("Job dead-lettered",
			"job_id", jobID,
			"attempts", job.Attempts,
			"retryable", retryable,
			"error", errMsg)
	}
	return nil
}

// ExtendLease renews the lease on a running job
func (q *Queue) ExtendLease(ctx context.Context, jobID, workerID string, leaseDur time.Duration) error {
	return q.store.ExtendLease(ctx, jobID, workerID, leaseDur)
}

// Cancel stops a pending job from ever running. For a running job it only
// withdraws future retries.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	return q.store.Cancel(ctx, jobID)
}

// Retry resubmits a dead job with a fresh attempt budget
func (q *Queue) Retry(ctx context.Context, jobID string) (*Job, error) {
	job, err := q.store.Retry(ctx, jobID)
	if err != nil {
		return nil, err
	}
	logger.Logger.Infow("Retrying dead job", "job_id", jobID)
	q.notify()
	return job, nil
}

// Get retrieves a job by ID
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}

// ListDead returns dead-lettered jobs, newest first
func (q *Queue) ListDead(ctx context.Context, limit int) ([]*Job, error) {
	return q.store.ListByStatus(ctx, StatusDead, limit)
}

// ListByStatus returns jobs in the given status, newest first
func (q *Queue) ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error) {
	return q.store.ListByStatus(ctx, status, limit)
}

// ListRecent returns the most recently enqueued jobs
func (q *Queue) ListRecent(ctx context.Context, limit int) ([]*Job, error) {
	return q.store.ListRecent(ctx, limit)
}

// Stats returns job counts by status
func (q *Queue) Stats(ctx context.Context) (map[Status]int, error) {
	return q.store.Stats(ctx)
}

// Cleanup deletes terminal jobs older than the retention window
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := q.store.Cleanup(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Logger.Infow("Cleaned up terminal jobs", "deleted", n)
	}
	return n, nil
}

// Subscribe returns a channel that receives a notification whenever a job
// is enqueued or completed. Notifications are best-effort; a slow receiver
// misses wakeups but the poll ticker still covers it.
func (q *Queue) Subscribe() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan struct{}, 1)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

func (q *Queue) notify() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
