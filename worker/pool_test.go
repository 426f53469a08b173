package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listkeeper/listkeeper/config"
	lktesting "github.com/listkeeper/listkeeper/internal/testing"
	"github.com/listkeeper/listkeeper/queue"
)

func testPool(t *testing.T, handlers ...Handler) (*queue.Queue, *Pool) {
	t.Helper()

	db := lktesting.CreateTestDB(t)
	q := queue.NewWithBackoff(db, queue.BackoffConfig{})

	registry := NewRegistry()
	for _, h := range handlers {
		registry.Register(h)
	}

	pool := NewPool(q, registry, config.WorkerConfig{
		Workers:           2,
		PollIntervalMS:    10,
		JobTimeoutSeconds: 5,
		LeaseSeconds:      60,
	})
	t.Cleanup(pool.Stop)
	return q, pool
}

func waitForStatus(t *testing.T, q *queue.Queue, jobID string, want queue.Status) *queue.Job {
	t.Helper()
	var got *queue.Job
	require.Eventually(t, func() bool {
		job, err := q.Get(context.Background(), jobID)
		if err != nil {
			return false
		}
		got = job
		return job.Status == want
	}, 3*time.Second, 5*time.Millisecond, "job %s never reached %s", jobID, want)
	return got
}

func TestPoolProcessesJob(t *testing.T) {
	var handled atomic.Int32
	q, pool := testPool(t, HandlerFunc{
		JobType: "listing.publish",
		Fn: func(ctx context.Context, job *queue.Job) error {
			handled.Add(1)
			return nil
		},
	})

	ctx := context.Background()
	job, err := q.Enqueue(ctx, "listing.publish", []byte(`{"item_id":"itm_1"}`), queue.Options{})
	require.NoError(t, err)

	pool.Start(ctx)

	done := waitForStatus(t, q, job.ID, queue.StatusSucceeded)
	assert.Equal(t, 1, done.Attempts)
	assert.Equal(t, int32(1), handled.Load())
}

func TestPoolRetriesTransientFailures(t *testing.T) {
	t.Log("The marketplace is down for the first two attempts")
	var calls atomic.Int32
	q, pool := testPool(t, HandlerFunc{
		JobType: "listing.publish",
		Fn: func(ctx context.Context, job *queue.Job) error {
			if calls.Add(1) < 3 {
				return assert.AnError
			}
			return nil
		},
	})

	ctx := context.Background()
	job, err := q.Enqueue(ctx, "listing.publish", nil, queue.Options{MaxAttempts: 5})
	require.NoError(t, err)

	pool.Start(ctx)

	done := waitForStatus(t, q, job.ID, queue.StatusSucceeded)
	assert.Equal(t, 3, done.Attempts)
}

func TestPoolDeadLettersPermanentFailure(t *testing.T) {
	q, pool := testPool(t, HandlerFunc{
		JobType: "listing.publish",
		Fn: func(ctx context.Context, job *queue.Job) error {
			return Permanentf("marketplace rejected the listing")
		},
	})

	ctx := context.Background()
	job, err := q.Enqueue(ctx, "listing.publish", nil, queue.Options{MaxAttempts: 5})
	require.NoError(t, err)

	pool.Start(ctx)

	dead := waitForStatus(t, q, job.ID, queue.StatusDead)
	assert.Equal(t, 1, dead.Attempts, "permanent failures do not retry")
	assert.Contains(t, dead.LastError, "rejected")
}

func TestPoolDeadLettersUnknownJobType(t *testing.T) {
	q, pool := testPool(t, HandlerFunc{
		JobType: "listing.publish",
		Fn:      func(ctx context.Context, job *queue.Job) error { return nil },
	})

	ctx := context.Background()
	job, err := q.Enqueue(ctx, "listing.frobnicate", nil, queue.Options{})
	require.NoError(t, err)

	pool.Start(ctx)

	dead := waitForStatus(t, q, job.ID, queue.StatusDead)
	assert.Contains(t, dead.LastError, "no handler registered")
}

func TestPoolTimesOutSlowAttempt(t *testing.T) {
	q, pool := testPool(t, HandlerFunc{
		JobType: "listing.publish",
		Fn: func(ctx context.Context, job *queue.Job) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	pool.cfg.JobTimeoutSeconds = 1

	ctx := context.Background()
	job, err := q.Enqueue(ctx, "listing.publish", nil, queue.Options{MaxAttempts: 1})
	require.NoError(t, err)

	pool.Start(ctx)

	dead := waitForStatus(t, q, job.ID, queue.StatusDead)
	assert.Contains(t, dead.LastError, "timed out")
}

func TestPoolStopWaitsForInflightJob(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	q, pool := testPool(t, HandlerFunc{
		JobType: "listing.publish",
		Fn: func(ctx context.Context, job *queue.Job) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})

	ctx := context.Background()
	job, err := q.Enqueue(ctx, "listing.publish", nil, queue.Options{})
	require.NoError(t, err)

	pool.Start(ctx)
	<-started
	pool.Stop()

	assert.True(t, finished.Load(), "Stop must wait for the in-flight attempt")

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusSucceeded, got.Status,
		"an attempt finishing during shutdown still records its outcome")
}

func TestRegistryTypes(t *testing.T) {
	r := NewRegistry()
	r.Register(HandlerFunc{JobType: "listing.update", Fn: nil})
	r.Register(HandlerFunc{JobType: "listing.publish", Fn: nil})

	assert.Equal(t, []string{"listing.publish", "listing.update"}, r.Types())
	assert.NotNil(t, r.Get("listing.update"))
	assert.Nil(t, r.Get("listing.delist"))
}

func TestPermanentErrorWrapping(t *testing.T) {
	assert.False(t, IsPermanent(assert.AnError))
	assert.True(t, IsPermanent(Permanent(assert.AnError)))
	assert.Nil(t, Permanent(nil))

	wrapped := Permanentf("bad payload: %v", assert.AnError)
	assert.True(t, IsPermanent(wrapped))
	assert.Contains(t, wrapped.Error(), "bad payload")
}
