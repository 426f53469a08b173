package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/listkeeper/listkeeper/logger"
	"github.com/listkeeper/listkeeper/queue"
)

// Ticker polls for due schedules and enqueues their jobs. Firing and
// re-arming happen in one guarded update, so running several processes
// against the same database fires each due slot once.
type Ticker struct {
	store    *Store
	queue    *queue.Queue
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewTicker creates a ticker that checks for due schedules every interval
func NewTicker(store *Store, q *queue.Queue, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Ticker{
		store:    store,
		queue:    q,
		interval: interval,
	}
}

// Start launches the tick loop
func (t *Ticker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true

	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})

	logger.Logger.Infow("Starting schedule ticker", "interval", t.interval)

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.tick(ctx)
			}
		}
	}()
}

// Stop halts the tick loop and waits for an in-progress tick to finish
func (t *Ticker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *Ticker) tick(ctx context.Context) {
	now := time.Now()

	due, err := t.store.Due(ctx, now)
	if err != nil {
		logger.Logger.Errorw("Failed to query due schedules", "error", err)
		return
	}

	for _, d := range due {
		claimed, err := t.store.Claim(ctx, d, now)
		if err != nil {
			logger.Logger.Errorw("Failed to claim schedule",
				"schedule", d.Name, "error", err)
			continue
		}
		if !claimed {
			// Another ticker fired this slot
			continue
		}

		job, err := t.queue.Enqueue(ctx, d.JobType, d.Payload, queue.Options{})
		if err != nil {
			logger.Logger.Errorw("Failed to enqueue scheduled job",
				"schedule", d.Name, "job_type", d.JobType, "error", err)
			continue
		}

		logger.Logger.Infow("Fired schedule",
			"schedule", d.Name,
			"job_id", job.ID,
			"job_type", d.JobType,
			"recurring", d.Recurring())
	}
}
