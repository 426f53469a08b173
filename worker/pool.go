package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/listkeeper/listkeeper/config"
	"github.com/listkeeper/listkeeper/logger"
	"github.com/listkeeper/listkeeper/queue"
)

// Pool runs N workers against the queue. Each worker loops: lease a job,
// dispatch it to the registry, report the outcome. Idle workers block on
// the poll ticker or an enqueue notification, whichever fires first.
type Pool struct {
	queue    *queue.Queue
	registry *Registry
	cfg      config.WorkerConfig

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewPool creates a worker pool. Start must be called to begin processing.
func NewPool(q *queue.Queue, registry *Registry, cfg config.WorkerConfig) *Pool {
	return &Pool{
		queue:    q,
		registry: registry,
		cfg:      cfg,
	}
}

// Start launches the configured number of workers. With zero workers the
// pool is a no-op; jobs accumulate until an operator drains them elsewhere.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)

	logger.Logger.Infow("Starting worker pool",
		"workers", p.cfg.Workers,
		"poll_interval_ms", p.cfg.PollIntervalMS,
		"job_timeout_s", p.cfg.JobTimeoutSeconds,
		"types", p.registry.Types())

	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go p.run(ctx, workerID)
	}
}

// Stop cancels all workers and waits for in-flight jobs to finish their
// current attempt
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	logger.Logger.Infow("Worker pool stopped")
}

func (p *Pool) run(ctx context.Context, workerID string) {
	defer p.wg.Done()

	pollInterval := time.Duration(p.cfg.PollIntervalMS) * time.Millisecond
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	wakeup := p.queue.Subscribe()
	consecutiveErrors := 0

	for {
		worked, err := p.leaseAndProcess(ctx, workerID)
		if err != nil {
			consecutiveErrors++
			// Back off on repeated lease failures so a broken database
			// does not spin the pool
			if consecutiveErrors >= 3 {
				logger.Logger.Errorw("Worker backing off after repeated errors",
					"worker_id", workerID,
					"consecutive_errors", consecutiveErrors,
					"error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(pollInterval * time.Duration(consecutiveErrors)):
				}
			}
		} else {
			consecutiveErrors = 0
		}

		if worked {
			// Drain the queue before going idle
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wakeup:
		}
	}
}

// leaseAndProcess claims one job and runs it to an outcome. Returns true
// when a job was processed, false when the queue was empty.
func (p *Pool) leaseAndProcess(ctx context.Context, workerID string) (bool, error) {
	if underMemoryPressure() {
		logger.Logger.Warnw("Skipping lease under memory pressure", "worker_id", workerID)
		return false, nil
	}

	leaseDur := time.Duration(p.cfg.LeaseSeconds) * time.Second
	job, err := p.queue.Lease(ctx, workerID, nil, leaseDur)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	logger.Logger.Infow("Processing job",
		"worker_id", workerID,
		"job_id", job.ID,
		"type", job.Type,
		"attempt", job.Attempts)

	// Outcomes are recorded even when the pool is shutting down, so an
	// attempt that finished during Stop is not replayed on restart
	recordCtx := context.Background()

	handler := p.registry.Get(job.Type)
	if handler == nil {
		// Retrying cannot conjure a handler
		failErr := fmt.Errorf("no handler registered for job type %q", job.Type)
		if err := p.queue.Fail(recordCtx, job.ID, workerID, failErr, false); err != nil {
			return true, err
		}
		return true, nil
	}

	jobCtx, cancelJob := context.WithTimeout(ctx, time.Duration(p.cfg.JobTimeoutSeconds)*time.Second)
	handlerErr := handler.Handle(jobCtx, job)
	cancelJob()

	if handlerErr == nil {
		if err := p.queue.Complete(recordCtx, job.ID, workerID); err != nil {
			logger.Logger.Errorw("Failed to complete job",
				"worker_id", workerID, "job_id", job.ID, "error", err)
			return true, err
		}
		return true, nil
	}

	// A timed-out attempt is transient: the marketplace may just be slow
	if jobCtx.Err() == context.DeadlineExceeded {
		handlerErr = fmt.Errorf("attempt timed out after %ds: %w",
			p.cfg.JobTimeoutSeconds, handlerErr)
	}

	retryable := !IsPermanent(handlerErr)
	if err := p.queue.Fail(recordCtx, job.ID, workerID, handlerErr, retryable); err != nil {
		logger.Logger.Errorw("Failed to record job failure",
			"worker_id", workerID, "job_id", job.ID, "error", err)
		return true, err
	}
	return true, nil
}
