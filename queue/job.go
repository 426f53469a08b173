// Package queue provides the durable, priority-ordered, retryable job store
// that all asynchronous work in listkeeper passes through.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusDead      Status = "dead"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusSucceeded, StatusDead:
		return true
	default:
		return false
	}
}

// Priority orders jobs in the queue; lower leases first
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 1
	PriorityLow    Priority = 2
)

// Job represents one unit of asynchronous work.
//
// Lifecycle: pending -> running -> succeeded, or running -> pending (retry
// with backoff), or running -> dead (retries exhausted / permanent failure).
// A running job is owned by exactly one worker until its lease expires.
type Job struct {
	// Seq is assigned by the store on insert and provides the FIFO
	// tie-break among equal-priority jobs
	Seq int64 `json:"seq"`

	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    Priority        `json:"priority"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`

	// RunAfter is the earliest time the job is eligible to be leased
	RunAfter time.Time `json:"run_after"`

	// BlockedBy names a job that must succeed before this one is leased
	BlockedBy string `json:"blocked_by,omitempty"`

	WorkerID       string     `json:"worker_id,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DefaultMaxAttempts is used when Options.MaxAttempts is zero
const DefaultMaxAttempts = 3

// Options controls Enqueue behavior. The zero value means normal priority,
// eligible immediately, DefaultMaxAttempts, no dependency.
type Options struct {
	Priority    Priority
	RunAfter    time.Time // zero = eligible now
	MaxAttempts int       // 0 = DefaultMaxAttempts
	BlockedBy   string    // job id that must succeed first
}

// NewJob builds a pending job ready for Enqueue
func NewJob(jobType string, payload json.RawMessage, opts Options) *Job {
	now := time.Now()

	runAfter := opts.RunAfter
	if runAfter.IsZero() {
		runAfter = now
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &Job{
		ID:          "job_" + uuid.NewString(),
		Type:        jobType,
		Payload:     payload,
		Priority:    opts.Priority,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		RunAfter:    runAfter,
		BlockedBy:   opts.BlockedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Terminal reports whether the job can no longer change state
func (j *Job) Terminal() bool {
	return j.Status == StatusSucceeded || j.Status == StatusDead
}
