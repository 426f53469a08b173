// Package schedule triggers time-based work: one-shot jobs scheduled for a
// future moment and recurring jobs such as the nightly reconcile sweep. The
// ticker turns due schedules into queue jobs; it never executes work itself.
package schedule

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// State of a schedule definition
type State string

const (
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
)

// Definition describes when a job should be enqueued. Recurring schedules
// (IntervalSeconds > 0) advance NextRunAt after every firing; one-shot
// schedules complete after firing once.
type Definition struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	JobType         string          `json:"job_type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	IntervalSeconds int             `json:"interval_seconds"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
	LastFiredAt     *time.Time      `json:"last_fired_at,omitempty"`
	State           State           `json:"state"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Recurring reports whether the schedule re-arms after firing
func (d *Definition) Recurring() bool {
	return d.IntervalSeconds > 0
}

func newScheduleID() string {
	return "sch_" + uuid.NewString()
}

// NewRecurring builds a schedule that fires every interval, starting one
// interval from now
func NewRecurring(name, jobType string, payload json.RawMessage, interval time.Duration) *Definition {
	now := time.Now()
	next := now.Add(interval)
	return &Definition{
		ID:              newScheduleID(),
		Name:            name,
		JobType:         jobType,
		Payload:         payload,
		IntervalSeconds: int(interval / time.Second),
		NextRunAt:       &next,
		State:           StateActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewOneShot builds a schedule that fires once at runAt
func NewOneShot(name, jobType string, payload json.RawMessage, runAt time.Time) *Definition {
	now := time.Now()
	return &Definition{
		ID:        newScheduleID(),
		Name:      name,
		JobType:   jobType,
		Payload:   payload,
		NextRunAt: &runAt,
		State:     StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
