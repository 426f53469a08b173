// Package tracker records the last known per-platform listing state of each
// inventory item. Rows are partitioned by (item, platform); ordering between
// concurrent job completions is decided by attempt sequence number, never by
// wall-clock arrival.
package tracker

import "time"

// Status represents the last known remote listing state on one platform
type Status string

const (
	StatusNotListed Status = "not_listed"
	StatusPending   Status = "pending"
	StatusListed    Status = "listed"
	StatusError     Status = "error"
	StatusDelisted  Status = "delisted"
)

// IsValidStatus returns true if the string is a defined Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusNotListed, StatusPending, StatusListed, StatusError, StatusDelisted:
		return true
	default:
		return false
	}
}

// ListingStatus is one (item, platform) tracking row
type ListingStatus struct {
	ItemID          string     `json:"item_id"`
	Platform        string     `json:"platform"`
	RemoteListingID string     `json:"remote_listing_id,omitempty"`
	Status          Status     `json:"status"`
	LastSeq         int64      `json:"last_seq"`
	AttemptCount    int        `json:"attempt_count"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Outcome is the result of one adapter attempt, reported by a job handler.
// Seq is the job attempt sequence number; an outcome whose Seq is not newer
// than the stored row only bumps the attempt counter.
type Outcome struct {
	Seq             int64
	Status          Status
	RemoteListingID string // set on successful publish
	ClearRemoteID   bool   // set on successful delist
	Err             string // adapter error message, for operator inspection
}
