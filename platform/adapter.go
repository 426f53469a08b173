// Package platform defines the adapter boundary between listkeeper and
// external marketplaces. Everything above this package speaks in normalized
// listings; everything marketplace-specific lives behind an Adapter.
package platform

import (
	"context"
	"fmt"

	"github.com/listkeeper/listkeeper/errors"
)

// NormalizedListing is the marketplace-neutral projection of an inventory
// item that adapters translate into platform API calls
type NormalizedListing struct {
	ItemID      string `json:"item_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
}

// RemoteStatus is an adapter's report of how a marketplace sees a listing
type RemoteStatus string

const (
	RemoteLive    RemoteStatus = "live"
	RemoteRemoved RemoteStatus = "removed"
)

// RemoteListing is the remote side of a reconcile comparison
type RemoteListing struct {
	RemoteID   string       `json:"remote_id"`
	Status     RemoteStatus `json:"status"`
	Title      string       `json:"title"`
	PriceCents int64        `json:"price_cents"`
}

// Adapter is implemented once per marketplace. All calls must respect ctx
// and return *Error so callers can tell transient failures from permanent
// rejections.
type Adapter interface {
	// Name returns the platform identifier, e.g. "ebay"
	Name() string

	// Publish creates a listing and returns the platform's listing ID
	Publish(ctx context.Context, listing NormalizedListing) (string, error)

	// Update pushes changed fields to an existing listing
	Update(ctx context.Context, remoteID string, listing NormalizedListing) error

	// Delist removes a listing. Delisting an already-removed listing
	// must succeed; the end state is what matters.
	Delist(ctx context.Context, remoteID string) error

	// Fetch reads the current remote state for reconciliation
	Fetch(ctx context.Context, remoteID string) (*RemoteListing, error)
}

// Error is a classified adapter failure. Retryable failures (timeouts, rate
// limits, 5xx) are retried with backoff; permanent ones (validation,
// policy rejections) dead-letter the job.
type Error struct {
	Platform  string
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Platform, e.Message, e.Code)
}

// NewRetryableError reports a failure worth retrying
func NewRetryableError(platform, code, message string) *Error {
	return &Error{Platform: platform, Code: code, Message: message, Retryable: true}
}

// NewPermanentError reports a failure no retry can fix
func NewPermanentError(platform, code, message string) *Error {
	return &Error{Platform: platform, Code: code, Message: message, Retryable: false}
}

// IsRetryable classifies an adapter error. Unclassified errors count as
// retryable: wrongly retrying a permanent failure wastes attempts, but
// wrongly dead-lettering a transient one loses a listing.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return true
}
