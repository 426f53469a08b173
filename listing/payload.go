// Package listing is the sync engine: it fans one local inventory item out
// to N marketplaces as independent queue jobs and reports per-platform
// status through the tracker. Nothing here calls a marketplace
// synchronously; every public operation returns as soon as its jobs are
// enqueued.
package listing

import (
	"encoding/json"

	"github.com/listkeeper/listkeeper/errors"
	"github.com/listkeeper/listkeeper/queue"
)

// Job types handled by this package
const (
	JobTypePublish   = "listing.publish"
	JobTypeUpdate    = "listing.update"
	JobTypeDelist    = "listing.delist"
	JobTypeReconcile = "listing.reconcile"
)

// SyncPayload is the payload for publish, update and delist jobs: one item
// on one platform. Fields names the changed fields on an update, for
// operator inspection; handlers always push the item's current values.
type SyncPayload struct {
	ItemID   string   `json:"item_id"`
	Platform string   `json:"platform"`
	Fields   []string `json:"fields,omitempty"`
}

// ReconcilePayload targets one platform, or all registered platforms when
// Platform is empty
type ReconcilePayload struct {
	Platform string `json:"platform,omitempty"`
}

func marshalPayload(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal job payload")
	}
	return b, nil
}

// attemptSeq orders tracker outcomes. Jobs compare by enqueue sequence, so
// a stale job finishing late never overwrites a newer job's outcome; the
// low bits let a later retry of the same job supersede an earlier one.
func attemptSeq(job *queue.Job) int64 {
	return job.Seq<<16 | int64(job.Attempts)&0xFFFF
}
