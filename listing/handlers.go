package listing

import (
	"context"
	"encoding/json"

	"github.com/listkeeper/listkeeper/errors"
	"github.com/listkeeper/listkeeper/inventory"
	"github.com/listkeeper/listkeeper/logger"
	"github.com/listkeeper/listkeeper/platform"
	"github.com/listkeeper/listkeeper/queue"
	"github.com/listkeeper/listkeeper/tracker"
	"github.com/listkeeper/listkeeper/worker"
)

// Handlers implements the job handlers behind the Manager's operations.
// Every outcome, success or failure, is recorded in the tracker with the
// job's attempt sequence so late completions cannot regress status.
type Handlers struct {
	items    *inventory.Store
	machine  *inventory.Machine
	tracker  *tracker.Tracker
	queue    *queue.Queue
	adapters *platform.Registry
}

// NewHandlers wires the sync handlers to their collaborators
func NewHandlers(items *inventory.Store, machine *inventory.Machine, trk *tracker.Tracker, q *queue.Queue, adapters *platform.Registry) *Handlers {
	return &Handlers{
		items:    items,
		machine:  machine,
		tracker:  trk,
		queue:    q,
		adapters: adapters,
	}
}

// Register adds all listing handlers to a worker registry
func (h *Handlers) Register(reg *worker.Registry) {
	reg.Register(worker.HandlerFunc{JobType: JobTypePublish, Fn: h.handlePublish})
	reg.Register(worker.HandlerFunc{JobType: JobTypeUpdate, Fn: h.handleUpdate})
	reg.Register(worker.HandlerFunc{JobType: JobTypeDelist, Fn: h.handleDelist})
	reg.Register(worker.HandlerFunc{JobType: JobTypeReconcile, Fn: h.handleReconcile})
}

func normalize(item *inventory.Item) platform.NormalizedListing {
	return platform.NormalizedListing{
		ItemID:      item.ID,
		Title:       item.Title,
		Description: item.Description,
		PriceCents:  item.PriceCents,
	}
}

func unmarshalSync(job *queue.Job) (*SyncPayload, error) {
	var p SyncPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, worker.Permanentf("malformed payload for job %s: %v", job.ID, err)
	}
	if p.ItemID == "" || p.Platform == "" {
		return nil, worker.Permanentf("payload for job %s missing item_id or platform", job.ID)
	}
	return &p, nil
}

// classify maps an adapter failure onto the queue's retry policy
func classify(err error) error {
	if platform.IsRetryable(err) {
		return err
	}
	return worker.Permanent(err)
}

func (h *Handlers) handlePublish(ctx context.Context, job *queue.Job) error {
	p, err := unmarshalSync(job)
	if err != nil {
		return err
	}

	item, err := h.items.GetItem(ctx, p.ItemID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return worker.Permanent(err)
		}
		return err
	}
	if !item.State.Listable() {
		// The item moved on (sold, archived) after the job was enqueued
		return worker.Permanentf("item %s in state %s can no longer be published", item.ID, item.State)
	}

	adapter, err := h.adapters.Get(p.Platform)
	if err != nil {
		return worker.Permanent(err)
	}

	// A previous attempt may have published and crashed before completing;
	// republishing would create a duplicate live listing
	st, err := h.tracker.Get(ctx, p.ItemID, p.Platform)
	if err != nil {
		return err
	}
	if st != nil && st.Status == tracker.StatusListed && st.RemoteListingID != "" {
		logger.Logger.Infow("Item already listed, skipping publish",
			"item_id", p.ItemID, "platform", p.Platform, "remote_id", st.RemoteListingID)
		return nil
	}

	remoteID, pubErr := adapter.Publish(ctx, normalize(item))
	if pubErr != nil {
		if recErr := h.tracker.RecordAttempt(ctx, p.ItemID, p.Platform, tracker.Outcome{
			Seq:    attemptSeq(job),
			Status: tracker.StatusError,
			Err:    pubErr.Error(),
		}); recErr != nil {
			return recErr
		}
		return classify(pubErr)
	}

	if err := h.tracker.RecordAttempt(ctx, p.ItemID, p.Platform, tracker.Outcome{
		Seq:             attemptSeq(job),
		Status:          tracker.StatusListed,
		RemoteListingID: remoteID,
	}); err != nil {
		return err
	}

	// First live listing activates a draft. A concurrent publish may have
	// won the transition already; that is not a failure.
	if item.State == inventory.StateDraft {
		_, err := h.machine.Transition(ctx, item.ID, inventory.StateActive,
			"system", "published to "+p.Platform)
		if err != nil && !errors.IsInvalidTransitionError(err) {
			return err
		}
	}
	return nil
}

func (h *Handlers) handleUpdate(ctx context.Context, job *queue.Job) error {
	p, err := unmarshalSync(job)
	if err != nil {
		return err
	}

	item, err := h.items.GetItem(ctx, p.ItemID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return worker.Permanent(err)
		}
		return err
	}

	st, err := h.tracker.Get(ctx, p.ItemID, p.Platform)
	if err != nil {
		return err
	}
	if st == nil || st.RemoteListingID == "" {
		// Updating a platform the item is not on is a no-op
		logger.Logger.Debugw("Skipping update, item not listed",
			"item_id", p.ItemID, "platform", p.Platform)
		return nil
	}

	adapter, err := h.adapters.Get(p.Platform)
	if err != nil {
		return worker.Permanent(err)
	}

	if updErr := adapter.Update(ctx, st.RemoteListingID, normalize(item)); updErr != nil {
		if recErr := h.tracker.RecordAttempt(ctx, p.ItemID, p.Platform, tracker.Outcome{
			Seq:    attemptSeq(job),
			Status: tracker.StatusError,
			Err:    updErr.Error(),
		}); recErr != nil {
			return recErr
		}
		return classify(updErr)
	}

	return h.tracker.RecordAttempt(ctx, p.ItemID, p.Platform, tracker.Outcome{
		Seq:    attemptSeq(job),
		Status: tracker.StatusListed,
	})
}

func (h *Handlers) handleDelist(ctx context.Context, job *queue.Job) error {
	p, err := unmarshalSync(job)
	if err != nil {
		return err
	}

	st, err := h.tracker.Get(ctx, p.ItemID, p.Platform)
	if err != nil {
		return err
	}
	if st == nil || st.RemoteListingID == "" {
		// Nothing live to remove; the end state is already reached
		return h.tracker.RecordAttempt(ctx, p.ItemID, p.Platform, tracker.Outcome{
			Seq:           attemptSeq(job),
			Status:        tracker.StatusDelisted,
			ClearRemoteID: true,
		})
	}

	adapter, err := h.adapters.Get(p.Platform)
	if err != nil {
		return worker.Permanent(err)
	}

	if delErr := adapter.Delist(ctx, st.RemoteListingID); delErr != nil {
		if recErr := h.tracker.RecordAttempt(ctx, p.ItemID, p.Platform, tracker.Outcome{
			Seq:    attemptSeq(job),
			Status: tracker.StatusError,
			Err:    delErr.Error(),
		}); recErr != nil {
			return recErr
		}
		return classify(delErr)
	}

	return h.tracker.RecordAttempt(ctx, p.ItemID, p.Platform, tracker.Outcome{
		Seq:           attemptSeq(job),
		Status:        tracker.StatusDelisted,
		ClearRemoteID: true,
	})
}

// handleReconcile sweeps listed rows on one platform (or all) against the
// marketplace's view and enqueues corrective jobs for drift: a listing gone
// remote-side is republished, a diverged one is updated.
func (h *Handlers) handleReconcile(ctx context.Context, job *queue.Job) error {
	var p ReconcilePayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return worker.Permanentf("malformed payload for job %s: %v", job.ID, err)
		}
	}

	platforms := h.adapters.Names()
	if p.Platform != "" {
		platforms = []string{p.Platform}
	}

	var sweepErr error
	for _, name := range platforms {
		adapter, err := h.adapters.Get(name)
		if err != nil {
			return worker.Permanent(err)
		}

		rows, err := h.tracker.ListForPlatform(ctx, name, tracker.StatusListed)
		if err != nil {
			return err
		}

		for _, row := range rows {
			if err := h.reconcileRow(ctx, adapter, row); err != nil {
				// Finish the sweep; retry the job for the rows that failed
				logger.Logger.Warnw("Reconcile check failed",
					"item_id", row.ItemID, "platform", name, "error", err)
				sweepErr = err
			}
		}
	}
	return sweepErr
}

func (h *Handlers) reconcileRow(ctx context.Context, adapter platform.Adapter, row *tracker.ListingStatus) error {
	remote, err := adapter.Fetch(ctx, row.RemoteListingID)
	if err != nil {
		return err
	}

	if remote.Status == platform.RemoteRemoved {
		logger.Logger.Infow("Reconcile: listing vanished remotely, republishing",
			"item_id", row.ItemID, "platform", row.Platform, "remote_id", row.RemoteListingID)
		if err := h.tracker.RecordAttempt(ctx, row.ItemID, row.Platform, tracker.Outcome{
			Seq:           row.LastSeq + 1,
			Status:        tracker.StatusNotListed,
			ClearRemoteID: true,
		}); err != nil {
			return err
		}
		return h.enqueueCorrective(ctx, JobTypePublish, row.ItemID, row.Platform)
	}

	item, err := h.items.GetItem(ctx, row.ItemID)
	if err != nil {
		return err
	}
	if remote.Title != item.Title || remote.PriceCents != item.PriceCents {
		logger.Logger.Infow("Reconcile: listing diverged, updating",
			"item_id", row.ItemID, "platform", row.Platform)
		return h.enqueueCorrective(ctx, JobTypeUpdate, row.ItemID, row.Platform)
	}
	return nil
}

func (h *Handlers) enqueueCorrective(ctx context.Context, jobType, itemID, platformName string) error {
	payload, err := marshalPayload(SyncPayload{ItemID: itemID, Platform: platformName})
	if err != nil {
		return err
	}
	// Low priority: corrective work yields to operator-initiated jobs
	_, err = h.queue.Enqueue(ctx, jobType, payload, queue.Options{Priority: queue.PriorityLow})
	return err
}
