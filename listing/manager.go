package listing

import (
	"context"

	"github.com/listkeeper/listkeeper/errors"
	"github.com/listkeeper/listkeeper/inventory"
	"github.com/listkeeper/listkeeper/logger"
	"github.com/listkeeper/listkeeper/queue"
	"github.com/listkeeper/listkeeper/tracker"
)

// Manager exposes the multi-platform sync operations. Each operation
// validates, enqueues per-platform jobs, and returns; callers observe
// progress through GetListingStatus. A failure on one platform never
// blocks another: "partially synced" is a normal long-lived condition.
type Manager struct {
	items     *inventory.Store
	tracker   *tracker.Tracker
	queue     *queue.Queue
	platforms []string
}

// NewManager creates a manager targeting the given enabled platforms
func NewManager(items *inventory.Store, trk *tracker.Tracker, q *queue.Queue, platforms []string) *Manager {
	return &Manager{
		items:     items,
		tracker:   trk,
		queue:     q,
		platforms: platforms,
	}
}

// EnqueuedJob names the platform a fan-out job targets
type EnqueuedJob struct {
	Platform string     `json:"platform"`
	Job      *queue.Job `json:"job"`
}

// ListEverywhere enqueues a publish job for every enabled platform the item
// is not already listed on. Fails fast when the item's state does not
// permit listing; an item already listed everywhere enqueues nothing.
func (m *Manager) ListEverywhere(ctx context.Context, itemID string) ([]EnqueuedJob, error) {
	item, err := m.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.State.Listable() {
		return nil, errors.WithDetailf(errors.ErrInvalidState,
			"item %s in state %s cannot be listed", itemID, item.State)
	}

	statuses, err := m.tracker.GetStatus(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var enqueued []EnqueuedJob
	for _, p := range m.platforms {
		if st, ok := statuses[p]; ok && st.Status == tracker.StatusListed {
			continue
		}
		job, err := m.enqueueSync(ctx, JobTypePublish, itemID, p, nil, queue.Options{})
		if err != nil {
			return enqueued, err
		}
		enqueued = append(enqueued, EnqueuedJob{Platform: p, Job: job})
	}

	logger.Logger.Infow("Listing item everywhere",
		"item_id", itemID, "jobs", len(enqueued))
	return enqueued, nil
}

// DelistEverywhere enqueues a delist job per platform the item is currently
// listed on. Inventory state is untouched: removing a listing is a presence
// change, not a lifecycle one. Calling it again while nothing is listed
// enqueues nothing.
func (m *Manager) DelistEverywhere(ctx context.Context, itemID string) ([]EnqueuedJob, error) {
	if _, err := m.items.GetItem(ctx, itemID); err != nil {
		return nil, err
	}

	listed, err := m.tracker.ListListedPlatforms(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var enqueued []EnqueuedJob
	for _, p := range listed {
		job, err := m.enqueueSync(ctx, JobTypeDelist, itemID, p, nil, queue.Options{})
		if err != nil {
			return enqueued, err
		}
		enqueued = append(enqueued, EnqueuedJob{Platform: p, Job: job})
	}

	logger.Logger.Infow("Delisting item everywhere",
		"item_id", itemID, "jobs", len(enqueued))
	return enqueued, nil
}

// RelistEverywhere tears down and republishes the item on every platform it
// is listed on. Per platform the publish is blocked on its delist, so a
// marketplace never sees a second live listing before the first is gone.
func (m *Manager) RelistEverywhere(ctx context.Context, itemID string) ([]EnqueuedJob, error) {
	item, err := m.items.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.State.Listable() {
		return nil, errors.WithDetailf(errors.ErrInvalidState,
			"item %s in state %s cannot be relisted", itemID, item.State)
	}

	listed, err := m.tracker.ListListedPlatforms(ctx, itemID)
	if err != nil {
		return nil, err
	}

	var enqueued []EnqueuedJob
	for _, p := range listed {
		delist, err := m.enqueueSync(ctx, JobTypeDelist, itemID, p, nil, queue.Options{})
		if err != nil {
			return enqueued, err
		}
		enqueued = append(enqueued, EnqueuedJob{Platform: p, Job: delist})

		publish, err := m.enqueueSync(ctx, JobTypePublish, itemID, p, nil,
			queue.Options{BlockedBy: delist.ID})
		if err != nil {
			return enqueued, err
		}
		enqueued = append(enqueued, EnqueuedJob{Platform: p, Job: publish})
	}

	logger.Logger.Infow("Relisting item everywhere",
		"item_id", itemID, "platforms", len(listed))
	return enqueued, nil
}

// SyncListingUpdates pushes changed fields to the targeted platforms,
// defaulting to every platform the item is listed on. Platforms where the
// item is not listed are silently skipped.
func (m *Manager) SyncListingUpdates(ctx context.Context, itemID string, fields []string, platforms []string) ([]EnqueuedJob, error) {
	if _, err := m.items.GetItem(ctx, itemID); err != nil {
		return nil, err
	}

	listed, err := m.tracker.ListListedPlatforms(ctx, itemID)
	if err != nil {
		return nil, err
	}

	targets := listed
	if len(platforms) > 0 {
		listedSet := make(map[string]bool, len(listed))
		for _, p := range listed {
			listedSet[p] = true
		}
		targets = targets[:0:0]
		for _, p := range platforms {
			if listedSet[p] {
				targets = append(targets, p)
			}
		}
	}

	var enqueued []EnqueuedJob
	for _, p := range targets {
		job, err := m.enqueueSync(ctx, JobTypeUpdate, itemID, p, fields, queue.Options{})
		if err != nil {
			return enqueued, err
		}
		enqueued = append(enqueued, EnqueuedJob{Platform: p, Job: job})
	}

	logger.Logger.Infow("Syncing listing updates",
		"item_id", itemID, "fields", fields, "jobs", len(enqueued))
	return enqueued, nil
}

// GetListingStatus is a pure read of the tracker: platform -> status
func (m *Manager) GetListingStatus(ctx context.Context, itemID string) (map[string]*tracker.ListingStatus, error) {
	return m.tracker.GetStatus(ctx, itemID)
}

func (m *Manager) enqueueSync(ctx context.Context, jobType, itemID, p string, fields []string, opts queue.Options) (*queue.Job, error) {
	payload, err := marshalPayload(SyncPayload{ItemID: itemID, Platform: p, Fields: fields})
	if err != nil {
		return nil, err
	}
	if err := m.tracker.MarkPending(ctx, itemID, p); err != nil {
		return nil, err
	}
	return m.queue.Enqueue(ctx, jobType, payload, opts)
}
