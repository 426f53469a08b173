package listing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listkeeper/listkeeper/config"
	"github.com/listkeeper/listkeeper/errors"
	lktesting "github.com/listkeeper/listkeeper/internal/testing"
	"github.com/listkeeper/listkeeper/inventory"
	"github.com/listkeeper/listkeeper/platform"
	"github.com/listkeeper/listkeeper/queue"
	"github.com/listkeeper/listkeeper/tracker"
	"github.com/listkeeper/listkeeper/worker"
)

// fixture wires the whole sync engine against two fake marketplaces
type fixture struct {
	items   *inventory.Store
	machine *inventory.Machine
	tracker *tracker.Tracker
	queue   *queue.Queue
	mgr     *Manager
	pool    *worker.Pool

	ebay *platform.Fake
	etsy *platform.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := lktesting.CreateTestDB(t)
	q := queue.NewWithBackoff(db, queue.BackoffConfig{})

	f := &fixture{
		items:   inventory.NewStore(db),
		machine: inventory.NewMachine(db),
		tracker: tracker.New(db),
		queue:   q,
		ebay:    platform.NewFake("ebay"),
		etsy:    platform.NewFake("etsy"),
	}

	adapters := platform.NewRegistry()
	adapters.Register(f.ebay)
	adapters.Register(f.etsy)

	registry := worker.NewRegistry()
	NewHandlers(f.items, f.machine, f.tracker, q, adapters).Register(registry)

	f.mgr = NewManager(f.items, f.tracker, q, []string{"ebay", "etsy"})
	f.pool = worker.NewPool(q, registry, config.WorkerConfig{
		Workers:           2,
		PollIntervalMS:    10,
		JobTimeoutSeconds: 5,
		LeaseSeconds:      60,
	})
	t.Cleanup(f.pool.Stop)
	return f
}

func (f *fixture) createItem(t *testing.T) *inventory.Item {
	t.Helper()
	item := inventory.NewItem("user_1", "Vintage camera", 12500)
	item.Description = "Working Leica M3"
	require.NoError(t, f.items.CreateItem(context.Background(), item))
	return item
}

// waitIdle blocks until the queue has no pending or running work
func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		stats, err := f.queue.Stats(context.Background())
		return err == nil && stats[queue.StatusPending] == 0 && stats[queue.StatusRunning] == 0
	}, 5*time.Second, 5*time.Millisecond, "queue never drained")
}

func TestListEverywherePartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t)

	t.Log("etsy rejects the listing outright; ebay accepts it")
	f.etsy.FailNext("publish", platform.NewPermanentError("etsy", "policy", "category not allowed"))

	jobs, err := f.mgr.ListEverywhere(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	f.pool.Start(ctx)
	f.waitIdle(t)

	status, err := f.mgr.GetListingStatus(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusListed, status["ebay"].Status)
	assert.NotEmpty(t, status["ebay"].RemoteListingID)
	assert.Equal(t, tracker.StatusError, status["etsy"].Status)
	assert.Contains(t, status["etsy"].LastError, "category not allowed")

	t.Log("The first live listing moved the draft to active")
	got, err := f.items.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StateActive, got.State)

	t.Log("A later field sync targets only the listed platform")
	updates, err := f.mgr.SyncListingUpdates(ctx, item.ID, []string{"price_cents"}, nil)
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "ebay", updates[0].Platform)

	f.waitIdle(t)
	for _, call := range f.etsy.Calls() {
		assert.NotEqual(t, "update", call.Op, "etsy must never see an update")
	}
}

func TestDelistEverywhereIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t)

	t.Log("Item ends up listed only on ebay")
	f.etsy.FailNext("publish", platform.NewPermanentError("etsy", "policy", "rejected"))
	_, err := f.mgr.ListEverywhere(ctx, item.ID)
	require.NoError(t, err)

	f.pool.Start(ctx)
	f.waitIdle(t)

	jobs, err := f.mgr.DelistEverywhere(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "ebay", jobs[0].Platform)

	f.waitIdle(t)

	status, err := f.mgr.GetListingStatus(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusDelisted, status["ebay"].Status)
	assert.Empty(t, status["ebay"].RemoteListingID, "delist clears the remote id")

	t.Log("Delisting again finds nothing listed and enqueues nothing")
	jobs, err = f.mgr.DelistEverywhere(ctx, item.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRelistDelistsBeforePublishing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t)

	f.mgr.platforms = []string{"ebay"}
	_, err := f.mgr.ListEverywhere(ctx, item.ID)
	require.NoError(t, err)

	f.pool.Start(ctx)
	f.waitIdle(t)

	before, err := f.tracker.Get(ctx, item.ID, "ebay")
	require.NoError(t, err)
	oldRemote := before.RemoteListingID

	jobs, err := f.mgr.RelistEverywhere(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, jobs[0].Job.ID, jobs[1].Job.BlockedBy,
		"the publish must be gated on its delist")

	f.waitIdle(t)

	t.Log("On the wire, the old listing came down before the new one went up")
	var ops []string
	for _, call := range f.ebay.Calls() {
		ops = append(ops, call.Op)
	}
	assert.Equal(t, []string{"publish", "delist", "publish"}, ops)

	after, err := f.tracker.Get(ctx, item.ID, "ebay")
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusListed, after.Status)
	assert.NotEqual(t, oldRemote, after.RemoteListingID)
	assert.Equal(t, platform.RemoteRemoved, f.ebay.Listing(oldRemote).Status)
}

func TestListEverywhereRejectsUnlistableState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t)

	_, err := f.machine.Transition(ctx, item.ID, inventory.StateArchived, "user_1", "discarded")
	require.NoError(t, err)

	_, err = f.mgr.ListEverywhere(ctx, item.ID)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidStateError(err))

	stats, err := f.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[queue.StatusPending], "rejection must not enqueue anything")
}

func TestListEverywhereSkipsAlreadyListed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t)

	_, err := f.mgr.ListEverywhere(ctx, item.ID)
	require.NoError(t, err)
	f.pool.Start(ctx)
	f.waitIdle(t)

	jobs, err := f.mgr.ListEverywhere(ctx, item.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs, "both platforms are already listed")
}

func TestSyncUpdatesSkipUnlistedPlatforms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t)

	jobs, err := f.mgr.SyncListingUpdates(ctx, item.ID, []string{"title"}, nil)
	require.NoError(t, err)
	assert.Empty(t, jobs, "nothing is listed yet")

	jobs, err = f.mgr.SyncListingUpdates(ctx, item.ID, []string{"title"}, []string{"ebay"})
	require.NoError(t, err)
	assert.Empty(t, jobs, "an explicit unlisted target is silently skipped")
}

func TestReconcileRepublishesVanishedListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t)

	f.mgr.platforms = []string{"ebay"}
	_, err := f.mgr.ListEverywhere(ctx, item.ID)
	require.NoError(t, err)
	f.pool.Start(ctx)
	f.waitIdle(t)

	st, err := f.tracker.Get(ctx, item.ID, "ebay")
	require.NoError(t, err)

	t.Log("The marketplace silently removed the listing")
	f.ebay.SetListing(platform.RemoteListing{
		RemoteID: st.RemoteListingID,
		Status:   platform.RemoteRemoved,
	})

	payload, err := marshalPayload(ReconcilePayload{Platform: "ebay"})
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, JobTypeReconcile, payload, queue.Options{})
	require.NoError(t, err)
	f.waitIdle(t)

	after, err := f.tracker.Get(ctx, item.ID, "ebay")
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusListed, after.Status)
	assert.NotEqual(t, st.RemoteListingID, after.RemoteListingID,
		"the corrective publish created a fresh listing")
}

func TestReconcileUpdatesDivergedListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t)

	f.mgr.platforms = []string{"ebay"}
	_, err := f.mgr.ListEverywhere(ctx, item.ID)
	require.NoError(t, err)
	f.pool.Start(ctx)
	f.waitIdle(t)

	st, err := f.tracker.Get(ctx, item.ID, "ebay")
	require.NoError(t, err)

	t.Log("The remote price drifted from the local record")
	f.ebay.SetListing(platform.RemoteListing{
		RemoteID:   st.RemoteListingID,
		Status:     platform.RemoteLive,
		Title:      item.Title,
		PriceCents: 999,
	})

	payload, err := marshalPayload(ReconcilePayload{Platform: "ebay"})
	require.NoError(t, err)
	_, err = f.queue.Enqueue(ctx, JobTypeReconcile, payload, queue.Options{})
	require.NoError(t, err)
	f.waitIdle(t)

	assert.Equal(t, item.PriceCents, f.ebay.Listing(st.RemoteListingID).PriceCents,
		"reconcile pushed the local price back out")
}

func TestPublishReplayDoesNotDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t)

	f.mgr.platforms = []string{"ebay"}
	_, err := f.mgr.ListEverywhere(ctx, item.ID)
	require.NoError(t, err)
	f.pool.Start(ctx)
	f.waitIdle(t)
	f.pool.Stop()

	t.Log("A worker crash replays an already-applied publish")
	callsBefore := len(f.ebay.Calls())

	adapters := platform.NewRegistry()
	adapters.Register(f.ebay)
	h := NewHandlers(f.items, f.machine, f.tracker, f.queue, adapters)

	payload, err := marshalPayload(SyncPayload{ItemID: item.ID, Platform: "ebay"})
	require.NoError(t, err)
	replay := queue.NewJob(JobTypePublish, payload, queue.Options{})
	replay.Seq = 9999
	replay.Attempts = 2

	require.NoError(t, h.handlePublish(ctx, replay))
	assert.Len(t, f.ebay.Calls(), callsBefore, "no second publish reached the marketplace")
}

func TestTransientPublishFailureEventuallyLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.createItem(t)

	f.mgr.platforms = []string{"ebay"}
	f.ebay.FailNext("publish", platform.NewRetryableError("ebay", "rate_limited", "slow down"))
	f.ebay.FailNext("publish", platform.NewRetryableError("ebay", "rate_limited", "slow down"))

	_, err := f.mgr.ListEverywhere(ctx, item.ID)
	require.NoError(t, err)
	f.pool.Start(ctx)
	f.waitIdle(t)

	st, err := f.tracker.Get(ctx, item.ID, "ebay")
	require.NoError(t, err)
	assert.Equal(t, tracker.StatusListed, st.Status)
	assert.Equal(t, 3, st.AttemptCount, "two rate limits, then success")
}
