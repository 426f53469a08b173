package platform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeLifecycle(t *testing.T) {
	f := NewFake("ebay")
	ctx := context.Background()

	remoteID, err := f.Publish(ctx, NormalizedListing{
		ItemID: "itm_1", Title: "Vintage camera", PriceCents: 12500,
	})
	require.NoError(t, err)
	require.NotEmpty(t, remoteID)

	live := f.Listing(remoteID)
	require.NotNil(t, live)
	assert.Equal(t, RemoteLive, live.Status)
	assert.Equal(t, int64(12500), live.PriceCents)

	require.NoError(t, f.Update(ctx, remoteID, NormalizedListing{Title: "Vintage camera", PriceCents: 9900}))
	assert.Equal(t, int64(9900), f.Listing(remoteID).PriceCents)

	require.NoError(t, f.Delist(ctx, remoteID))
	assert.Equal(t, RemoteRemoved, f.Listing(remoteID).Status)

	t.Log("A second delist of the same listing is a no-op, not an error")
	require.NoError(t, f.Delist(ctx, remoteID))

	err = f.Update(ctx, remoteID, NormalizedListing{Title: "x"})
	require.Error(t, err, "updating a removed listing fails")
	assert.False(t, IsRetryable(err))
}

func TestFakeScriptedFailures(t *testing.T) {
	f := NewFake("etsy")
	ctx := context.Background()

	f.FailNext("publish", NewRetryableError("etsy", "rate_limited", "slow down"))

	_, err := f.Publish(ctx, NormalizedListing{ItemID: "itm_1"})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	remoteID, err := f.Publish(ctx, NormalizedListing{ItemID: "itm_1"})
	require.NoError(t, err, "the failure queue is consumed")
	assert.NotEmpty(t, remoteID)

	calls := f.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "publish", calls[0].Op)
}

func TestFetchUnknownListingReportsRemoved(t *testing.T) {
	f := NewFake("ebay")

	remote, err := f.Fetch(context.Background(), "ebay-999")
	require.NoError(t, err)
	assert.Equal(t, RemoteRemoved, remote.Status)
}

func TestErrorClassification(t *testing.T) {
	retryable := NewRetryableError("ebay", "timeout", "gateway timeout")
	permanent := NewPermanentError("ebay", "invalid_title", "title too long")

	assert.True(t, IsRetryable(retryable))
	assert.False(t, IsRetryable(permanent))
	assert.True(t, IsRetryable(assert.AnError), "unclassified errors default to retryable")
	assert.Contains(t, permanent.Error(), "invalid_title")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewFake("etsy"))
	r.Register(NewFake("ebay"))

	assert.Equal(t, []string{"ebay", "etsy"}, r.Names())

	a, err := r.Get("ebay")
	require.NoError(t, err)
	assert.Equal(t, "ebay", a.Name())

	_, err = r.Get("amazon")
	require.Error(t, err)
}

func TestRateLimitWrapsCalls(t *testing.T) {
	f := NewFake("ebay")
	limited := WithRateLimit(f, 600)

	remoteID, err := limited.Publish(context.Background(), NormalizedListing{ItemID: "itm_1"})
	require.NoError(t, err)
	require.NoError(t, limited.Delist(context.Background(), remoteID))
	assert.Len(t, f.Calls(), 2)
}

func TestRateLimitHonorsContext(t *testing.T) {
	f := NewFake("ebay")
	limited := WithRateLimit(f, 1)

	ctx := context.Background()
	_, err := limited.Publish(ctx, NormalizedListing{ItemID: "itm_1"})
	require.NoError(t, err, "the first call spends the burst token")

	t.Log("The second call would wait ~60s for a token; a short deadline aborts it")
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = limited.Publish(shortCtx, NormalizedListing{ItemID: "itm_2"})
	require.Error(t, err)
	assert.Len(t, f.Calls(), 1, "the aborted call never reached the marketplace")
}

func TestRateLimitZeroMeansUnlimited(t *testing.T) {
	f := NewFake("ebay")
	assert.Equal(t, Adapter(f), WithRateLimit(f, 0))
}
