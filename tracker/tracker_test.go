package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lktest "github.com/listkeeper/listkeeper/internal/testing"
)

func TestRecordAttemptPublishSuccess(t *testing.T) {
	db := lktest.CreateTestDB(t)
	tr := New(db)
	ctx := context.Background()

	require.NoError(t, tr.MarkPending(ctx, "itm_1", "mercado"))
	require.NoError(t, tr.RecordAttempt(ctx, "itm_1", "mercado", Outcome{
		Seq:             1,
		Status:          StatusListed,
		RemoteListingID: "ML-4471",
	}))

	st, err := tr.Get(ctx, "itm_1", "mercado")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, StatusListed, st.Status)
	assert.Equal(t, "ML-4471", st.RemoteListingID)
	assert.Equal(t, int64(1), st.LastSeq)
	assert.Equal(t, 1, st.AttemptCount)
	assert.NotNil(t, st.LastSuccessAt)
	assert.Empty(t, st.LastError)
}

func TestRecordAttemptFailureKeepsRemoteID(t *testing.T) {
	db := lktest.CreateTestDB(t)
	tr := New(db)
	ctx := context.Background()

	require.NoError(t, tr.RecordAttempt(ctx, "itm_1", "depop", Outcome{
		Seq:             1,
		Status:          StatusListed,
		RemoteListingID: "DP-99",
	}))

	// A later update attempt fails: status moves to error, remote id stays
	require.NoError(t, tr.RecordAttempt(ctx, "itm_1", "depop", Outcome{
		Seq:    2,
		Status: StatusError,
		Err:    "rate limited",
	}))

	st, err := tr.Get(ctx, "itm_1", "depop")
	require.NoError(t, err)
	assert.Equal(t, StatusError, st.Status)
	assert.Equal(t, "DP-99", st.RemoteListingID)
	assert.Equal(t, "rate limited", st.LastError)
	assert.Equal(t, 2, st.AttemptCount)
}

func TestStaleOutcomeNeverRegressesStatus(t *testing.T) {
	db := lktest.CreateTestDB(t)
	tr := New(db)
	ctx := context.Background()

	// Newer success lands first (concurrent workers complete out of order)
	require.NoError(t, tr.RecordAttempt(ctx, "itm_1", "vinted", Outcome{
		Seq:             3,
		Status:          StatusListed,
		RemoteListingID: "VN-12",
	}))

	// Stale retry response from attempt 2 arrives afterwards
	require.NoError(t, tr.RecordAttempt(ctx, "itm_1", "vinted", Outcome{
		Seq:    2,
		Status: StatusPending,
	}))

	st, err := tr.Get(ctx, "itm_1", "vinted")
	require.NoError(t, err)
	assert.Equal(t, StatusListed, st.Status, "stale outcome must not regress listed -> pending")
	assert.Equal(t, "VN-12", st.RemoteListingID)
	assert.Equal(t, int64(3), st.LastSeq)
	// The stale attempt still counts as an attempt
	assert.Equal(t, 2, st.AttemptCount)
}

func TestReplaySameSeqIsIdempotent(t *testing.T) {
	db := lktest.CreateTestDB(t)
	tr := New(db)
	ctx := context.Background()

	outcome := Outcome{Seq: 1, Status: StatusListed, RemoteListingID: "EB-7"}
	require.NoError(t, tr.RecordAttempt(ctx, "itm_1", "ebay", outcome))
	require.NoError(t, tr.RecordAttempt(ctx, "itm_1", "ebay", outcome))

	st, err := tr.Get(ctx, "itm_1", "ebay")
	require.NoError(t, err)
	assert.Equal(t, StatusListed, st.Status)
	assert.Equal(t, int64(1), st.LastSeq)
	assert.Equal(t, 2, st.AttemptCount, "only the attempt counter moves on replay")
}

func TestDelistClearsRemoteID(t *testing.T) {
	db := lktest.CreateTestDB(t)
	tr := New(db)
	ctx := context.Background()

	require.NoError(t, tr.RecordAttempt(ctx, "itm_1", "ebay", Outcome{
		Seq:             1,
		Status:          StatusListed,
		RemoteListingID: "EB-7",
	}))
	require.NoError(t, tr.RecordAttempt(ctx, "itm_1", "ebay", Outcome{
		Seq:           2,
		Status:        StatusDelisted,
		ClearRemoteID: true,
	}))

	st, err := tr.Get(ctx, "itm_1", "ebay")
	require.NoError(t, err)
	assert.Equal(t, StatusDelisted, st.Status)
	assert.Empty(t, st.RemoteListingID)
}

func TestGetStatusReturnsAllPlatforms(t *testing.T) {
	db := lktest.CreateTestDB(t)
	tr := New(db)
	ctx := context.Background()

	require.NoError(t, tr.RecordAttempt(ctx, "itm_1", "ebay", Outcome{Seq: 1, Status: StatusListed, RemoteListingID: "EB-1"}))
	require.NoError(t, tr.RecordAttempt(ctx, "itm_1", "depop", Outcome{Seq: 1, Status: StatusError, Err: "invalid credentials"}))
	require.NoError(t, tr.MarkPending(ctx, "itm_2", "ebay")) // different item

	statuses, err := tr.GetStatus(ctx, "itm_1")
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, StatusListed, statuses["ebay"].Status)
	assert.Equal(t, StatusError, statuses["depop"].Status)
}

func TestListListedPlatforms(t *testing.T) {
	db := lktest.CreateTestDB(t)
	tr := New(db)
	ctx := context.Background()

	require.NoError(t, tr.RecordAttempt(ctx, "itm_1", "ebay", Outcome{Seq: 1, Status: StatusListed, RemoteListingID: "EB-1"}))
	require.NoError(t, tr.RecordAttempt(ctx, "itm_1", "vinted", Outcome{Seq: 1, Status: StatusListed, RemoteListingID: "VN-1"}))
	require.NoError(t, tr.RecordAttempt(ctx, "itm_1", "depop", Outcome{Seq: 1, Status: StatusError, Err: "boom"}))

	platforms, err := tr.ListListedPlatforms(ctx, "itm_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ebay", "vinted"}, platforms)
}
