package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listkeeper/listkeeper/errors"
	lktest "github.com/listkeeper/listkeeper/internal/testing"
)

func createItem(t *testing.T, store *Store, state State) *Item {
	t.Helper()
	item := NewItem("usr_test", "Vintage camera", 12500)
	item.State = state
	require.NoError(t, store.CreateItem(context.Background(), item))
	return item
}

func TestTransitionLegalEdges(t *testing.T) {
	db := lktest.CreateTestDB(t)
	store := NewStore(db)
	machine := NewMachine(db)
	ctx := context.Background()

	edges := []struct {
		from State
		to   State
	}{
		{StateDraft, StateActive},
		{StateActive, StateSold},
		{StateSold, StateShipped},
		{StateShipped, StateArchived},
		{StateActive, StateArchived},
		{StateDraft, StateArchived},
	}

	for _, edge := range edges {
		item := createItem(t, store, edge.from)

		rec, err := machine.Transition(ctx, item.ID, edge.to, "usr_test", "")
		require.NoError(t, err, "%s -> %s should be legal", edge.from, edge.to)
		assert.Equal(t, edge.from, rec.FromState)
		assert.Equal(t, edge.to, rec.ToState)

		stored, err := store.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, edge.to, stored.State)
	}
}

func TestTransitionIllegalEdgesRejected(t *testing.T) {
	db := lktest.CreateTestDB(t)
	store := NewStore(db)
	machine := NewMachine(db)
	ctx := context.Background()

	illegal := []struct {
		from State
		to   State
	}{
		{StateSold, StateActive}, // sold never reverts
		{StateSold, StateDraft},
		{StateShipped, StateSold},
		{StateArchived, StateActive},
		{StateDraft, StateSold}, // no skipping active
		{StateDraft, StateShipped},
		{StateActive, StateShipped},
	}

	for _, edge := range illegal {
		item := createItem(t, store, edge.from)

		_, err := machine.Transition(ctx, item.ID, edge.to, "usr_test", "")
		require.Error(t, err, "%s -> %s should be illegal", edge.from, edge.to)
		assert.True(t, errors.IsInvalidTransitionError(err))

		// Stored state unchanged
		stored, err := store.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, edge.from, stored.State)
	}
}

func TestTransitionUnknownTarget(t *testing.T) {
	db := lktest.CreateTestDB(t)
	store := NewStore(db)
	machine := NewMachine(db)

	item := createItem(t, store, StateDraft)

	_, err := machine.Transition(context.Background(), item.ID, State("limbo"), "usr_test", "")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidTransitionError(err))
}

func TestTransitionMissingItem(t *testing.T) {
	db := lktest.CreateTestDB(t)
	machine := NewMachine(db)

	_, err := machine.Transition(context.Background(), "itm_missing", StateActive, "usr_test", "")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestTransitionAppendsHistory(t *testing.T) {
	db := lktest.CreateTestDB(t)
	store := NewStore(db)
	machine := NewMachine(db)
	ctx := context.Background()

	item := createItem(t, store, StateDraft)

	_, err := machine.Transition(ctx, item.ID, StateActive, "usr_test", "listed for sale")
	require.NoError(t, err)
	_, err = machine.Transition(ctx, item.ID, StateSold, "system", "order placed")
	require.NoError(t, err)

	history, err := store.ListHistory(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, StateDraft, history[0].FromState)
	assert.Equal(t, StateActive, history[0].ToState)
	assert.Equal(t, "listed for sale", history[0].Reason)
	assert.Equal(t, StateActive, history[1].FromState)
	assert.Equal(t, StateSold, history[1].ToState)
	assert.Equal(t, "system", history[1].Actor)
}

func TestTransitionBulkPartialSuccess(t *testing.T) {
	db := lktest.CreateTestDB(t)
	store := NewStore(db)
	machine := NewMachine(db)
	ctx := context.Background()

	// Items 1 and 3 are draft (legal target: active); item 2 is already sold
	item1 := createItem(t, store, StateDraft)
	item2 := createItem(t, store, StateSold)
	item3 := createItem(t, store, StateDraft)

	results := machine.TransitionBulk(ctx, []string{item1.ID, item2.ID, item3.ID}, StateActive, "usr_test", "")
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.True(t, errors.IsInvalidTransitionError(results[1].Err))
	assert.NoError(t, results[2].Err)

	// Items 1 and 3 actually transitioned, item 2 untouched
	for _, check := range []struct {
		id   string
		want State
	}{
		{item1.ID, StateActive},
		{item2.ID, StateSold},
		{item3.ID, StateActive},
	} {
		stored, err := store.GetItem(ctx, check.id)
		require.NoError(t, err)
		assert.Equal(t, check.want, stored.State)
	}
}
