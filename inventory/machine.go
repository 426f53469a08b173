package inventory

import (
	"context"
	"database/sql"
	"time"

	"github.com/listkeeper/listkeeper/errors"
)

// Machine validates and applies lifecycle transitions. The state column
// update and the ledger append happen in one transaction: a crash between
// them is never observable.
type Machine struct {
	db *sql.DB
}

// NewMachine creates a state machine over the given database
func NewMachine(db *sql.DB) *Machine {
	return &Machine{db: db}
}

// Transition moves an item to target along a legal edge and appends the
// transition record. Illegal edges fail with errors.ErrInvalidTransition and
// leave the item unchanged.
func (m *Machine) Transition(ctx context.Context, itemID string, target State, actor, reason string) (*TransitionRecord, error) {
	if !IsValidState(string(target)) {
		return nil, errors.Wrapf(errors.ErrInvalidTransition, "unknown target state %q", target)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorageUnavailable, err.Error())
	}
	defer tx.Rollback()

	var current State
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM inventory_items WHERE id = ?`, itemID,
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("item not found: %s", itemID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read item state")
	}

	if !CanTransition(current, target) {
		err := errors.Wrapf(errors.ErrInvalidTransition, "%s -> %s", current, target)
		err = errors.WithDetailf(err, "Item ID: %s", itemID)
		err = errors.WithDetailf(err, "Current state: %s", current)
		return nil, err
	}

	now := time.Now()
	rec := &TransitionRecord{
		ID:        newTransitionID(),
		ItemID:    itemID,
		FromState: current,
		ToState:   target,
		Actor:     actor,
		Reason:    reason,
		CreatedAt: now,
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE inventory_items SET state = ?, updated_at = ? WHERE id = ?`,
		target, now, itemID,
	); err != nil {
		return nil, errors.Wrap(err, "failed to update item state")
	}

	reasonVal := sql.NullString{String: reason, Valid: reason != ""}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO state_transitions (id, item_id, from_state, to_state, actor, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ItemID, rec.FromState, rec.ToState, rec.Actor, reasonVal, rec.CreatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "failed to append transition record")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(errors.ErrStorageUnavailable, err.Error())
	}

	return rec, nil
}

// BulkResult is the per-item outcome of TransitionBulk
type BulkResult struct {
	ItemID string
	Record *TransitionRecord
	Err    error
}

// TransitionBulk applies the same transition to each item independently.
// Partial success is the expected outcome: one illegal item never blocks the
// others, and each result carries its own error.
func (m *Machine) TransitionBulk(ctx context.Context, itemIDs []string, target State, actor, reason string) []BulkResult {
	results := make([]BulkResult, 0, len(itemIDs))
	for _, id := range itemIDs {
		rec, err := m.Transition(ctx, id, target, actor, reason)
		results = append(results, BulkResult{ItemID: id, Record: rec, Err: err})
	}
	return results
}
