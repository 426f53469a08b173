package inventory

import (
	"context"
	"database/sql"

	"github.com/listkeeper/listkeeper/errors"
)

// Store handles persistence of inventory items and their transition history
type Store struct {
	db *sql.DB
}

// NewStore creates a new inventory store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateItem inserts a new item
func (s *Store) CreateItem(ctx context.Context, item *Item) error {
	query := `
		INSERT INTO inventory_items (
			id, user_id, title, description, price_cents, state,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	description := sql.NullString{String: item.Description, Valid: item.Description != ""}

	_, err := s.db.ExecContext(ctx, query,
		item.ID,
		item.UserID,
		item.Title,
		description,
		item.PriceCents,
		item.State,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create item")
	}

	return nil
}

// GetItem retrieves an item by ID
func (s *Store) GetItem(ctx context.Context, id string) (*Item, error) {
	query := `
		SELECT id, user_id, title, description, price_cents, state,
		       created_at, updated_at
		FROM inventory_items
		WHERE id = ?
	`

	item, err := scanItem(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("item not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get item")
	}

	return item, nil
}

// ListItemsByUser returns all items owned by userID, newest first
func (s *Store) ListItemsByUser(ctx context.Context, userID string, limit int) ([]*Item, error) {
	query := `
		SELECT id, user_id, title, description, price_cents, state,
		       created_at, updated_at
		FROM inventory_items
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list items")
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan item")
		}
		items = append(items, item)
	}

	return items, errors.Wrap(rows.Err(), "error iterating items")
}

// UpdateItemFields updates the mutable listing fields of an item.
// State is deliberately excluded: only the Machine writes state.
func (s *Store) UpdateItemFields(ctx context.Context, item *Item) error {
	query := `
		UPDATE inventory_items
		SET title = ?,
		    description = ?,
		    price_cents = ?,
		    updated_at = ?
		WHERE id = ?
	`

	description := sql.NullString{String: item.Description, Valid: item.Description != ""}

	result, err := s.db.ExecContext(ctx, query,
		item.Title,
		description,
		item.PriceCents,
		item.UpdatedAt,
		item.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update item")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return errors.NewNotFoundError("item not found: %s", item.ID)
	}

	return nil
}

// ListHistory returns the transition ledger for an item, oldest first
func (s *Store) ListHistory(ctx context.Context, itemID string) ([]*TransitionRecord, error) {
	query := `
		SELECT id, item_id, from_state, to_state, actor, reason, created_at
		FROM state_transitions
		WHERE item_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list transition history")
	}
	defer rows.Close()

	var records []*TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		var reason sql.NullString
		if err := rows.Scan(
			&rec.ID,
			&rec.ItemID,
			&rec.FromState,
			&rec.ToState,
			&rec.Actor,
			&reason,
			&rec.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan transition record")
		}
		if reason.Valid {
			rec.Reason = reason.String
		}
		records = append(records, &rec)
	}

	return records, errors.Wrap(rows.Err(), "error iterating transition history")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var description sql.NullString

	err := row.Scan(
		&item.ID,
		&item.UserID,
		&item.Title,
		&description,
		&item.PriceCents,
		&item.State,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		item.Description = description.String
	}

	return &item, nil
}
