package tracker

import (
	"context"
	"database/sql"
	"time"

	"github.com/listkeeper/listkeeper/errors"
)

// Tracker persists per-(item, platform) listing status rows
type Tracker struct {
	db *sql.DB
}

// New creates a tracker over the given database
func New(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// MarkPending seeds (or refreshes) a row as pending when a sync job is
// enqueued, so callers can observe in-flight fan-out. A row already at
// listed/delisted keeps its remote id; only the status moves to pending.
func (t *Tracker) MarkPending(ctx context.Context, itemID, platform string) error {
	now := time.Now()
	query := `
		INSERT INTO platform_listing_status (
			item_id, platform, status, last_seq, attempt_count, updated_at
		) VALUES (?, ?, ?, 0, 0, ?)
		ON CONFLICT(item_id, platform) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
	`

	if _, err := t.db.ExecContext(ctx, query, itemID, platform, StatusPending, now); err != nil {
		err = errors.Wrap(err, "failed to mark platform status pending")
		err = errors.WithDetailf(err, "Item ID: %s", itemID)
		err = errors.WithDetailf(err, "Platform: %s", platform)
		return err
	}

	return nil
}

// RecordAttempt applies one adapter outcome. Idempotent under retries and
// safe against out-of-order completions: the attempt counter always moves,
// but status, remote id and error only change when outcome.Seq is strictly
// newer than the stored last_seq.
func (t *Tracker) RecordAttempt(ctx context.Context, itemID, platform string, outcome Outcome) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrStorageUnavailable, err.Error())
	}
	defer tx.Rollback()

	now := time.Now()

	var (
		lastSeq      int64
		attemptCount int
		remoteID     sql.NullString
		exists       = true
	)
	err = tx.QueryRowContext(ctx,
		`SELECT last_seq, attempt_count, remote_listing_id
		 FROM platform_listing_status
		 WHERE item_id = ? AND platform = ?`,
		itemID, platform,
	).Scan(&lastSeq, &attemptCount, &remoteID)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return errors.Wrap(err, "failed to read platform status")
	}

	if !exists {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO platform_listing_status (
				item_id, platform, status, last_seq, attempt_count, updated_at
			) VALUES (?, ?, ?, 0, 0, ?)`,
			itemID, platform, StatusNotListed, now,
		); err != nil {
			return errors.Wrap(err, "failed to create platform status row")
		}
	}

	attemptCount++

	if outcome.Seq <= lastSeq {
		// Stale completion from an older attempt arriving late: count the
		// attempt, never regress the row.
		if _, err := tx.ExecContext(ctx,
			`UPDATE platform_listing_status
			 SET attempt_count = ?, last_attempt_at = ?, updated_at = ?
			 WHERE item_id = ? AND platform = ?`,
			attemptCount, now, now, itemID, platform,
		); err != nil {
			return errors.Wrap(err, "failed to record stale attempt")
		}
		return errors.Wrap(tx.Commit(), "failed to commit platform status")
	}

	newRemoteID := remoteID
	if outcome.RemoteListingID != "" {
		newRemoteID = sql.NullString{String: outcome.RemoteListingID, Valid: true}
	}
	if outcome.ClearRemoteID {
		newRemoteID = sql.NullString{}
	}

	lastError := sql.NullString{String: outcome.Err, Valid: outcome.Err != ""}

	var lastSuccess interface{}
	if outcome.Err == "" {
		lastSuccess = now
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE platform_listing_status
		 SET status = ?,
		     remote_listing_id = ?,
		     last_seq = ?,
		     attempt_count = ?,
		     last_attempt_at = ?,
		     last_success_at = COALESCE(?, last_success_at),
		     last_error = ?,
		     updated_at = ?
		 WHERE item_id = ? AND platform = ?`,
		outcome.Status, newRemoteID, outcome.Seq, attemptCount,
		now, lastSuccess, lastError, now, itemID, platform,
	); err != nil {
		return errors.Wrap(err, "failed to record attempt outcome")
	}

	return errors.Wrap(tx.Commit(), "failed to commit platform status")
}

// GetStatus returns all per-platform status rows for an item, keyed by
// platform name. Pure read; items with no sync history return an empty map.
func (t *Tracker) GetStatus(ctx context.Context, itemID string) (map[string]*ListingStatus, error) {
	query := `
		SELECT item_id, platform, remote_listing_id, status, last_seq,
		       attempt_count, last_attempt_at, last_success_at, last_error,
		       updated_at
		FROM platform_listing_status
		WHERE item_id = ?
	`

	rows, err := t.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query platform status")
	}
	defer rows.Close()

	statuses := make(map[string]*ListingStatus)
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan platform status")
		}
		statuses[st.Platform] = st
	}

	return statuses, errors.Wrap(rows.Err(), "error iterating platform status")
}

// Get returns a single (item, platform) row, or nil if no row exists
func (t *Tracker) Get(ctx context.Context, itemID, platform string) (*ListingStatus, error) {
	query := `
		SELECT item_id, platform, remote_listing_id, status, last_seq,
		       attempt_count, last_attempt_at, last_success_at, last_error,
		       updated_at
		FROM platform_listing_status
		WHERE item_id = ? AND platform = ?
	`

	st, err := scanStatus(t.db.QueryRowContext(ctx, query, itemID, platform))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get platform status")
	}

	return st, nil
}

// ListListedPlatforms returns the platforms where the item is currently listed
func (t *Tracker) ListListedPlatforms(ctx context.Context, itemID string) ([]string, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT platform FROM platform_listing_status
		 WHERE item_id = ? AND status = ?
		 ORDER BY platform ASC`,
		itemID, StatusListed,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list listed platforms")
	}
	defer rows.Close()

	var platforms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errors.Wrap(err, "failed to scan platform name")
		}
		platforms = append(platforms, p)
	}

	return platforms, errors.Wrap(rows.Err(), "error iterating listed platforms")
}

// ListForPlatform returns every row on one platform in the given status,
// ordered by item. The reconcile sweep walks listed rows this way.
func (t *Tracker) ListForPlatform(ctx context.Context, platform string, status Status) ([]*ListingStatus, error) {
	query := `
		SELECT item_id, platform, remote_listing_id, status, last_seq,
		       attempt_count, last_attempt_at, last_success_at, last_error,
		       updated_at
		FROM platform_listing_status
		WHERE platform = ? AND status = ?
		ORDER BY item_id ASC
	`

	rows, err := t.db.QueryContext(ctx, query, platform, status)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list platform status rows")
	}
	defer rows.Close()

	var statuses []*ListingStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan platform status")
		}
		statuses = append(statuses, st)
	}

	return statuses, errors.Wrap(rows.Err(), "error iterating platform status rows")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStatus(row rowScanner) (*ListingStatus, error) {
	var st ListingStatus
	var remoteID, lastError sql.NullString
	var lastAttempt, lastSuccess sql.NullTime

	err := row.Scan(
		&st.ItemID,
		&st.Platform,
		&remoteID,
		&st.Status,
		&st.LastSeq,
		&st.AttemptCount,
		&lastAttempt,
		&lastSuccess,
		&lastError,
		&st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if remoteID.Valid {
		st.RemoteListingID = remoteID.String
	}
	if lastError.Valid {
		st.LastError = lastError.String
	}
	if lastAttempt.Valid {
		st.LastAttemptAt = &lastAttempt.Time
	}
	if lastSuccess.Valid {
		st.LastSuccessAt = &lastSuccess.Time
	}

	return &st, nil
}
