package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/listkeeper/listkeeper/errors"
)

// Store persists schedule definitions. Timestamps are stored as RFC3339
// strings; lexicographic order matches chronological order, which the due
// query relies on.
type Store struct {
	db *sql.DB
}

// NewStore creates a schedule store backed by the given database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Second precision: RFC3339Nano trims trailing zeros, which breaks the
// lexicographic ordering the due query depends on
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse schedule timestamp")
	}
	return &t, nil
}

const scheduleColumns = `id, name, job_type, payload, interval_seconds,
	next_run_at, last_fired_at, state, created_at, updated_at`

func scanDefinition(row interface{ Scan(...interface{}) error }) (*Definition, error) {
	var d Definition
	var payload sql.NullString
	var nextRunAt, lastFiredAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&d.ID, &d.Name, &d.JobType, &payload, &d.IntervalSeconds,
		&nextRunAt, &lastFiredAt, &d.State, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if payload.Valid && payload.String != "" {
		d.Payload = json.RawMessage(payload.String)
	}
	if d.NextRunAt, err = parseTimePtr(nextRunAt); err != nil {
		return nil, err
	}
	if d.LastFiredAt, err = parseTimePtr(lastFiredAt); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, errors.Wrap(err, "failed to parse created_at")
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to parse updated_at")
	}
	return &d, nil
}

// Create persists a new schedule. The name must be unique.
func (s *Store) Create(ctx context.Context, d *Definition) error {
	var payload interface{}
	if len(d.Payload) > 0 {
		payload = string(d.Payload)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, name, job_type, payload, interval_seconds,
			next_run_at, last_fired_at, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.JobType, payload, d.IntervalSeconds,
		formatTimePtr(d.NextRunAt), formatTimePtr(d.LastFiredAt), d.State,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to create schedule %s", d.Name)
	}
	return nil
}

// Ensure creates the schedule if no schedule with its name exists. Used to
// seed built-in schedules at startup without clobbering operator edits.
func (s *Store) Ensure(ctx context.Context, d *Definition) error {
	existing, err := s.GetByName(ctx, d.Name)
	if err != nil && !errors.IsNotFoundError(err) {
		return err
	}
	if existing != nil {
		return nil
	}
	return s.Create(ctx, d)
}

// Get retrieves a schedule by ID
func (s *Store) Get(ctx context.Context, id string) (*Definition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	d, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, errors.WithDetail(errors.ErrNotFound, "schedule: "+id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get schedule")
	}
	return d, nil
}

// GetByName retrieves a schedule by its unique name
func (s *Store) GetByName(ctx context.Context, name string) (*Definition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE name = ?`, name)
	d, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, errors.WithDetail(errors.ErrNotFound, "schedule: "+name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get schedule")
	}
	return d, nil
}

// List returns all schedules ordered by name
func (s *Store) List(ctx context.Context) ([]*Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schedules")
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// Due returns active schedules whose next_run_at has passed
func (s *Store) Due(ctx context.Context, now time.Time) ([]*Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE state = 'active' AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at`,
		formatTime(now))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query due schedules")
	}
	defer rows.Close()

	var defs []*Definition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// Claim marks a due schedule as fired and advances it. The update is guarded
// on the next_run_at the caller read, so two tickers racing on the same due
// slot fire it exactly once: the loser's guard misses and Claim returns false.
func (s *Store) Claim(ctx context.Context, d *Definition, now time.Time) (bool, error) {
	if d.NextRunAt == nil {
		return false, nil
	}
	prev := formatTime(*d.NextRunAt)

	var result sql.Result
	var err error
	if d.Recurring() {
		next := now.Add(time.Duration(d.IntervalSeconds) * time.Second)
		result, err = s.db.ExecContext(ctx, `
			UPDATE schedules SET next_run_at = ?, last_fired_at = ?, updated_at = ?
			WHERE id = ? AND state = 'active' AND next_run_at = ?`,
			formatTime(next), formatTime(now), formatTime(now), d.ID, prev)
	} else {
		result, err = s.db.ExecContext(ctx, `
			UPDATE schedules SET state = 'completed', next_run_at = NULL,
				last_fired_at = ?, updated_at = ?
			WHERE id = ? AND state = 'active' AND next_run_at = ?`,
			formatTime(now), formatTime(now), d.ID, prev)
	}
	if err != nil {
		return false, errors.Wrapf(err, "failed to claim schedule %s", d.Name)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check schedule claim")
	}
	return rows == 1, nil
}

// SetState pauses or resumes a schedule by name
func (s *Store) SetState(ctx context.Context, name string, state State) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET state = ?, updated_at = ? WHERE name = ?`,
		state, formatTime(time.Now()), name)
	if err != nil {
		return errors.Wrapf(err, "failed to set schedule %s state", name)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check schedule update")
	}
	if rows == 0 {
		return errors.WithDetail(errors.ErrNotFound, "schedule: "+name)
	}
	return nil
}

// Delete removes a schedule by name
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE name = ?`, name)
	if err != nil {
		return errors.Wrapf(err, "failed to delete schedule %s", name)
	}
	return nil
}
