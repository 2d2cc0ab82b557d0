package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/fathomhq/fathom/errors"
)

// Store handles persistence of schedules. It satisfies the scheduler's
// Repository interface.
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new schedule into the database
func (s *Store) Create(ctx context.Context, sched *Schedule) error {
	query := `
		INSERT INTO schedules (
			id, name, template_id, connection_id, interval_minutes,
			active, next_run_at, last_run_at, last_run_status, last_run_error,
			run_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		sched.ID,
		sched.Name,
		sched.TemplateID,
		sched.ConnectionID,
		sched.IntervalMinutes,
		sched.Active,
		sched.NextRunAt,
		sched.LastRunAt,
		nullString(sched.LastRunStatus),
		nullString(sched.LastRunError),
		sched.RunCount,
		sched.CreatedAt,
		sched.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create schedule %s", sched.ID)
	}

	return nil
}

// Save updates an existing schedule
func (s *Store) Save(ctx context.Context, sched *Schedule) error {
	query := `
		UPDATE schedules
		SET name = ?,
		    template_id = ?,
		    connection_id = ?,
		    interval_minutes = ?,
		    active = ?,
		    next_run_at = ?,
		    last_run_at = ?,
		    last_run_status = ?,
		    last_run_error = ?,
		    run_count = ?,
		    updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		sched.Name,
		sched.TemplateID,
		sched.ConnectionID,
		sched.IntervalMinutes,
		sched.Active,
		sched.NextRunAt,
		sched.LastRunAt,
		nullString(sched.LastRunStatus),
		nullString(sched.LastRunError),
		sched.RunCount,
		sched.UpdatedAt,
		sched.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save schedule %s", sched.ID)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return errors.NewNotFoundError("schedule %s", sched.ID)
	}

	return nil
}

// Get retrieves a schedule by ID
func (s *Store) Get(ctx context.Context, id string) (*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = ?`

	sched, err := scanSchedule(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("schedule %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule %s", id)
	}

	return sched, nil
}

// FindDue returns active schedules whose next run is at or before now,
// longest overdue first. Capped at 100 per poll so one enormous backlog
// cannot starve the tick.
func (s *Store) FindDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE active = 1 AND next_run_at <= ?
		ORDER BY next_run_at ASC
		LIMIT 100`

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find due schedules")
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// List returns all schedules, newest first
func (s *Store) List(ctx context.Context) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schedules")
	}
	defer rows.Close()

	return scanSchedules(rows)
}

// Delete removes a schedule by ID
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete schedule %s", id)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return errors.NewNotFoundError("schedule %s", id)
	}

	return nil
}

const scheduleColumns = `id, name, template_id, connection_id, interval_minutes,
	active, next_run_at, last_run_at, last_run_status, last_run_error,
	run_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var sched Schedule
	var lastRunAt sql.NullTime
	var lastRunStatus, lastRunError sql.NullString

	err := row.Scan(
		&sched.ID,
		&sched.Name,
		&sched.TemplateID,
		&sched.ConnectionID,
		&sched.IntervalMinutes,
		&sched.Active,
		&sched.NextRunAt,
		&lastRunAt,
		&lastRunStatus,
		&lastRunError,
		&sched.RunCount,
		&sched.CreatedAt,
		&sched.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastRunAt.Valid {
		sched.LastRunAt = &lastRunAt.Time
	}
	sched.LastRunStatus = lastRunStatus.String
	sched.LastRunError = lastRunError.String

	return &sched, nil
}

func scanSchedules(rows *sql.Rows) ([]*Schedule, error) {
	var schedules []*Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		schedules = append(schedules, sched)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating schedules")
	}
	return schedules, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
