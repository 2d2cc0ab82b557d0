package async

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/fathomhq/fathom/errors"
)

// Store handles persistence of report jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(job *Job) error {
	steps, meta, err := marshalJobFields(job)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO report_jobs (
			id, type, status, steps, progress,
			result, error, correlation_id, meta,
			created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		job.ID,
		string(job.Type),
		string(job.Status),
		steps,
		job.Progress,
		nullString(job.Result),
		nullString(job.Error),
		job.CorrelationID,
		meta,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to create job %s", job.ID)
	}

	return nil
}

// UpdateJob updates an existing job in the database
func (s *Store) UpdateJob(job *Job) error {
	steps, meta, err := marshalJobFields(job)
	if err != nil {
		return err
	}

	query := `
		UPDATE report_jobs
		SET status = ?,
		    steps = ?,
		    progress = ?,
		    result = ?,
		    error = ?,
		    meta = ?,
		    started_at = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ?
	`

	_, err = s.db.Exec(query,
		string(job.Status),
		steps,
		job.Progress,
		nullString(job.Result),
		nullString(job.Error),
		meta,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to update job %s", job.ID)
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM report_jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", id)
	}

	return job, nil
}

// ListJobs returns jobs ordered newest-first, optionally filtered by status
func (s *Store) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + jobColumns + ` FROM report_jobs`
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{string(*status), limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListActiveJobs returns jobs that have not reached a terminal status
func (s *Store) ListActiveJobs(limit int) ([]*Job, error) {
	query := `SELECT ` + jobColumns + `
		FROM report_jobs
		WHERE status IN ('pending', 'queued', 'running')
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active jobs")
	}
	defer rows.Close()

	return scanJobs(rows)
}

// CountByStatus returns the number of jobs per status
func (s *Store) CountByStatus() (map[JobStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM report_jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[JobStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job counts")
	}

	return counts, nil
}

// CleanupOldJobs removes terminal jobs older than the specified duration.
// Returns the number of rows deleted.
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `
		DELETE FROM report_jobs
		WHERE status IN ('succeeded', 'failed', 'cancelled')
		  AND updated_at < ?
	`

	result, err := s.db.Exec(query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

const jobColumns = `id, type, status, steps, progress,
	result, error, correlation_id, meta,
	created_at, started_at, completed_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var jobType, status string
	var steps, meta, result, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&jobType,
		&status,
		&steps,
		&job.Progress,
		&result,
		&errMsg,
		&job.CorrelationID,
		&meta,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Type = JobType(jobType)
	job.Status = JobStatus(status)
	job.Result = result.String
	job.Error = errMsg.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	if steps.Valid && steps.String != "" {
		if err := json.Unmarshal([]byte(steps.String), &job.Steps); err != nil {
			return nil, errors.Wrapf(err, "failed to decode steps for job %s", job.ID)
		}
	}
	job.Meta = make(map[string]string)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &job.Meta); err != nil {
			return nil, errors.Wrapf(err, "failed to decode meta for job %s", job.ID)
		}
	}

	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating jobs")
	}
	return jobs, nil
}

func marshalJobFields(job *Job) (steps, meta sql.NullString, err error) {
	if len(job.Steps) > 0 {
		data, merr := json.Marshal(job.Steps)
		if merr != nil {
			return steps, meta, errors.Wrapf(merr, "failed to encode steps for job %s", job.ID)
		}
		steps = sql.NullString{String: string(data), Valid: true}
	}
	if len(job.Meta) > 0 {
		data, merr := json.Marshal(job.Meta)
		if merr != nil {
			return steps, meta, errors.Wrapf(merr, "failed to encode meta for job %s", job.ID)
		}
		meta = sql.NullString{String: string(data), Valid: true}
	}
	return steps, meta, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
