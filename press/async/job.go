// Package async provides asynchronous report job execution with bounded concurrency.
package async

import (
	"time"

	"github.com/google/uuid"

	"github.com/fathomhq/fathom/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// jobTransitions is the single source of truth for legal status transitions.
// Terminal statuses have no outgoing edges.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusQueued, JobStatusRunning, JobStatusCancelled},
	JobStatusQueued:  {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning: {JobStatusSucceeded, JobStatusFailed, JobStatusCancelled},
}

// CanTransitionTo reports whether moving from s to target is legal.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	for _, next := range jobTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s JobStatus) IsTerminal() bool {
	return len(jobTransitions[s]) == 0 && s != ""
}

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusQueued, JobStatusRunning,
		JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// JobType identifies which registered runner executes a job
type JobType string

const (
	JobTypeReportGeneration  JobType = "report.generate"
	JobTypeReportExport      JobType = "report.export"
	JobTypeConnectionRefresh JobType = "connection.refresh"
)

// StepStatus represents the state of a single job step
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// JobStep is one unit of work within a job. Steps are looked up by name and
// mutated through the owning Job's step methods; they never transition on
// their own.
type JobStep struct {
	Name           string     `json:"name"`
	Label          string     `json:"label"`
	Status         StepStatus `json:"status"`
	Error          string     `json:"error,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ProgressWeight float64    `json:"progress_weight,omitempty"`
}

// NewStep creates a pending step with the given weight.
func NewStep(name, label string, weight float64) *JobStep {
	return &JobStep{
		Name:           name,
		Label:          label,
		Status:         StepStatusPending,
		ProgressWeight: weight,
	}
}

// ReportSteps returns the standard step sequence for report generation jobs.
func ReportSteps() []*JobStep {
	return []*JobStep{
		NewStep("fetch_data", "Fetch source data", 30),
		NewStep("render", "Render report", 50),
		NewStep("store", "Store output", 20),
	}
}

// Job is a tracked unit of work. A Job is created once via NewJob and mutated
// only through its transition methods; whichever component currently holds
// the execution owns it.
type Job struct {
	ID            string            `json:"id"`
	Type          JobType           `json:"type"`
	Status        JobStatus         `json:"status"`
	Steps         []*JobStep        `json:"steps,omitempty"`
	Progress      float64           `json:"progress"`
	Result        string            `json:"result,omitempty"`
	Error         string            `json:"error,omitempty"`
	CorrelationID string            `json:"correlation_id"`
	Meta          map[string]string `json:"meta,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// JobOption customizes a job at creation time.
type JobOption func(*Job)

// WithCorrelationID sets the correlation ID propagated to every emitted event.
func WithCorrelationID(id string) JobOption {
	return func(j *Job) { j.CorrelationID = id }
}

// WithMeta attaches a free-form metadata entry.
func WithMeta(key, value string) JobOption {
	return func(j *Job) { j.Meta[key] = value }
}

// NewJob creates a new job in pending state. This is the only constructor.
func NewJob(jobType JobType, steps []*JobStep, opts ...JobOption) (*Job, error) {
	if jobType == "" {
		return nil, errors.New("job type cannot be empty")
	}

	now := time.Now()
	job := &Job{
		ID:            uuid.NewString(),
		Type:          jobType,
		Status:        JobStatusPending,
		Steps:         steps,
		CorrelationID: uuid.NewString(),
		Meta:          make(map[string]string),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, opt := range opts {
		opt(job)
	}
	return job, nil
}

// transition applies a status change if legal. Returns true when the change
// took effect; illegal transitions are no-ops, never errors.
func (j *Job) transition(target JobStatus) bool {
	if !j.Status.CanTransitionTo(target) {
		return false
	}
	j.Status = target
	j.UpdatedAt = time.Now()
	return true
}

// Queue marks the job as queued. No-op unless the job is pending.
func (j *Job) Queue() JobStatus {
	j.transition(JobStatusQueued)
	return j.Status
}

// Start marks the job as running and records the start time.
func (j *Job) Start() JobStatus {
	if j.transition(JobStatusRunning) {
		now := time.Now()
		j.StartedAt = &now
	}
	return j.Status
}

// Succeed marks the job as succeeded with a result.
// Result is only ever set on this path.
func (j *Job) Succeed(result string) JobStatus {
	if j.transition(JobStatusSucceeded) {
		now := time.Now()
		j.CompletedAt = &now
		j.Result = result
		j.Progress = 100
	}
	return j.Status
}

// Fail marks the job as failed with an error message.
// Error is only ever set on this path.
func (j *Job) Fail(message string) JobStatus {
	if j.transition(JobStatusFailed) {
		now := time.Now()
		j.CompletedAt = &now
		j.Error = message
	}
	return j.Status
}

// Cancel marks the job as cancelled. The reason is recorded in Meta so the
// Error field stays reserved for failures.
func (j *Job) Cancel(reason string) JobStatus {
	if j.transition(JobStatusCancelled) {
		now := time.Now()
		j.CompletedAt = &now
		if reason != "" {
			j.Meta["cancel_reason"] = reason
		}
	}
	return j.Status
}

// UpdateProgress sets the job's progress. Values are clamped to [0,100] and
// progress never decreases. No-op once the job is terminal.
func (j *Job) UpdateProgress(progress float64) {
	if j.Status.IsTerminal() {
		return
	}
	if progress > 100 {
		progress = 100
	}
	if progress <= j.Progress {
		return
	}
	j.Progress = progress
	j.UpdatedAt = time.Now()
}

// StepByName returns the step with the given name, or nil.
func (j *Job) StepByName(name string) *JobStep {
	for _, s := range j.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// StartStep marks the named step as running.
func (j *Job) StartStep(name string) *JobStep {
	s := j.StepByName(name)
	if s == nil || s.Status != StepStatusPending {
		return s
	}
	now := time.Now()
	s.Status = StepStatusRunning
	s.StartedAt = &now
	j.UpdatedAt = now
	return s
}

// CompleteStep marks the named step as succeeded and advances job progress.
func (j *Job) CompleteStep(name string) *JobStep {
	s := j.StepByName(name)
	if s == nil || s.Status == StepStatusSucceeded {
		return s
	}
	now := time.Now()
	s.Status = StepStatusSucceeded
	s.CompletedAt = &now
	j.UpdatedAt = now
	j.recomputeProgress()
	return s
}

// FailStep marks the named step as failed with an error.
func (j *Job) FailStep(name string, err error) *JobStep {
	s := j.StepByName(name)
	if s == nil {
		return nil
	}
	now := time.Now()
	s.Status = StepStatusFailed
	if err != nil {
		s.Error = err.Error()
	}
	s.CompletedAt = &now
	j.UpdatedAt = now
	return s
}

// SkipStep marks the named step as skipped. Skipped steps count toward
// progress so a job with optional steps can still reach 100.
func (j *Job) SkipStep(name string) *JobStep {
	s := j.StepByName(name)
	if s == nil {
		return nil
	}
	now := time.Now()
	s.Status = StepStatusSkipped
	s.CompletedAt = &now
	j.UpdatedAt = now
	j.recomputeProgress()
	return s
}

// recomputeProgress derives progress from finished step weights.
// Steps with zero weight count as weight 1 so unweighted sequences still
// advance. UpdateProgress enforces monotonicity.
func (j *Job) recomputeProgress() {
	if len(j.Steps) == 0 {
		return
	}
	var total, done float64
	for _, s := range j.Steps {
		w := s.ProgressWeight
		if w <= 0 {
			w = 1
		}
		total += w
		if s.Status == StepStatusSucceeded || s.Status == StepStatusSkipped {
			done += w
		}
	}
	if total > 0 {
		j.UpdateProgress(done / total * 100)
	}
}

// Duration returns how long the job ran, or zero if it never started.
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	if j.CompletedAt != nil {
		return j.CompletedAt.Sub(*j.StartedAt)
	}
	return time.Since(*j.StartedAt)
}
