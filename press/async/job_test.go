package async

import (
	"testing"
	"time"
)

func TestJobStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{"pending to queued", JobStatusPending, JobStatusQueued, true},
		{"pending to running", JobStatusPending, JobStatusRunning, true},
		{"pending to cancelled", JobStatusPending, JobStatusCancelled, true},
		{"pending to succeeded", JobStatusPending, JobStatusSucceeded, false},
		{"pending to failed", JobStatusPending, JobStatusFailed, false},
		{"queued to running", JobStatusQueued, JobStatusRunning, true},
		{"queued to cancelled", JobStatusQueued, JobStatusCancelled, true},
		{"queued to succeeded", JobStatusQueued, JobStatusSucceeded, false},
		{"running to succeeded", JobStatusRunning, JobStatusSucceeded, true},
		{"running to failed", JobStatusRunning, JobStatusFailed, true},
		{"running to cancelled", JobStatusRunning, JobStatusCancelled, true},
		{"running to queued", JobStatusRunning, JobStatusQueued, false},
		{"succeeded is terminal", JobStatusSucceeded, JobStatusRunning, false},
		{"failed is terminal", JobStatusFailed, JobStatusRunning, false},
		{"cancelled is terminal", JobStatusCancelled, JobStatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusSucceeded, JobStatusFailed, JobStatusCancelled}
	active := []JobStatus{JobStatusPending, JobStatusQueued, JobStatusRunning}

	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestNewJob(t *testing.T) {
	job, err := NewJob(JobTypeReportGeneration, ReportSteps(),
		WithCorrelationID("corr-1"),
		WithMeta("template_id", "tpl-1"))
	if err != nil {
		t.Fatalf("NewJob() error = %v", err)
	}

	if job.ID == "" {
		t.Error("job ID should not be empty")
	}
	if job.Status != JobStatusPending {
		t.Errorf("new job status = %s, want %s", job.Status, JobStatusPending)
	}
	if job.CorrelationID != "corr-1" {
		t.Errorf("correlation ID = %s, want corr-1", job.CorrelationID)
	}
	if job.Meta["template_id"] != "tpl-1" {
		t.Errorf("meta template_id = %s, want tpl-1", job.Meta["template_id"])
	}
	if len(job.Steps) != 3 {
		t.Errorf("steps = %d, want 3", len(job.Steps))
	}
	if job.Progress != 0 {
		t.Errorf("initial progress = %f, want 0", job.Progress)
	}
}

func TestNewJobRequiresType(t *testing.T) {
	if _, err := NewJob("", nil); err == nil {
		t.Error("NewJob with empty type should fail")
	}
}

func TestJobLifecycleSuccess(t *testing.T) {
	job, _ := NewJob(JobTypeReportGeneration, nil)

	job.Queue()
	if job.Status != JobStatusQueued {
		t.Fatalf("after Queue: status = %s", job.Status)
	}
	if job.CompletedAt != nil {
		t.Error("queued job should not have completed_at")
	}

	job.Start()
	if job.Status != JobStatusRunning {
		t.Fatalf("after Start: status = %s", job.Status)
	}
	if job.StartedAt == nil {
		t.Error("running job should have started_at")
	}

	job.Succeed("/reports/out.json")
	if job.Status != JobStatusSucceeded {
		t.Fatalf("after Succeed: status = %s", job.Status)
	}
	if job.CompletedAt == nil {
		t.Error("terminal job must have completed_at")
	}
	if job.Result != "/reports/out.json" {
		t.Errorf("result = %q", job.Result)
	}
	if job.Error != "" {
		t.Errorf("succeeded job must not carry an error, got %q", job.Error)
	}
	if job.Progress != 100 {
		t.Errorf("succeeded job progress = %f, want 100", job.Progress)
	}
}

func TestJobLifecycleFailure(t *testing.T) {
	job, _ := NewJob(JobTypeReportGeneration, nil)
	job.Queue()
	job.Start()
	job.Fail("database is locked")

	if job.Status != JobStatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
	if job.Error != "database is locked" {
		t.Errorf("error = %q", job.Error)
	}
	if job.Result != "" {
		t.Errorf("failed job must not carry a result, got %q", job.Result)
	}
	if job.CompletedAt == nil {
		t.Error("terminal job must have completed_at")
	}
}

func TestJobCancelKeepsErrorForFailures(t *testing.T) {
	job, _ := NewJob(JobTypeReportGeneration, nil)
	job.Queue()
	job.Cancel("operator request")

	if job.Status != JobStatusCancelled {
		t.Fatalf("status = %s", job.Status)
	}
	if job.Error != "" {
		t.Errorf("cancelled job must not set Error, got %q", job.Error)
	}
	if job.Meta["cancel_reason"] != "operator request" {
		t.Errorf("cancel_reason = %q", job.Meta["cancel_reason"])
	}
	if job.CompletedAt == nil {
		t.Error("terminal job must have completed_at")
	}
}

func TestJobIllegalTransitionIsNoop(t *testing.T) {
	job, _ := NewJob(JobTypeReportGeneration, nil)
	job.Queue()
	job.Start()
	job.Succeed("done")

	before := job.Status
	job.Fail("too late")
	if job.Status != before {
		t.Errorf("terminal job mutated: %s -> %s", before, job.Status)
	}
	if job.Error != "" {
		t.Errorf("illegal Fail set error: %q", job.Error)
	}
}

func TestJobUpdateProgress(t *testing.T) {
	job, _ := NewJob(JobTypeReportGeneration, nil)
	job.Queue()
	job.Start()

	job.UpdateProgress(40)
	if job.Progress != 40 {
		t.Errorf("progress = %f, want 40", job.Progress)
	}

	// Progress never decreases
	job.UpdateProgress(25)
	if job.Progress != 40 {
		t.Errorf("progress regressed to %f", job.Progress)
	}

	// Clamped to 100
	job.UpdateProgress(250)
	if job.Progress != 100 {
		t.Errorf("progress = %f, want 100", job.Progress)
	}

	// No-op once terminal
	job.Succeed("done")
	job.UpdateProgress(50)
	if job.Progress != 100 {
		t.Errorf("terminal progress mutated to %f", job.Progress)
	}
}

func TestJobStepProgression(t *testing.T) {
	job, _ := NewJob(JobTypeReportGeneration, ReportSteps())
	job.Queue()
	job.Start()

	job.StartStep("fetch_data")
	step := job.StepByName("fetch_data")
	if step.Status != StepStatusRunning {
		t.Fatalf("fetch_data status = %s", step.Status)
	}

	job.CompleteStep("fetch_data")
	if got := job.Progress; got != 30 {
		t.Errorf("progress after fetch_data (weight 30) = %f, want 30", got)
	}

	job.CompleteStep("render")
	if got := job.Progress; got != 80 {
		t.Errorf("progress after render (weight 50) = %f, want 80", got)
	}

	// Skipped steps count toward progress
	job.SkipStep("store")
	if got := job.Progress; got != 100 {
		t.Errorf("progress after skipping store = %f, want 100", got)
	}
}

func TestJobDuration(t *testing.T) {
	job, _ := NewJob(JobTypeReportGeneration, nil)
	if job.Duration() != 0 {
		t.Error("unstarted job should have zero duration")
	}

	job.Queue()
	job.Start()
	start := *job.StartedAt
	job.Succeed("done")

	want := job.CompletedAt.Sub(start)
	if job.Duration() != want {
		t.Errorf("duration = %v, want %v", job.Duration(), want)
	}
	if job.Duration() < 0 || job.Duration() > time.Second {
		t.Errorf("implausible duration %v", job.Duration())
	}
}
