package schedule

import (
	"testing"
	"time"

	"github.com/fathomhq/fathom/errors"
)

func TestNewSchedule(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		interval int
		wantErr  bool
	}{
		{"hourly report", "hourly-sales", 60, false},
		{"minimum interval", "rapid-check", 1, false},
		{"weekly report", "weekly-digest", 10080, false},
		{"zero interval", "broken", 0, true},
		{"negative interval", "broken", -5, true},
		{"empty name", "", 60, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := NewSchedule(tt.schedule, "tpl-1", "conn-1", tt.interval)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewSchedule() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}

			if sched.ID == "" {
				t.Error("schedule ID should not be empty")
			}
			if !sched.Active {
				t.Error("new schedule should be active")
			}
			want := sched.CreatedAt.Add(time.Duration(tt.interval) * time.Minute)
			if !sched.NextRunAt.Equal(want) {
				t.Errorf("NextRunAt = %v, want %v", sched.NextRunAt, want)
			}
			if sched.RunCount != 0 {
				t.Errorf("new schedule run count = %d", sched.RunCount)
			}
		})
	}
}

func TestScheduleIsDue(t *testing.T) {
	now := time.Now()
	sched, _ := NewSchedule("test", "tpl-1", "conn-1", 60)

	sched.NextRunAt = now.Add(time.Minute)
	if sched.IsDue(now) {
		t.Error("schedule with future next_run_at should not be due")
	}

	sched.NextRunAt = now
	if !sched.IsDue(now) {
		t.Error("schedule with next_run_at == now should be due")
	}

	sched.NextRunAt = now.Add(-time.Hour)
	if !sched.IsDue(now) {
		t.Error("overdue schedule should be due")
	}

	sched.Active = false
	if sched.IsDue(now) {
		t.Error("inactive schedule must never be due")
	}
}

func TestScheduleRecordRunSuccess(t *testing.T) {
	sched, _ := NewSchedule("test", "tpl-1", "conn-1", 30)
	finished := time.Now()

	sched.RecordRun(RunStatusTriggered, nil, finished)

	if sched.RunCount != 1 {
		t.Errorf("run count = %d, want 1", sched.RunCount)
	}
	if sched.LastRunStatus != RunStatusTriggered {
		t.Errorf("last run status = %s", sched.LastRunStatus)
	}
	if sched.LastRunError != "" {
		t.Errorf("last run error = %q, want empty", sched.LastRunError)
	}
	if sched.LastRunAt == nil || !sched.LastRunAt.Equal(finished) {
		t.Errorf("last run at = %v", sched.LastRunAt)
	}
	want := finished.Add(30 * time.Minute)
	if !sched.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v", sched.NextRunAt, want)
	}
}

// A failing run must still advance NextRunAt, otherwise a broken schedule
// fires on every poll forever.
func TestScheduleRecordRunFailureStillAdvances(t *testing.T) {
	sched, _ := NewSchedule("test", "tpl-1", "conn-1", 30)
	finished := time.Now()

	sched.RecordRun(RunStatusFailed, errors.New("queue full"), finished)

	if sched.LastRunStatus != RunStatusFailed {
		t.Errorf("last run status = %s", sched.LastRunStatus)
	}
	if sched.LastRunError != "queue full" {
		t.Errorf("last run error = %q", sched.LastRunError)
	}
	want := finished.Add(30 * time.Minute)
	if !sched.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v (must advance on failure)", sched.NextRunAt, want)
	}
	if sched.RunCount != 1 {
		t.Errorf("run count = %d, want 1", sched.RunCount)
	}
}

func TestScheduleRecordRunClearsPreviousError(t *testing.T) {
	sched, _ := NewSchedule("test", "tpl-1", "conn-1", 30)
	sched.RecordRun(RunStatusFailed, errors.New("queue full"), time.Now())
	sched.RecordRun(RunStatusTriggered, nil, time.Now())

	if sched.LastRunError != "" {
		t.Errorf("last run error = %q, want cleared", sched.LastRunError)
	}
	if sched.RunCount != 2 {
		t.Errorf("run count = %d, want 2", sched.RunCount)
	}
}

func TestSchedulePauseResume(t *testing.T) {
	sched, _ := NewSchedule("test", "tpl-1", "conn-1", 60)

	sched.Pause()
	if sched.Active {
		t.Error("paused schedule should be inactive")
	}

	// Resume with next_run_at still in the future keeps it
	future := sched.NextRunAt
	sched.Resume(time.Now())
	if !sched.Active {
		t.Error("resumed schedule should be active")
	}
	if !sched.NextRunAt.Equal(future) {
		t.Errorf("future NextRunAt should be untouched, got %v", sched.NextRunAt)
	}

	// Resume after the run elapsed pushes it one interval out, not due now
	sched.Pause()
	now := time.Now()
	sched.NextRunAt = now.Add(-2 * time.Hour)
	sched.Resume(now)
	want := now.Add(time.Hour)
	if !sched.NextRunAt.Equal(want) {
		t.Errorf("NextRunAt = %v, want %v (no catch-up burst)", sched.NextRunAt, want)
	}
	if sched.IsDue(now) {
		t.Error("freshly resumed schedule must not be immediately due")
	}
}
