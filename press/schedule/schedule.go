// Package schedule provides recurring report scheduling.
package schedule

import (
	"time"

	"github.com/google/uuid"

	"github.com/fathomhq/fathom/errors"
)

// Outcomes recorded by RecordRun.
const (
	RunStatusTriggered = "triggered"
	RunStatusFailed    = "failed"
)

// Schedule is a recurring report definition. Every IntervalMinutes it
// produces one job against the target template and connection.
type Schedule struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	TemplateID      string     `json:"template_id"`
	ConnectionID    string     `json:"connection_id"`
	IntervalMinutes int        `json:"interval_minutes"`
	Active          bool       `json:"active"`
	NextRunAt       time.Time  `json:"next_run_at"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastRunStatus   string     `json:"last_run_status,omitempty"`
	LastRunError    string     `json:"last_run_error,omitempty"`
	RunCount        int        `json:"run_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// NewSchedule creates an active schedule whose first run is one interval out.
func NewSchedule(name, templateID, connectionID string, intervalMinutes int) (*Schedule, error) {
	if name == "" {
		return nil, errors.New("schedule name cannot be empty")
	}
	if intervalMinutes < 1 {
		return nil, errors.Newf("interval must be at least 1 minute, got %d", intervalMinutes)
	}

	now := time.Now()
	return &Schedule{
		ID:              uuid.NewString(),
		Name:            name,
		TemplateID:      templateID,
		ConnectionID:    connectionID,
		IntervalMinutes: intervalMinutes,
		Active:          true,
		NextRunAt:       now.Add(time.Duration(intervalMinutes) * time.Minute),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Interval returns the schedule's run interval as a duration.
func (s *Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// IsDue reports whether the schedule should fire at the given time.
// Pure predicate - no side effects.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextRunAt.After(now)
}

// RecordRun records the outcome of one trigger and advances NextRunAt to
// finishedAt + interval. The advance happens regardless of success so a
// persistently failing schedule still makes forward progress instead of
// firing on every tick.
func (s *Schedule) RecordRun(status string, runErr error, finishedAt time.Time) {
	s.LastRunAt = &finishedAt
	s.LastRunStatus = status
	if runErr != nil {
		s.LastRunError = runErr.Error()
	} else {
		s.LastRunError = ""
	}
	s.NextRunAt = finishedAt.Add(s.Interval())
	s.RunCount++
	s.UpdatedAt = time.Now()
}

// Pause deactivates the schedule. Its NextRunAt is left untouched.
func (s *Schedule) Pause() {
	s.Active = false
	s.UpdatedAt = time.Now()
}

// Resume reactivates the schedule. If NextRunAt elapsed while paused, the
// next run moves to now + interval instead of firing immediately - resuming
// after a long pause must not produce a burst of catch-up runs.
func (s *Schedule) Resume(now time.Time) {
	s.Active = true
	if s.NextRunAt.Before(now) {
		s.NextRunAt = now.Add(s.Interval())
	}
	s.UpdatedAt = time.Now()
}
