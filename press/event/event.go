// Package event carries lifecycle events from the orchestration core to
// external subscribers. The core only produces events; delivery and
// subscription are the sink's concern.
package event

import "time"

// Lifecycle event names emitted by the orchestration core.
const (
	JobSubmitted      = "job.submitted"
	JobStarted        = "job.started"
	JobCompleted      = "job.completed"
	JobFailed         = "job.failed"
	JobCancelled      = "job.cancelled"
	SchedulerStarted  = "scheduler.started"
	SchedulerStopped  = "scheduler.stopped"
	ScheduleTriggered = "schedule.triggered"
)

// Event is a structured lifecycle notification. CorrelationID ties every
// event from one logical execution together for tracing.
type Event struct {
	Name          string         `json:"name"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// New builds an event stamped with the current time.
func New(name, correlationID string, payload map[string]any) Event {
	return Event{
		Name:          name,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
		Payload:       payload,
	}
}

// Publisher is the sink for lifecycle events. Implementations must not
// block: publishers are called from executor and scheduler hot paths.
type Publisher interface {
	Publish(Event)
}

// NopPublisher discards all events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(Event) {}
