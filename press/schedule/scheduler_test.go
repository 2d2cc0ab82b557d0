package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomhq/fathom/errors"
	"github.com/fathomhq/fathom/logger"
	"github.com/fathomhq/fathom/press/async"
	"github.com/fathomhq/fathom/press/event"
)

// memoryRepo is an in-memory Repository for scheduler tests.
type memoryRepo struct {
	mu        sync.Mutex
	schedules map[string]*Schedule
	saves     int
}

func newMemoryRepo(schedules ...*Schedule) *memoryRepo {
	r := &memoryRepo{schedules: make(map[string]*Schedule)}
	for _, s := range schedules {
		r.schedules[s.ID] = s
	}
	return r
}

func (r *memoryRepo) FindDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*Schedule
	for _, s := range r.schedules {
		if s.IsDue(now) {
			due = append(due, s)
		}
	}
	return due, nil
}

func (r *memoryRepo) Save(ctx context.Context, sched *Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[sched.ID] = sched
	r.saves++
	return nil
}

func (r *memoryRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

// captureSubmitter records submitted jobs; fail makes every submit error.
type captureSubmitter struct {
	mu    sync.Mutex
	jobs  []*async.Job
	fail  error
	block chan struct{} // non-nil: Submit blocks until closed
}

func (c *captureSubmitter) Submit(job *async.Job) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.jobs = append(c.jobs, job)
	return nil
}

func (c *captureSubmitter) submitted() []*async.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*async.Job, len(c.jobs))
	copy(out, c.jobs)
	return out
}

func dueSchedule(t *testing.T, name string) *Schedule {
	t.Helper()
	sched, err := NewSchedule(name, "tpl-1", "conn-1", 60)
	require.NoError(t, err)
	sched.NextRunAt = time.Now().Add(-time.Minute)
	return sched
}

func TestSchedulerConfigFloorsPollInterval(t *testing.T) {
	s := NewScheduler(newMemoryRepo(), &captureSubmitter{}, nil,
		SchedulerConfig{PollInterval: time.Second}, logger.Logger)
	assert.Equal(t, MinPollInterval, s.cfg.PollInterval)

	s = NewScheduler(newMemoryRepo(), &captureSubmitter{}, nil,
		SchedulerConfig{}, logger.Logger)
	assert.Equal(t, 15*time.Second, s.cfg.PollInterval)
	assert.Equal(t, 30*time.Second, s.cfg.DispatchTimeout)
}

func TestSchedulerDispatchesDueSchedule(t *testing.T) {
	sched := dueSchedule(t, "hourly-sales")
	repo := newMemoryRepo(sched)
	submitter := &captureSubmitter{}
	capture := &event.CapturePublisher{}

	s := NewScheduler(repo, submitter, capture, SchedulerConfig{}, logger.Logger)
	require.NoError(t, s.tick(time.Now()))
	s.wg.Wait()

	jobs := submitter.submitted()
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, async.JobTypeReportGeneration, job.Type)
	assert.Equal(t, sched.ID, job.Meta["schedule_id"])
	assert.Equal(t, "tpl-1", job.Meta["template_id"])
	assert.Equal(t, "conn-1", job.Meta["connection_id"])
	assert.Contains(t, job.CorrelationID, sched.ID)
	require.Len(t, job.Steps, 3)

	assert.Equal(t, 1, sched.RunCount)
	assert.Equal(t, RunStatusTriggered, sched.LastRunStatus)
	assert.True(t, sched.NextRunAt.After(time.Now()), "NextRunAt must advance")
	assert.Equal(t, 1, repo.saveCount())
	assert.Len(t, capture.Named(event.ScheduleTriggered), 1)
}

func TestSchedulerRecordsFailedDispatch(t *testing.T) {
	sched := dueSchedule(t, "hourly-sales")
	repo := newMemoryRepo(sched)
	submitter := &captureSubmitter{fail: errors.New("queue full")}

	s := NewScheduler(repo, submitter, nil, SchedulerConfig{}, logger.Logger)
	require.NoError(t, s.tick(time.Now()))
	s.wg.Wait()

	assert.Equal(t, RunStatusFailed, sched.LastRunStatus)
	assert.Contains(t, sched.LastRunError, "queue full")
	assert.Equal(t, 1, sched.RunCount)
	// Failure path persists too
	assert.Equal(t, 1, repo.saveCount())
	assert.True(t, sched.NextRunAt.After(time.Now()), "NextRunAt must advance on failure")
}

func TestSchedulerSkipsInflightSchedule(t *testing.T) {
	sched := dueSchedule(t, "slow-report")
	repo := newMemoryRepo(sched)
	block := make(chan struct{})
	submitter := &captureSubmitter{block: block}

	s := NewScheduler(repo, submitter, nil, SchedulerConfig{}, logger.Logger)

	now := time.Now()
	require.NoError(t, s.tick(now))
	require.Eventually(t, func() bool {
		return s.InflightCount() == 1
	}, time.Second, 5*time.Millisecond)

	// Second tick while the first dispatch is stuck: nothing new dispatched
	require.NoError(t, s.tick(now))
	assert.Equal(t, 1, s.InflightCount())

	close(block)
	s.wg.Wait()

	assert.Len(t, submitter.submitted(), 1)
	assert.Equal(t, 0, s.InflightCount())
	assert.Equal(t, 1, sched.RunCount)
}

// A submitter that never returns must not pin the schedule: the dispatch
// times out, records a failure, and releases the in-flight entry.
func TestSchedulerDispatchTimeout(t *testing.T) {
	sched := dueSchedule(t, "stuck-report")
	repo := newMemoryRepo(sched)
	submitter := &captureSubmitter{block: make(chan struct{})} // never closed

	s := NewScheduler(repo, submitter, nil,
		SchedulerConfig{DispatchTimeout: 50 * time.Millisecond}, logger.Logger)

	require.NoError(t, s.tick(time.Now()))
	require.Eventually(t, func() bool {
		return s.InflightCount() == 0
	}, 2*time.Second, 5*time.Millisecond, "dispatch timeout must release the in-flight entry")

	assert.Equal(t, RunStatusFailed, sched.LastRunStatus)
	assert.Contains(t, sched.LastRunError, "dispatch")
}

// unfilteredRepo returns its schedules from FindDue without checking the
// active flag, like a repository whose due query lags a recent pause.
type unfilteredRepo struct {
	memoryRepo
}

func newUnfilteredRepo(schedules ...*Schedule) *unfilteredRepo {
	r := &unfilteredRepo{memoryRepo{schedules: make(map[string]*Schedule)}}
	for _, s := range schedules {
		r.schedules[s.ID] = s
	}
	return r
}

func (r *unfilteredRepo) FindDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*Schedule
	for _, s := range r.schedules {
		if !s.NextRunAt.After(now) {
			due = append(due, s)
		}
	}
	return due, nil
}

// A paused schedule must not fire even when the repository hands it back as
// due; the dispatch loop checks the active flag itself.
func TestSchedulerSkipsInactiveSchedule(t *testing.T) {
	sched := dueSchedule(t, "paused-report")
	sched.Pause()
	repo := newUnfilteredRepo(sched)
	submitter := &captureSubmitter{}

	s := NewScheduler(repo, submitter, nil, SchedulerConfig{}, logger.Logger)
	require.NoError(t, s.tick(time.Now()))
	s.wg.Wait()

	assert.Empty(t, submitter.submitted())
	assert.Equal(t, 0, sched.RunCount)
	assert.Equal(t, 0, repo.saveCount())
	assert.Equal(t, 0, s.InflightCount())
}

func TestSchedulerIgnoresNotDue(t *testing.T) {
	sched, err := NewSchedule("future-report", "tpl-1", "conn-1", 60)
	require.NoError(t, err)
	repo := newMemoryRepo(sched)
	submitter := &captureSubmitter{}

	s := NewScheduler(repo, submitter, nil, SchedulerConfig{}, logger.Logger)
	require.NoError(t, s.tick(time.Now()))
	s.wg.Wait()

	assert.Empty(t, submitter.submitted())
	assert.Equal(t, 0, sched.RunCount)
}

func TestSchedulerStartStop(t *testing.T) {
	repo := newMemoryRepo()
	capture := &event.CapturePublisher{}
	s := NewScheduler(repo, &captureSubmitter{}, capture, SchedulerConfig{}, logger.Logger)

	s.Start()
	s.Start() // idempotent
	assert.True(t, s.Running())
	assert.Len(t, capture.Named(event.SchedulerStarted), 1)

	s.Stop()
	assert.False(t, s.Running())
	assert.Len(t, capture.Named(event.SchedulerStopped), 1)

	// Stop on a stopped scheduler is a no-op
	s.Stop()
	assert.Len(t, capture.Named(event.SchedulerStopped), 1)
}
