package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathomhq/fathom/errors"
	"github.com/fathomhq/fathom/press/async"
	"github.com/fathomhq/fathom/press/event"
)

// Repository is the persistence surface the scheduler needs. Implementations
// must return due schedules ordered by NextRunAt so the longest-overdue fire
// first.
type Repository interface {
	FindDue(ctx context.Context, now time.Time) ([]*Schedule, error)
	Save(ctx context.Context, sched *Schedule) error
}

// JobSubmitter accepts jobs for execution. The worker pool satisfies this.
type JobSubmitter interface {
	Submit(job *async.Job) error
}

// MinPollInterval is the floor on how often the scheduler polls for due
// schedules. Anything lower hammers the repository for no gain.
const MinPollInterval = 5 * time.Second

// SchedulerConfig contains configuration for the scheduler
type SchedulerConfig struct {
	PollInterval    time.Duration `json:"poll_interval"`    // How often to check for due schedules
	DispatchTimeout time.Duration `json:"dispatch_timeout"` // Bound on one trigger (submit + save)
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:    15 * time.Second,
		DispatchTimeout: 30 * time.Second,
	}
}

// Scheduler polls the repository for due schedules and dispatches one job per
// due schedule into the submitter. An in-flight set guarantees a schedule is
// never dispatched twice concurrently, even when a dispatch outlives a tick.
type Scheduler struct {
	repo      Repository
	submitter JobSubmitter
	publisher event.Publisher
	cfg       SchedulerConfig
	log       *zap.SugaredLogger

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu       sync.Mutex
	running  bool
	inflight map[string]struct{}
}

// NewScheduler creates a scheduler over the given repository and submitter.
func NewScheduler(repo Repository, submitter JobSubmitter, publisher event.Publisher, cfg SchedulerConfig, log *zap.SugaredLogger) *Scheduler {
	return NewSchedulerWithContext(context.Background(), repo, submitter, publisher, cfg, log)
}

// NewSchedulerWithContext creates a scheduler with a parent context.
// Cancelling the parent stops the poll loop.
func NewSchedulerWithContext(ctx context.Context, repo Repository, submitter JobSubmitter, publisher event.Publisher, cfg SchedulerConfig, log *zap.SugaredLogger) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.PollInterval < MinPollInterval {
		cfg.PollInterval = MinPollInterval
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = defaults.DispatchTimeout
	}
	if publisher == nil {
		publisher = event.NopPublisher{}
	}

	schedCtx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		repo:      repo,
		submitter: submitter,
		publisher: publisher,
		cfg:       cfg,
		log:       log.Named("scheduler"),
		parentCtx: ctx,
		ctx:       schedCtx,
		cancel:    cancel,
		inflight:  make(map[string]struct{}),
	}
}

// Start begins the poll loop. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	if s.ctx.Err() != nil {
		// Restart after Stop gets a fresh context
		s.ctx, s.cancel = context.WithCancel(s.parentCtx)
	}
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()

	s.publisher.Publish(event.New(event.SchedulerStarted, "", map[string]any{
		"poll_interval": s.cfg.PollInterval.String(),
	}))
	s.log.Infow("Scheduler started", "poll_interval", s.cfg.PollInterval)
}

// Stop halts polling and waits for the loop and any in-progress dispatches to
// finish. Dispatches are bounded by DispatchTimeout, so Stop is too.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.publisher.Publish(event.New(event.SchedulerStopped, "", nil))
	s.log.Infow("Scheduler stopped")
}

// Running reports whether the poll loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// InflightCount returns the number of schedules currently being dispatched.
func (s *Scheduler) InflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.tick(now); err != nil {
				// A failed poll never kills the loop; the next tick retries
				s.log.Warnw("Schedule poll failed", "error", err)
			}
		}
	}
}

// tick finds all due schedules and dispatches each on its own goroutine,
// guarded by the in-flight set. A schedule whose previous dispatch has not
// finished is skipped this round and picked up on a later tick.
func (s *Scheduler) tick(now time.Time) error {
	due, err := s.repo.FindDue(s.ctx, now)
	if err != nil {
		return errors.Wrap(err, "failed to find due schedules")
	}

	for _, sched := range due {
		select {
		case <-s.ctx.Done():
			return nil
		default:
		}

		// Repositories are not required to filter on active; the dispatch
		// loop enforces it either way.
		if !sched.Active {
			continue
		}

		if !s.claim(sched.ID) {
			s.log.Debugw("Schedule dispatch still in flight, skipping",
				"schedule_id", sched.ID,
				"name", sched.Name)
			continue
		}

		s.wg.Add(1)
		go func(sched *Schedule, now time.Time) {
			defer s.wg.Done()
			defer s.release(sched.ID)
			s.dispatch(sched, now)
		}(sched, now)
	}

	return nil
}

// dispatch submits one job for the schedule and records the outcome. Both the
// success and the failure path persist the schedule, so NextRunAt always
// advances and a broken schedule cannot fire on every tick.
func (s *Scheduler) dispatch(sched *Schedule, now time.Time) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DispatchTimeout)
	defer cancel()

	job, err := s.buildJob(sched, now)
	if err != nil {
		sched.RecordRun(RunStatusFailed, err, time.Now())
		s.log.Errorw("Failed to build scheduled job",
			"schedule_id", sched.ID,
			"name", sched.Name,
			"error", err)
		if saveErr := s.repo.Save(ctx, sched); saveErr != nil {
			s.log.Errorw("Failed to persist schedule run",
				"schedule_id", sched.ID,
				"error", saveErr)
		}
		return
	}

	submitErr := s.submit(ctx, job)

	finished := time.Now()
	if submitErr != nil {
		sched.RecordRun(RunStatusFailed, submitErr, finished)
		s.log.Errorw("Failed to dispatch scheduled job",
			"schedule_id", sched.ID,
			"name", sched.Name,
			"error", submitErr)
	} else {
		sched.RecordRun(RunStatusTriggered, nil, finished)
		s.publisher.Publish(event.New(event.ScheduleTriggered, job.CorrelationID, map[string]any{
			"schedule_id": sched.ID,
			"name":        sched.Name,
			"job_id":      job.ID,
			"run_count":   sched.RunCount,
		}))
		s.log.Infow("Schedule triggered",
			"schedule_id", sched.ID,
			"name", sched.Name,
			"job_id", job.ID,
			"next_run_at", sched.NextRunAt)
	}

	if err := s.repo.Save(ctx, sched); err != nil {
		s.log.Errorw("Failed to persist schedule run",
			"schedule_id", sched.ID,
			"error", err)
	}
}

// submit hands the job to the submitter, bounded by ctx. The submitter's
// Submit can block on backpressure; a dispatch that outlives its timeout
// records a failure and releases the in-flight guard rather than pinning the
// schedule forever.
func (s *Scheduler) submit(ctx context.Context, job *async.Job) error {
	done := make(chan error, 1)
	go func() {
		done <- s.submitter.Submit(job)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Wrapf(errors.ErrTimeout, "dispatch of job %s", job.ID)
	}
}

func (s *Scheduler) buildJob(sched *Schedule, now time.Time) (*async.Job, error) {
	return async.NewJob(
		async.JobTypeReportGeneration,
		async.ReportSteps(),
		async.WithCorrelationID(fmt.Sprintf("%s:%d", sched.ID, now.Unix())),
		async.WithMeta("schedule_id", sched.ID),
		async.WithMeta("schedule_name", sched.Name),
		async.WithMeta("template_id", sched.TemplateID),
		async.WithMeta("connection_id", sched.ConnectionID),
	)
}

// claim marks a schedule as being dispatched. Returns false when a previous
// dispatch is still in flight.
func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}
