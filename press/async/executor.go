package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fathomhq/fathom/errors"
	"github.com/fathomhq/fathom/press/event"
)

// JobStore persists job records across state transitions. The executor works
// without one (nil store); persistence is a convenience, not a durability
// guarantee.
type JobStore interface {
	CreateJob(job *Job) error
	UpdateJob(job *Job) error
}

// ExecutorConfig contains configuration for the executor
type ExecutorConfig struct {
	MaxWorkers     int           `json:"max_workers"`     // Bound on concurrently executing jobs
	DefaultTimeout time.Duration `json:"default_timeout"` // Deadline applied to each job context (0 = none)
}

// DefaultExecutorConfig returns sensible defaults
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxWorkers:     4,
		DefaultTimeout: 5 * time.Minute,
	}
}

// execution is one tracked in-flight job.
type execution struct {
	job     *Job
	cancel  context.CancelFunc
	started bool // guarded by Executor.mu
}

// Executor runs registered job runners with bounded concurrency and tracks
// every in-flight execution. Cancellation is cooperative: each job gets a
// derived context, and Cancel asks the runner to stop by cancelling it.
type Executor struct {
	registry  *RunnerRegistry
	store     JobStore // optional, nil for in-memory operation
	publisher event.Publisher
	cfg       ExecutorConfig
	log       *zap.SugaredLogger

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc

	slots chan struct{} // semaphore bounding concurrent runs
	wg    sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*execution
	closing  bool
}

// NewExecutor creates an executor with an empty runner registry.
// Callers must register runners before submitting jobs of their type.
func NewExecutor(cfg ExecutorConfig, store JobStore, publisher event.Publisher, log *zap.SugaredLogger) *Executor {
	return NewExecutorWithContext(context.Background(), cfg, store, publisher, log)
}

// NewExecutorWithContext creates an executor whose executions derive from the
// given parent context. Cancelling the parent cancels every running job.
func NewExecutorWithContext(ctx context.Context, cfg ExecutorConfig, store JobStore, publisher event.Publisher, log *zap.SugaredLogger) *Executor {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultExecutorConfig().MaxWorkers
	}
	if publisher == nil {
		publisher = event.NopPublisher{}
	}

	execCtx, cancel := context.WithCancel(ctx)
	return &Executor{
		registry:  NewRunnerRegistry(),
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		log:       log.Named("executor"),
		parentCtx: ctx,
		ctx:       execCtx,
		cancel:    cancel,
		slots:     make(chan struct{}, cfg.MaxWorkers),
		inflight:  make(map[string]*execution),
	}
}

// Registry returns the runner registry for registering job runners.
func (e *Executor) Registry() *RunnerRegistry {
	return e.registry
}

// Submit accepts a job for asynchronous execution. It returns immediately;
// the job runs once a worker slot is free.
//
// Submission fails with ErrShuttingDown after Shutdown, ErrDuplicateJob when
// the job ID is already tracked, and ErrNoRunner when the job type has no
// registered runner. All three leave the job's status untouched.
func (e *Executor) Submit(job *Job) error {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return errors.Wrapf(errors.ErrShuttingDown, "job %s rejected", job.ID)
	}
	if _, exists := e.inflight[job.ID]; exists {
		e.mu.Unlock()
		return errors.Wrapf(errors.ErrDuplicateJob, "job %s already tracked", job.ID)
	}
	if !e.registry.Has(job.Type) {
		e.mu.Unlock()
		return errors.Wrapf(errors.ErrNoRunner, "job type %s", job.Type)
	}

	runCtx, cancel := context.WithCancel(e.ctx)
	exec := &execution{job: job, cancel: cancel}
	e.inflight[job.ID] = exec
	e.wg.Add(1)
	e.mu.Unlock()

	job.Queue()
	if e.store != nil {
		if err := e.store.CreateJob(job); err != nil {
			e.log.Warnw("Failed to persist submitted job", "job_id", job.ID, "error", err)
		}
	}
	e.emit(event.JobSubmitted, job, nil)

	go e.run(runCtx, exec)
	return nil
}

// run executes one job on its own goroutine, gated by the worker semaphore.
// The in-flight entry is removed in a defer so it goes away on every exit
// path.
func (e *Executor) run(ctx context.Context, exec *execution) {
	job := exec.job
	defer e.wg.Done()
	defer e.remove(job.ID)
	defer exec.cancel()

	// Wait for a worker slot. Cancellation while queued takes effect here,
	// before the job ever starts.
	select {
	case e.slots <- struct{}{}:
	case <-ctx.Done():
		job.Cancel("cancelled before start")
		e.persist(job)
		e.emit(event.JobCancelled, job, nil)
		return
	}
	defer func() { <-e.slots }()

	e.mu.Lock()
	exec.started = true
	e.mu.Unlock()

	runner := e.registry.Get(job.Type)
	if runner == nil {
		// Registry can't shrink, so this only trips if Submit raced a
		// concurrent registry mutation. Treat as failure.
		job.Fail("no runner registered for job type: " + string(job.Type))
		e.persist(job)
		e.emit(event.JobFailed, job, nil)
		return
	}

	if e.cfg.DefaultTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, e.cfg.DefaultTimeout)
		defer cancelTimeout()
	}

	job.Start()
	e.persist(job)
	e.emit(event.JobStarted, job, nil)

	result, err := runner.Run(ctx, job)

	switch {
	case err == nil:
		job.Succeed(result)
		e.persist(job)
		e.emit(event.JobCompleted, job, map[string]any{
			"duration_ms": job.Duration().Milliseconds(),
		})

	case errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled:
		job.Cancel(err.Error())
		e.persist(job)
		e.emit(event.JobCancelled, job, map[string]any{
			"duration_ms": job.Duration().Milliseconds(),
		})

	default:
		classified := Classify(err)
		job.Fail(err.Error())
		e.persist(job)
		e.emit(event.JobFailed, job, map[string]any{
			"duration_ms": job.Duration().Milliseconds(),
			"error":       job.Error,
			"category":    string(classified.Category),
			"retriable":   classified.Retriable,
		})
		e.log.Warnw("Job failed",
			"job_id", job.ID,
			"type", job.Type,
			"category", classified.Category,
			"retriable", classified.Retriable,
			"error", err)
	}
}

// Cancel requests cancellation of a tracked job.
//
// A job that has not started running is cancelled cooperatively and Cancel
// returns true. For a job already running, force must be set: the job's
// context is cancelled and the runner is expected to observe it at its next
// checkpoint. This is best-effort - a runner that ignores its context keeps
// running until it returns on its own.
func (e *Executor) Cancel(jobID string, force bool) bool {
	e.mu.Lock()
	exec, ok := e.inflight[jobID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	started := exec.started
	e.mu.Unlock()

	if started && !force {
		return false
	}

	exec.cancel()
	return true
}

// Status returns the status of a tracked job. The second return is false
// when the job is not in flight (finished jobs live in the store, if any).
func (e *Executor) Status(jobID string) (JobStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if exec, ok := e.inflight[jobID]; ok {
		return exec.job.Status, true
	}
	return "", false
}

// ActiveJobs returns the IDs of all in-flight jobs.
func (e *Executor) ActiveJobs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.inflight))
	for id := range e.inflight {
		ids = append(ids, id)
	}
	return ids
}

// InflightCount returns the number of tracked jobs.
func (e *Executor) InflightCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// Shutdown stops accepting new submissions and waits for all in-flight jobs
// to reach a terminal status, bounded by ctx. On ctx expiry the remaining
// executions are cancelled and an error is returned.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return nil
	}
	e.closing = true
	remaining := len(e.inflight)
	e.mu.Unlock()

	e.log.Infow("Executor shutting down", "inflight", remaining)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.log.Infow("Executor shutdown complete")
		return nil
	case <-ctx.Done():
		// Give up waiting - cancel whatever is still running
		e.cancel()
		<-done
		return errors.Wrap(errors.ErrTimeout, "executor shutdown")
	}
}

func (e *Executor) remove(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, jobID)
}

func (e *Executor) persist(job *Job) {
	if e.store == nil {
		return
	}
	if err := e.store.UpdateJob(job); err != nil {
		e.log.Warnw("Failed to persist job state",
			"job_id", job.ID,
			"status", job.Status,
			"error", err)
	}
}

func (e *Executor) emit(name string, job *Job, extra map[string]any) {
	payload := map[string]any{
		"job_id": job.ID,
		"type":   string(job.Type),
		"status": string(job.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	e.publisher.Publish(event.New(name, job.CorrelationID, payload))
}
