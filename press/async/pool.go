package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fathomhq/fathom/errors"
)

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	NumWorkers        int           `json:"num_workers"`        // Concurrent consumer loops
	QueueSize         int           `json:"queue_size"`         // Bounded queue depth (backpressure beyond this)
	ShutdownTimeout   time.Duration `json:"shutdown_timeout"`   // How long Stop waits for workers to exit
	DispatchPerSecond float64       `json:"dispatch_per_second"` // Rate gate on executor handoff (0 = unlimited)
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		NumWorkers:      4,
		QueueSize:       100,
		ShutdownTimeout: 30 * time.Second,
	}
}

// WorkerPool decouples job submission from execution capacity. Producers
// enqueue into a bounded channel; N consumer loops drain it into the
// executor. A full queue blocks Submit, which is the backpressure signal.
//
// The pool satisfies the scheduler's JobSubmitter interface.
type WorkerPool struct {
	executor *Executor
	cfg      WorkerPoolConfig
	log      *zap.SugaredLogger
	limiter  *rate.Limiter // nil when dispatch rate is unlimited

	parentCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc

	queue chan *Job
	wg    sync.WaitGroup

	mu      sync.Mutex
	running bool
	closing bool
}

// NewWorkerPool creates a worker pool in front of the executor.
func NewWorkerPool(executor *Executor, cfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	return NewWorkerPoolWithContext(context.Background(), executor, cfg, log)
}

// NewWorkerPoolWithContext creates a worker pool with a parent context.
// Cancelling the parent stops the worker loops.
func NewWorkerPoolWithContext(ctx context.Context, executor *Executor, cfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	defaults := DefaultWorkerPoolConfig()
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = defaults.NumWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	var limiter *rate.Limiter
	if cfg.DispatchPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.DispatchPerSecond), 1)
	}

	poolCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		executor:  executor,
		cfg:       cfg,
		log:       log.Named("pool"),
		limiter:   limiter,
		parentCtx: ctx,
		ctx:       poolCtx,
		cancel:    cancel,
		queue:     make(chan *Job, cfg.QueueSize),
	}
}

// Start spawns the worker loops. Calling Start on a running pool is a no-op.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}

	// Restarting after Stop gets a fresh context and queue
	if wp.closing {
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.queue = make(chan *Job, wp.cfg.QueueSize)
		wp.closing = false
	}

	if warning := checkMemoryPressure(wp.cfg.NumWorkers); warning != "" {
		wp.log.Warnw("Memory pressure warning", "warning", warning, "workers", wp.cfg.NumWorkers)
	}

	// Workers receive the context and queue of this generation so a later
	// restart, which replaces both fields, never races a leftover worker
	// from a timed-out Stop.
	for i := 0; i < wp.cfg.NumWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i, wp.ctx, wp.queue)
	}
	wp.running = true
	wp.log.Infow("Worker pool started",
		"workers", wp.cfg.NumWorkers,
		"queue_size", wp.cfg.QueueSize)
}

// Stop signals shutdown, cancels the worker loops, and waits for them to
// exit, bounded by ShutdownTimeout. Jobs still in the queue are dropped;
// jobs already handed to the executor keep running under its lifecycle.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	wp.closing = true
	wp.mu.Unlock()

	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.log.Infow("Worker pool stopped")
	case <-time.After(wp.cfg.ShutdownTimeout):
		wp.log.Warnw("Worker pool stop timed out", "timeout", wp.cfg.ShutdownTimeout)
	}
}

// Submit enqueues a job. Blocks when the queue is full (backpressure) and
// fails with ErrShuttingDown once the pool is stopping.
func (wp *WorkerPool) Submit(job *Job) error {
	wp.mu.Lock()
	if wp.closing || !wp.running {
		wp.mu.Unlock()
		return errors.Wrapf(errors.ErrShuttingDown, "job %s rejected by worker pool", job.ID)
	}
	queue := wp.queue
	ctx := wp.ctx
	wp.mu.Unlock()

	select {
	case queue <- job:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(errors.ErrShuttingDown, "job %s rejected by worker pool", job.ID)
	}
}

// worker drains the queue into the executor. Submission errors are logged
// and swallowed - one bad job must not kill the loop.
func (wp *WorkerPool) worker(id int, ctx context.Context, queue chan *Job) {
	defer wp.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-queue:
			if job == nil {
				continue
			}
			if wp.limiter != nil {
				if err := wp.limiter.Wait(ctx); err != nil {
					return // context cancelled while rate-gated
				}
			}
			if err := wp.executor.Submit(job); err != nil {
				wp.log.Errorw("Worker failed to submit job",
					"worker_id", id,
					"job_id", job.ID,
					"type", job.Type,
					"error", err)
			}
		}
	}
}

// Len returns the number of jobs waiting in the queue.
func (wp *WorkerPool) Len() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return len(wp.queue)
}

// Running reports whether the worker loops are active.
func (wp *WorkerPool) Running() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.running
}

// Workers returns the configured worker count.
func (wp *WorkerPool) Workers() int {
	return wp.cfg.NumWorkers
}
