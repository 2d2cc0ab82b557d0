package async

import (
	"context"
	"fmt"
	"sync"
)

// JobRunner executes jobs of a single type. Domain packages implement this
// so the async infrastructure stays decoupled from report logic.
//
// Runners MUST check ctx.Done() at safe checkpoints and return ctx.Err()
// when cancelled. The executor never kills a running goroutine; context
// cancellation is the only preemption mechanism.
type JobRunner interface {
	// Run executes the job and returns the result on success. The runner may
	// mutate the job's steps to report progress. Returning an error signals
	// failure; returning ctx.Err() signals cancellation.
	Run(ctx context.Context, job *Job) (string, error)

	// Type returns the job type this runner handles.
	Type() JobType
}

// RunnerFunc adapts a plain function to the JobRunner interface.
type RunnerFunc struct {
	jobType JobType
	fn      func(ctx context.Context, job *Job) (string, error)
}

// NewRunnerFunc wraps fn as a JobRunner for the given type.
func NewRunnerFunc(jobType JobType, fn func(ctx context.Context, job *Job) (string, error)) RunnerFunc {
	return RunnerFunc{jobType: jobType, fn: fn}
}

// Run implements JobRunner.
func (r RunnerFunc) Run(ctx context.Context, job *Job) (string, error) {
	return r.fn(ctx, job)
}

// Type implements JobRunner.
func (r RunnerFunc) Type() JobType {
	return r.jobType
}

// RunnerRegistry maps job types to runners.
// Thread-safe for concurrent registration and lookup.
type RunnerRegistry struct {
	runners map[JobType]JobRunner
	mu      sync.RWMutex
}

// NewRunnerRegistry creates an empty runner registry.
func NewRunnerRegistry() *RunnerRegistry {
	return &RunnerRegistry{
		runners: make(map[JobType]JobRunner),
	}
}

// Register adds a runner for its job type.
// Panics if a runner is already registered for that type - double
// registration is a wiring bug, not a runtime condition.
func (r *RunnerRegistry) Register(runner JobRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobType := runner.Type()
	if _, exists := r.runners[jobType]; exists {
		panic(fmt.Sprintf("runner already registered for job type: %s", jobType))
	}
	r.runners[jobType] = runner
}

// Get retrieves the runner for a job type. Returns nil if none registered.
func (r *RunnerRegistry) Get(jobType JobType) JobRunner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runners[jobType]
}

// Has checks if a runner is registered for a job type.
func (r *RunnerRegistry) Has(jobType JobType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.runners[jobType]
	return exists
}

// Types returns all registered job types.
func (r *RunnerRegistry) Types() []JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]JobType, 0, len(r.runners))
	for t := range r.runners {
		types = append(types, t)
	}
	return types
}
