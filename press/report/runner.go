// Package report provides the job runners behind the report job types.
// Runners walk a job's step pipeline in order, honoring context
// cancellation between steps.
package report

import (
	"context"

	"go.uber.org/zap"

	"github.com/fathomhq/fathom/errors"
	"github.com/fathomhq/fathom/press/async"
)

// StepFunc performs one pipeline step. A non-empty return value becomes the
// job result when it is the last value produced.
type StepFunc func(ctx context.Context, job *async.Job) (string, error)

// Runner executes a job as an ordered walk of its steps. Steps without a
// registered StepFunc are skipped; a failing step fails the whole job.
type Runner struct {
	jobType async.JobType
	steps   map[string]StepFunc
	log     *zap.SugaredLogger
}

// NewRunner creates a runner for the given job type from named step functions.
func NewRunner(jobType async.JobType, steps map[string]StepFunc, log *zap.SugaredLogger) *Runner {
	return &Runner{
		jobType: jobType,
		steps:   steps,
		log:     log.Named("runner." + string(jobType)),
	}
}

// Type returns the job type this runner handles.
func (r *Runner) Type() async.JobType {
	return r.jobType
}

// Run walks the job's steps in order. Cancellation is checked before each
// step so a cancelled job stops at the next step boundary.
func (r *Runner) Run(ctx context.Context, job *async.Job) (string, error) {
	var result string

	for _, step := range job.Steps {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		fn, ok := r.steps[step.Name]
		if !ok {
			job.SkipStep(step.Name)
			r.log.Debugw("Skipping step with no handler",
				"job_id", job.ID,
				"step", step.Name)
			continue
		}

		job.StartStep(step.Name)
		out, err := fn(ctx, job)
		if err != nil {
			job.FailStep(step.Name, err)
			return "", errors.Wrapf(err, "step %s", step.Name)
		}
		job.CompleteStep(step.Name)
		if out != "" {
			result = out
		}
	}

	return result, nil
}
