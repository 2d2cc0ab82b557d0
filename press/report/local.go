package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fathomhq/fathom/errors"
	"github.com/fathomhq/fathom/press/async"
)

// LocalGenerator renders report artifacts as JSON documents on the local
// filesystem. It is the built-in backend for the daemon's runner set;
// deployments with a real rendering engine register their own runners
// instead.
type LocalGenerator struct {
	OutputDir string
	log       *zap.SugaredLogger
}

// NewLocalGenerator creates a generator writing artifacts under outputDir.
func NewLocalGenerator(outputDir string, log *zap.SugaredLogger) *LocalGenerator {
	return &LocalGenerator{
		OutputDir: outputDir,
		log:       log.Named("report"),
	}
}

// Runners returns one runner per supported job type, ready for registration.
func (g *LocalGenerator) Runners() []async.JobRunner {
	return []async.JobRunner{
		NewRunner(async.JobTypeReportGeneration, map[string]StepFunc{
			"fetch_data": g.fetchData,
			"render":     g.render,
			"store":      g.store,
		}, g.log),
		NewRunner(async.JobTypeReportExport, map[string]StepFunc{
			"fetch_data": g.fetchData,
			"render":     g.render,
			"store":      g.store,
		}, g.log),
		async.NewRunnerFunc(async.JobTypeConnectionRefresh, g.refreshConnection),
	}
}

// refreshConnection is a single-shot runner; refresh jobs carry no step
// pipeline.
func (g *LocalGenerator) refreshConnection(ctx context.Context, job *async.Job) (string, error) {
	id := job.Meta["connection_id"]
	if id == "" {
		return "", errors.Wrap(errors.ErrInvalidRequest, "job missing connection_id")
	}
	return "connection " + id + " refreshed", nil
}

// fetchData validates that the job carries enough metadata to identify its
// source. The actual data pull belongs to the deployment's runner set.
func (g *LocalGenerator) fetchData(ctx context.Context, job *async.Job) (string, error) {
	if job.Meta["template_id"] == "" {
		return "", errors.Wrap(errors.ErrInvalidRequest, "job missing template_id")
	}
	if job.Meta["connection_id"] == "" {
		return "", errors.Wrap(errors.ErrInvalidRequest, "job missing connection_id")
	}
	job.Meta["fetched_at"] = time.Now().UTC().Format(time.RFC3339)
	return "", nil
}

// render builds the report document and stages it next to the final output.
func (g *LocalGenerator) render(ctx context.Context, job *async.Job) (string, error) {
	doc := map[string]any{
		"job_id":         job.ID,
		"type":           string(job.Type),
		"correlation_id": job.CorrelationID,
		"template_id":    job.Meta["template_id"],
		"connection_id":  job.Meta["connection_id"],
		"rendered_at":    time.Now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to render report document")
	}

	if err := os.MkdirAll(g.OutputDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create output dir %s", g.OutputDir)
	}

	staged := filepath.Join(g.OutputDir, job.ID+".json.tmp")
	if err := os.WriteFile(staged, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to stage report %s", staged)
	}
	job.Meta["artifact"] = staged
	return "", nil
}

// store moves the staged artifact to its final path and returns it as the
// job result.
func (g *LocalGenerator) store(ctx context.Context, job *async.Job) (string, error) {
	staged := job.Meta["artifact"]
	if staged == "" {
		return "", errors.New("no staged artifact to store")
	}

	final := filepath.Join(g.OutputDir, job.ID+".json")
	if err := os.Rename(staged, final); err != nil {
		return "", errors.Wrapf(err, "failed to store report %s", final)
	}
	delete(job.Meta, "artifact")
	return final, nil
}
