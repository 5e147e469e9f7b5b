package extraction

import (
	"context"
	"log/slog"

	"github.com/factweave/factweave/domain/jobs"
	"github.com/factweave/factweave/domain/projects"
	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/logger"
)

// ExtractHandler turns extract jobs into pipeline batch runs.
//
// Payload: {"project_id": ..., "source_ids": [...]}. The job result carries
// per-source outcomes and error counts.
func ExtractHandler(pipeline *Pipeline, projectStore *projects.Store, jobStore *jobs.Store, log *slog.Logger) jobs.Handler {
	log = log.With(logger.Scope("extract-worker"))

	return func(ctx context.Context, job *jobs.Job) (map[string]any, error) {
		projectID, _ := job.Payload["project_id"].(string)
		if projectID == "" {
			projectID = job.ProjectID
		}
		project, err := projectStore.Get(ctx, projectID)
		if err != nil {
			return nil, err
		}

		sourceIDs := stringList(job.Payload["source_ids"])
		if len(sourceIDs) == 0 {
			return nil, apperror.ErrValidation.WithMessage("extract job has no source_ids")
		}

		cancelled := func(ctx context.Context) (bool, error) {
			return jobStore.IsCancellationRequested(ctx, job.ID)
		}

		batch, err := pipeline.ProcessBatch(ctx, project, sourceIDs, cancelled)
		if err != nil {
			if apperror.CodeOf(err) == apperror.CodeCancelled {
				return nil, jobs.ErrCancelled
			}
			return nil, err
		}

		extracted := 0
		orphans := 0
		entityCount := 0
		for _, o := range batch.Outcomes {
			extracted += o.Extractions
			orphans += o.Orphans
			entityCount += o.Entities
		}

		log.Info("extract job finished",
			slog.String("job_id", job.ID),
			slog.Int("sources", len(sourceIDs)),
			slog.Int("extractions", extracted),
			slog.Int("orphans", orphans),
			slog.Int("failed_sources", len(batch.Errors)),
		)

		result := map[string]any{
			"sources":        len(sourceIDs),
			"extractions":    extracted,
			"entities":       entityCount,
			"orphans":        orphans,
			"failed_sources": len(batch.Errors),
		}
		if len(batch.Errors) > 0 {
			result["errors"] = batch.Errors
		}
		return result, nil
	}
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
