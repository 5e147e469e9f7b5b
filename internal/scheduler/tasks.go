package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/factweave/factweave/domain/extraction"
	"github.com/factweave/factweave/domain/jobs"
	"github.com/factweave/factweave/pkg/alerts"
	"github.com/factweave/factweave/pkg/logger"
)

// CancellationSweepTask finalizes cancel requests against jobs that no
// worker claimed before the request arrived. Claimed jobs acknowledge
// cancellation themselves.
type CancellationSweepTask struct {
	jobs *jobs.Store
	log  *slog.Logger
}

func NewCancellationSweepTask(store *jobs.Store, log *slog.Logger) *CancellationSweepTask {
	return &CancellationSweepTask{
		jobs: store,
		log:  log.With(logger.Scope("scheduler.cancellation_sweep")),
	}
}

func (t *CancellationSweepTask) Run(ctx context.Context) error {
	acked, err := t.jobs.AckUnstartedCancellations(ctx)
	if err != nil {
		return err
	}
	if acked > 0 {
		t.log.Info("finalized unclaimed cancellations", slog.Int("count", acked))
	}
	return nil
}

// OrphanSweepTask re-embeds extractions whose vector write failed after the
// row insert.
type OrphanSweepTask struct {
	store    *extraction.Store
	pipeline *extraction.Pipeline
	alerts   *alerts.Service
	log      *slog.Logger
}

func NewOrphanSweepTask(store *extraction.Store, pipeline *extraction.Pipeline, alertSvc *alerts.Service, log *slog.Logger) *OrphanSweepTask {
	return &OrphanSweepTask{
		store:    store,
		pipeline: pipeline,
		alerts:   alertSvc,
		log:      log.With(logger.Scope("scheduler.orphan_sweep")),
	}
}

func (t *OrphanSweepTask) Run(ctx context.Context) error {
	count, err := t.store.CountOrphans(ctx, "")
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}

	t.log.Info("recovering orphaned extractions", slog.Int("orphans", count))
	t.alerts.OrphanedExtractions(ctx, "", count)
	recovered, failed, err := t.pipeline.RecoverOrphans(ctx, "", 0)
	if err != nil {
		return err
	}
	t.log.Info("orphan sweep finished",
		slog.Int("recovered", recovered),
		slog.Int("failed", failed),
	)
	return nil
}

// JobGCTask deletes terminal jobs older than the retention window.
type JobGCTask struct {
	jobs      *jobs.Store
	retention time.Duration
	log       *slog.Logger
}

func NewJobGCTask(store *jobs.Store, retentionDays int, log *slog.Logger) *JobGCTask {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &JobGCTask{
		jobs:      store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		log:       log.With(logger.Scope("scheduler.job_gc")),
	}
}

func (t *JobGCTask) Run(ctx context.Context) error {
	deleted, err := t.jobs.DeleteTerminalOlderThan(ctx, t.retention)
	if err != nil {
		return err
	}
	if deleted > 0 {
		t.log.Info("deleted expired terminal jobs", slog.Int("count", deleted))
	}
	return nil
}
