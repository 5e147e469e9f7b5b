package scheduler

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/factweave/factweave/domain/extraction"
	"github.com/factweave/factweave/domain/jobs"
	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/alerts"
)

var Module = fx.Module("scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(
		registerTasks,
		registerLifecycle,
	),
)

type taskParams struct {
	fx.In

	Scheduler       *Scheduler
	Cfg             *config.Config
	Jobs            *jobs.Store
	ExtractionStore *extraction.Store
	Pipeline        *extraction.Pipeline
	Alerts          *alerts.Service
	Log             *slog.Logger
}

func registerTasks(p taskParams) error {
	if !p.Cfg.Scheduler.Enabled {
		p.Log.Info("scheduler disabled, skipping task registration")
		return nil
	}

	cancellation := NewCancellationSweepTask(p.Jobs, p.Log)
	if err := p.Scheduler.AddIntervalTask("cancellation_sweep",
		p.Cfg.Scheduler.CancellationSweepInterval, cancellation.Run); err != nil {
		return err
	}

	orphans := NewOrphanSweepTask(p.ExtractionStore, p.Pipeline, p.Alerts, p.Log)
	if err := p.Scheduler.AddIntervalTask("orphan_sweep",
		p.Cfg.Scheduler.OrphanSweepInterval, orphans.Run); err != nil {
		return err
	}

	gc := NewJobGCTask(p.Jobs, p.Cfg.Jobs.RetentionDays, p.Log)
	if err := p.Scheduler.AddIntervalTask("job_gc",
		p.Cfg.Scheduler.JobGCInterval, gc.Run); err != nil {
		return err
	}

	p.Log.Info("registered scheduled tasks", slog.Any("tasks", p.Scheduler.ListTasks()))
	return nil
}

func registerLifecycle(lc fx.Lifecycle, scheduler *Scheduler, cfg *config.Config) {
	if !cfg.Scheduler.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: scheduler.Start,
		OnStop: func(ctx context.Context) error {
			return scheduler.Stop(ctx)
		},
	})
}
