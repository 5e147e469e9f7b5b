package scrape

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/factweave/factweave/domain/jobs"
	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/alerts"
	"github.com/factweave/factweave/pkg/ratelimit"
)

var Module = fx.Module("scrape",
	fx.Provide(
		newLimiter,
		NewService,
	),
	fx.Invoke(registerWorkers),
)

func newLimiter(cfg *config.Config, rdb *redis.Client, log *slog.Logger) *ratelimit.Limiter {
	return ratelimit.New(rdb, ratelimit.Config{
		DelayMin:   cfg.Scrape.DelayMin,
		DelayMax:   cfg.Scrape.DelayMax,
		DailyLimit: cfg.Scrape.DailyLimitPerDomain,
	}, log)
}

func registerWorkers(lc fx.Lifecycle, cfg *config.Config, svc *Service, store *jobs.Store, alertSvc *alerts.Service, log *slog.Logger) {
	scrapeWorker := jobs.NewWorker(jobs.WorkerConfig{
		Type:         jobs.TypeScrape,
		PollInterval: cfg.Jobs.PollInterval,
		StaleAfter:   cfg.Jobs.StaleThresholdScrape,
	}, store, log, svc.ScrapeHandler())

	crawlWorker := jobs.NewWorker(jobs.WorkerConfig{
		Type:         jobs.TypeCrawl,
		PollInterval: cfg.Jobs.PollInterval,
		StaleAfter:   cfg.Jobs.StaleThresholdCrawl,
	}, store, log, svc.CrawlHandler())

	for _, w := range []*jobs.Worker{scrapeWorker, crawlWorker} {
		worker := w
		worker.SetAlerter(alertSvc)
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				return worker.Start(context.Background())
			},
			OnStop: worker.Stop,
		})
	}
}
