package extraction

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/factweave/factweave/domain/jobs"
	"github.com/factweave/factweave/domain/projects"
	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/internal/llmqueue"
	"github.com/factweave/factweave/pkg/alerts"
	"github.com/factweave/factweave/pkg/llm"
)

// Module provides the extraction pipeline and its worker.
var Module = fx.Module("extraction",
	fx.Provide(
		NewStore,
		NewBoilerplateService,
		provideCompleter,
		NewOrchestrator,
		NewPipeline,
	),
	fx.Invoke(registerExtractWorker),
)

// provideCompleter routes completions through the queue when it is enabled,
// straight to the provider otherwise.
func provideCompleter(cfg *config.Config, provider llm.Provider, queueClient *llmqueue.Client, log *slog.Logger) Completer {
	if cfg.LLMQueue.Enabled {
		log.Info("extraction completions routed through llm queue")
		return queueClient
	}
	return provider
}

func registerExtractWorker(
	lc fx.Lifecycle,
	cfg *config.Config,
	pipeline *Pipeline,
	projectStore *projects.Store,
	jobStore *jobs.Store,
	alertSvc *alerts.Service,
	log *slog.Logger,
) {
	worker := jobs.NewWorker(jobs.WorkerConfig{
		Type:         jobs.TypeExtract,
		PollInterval: cfg.Jobs.PollInterval,
		StaleAfter:   cfg.Jobs.StaleThresholdExtract,
	}, jobStore, log, ExtractHandler(pipeline, projectStore, jobStore, log))
	worker.SetAlerter(alertSvc)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Use context.Background() - the fx lifecycle context has a
			// startup timeout which would cancel the polling loop.
			return worker.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			return worker.Stop(ctx)
		},
	})
}
