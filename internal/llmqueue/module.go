package llmqueue

import (
	"context"

	"go.uber.org/fx"

	"github.com/factweave/factweave/internal/config"
)

var Module = fx.Module("llmqueue",
	fx.Provide(
		NewQueue,
		NewClient,
		NewWorker,
	),
	fx.Invoke(registerWorker),
)

func registerWorker(lc fx.Lifecycle, cfg *config.Config, worker *Worker) {
	if !cfg.LLMQueue.Enabled || !cfg.LLM.IsConfigured() {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// The loop outlives the startup context.
			return worker.Start(context.Background())
		},
		OnStop: worker.Stop,
	})
}
