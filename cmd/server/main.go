// Package main runs the factweave extraction service: job workers, the LLM
// queue, scheduled maintenance and the supporting stores.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/factweave/factweave/domain/entities"
	"github.com/factweave/factweave/domain/extraction"
	"github.com/factweave/factweave/domain/jobs"
	"github.com/factweave/factweave/domain/projects"
	"github.com/factweave/factweave/domain/scrape"
	"github.com/factweave/factweave/domain/search"
	"github.com/factweave/factweave/domain/sources"
	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/internal/database"
	"github.com/factweave/factweave/internal/kvstore"
	"github.com/factweave/factweave/internal/llmqueue"
	"github.com/factweave/factweave/internal/migrate"
	"github.com/factweave/factweave/internal/scheduler"
	"github.com/factweave/factweave/internal/version"
	"github.com/factweave/factweave/pkg/alerts"
	"github.com/factweave/factweave/pkg/embeddings"
	"github.com/factweave/factweave/pkg/firecrawl"
	"github.com/factweave/factweave/pkg/llm"
	"github.com/factweave/factweave/pkg/logger"
	"github.com/factweave/factweave/pkg/vectorstore"
)

func main() {
	// .env.local overrides .env for local development. Load() never
	// overwrites variables already set in the environment.
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		fx.Invoke(func(log *slog.Logger) {
			info := version.Get()
			log.Info("starting factweave",
				slog.String("version", info.Version),
				slog.String("commit", info.GitCommit),
			)
		}),

		// Infrastructure
		logger.Module,
		config.Module,
		database.Module,
		kvstore.Module,
		migrate.Module,

		// Schema before anything that touches the tables.
		fx.Invoke(func(lc fx.Lifecycle, m *migrate.Migrator) {
			lc.Append(fx.Hook{OnStart: m.Up})
		}),

		// External backends
		vectorstore.Module,
		llm.Module,
		embeddings.Module,
		firecrawl.Module,
		alerts.Module,

		// LLM request queue and its workers
		llmqueue.Module,

		// Domain
		projects.Module,
		sources.Module,
		jobs.Module,
		entities.Module,
		extraction.Module,
		scrape.Module,
		search.Module,

		// Periodic maintenance
		scheduler.Module,
	).Run()
}
