package embeddings

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/factweave/factweave/internal/config"
	"github.com/factweave/factweave/pkg/logger"
)

// Module provides the embeddings fx.Module
var Module = fx.Module("embeddings",
	fx.Provide(NewService),
)

// Service provides embedding generation with automatic client selection
type Service struct {
	client  Client
	log     *slog.Logger
	enabled bool
}

// NewNoopService creates a service with a noop client (for testing)
func NewNoopService(log *slog.Logger) *Service {
	return &Service{
		client:  NewNoopClient(),
		log:     log,
		enabled: false,
	}
}

// NewService creates a new embeddings service
func NewService(cfg *config.Config, log *slog.Logger) *Service {
	log = log.With(logger.Scope("embeddings"))

	if !cfg.Embeddings.IsEnabled() {
		log.Info("embeddings service disabled")
		return &Service{
			client:  NewNoopClient(),
			log:     log,
			enabled: false,
		}
	}

	client := NewOpenAIClient(OpenAIConfig{
		BaseURL:     cfg.Embeddings.BaseURL,
		APIKey:      cfg.Embeddings.APIKey,
		Model:       cfg.Embeddings.Model,
		RerankModel: cfg.Embeddings.RerankModel,
		Timeout:     cfg.Embeddings.Timeout,
	}, log)

	log.Info("embeddings client initialized",
		slog.String("model", cfg.Embeddings.Model),
		slog.Int("dimension", cfg.Embeddings.Dimension),
	)

	return &Service{
		client:  client,
		log:     log,
		enabled: true,
	}
}

// IsEnabled returns true if embeddings are available
func (s *Service) IsEnabled() bool {
	return s.enabled
}

// EmbedQuery generates an embedding for a single query
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.client.EmbedQuery(ctx, query)
}

// EmbedDocuments generates embeddings for multiple documents
func (s *Service) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	return s.client.EmbedDocuments(ctx, documents)
}

// Rerank scores documents against the query, sorted by score descending
func (s *Service) Rerank(ctx context.Context, query string, documents []string) ([]RankedDoc, error) {
	return s.client.Rerank(ctx, query, documents)
}
