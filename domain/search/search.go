// Package search answers semantic queries over stored extractions: embed
// the query, search the vector index, hydrate the matching rows.
package search

import (
	"context"
	"log/slog"

	"github.com/factweave/factweave/domain/extraction"
	"github.com/factweave/factweave/pkg/apperror"
	"github.com/factweave/factweave/pkg/embeddings"
	"github.com/factweave/factweave/pkg/logger"
	"github.com/factweave/factweave/pkg/vectorstore"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Request is one search query.
type Request struct {
	ProjectID      string
	Query          string
	SourceGroup    string
	ExtractionType string
	Limit          int
	// Rerank rescoring runs the hit fact texts through the rerank model.
	Rerank bool
}

// Hit is one matched extraction with its similarity score.
type Hit struct {
	Extraction  extraction.Extraction `json:"extraction"`
	Score       float32               `json:"score"`
	RerankScore *float64              `json:"rerank_score,omitempty"`
}

type embedder interface {
	IsEnabled() bool
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Rerank(ctx context.Context, query string, documents []string) ([]embeddings.RankedDoc, error)
}

type hydrator interface {
	GetMany(ctx context.Context, ids []string) ([]extraction.Extraction, error)
}

// Service runs vector searches over the extraction index. When the
// embedding backend or the vector store is unavailable it degrades to an
// empty result set instead of failing the query.
type Service struct {
	embedder embedder
	vectors  vectorstore.Store
	store    hydrator
	log      *slog.Logger
}

// NewService creates the search service.
func NewService(embedder *embeddings.Service, vectors vectorstore.Store, store *extraction.Store, log *slog.Logger) *Service {
	return &Service{
		embedder: embedder,
		vectors:  vectors,
		store:    store,
		log:      log.With(logger.Scope("search")),
	}
}

// Search embeds the query, searches the vector index filtered by project
// and optional source group and extraction type, and hydrates the hits in
// score order.
func (s *Service) Search(ctx context.Context, req Request) ([]Hit, error) {
	if req.Query == "" {
		return nil, apperror.ErrValidation.WithMessage("query is required")
	}
	if req.ProjectID == "" {
		return nil, apperror.ErrValidation.WithMessage("project_id is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	if !s.embedder.IsEnabled() {
		s.log.Warn("search unavailable: embeddings disabled", slog.String("project_id", req.ProjectID))
		return []Hit{}, nil
	}

	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		s.log.Warn("query embedding failed", logger.Error(err))
		return []Hit{}, nil
	}
	if len(vector) == 0 {
		s.log.Warn("query embedding empty", slog.String("project_id", req.ProjectID))
		return []Hit{}, nil
	}

	results, err := s.vectors.Search(ctx, vector, limit, vectorstore.Filter{
		ProjectID:      req.ProjectID,
		SourceGroup:    req.SourceGroup,
		ExtractionType: req.ExtractionType,
	})
	if err != nil {
		s.log.Warn("vector search failed", logger.Error(err))
		return []Hit{}, nil
	}
	if len(results) == 0 {
		return []Hit{}, nil
	}

	hits, err := s.hydrate(ctx, results)
	if err != nil {
		return nil, err
	}

	if req.Rerank && len(hits) > 1 {
		hits = s.rerank(ctx, req.Query, hits)
	}
	return hits, nil
}

// hydrate loads the extraction rows behind the vector hits, keeping score
// order. Hits whose row has been deleted since indexing are dropped.
func (s *Service) hydrate(ctx context.Context, results []vectorstore.Result) ([]Hit, error) {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}

	rows, err := s.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]extraction.Extraction, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		row, ok := byID[r.ID]
		if !ok {
			s.log.Debug("vector hit without extraction row", slog.String("extraction_id", r.ID))
			continue
		}
		hits = append(hits, Hit{Extraction: row, Score: r.Score})
	}
	return hits, nil
}

// rerank rescores hits by their fact text. On rerank failure the original
// vector ordering stands.
func (s *Service) rerank(ctx context.Context, query string, hits []Hit) []Hit {
	docs := make([]string, len(hits))
	for i := range hits {
		docs[i] = extraction.FactText(&hits[i].Extraction)
	}

	ranked, err := s.embedder.Rerank(ctx, query, docs)
	if err != nil {
		s.log.Warn("rerank failed, keeping vector order", logger.Error(err))
		return hits
	}

	out := make([]Hit, 0, len(hits))
	for _, doc := range ranked {
		if doc.Index < 0 || doc.Index >= len(hits) {
			continue
		}
		hit := hits[doc.Index]
		score := doc.Score
		hit.RerankScore = &score
		out = append(out, hit)
	}
	if len(out) == 0 {
		return hits
	}
	return out
}
