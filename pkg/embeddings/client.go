// Package embeddings provides embedding and rerank generation.
package embeddings

import (
	"context"
)

// EmbeddingDimension is the vector dimension of the extraction index.
const EmbeddingDimension = 1024

// RankedDoc is one rerank result, referencing the input document by index.
type RankedDoc struct {
	Index int
	Score float64
}

// Client provides embedding generation functionality
type Client interface {
	// EmbedQuery generates an embedding vector for the given query text
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// EmbedDocuments generates embedding vectors for the given documents
	EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error)

	// Rerank scores documents against the query, sorted by score descending
	Rerank(ctx context.Context, query string, documents []string) ([]RankedDoc, error)
}

// NoopClient is a no-op implementation that returns nil embeddings
// Used when embeddings are disabled
type NoopClient struct{}

// NewNoopClient creates a new NoopClient
func NewNoopClient() *NoopClient {
	return &NoopClient{}
}

// EmbedQuery returns nil, nil (no embedding available)
func (c *NoopClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return nil, nil
}

// EmbedDocuments returns nil, nil (no embeddings available)
func (c *NoopClient) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	return nil, nil
}

// Rerank returns the documents in input order with zero scores
func (c *NoopClient) Rerank(ctx context.Context, query string, documents []string) ([]RankedDoc, error) {
	ranked := make([]RankedDoc, len(documents))
	for i := range documents {
		ranked[i] = RankedDoc{Index: i}
	}
	return ranked, nil
}
