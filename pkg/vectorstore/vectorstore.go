// Package vectorstore wraps the qdrant vector index behind the operations
// the pipeline needs. Points are keyed by extraction id so upserts and
// deletes stay idempotent.
package vectorstore

import (
	"context"
)

// Point is one vector with its payload, keyed by extraction id.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Filter narrows a search by payload fields. Empty fields are ignored.
type Filter struct {
	ProjectID      string
	SourceGroup    string
	ExtractionType string
}

// Result is one search hit.
type Result struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Store is the vector index interface.
type Store interface {
	// EnsureCollection creates the collection if it does not exist
	EnsureCollection(ctx context.Context) error

	// UpsertBatch writes points by id (idempotent)
	UpsertBatch(ctx context.Context, points []Point) error

	// Search returns the closest points, optionally filtered
	Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]Result, error)

	// DeleteBatch removes points by id (idempotent)
	DeleteBatch(ctx context.Context, ids []string) error
}
