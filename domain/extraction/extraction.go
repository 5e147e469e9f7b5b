// Package extraction turns cleaned source content into structured fact rows
// and keeps them in sync with the vector index.
package extraction

import (
	"time"

	"github.com/uptrace/bun"
)

// Metadata keys carried inside the data object alongside field values.
const (
	KeyConfidence = "confidence"
	KeyQuotes     = "_quotes"
	KeyQuote      = "_quote"
	KeyConflicts  = "_conflicts"
	KeyValidation = "_validation"
)

// Extraction is one structured fact row. An extraction with a non-empty data
// object and a NULL embedding_id is an orphan: readable, but invisible to
// vector search until recovery re-embeds it.
type Extraction struct {
	bun.BaseModel `bun:"table:extractions,alias:e"`

	ID             string         `bun:"id,pk" json:"id"`
	ProjectID      string         `bun:"project_id" json:"project_id"`
	SourceID       string         `bun:"source_id" json:"source_id"`
	SourceGroup    string         `bun:"source_group" json:"source_group"`
	ExtractionType string         `bun:"extraction_type" json:"extraction_type"`
	Data           map[string]any `bun:"data,type:jsonb" json:"data"`
	Confidence     float64        `bun:"confidence" json:"confidence"`
	ProfileUsed    string         `bun:"profile_used" json:"profile_used,omitempty"`
	EmbeddingID    *string        `bun:"embedding_id" json:"embedding_id,omitempty"`

	CreatedAt time.Time `bun:"created_at,nullzero,default:now()" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,default:now()" json:"updated_at"`
}

// IsMetadataKey reports whether a data key is pipeline metadata rather than
// an extracted field value.
func IsMetadataKey(key string) bool {
	switch key {
	case KeyConfidence, KeyQuotes, KeyQuote, KeyConflicts, KeyValidation:
		return true
	}
	return false
}
