// Package entities deduplicates extracted concepts across sources.
package entities

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// Entity is one normalized concept shared by extractions.
type Entity struct {
	bun.BaseModel `bun:"table:entities,alias:en"`

	ID              string         `bun:"id,pk" json:"id"`
	ProjectID       string         `bun:"project_id" json:"project_id"`
	SourceGroup     string         `bun:"source_group" json:"source_group"`
	EntityType      string         `bun:"entity_type" json:"entity_type"`
	Value           string         `bun:"value" json:"value"`
	NormalizedValue string         `bun:"normalized_value" json:"normalized_value"`
	Attributes      map[string]any `bun:"attributes,type:jsonb" json:"attributes,omitempty"`

	CreatedAt time.Time `bun:"created_at,nullzero,default:now()" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,default:now()" json:"updated_at"`

	// Inserted is set by the upsert's RETURNING clause, true when the row
	// was freshly created rather than fetched.
	Inserted bool `bun:"inserted,scanonly" json:"-"`
}

// Link ties an extraction to an entity with a role.
type Link struct {
	bun.BaseModel `bun:"table:extraction_entities,alias:ee"`

	ExtractionID string `bun:"extraction_id,pk" json:"extraction_id"`
	EntityID     string `bun:"entity_id,pk" json:"entity_id"`
	Role         string `bun:"role,pk" json:"role"`
}

// Normalize lowercases and collapses whitespace so the same concept spelled
// differently dedups to one row.
func Normalize(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}
