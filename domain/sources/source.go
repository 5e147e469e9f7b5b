// Package sources stores fetched documents.
package sources

import (
	"time"

	"github.com/uptrace/bun"
)

// Status is the source lifecycle state. Only completed sources are consumed
// by extraction and search.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Source is one fetched document.
type Source struct {
	bun.BaseModel `bun:"table:sources,alias:s"`

	ID             string `bun:"id,pk" json:"id"`
	ProjectID      string `bun:"project_id" json:"project_id"`
	URI            string `bun:"uri" json:"uri"`
	SourceGroup    string `bun:"source_group" json:"source_group"`
	SourceType     string `bun:"source_type" json:"source_type"`
	Title          string `bun:"title" json:"title,omitempty"`
	Content        string `bun:"content" json:"content,omitempty"`
	CleanedContent string `bun:"cleaned_content" json:"cleaned_content,omitempty"`
	Status         Status `bun:"status" json:"status"`

	// CreatedByJobID links the source to the job that fetched it so a
	// cancelled job's artifacts can be deleted in one pass.
	CreatedByJobID *string `bun:"created_by_job_id" json:"created_by_job_id,omitempty"`

	PageType                 string         `bun:"page_type" json:"page_type,omitempty"`
	RelevantFieldGroups      []string       `bun:"relevant_field_groups,type:jsonb" json:"relevant_field_groups,omitempty"`
	ClassificationMethod     string         `bun:"classification_method" json:"classification_method,omitempty"`
	ClassificationConfidence float64        `bun:"classification_confidence" json:"classification_confidence,omitempty"`
	MetaData                 map[string]any `bun:"meta_data,type:jsonb" json:"meta_data,omitempty"`

	CreatedAt time.Time `bun:"created_at,nullzero,default:now()" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,default:now()" json:"updated_at"`
}

// HTTPStatus reads the http status out of meta_data, 0 when absent.
func (s *Source) HTTPStatus() int {
	if s.MetaData == nil {
		return 0
	}
	switch v := s.MetaData["http_status"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Domain reads the domain out of meta_data.
func (s *Source) Domain() string {
	if s.MetaData == nil {
		return ""
	}
	if v, ok := s.MetaData["domain"].(string); ok {
		return v
	}
	return ""
}
