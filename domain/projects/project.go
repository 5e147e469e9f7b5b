// Package projects holds the tenant model and its extraction schema types.
package projects

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// FieldType enumerates the value types a schema field can declare.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldInteger FieldType = "integer"
	FieldFloat   FieldType = "float"
	FieldBoolean FieldType = "boolean"
	FieldEnum    FieldType = "enum"
	FieldList    FieldType = "list"
)

// FieldDef describes one extractable field.
type FieldDef struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Description string    `json:"description,omitempty"`
	Options     []string  `json:"options,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Default     any       `json:"default,omitempty"`
}

// FieldGroup is one named group of fields extracted together. An entity-list
// group produces a list of entity objects keyed by the group name instead of
// a flat object.
type FieldGroup struct {
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	IsEntityList bool       `json:"is_entity_list,omitempty"`
	EntityType   string     `json:"entity_type,omitempty"`
	Fields       []FieldDef `json:"fields"`
	Hints        []string   `json:"hints,omitempty"`
}

// Field looks up a field definition by name.
func (g FieldGroup) Field(name string) (FieldDef, bool) {
	for _, f := range g.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// ExtractionSchema is the ordered list of field groups for a project.
type ExtractionSchema struct {
	Name   string       `json:"name,omitempty"`
	Groups []FieldGroup `json:"groups"`
}

// Group looks up a field group by name.
func (s ExtractionSchema) Group(name string) (FieldGroup, bool) {
	for _, g := range s.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return FieldGroup{}, false
}

// GroupNames returns the configured group names in order.
func (s ExtractionSchema) GroupNames() []string {
	names := make([]string, 0, len(s.Groups))
	for _, g := range s.Groups {
		names = append(names, g.Name)
	}
	return names
}

// ExtractionContext carries extraction-wide knobs: the source type label used
// in prompts and the identifier field per entity-list group.
type ExtractionContext struct {
	SourceType     string            `json:"source_type,omitempty"`
	EntityIDFields map[string]string `json:"entity_id_fields,omitempty"`
}

// IdentifierField resolves the id field for an entity-list group, falling
// back to the group's first text field.
func (c ExtractionContext) IdentifierField(group FieldGroup) string {
	if f, ok := c.EntityIDFields[group.Name]; ok && f != "" {
		return f
	}
	for _, f := range group.Fields {
		if f.Type == FieldText {
			return f.Name
		}
	}
	if len(group.Fields) > 0 {
		return group.Fields[0].Name
	}
	return ""
}

// GroupRule maps URL patterns and title keywords to one field group.
type GroupRule struct {
	URLPatterns   []string `json:"url_patterns,omitempty"`
	TitleKeywords []string `json:"title_keywords,omitempty"`
}

// ClassificationConfig drives the rule-based page classifier.
type ClassificationConfig struct {
	SkipPatterns []string             `json:"skip_patterns,omitempty"`
	GroupRules   map[string]GroupRule `json:"group_rules,omitempty"`
}

// Empty reports whether the config has no rules at all.
func (c ClassificationConfig) Empty() bool {
	return len(c.SkipPatterns) == 0 && len(c.GroupRules) == 0
}

// CrawlConfig bounds crawl expansion for a project.
type CrawlConfig struct {
	MaxDepth           int      `json:"max_depth,omitempty"`
	Limit              int      `json:"limit,omitempty"`
	IncludePaths       []string `json:"include_paths,omitempty"`
	ExcludePaths       []string `json:"exclude_paths,omitempty"`
	AllowBackwardLinks bool     `json:"allow_backward_links,omitempty"`
}

// Project is the logical tenant owning jobs, sources, extractions and
// entities.
type Project struct {
	bun.BaseModel `bun:"table:projects,alias:p"`

	ID                   string                `bun:"id,pk" json:"id"`
	Name                 string                `bun:"name" json:"name"`
	Description          string                `bun:"description" json:"description,omitempty"`
	ExtractionSchema     ExtractionSchema      `bun:"extraction_schema,type:jsonb" json:"extraction_schema"`
	EntityTypes          []string              `bun:"entity_types,type:jsonb" json:"entity_types,omitempty"`
	ExtractionContext    ExtractionContext     `bun:"extraction_context,type:jsonb" json:"extraction_context"`
	ClassificationConfig *ClassificationConfig `bun:"classification_config,type:jsonb" json:"classification_config,omitempty"`
	CrawlConfig          *CrawlConfig          `bun:"crawl_config,type:jsonb" json:"crawl_config,omitempty"`

	CreatedAt time.Time  `bun:"created_at,nullzero,default:now()" json:"created_at"`
	UpdatedAt time.Time  `bun:"updated_at,nullzero,default:now()" json:"updated_at"`
	DeletedAt *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// NormalizeName trims and lowercases a project name for uniqueness checks.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
