package extraction

import (
	"fmt"
	"strings"

	"github.com/factweave/factweave/domain/projects"
)

// PromptBuilder renders the per-group extraction prompts.
type PromptBuilder struct {
	sourceQuoting bool
}

// NewPromptBuilder creates the builder. When sourceQuoting is on, prompts
// request verbatim excerpts alongside each extracted value.
func NewPromptBuilder(sourceQuoting bool) *PromptBuilder {
	return &PromptBuilder{sourceQuoting: sourceQuoting}
}

// SystemPrompt renders the instruction prompt for one field group.
func (b *PromptBuilder) SystemPrompt(group projects.FieldGroup, extCtx projects.ExtractionContext) string {
	var sb strings.Builder

	sourceType := extCtx.SourceType
	if sourceType == "" {
		sourceType = "document"
	}

	fmt.Fprintf(&sb, "You are a precise information extraction system. Extract %q data from the %s text below.\n\n",
		group.Name, sourceType)

	sb.WriteString("Fields:\n")
	for _, f := range group.Fields {
		fmt.Fprintf(&sb, "- %s (%s)", f.Name, f.Type)
		if f.Required {
			sb.WriteString(" [required]")
		}
		if f.Description != "" {
			fmt.Fprintf(&sb, ": %s", f.Description)
		}
		if len(f.Options) > 0 {
			fmt.Fprintf(&sb, " — one of: %s", strings.Join(f.Options, ", "))
		}
		if f.Default != nil {
			fmt.Fprintf(&sb, " (default: %v)", f.Default)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if group.IsEntityList {
		idField := extCtx.IdentifierField(group)
		fmt.Fprintf(&sb, "Respond with a JSON object with a single key %q whose value is a list of objects, one per distinct item found. ", group.Name)
		fmt.Fprintf(&sb, "Identify each item by its %q field. ", idField)
		if b.sourceQuoting {
			sb.WriteString("Each item may include a \"_quote\" key with the verbatim source excerpt supporting it. ")
		}
	} else {
		sb.WriteString("Respond with a JSON object with one key per field. ")
		if b.sourceQuoting {
			sb.WriteString("Include a \"_quotes\" object mapping field names to the verbatim source excerpt supporting each value. ")
		}
	}
	sb.WriteString("Include a \"confidence\" key between 0 and 1. Use null for values not present in the text. Respond with JSON only.\n")

	for _, hint := range b.hints(group) {
		fmt.Fprintf(&sb, "\nHint: %s", hint)
	}

	return sb.String()
}

// UserPrompt renders the chunk content with its header breadcrumb so the
// model keeps section context across chunk boundaries.
func (b *PromptBuilder) UserPrompt(headerPath, text string) string {
	if headerPath == "" {
		return text
	}
	return fmt.Sprintf("Section: %s\n\n%s", headerPath, text)
}

// hints returns explicit hints, or a generated one when the schema has none.
func (b *PromptBuilder) hints(group projects.FieldGroup) []string {
	if len(group.Hints) > 0 {
		return group.Hints
	}
	if group.Description == "" {
		return nil
	}
	names := make([]string, 0, len(group.Fields))
	for _, f := range group.Fields {
		names = append(names, f.Name)
	}
	return []string{fmt.Sprintf("%s. Focus on: %s.", group.Description, strings.Join(names, ", "))}
}
