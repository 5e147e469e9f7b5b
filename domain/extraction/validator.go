package extraction

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/factweave/factweave/domain/projects"
)

// Violation records one validation issue on a field.
type Violation struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
	Value any    `json:"value,omitempty"`
}

const (
	issueConfidenceBelowThreshold = "confidence_below_threshold"
	issueInvalidType              = "invalid_type"
	issueInvalidEnum              = "invalid_enum"
	issueTypeCoerced              = "type_coerced"
)

// Validator coerces and gates parsed LLM output against a field group.
type Validator struct {
	minConfidence float64
}

// NewValidator creates a validator with the configured confidence floor.
func NewValidator(minConfidence float64) *Validator {
	return &Validator{minConfidence: minConfidence}
}

// ValidateObject validates a non-entity group result. It returns a new map
// with coerced field values, preserved metadata keys, defaults for missing
// fields and a _validation list when anything was off.
func (v *Validator) ValidateObject(group projects.FieldGroup, data map[string]any) map[string]any {
	out := map[string]any{}
	var violations []Violation

	confidence := Confidence(data)
	for key, val := range data {
		if IsMetadataKey(key) {
			out[key] = val
		}
	}
	out[KeyConfidence] = confidence

	if confidence < v.minConfidence {
		for _, f := range group.Fields {
			out[f.Name] = nil
		}
		violations = append(violations, Violation{Field: "*", Issue: issueConfidenceBelowThreshold})
		appendViolations(out, violations)
		return out
	}

	for _, f := range group.Fields {
		raw, present := data[f.Name]
		if !present || raw == nil {
			out[f.Name] = defaultValue(f)
			continue
		}
		coerced, issue := coerceValue(f, raw)
		out[f.Name] = coerced
		if issue != "" {
			violations = append(violations, Violation{Field: f.Name, Issue: issue, Value: raw})
		}
	}

	appendViolations(out, violations)
	return out
}

// ValidateEntityList validates each entity object independently, preserving
// per-entity _quote. Entities that are not objects are dropped with a
// violation on the group itself.
func (v *Validator) ValidateEntityList(group projects.FieldGroup, items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		validated := map[string]any{}
		var violations []Violation

		if q, ok := obj[KeyQuote]; ok {
			validated[KeyQuote] = q
		}
		for _, f := range group.Fields {
			raw, present := obj[f.Name]
			if !present || raw == nil {
				validated[f.Name] = defaultValue(f)
				continue
			}
			coerced, issue := coerceValue(f, raw)
			validated[f.Name] = coerced
			if issue != "" {
				violations = append(violations, Violation{Field: f.Name, Issue: issue, Value: raw})
			}
		}
		appendViolations(validated, violations)
		out = append(out, validated)
	}
	return out
}

// Confidence reads the confidence metadata out of a parsed result, 0 when
// absent or unreadable.
func Confidence(data map[string]any) float64 {
	switch v := data[KeyConfidence].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}

func appendViolations(out map[string]any, violations []Violation) {
	if len(violations) == 0 {
		return
	}
	list := make([]any, 0, len(violations))
	for _, violation := range violations {
		entry := map[string]any{"field": violation.Field, "issue": violation.Issue}
		if violation.Value != nil {
			entry["value"] = violation.Value
		}
		list = append(list, entry)
	}
	out[KeyValidation] = list
}

func defaultValue(f projects.FieldDef) any {
	if f.Default != nil {
		return f.Default
	}
	switch f.Type {
	case projects.FieldBoolean:
		return false
	case projects.FieldList:
		return []any{}
	}
	return nil
}

// coerceValue converts raw into the field's declared type. Returns the
// coerced value and a violation issue ("" when clean). Uncoercible values
// come back nil.
func coerceValue(f projects.FieldDef, raw any) (any, string) {
	switch f.Type {
	case projects.FieldText:
		switch v := raw.(type) {
		case string:
			return v, ""
		case float64, int, int64, bool:
			return fmt.Sprint(v), issueTypeCoerced
		}
		return nil, issueInvalidType

	case projects.FieldInteger:
		switch v := raw.(type) {
		case float64:
			return int64(v), ""
		case int:
			return int64(v), ""
		case int64:
			return v, ""
		case string:
			if n, err := strconv.ParseInt(stripNumeric(v), 10, 64); err == nil {
				return n, issueTypeCoerced
			}
			if fl, err := strconv.ParseFloat(stripNumeric(v), 64); err == nil {
				return int64(fl), issueTypeCoerced
			}
		}
		return nil, issueInvalidType

	case projects.FieldFloat:
		switch v := raw.(type) {
		case float64:
			return v, ""
		case int:
			return float64(v), ""
		case int64:
			return float64(v), ""
		case string:
			if fl, err := strconv.ParseFloat(stripNumeric(v), 64); err == nil {
				return fl, issueTypeCoerced
			}
		}
		return nil, issueInvalidType

	case projects.FieldBoolean:
		switch v := raw.(type) {
		case bool:
			return v, ""
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true", "yes", "1":
				return true, issueTypeCoerced
			case "false", "no", "0":
				return false, issueTypeCoerced
			}
		case float64:
			return v != 0, issueTypeCoerced
		}
		return nil, issueInvalidType

	case projects.FieldEnum:
		s, ok := raw.(string)
		if !ok {
			return nil, issueInvalidEnum
		}
		for _, opt := range f.Options {
			if opt == s {
				return opt, ""
			}
		}
		for _, opt := range f.Options {
			if strings.EqualFold(opt, s) {
				return opt, issueTypeCoerced
			}
		}
		return nil, issueInvalidEnum

	case projects.FieldList:
		if list, ok := raw.([]any); ok {
			return list, ""
		}
		// single value gets wrapped
		return []any{raw}, issueTypeCoerced
	}

	return raw, ""
}

// stripNumeric drops thousands separators and surrounding junk from a
// numeric string ("1,500" -> "1500", " 42 " -> "42").
func stripNumeric(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	return s
}
