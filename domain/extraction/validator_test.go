package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factweave/factweave/domain/projects"
)

func testGroup() projects.FieldGroup {
	return projects.FieldGroup{
		Name: "company_info",
		Fields: []projects.FieldDef{
			{Name: "name", Type: projects.FieldText},
			{Name: "founded", Type: projects.FieldInteger},
			{Name: "revenue_m", Type: projects.FieldFloat},
			{Name: "is_public", Type: projects.FieldBoolean},
			{Name: "region", Type: projects.FieldEnum, Options: []string{"EMEA", "APAC", "AMER"}},
			{Name: "markets", Type: projects.FieldList},
			{Name: "employees", Type: projects.FieldInteger, Default: 0},
		},
	}
}

func TestValidateObjectCoercion(t *testing.T) {
	v := NewValidator(0.3)
	got := v.ValidateObject(testGroup(), map[string]any{
		"confidence": 0.8,
		"name":       "Acme",
		"founded":    "1,985",
		"revenue_m":  "12.5",
		"is_public":  "yes",
		"region":     "emea",
		"markets":    "Germany",
	})

	assert.Equal(t, int64(1985), got["founded"])
	assert.Equal(t, 12.5, got["revenue_m"])
	assert.Equal(t, true, got["is_public"])
	assert.Equal(t, "EMEA", got["region"])
	assert.Equal(t, []any{"Germany"}, got["markets"])
	assert.Equal(t, 0.8, got["confidence"])

	// Coercions are recorded, not silent.
	violations, ok := got[KeyValidation].([]any)
	require.True(t, ok)
	assert.Len(t, violations, 5)
}

func TestValidateObjectInvalidValues(t *testing.T) {
	v := NewValidator(0.3)
	got := v.ValidateObject(testGroup(), map[string]any{
		"confidence": 0.9,
		"founded":    "next year",
		"region":     "Mars",
	})

	assert.Nil(t, got["founded"])
	assert.Nil(t, got["region"])

	violations := got[KeyValidation].([]any)
	issues := map[string]string{}
	for _, raw := range violations {
		entry := raw.(map[string]any)
		issues[entry["field"].(string)] = entry["issue"].(string)
	}
	assert.Equal(t, "invalid_type", issues["founded"])
	assert.Equal(t, "invalid_enum", issues["region"])
}

func TestValidateObjectConfidenceGate(t *testing.T) {
	v := NewValidator(0.5)
	got := v.ValidateObject(testGroup(), map[string]any{
		"confidence": 0.2,
		"name":       "Acme",
		"founded":    float64(1985),
	})

	// Everything nulled, gate recorded.
	assert.Nil(t, got["name"])
	assert.Nil(t, got["founded"])
	violations := got[KeyValidation].([]any)
	require.Len(t, violations, 1)
	assert.Equal(t, "confidence_below_threshold", violations[0].(map[string]any)["issue"])
}

func TestValidateObjectDefaults(t *testing.T) {
	v := NewValidator(0.3)
	got := v.ValidateObject(testGroup(), map[string]any{"confidence": 0.7})

	assert.Nil(t, got["name"])
	assert.Equal(t, false, got["is_public"])
	assert.Equal(t, []any{}, got["markets"])
	assert.Equal(t, 0, got["employees"]) // declared default wins over nil
	_, hasValidation := got[KeyValidation]
	assert.False(t, hasValidation)
}

func TestValidateObjectPreservesMetadata(t *testing.T) {
	v := NewValidator(0.3)
	quotes := map[string]any{"name": "Acme Corp was founded"}
	got := v.ValidateObject(testGroup(), map[string]any{
		"confidence": 0.7,
		"name":       "Acme",
		KeyQuotes:    quotes,
	})

	assert.Equal(t, quotes, got[KeyQuotes])
}

func TestValidateEntityList(t *testing.T) {
	group := projects.FieldGroup{
		Name:         "products",
		IsEntityList: true,
		Fields: []projects.FieldDef{
			{Name: "product_name", Type: projects.FieldText},
			{Name: "power_kw", Type: projects.FieldFloat},
		},
	}

	v := NewValidator(0.3)
	got := v.ValidateEntityList(group, []any{
		map[string]any{"product_name": "Pump X", "power_kw": "7.5", KeyQuote: "Pump X delivers 7.5 kW"},
		"not an object",
		map[string]any{"product_name": "Pump Y"},
	})

	require.Len(t, got, 2)
	assert.Equal(t, 7.5, got[0]["power_kw"])
	assert.Equal(t, "Pump X delivers 7.5 kW", got[0][KeyQuote])
	assert.Nil(t, got[1]["power_kw"])
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.7, Confidence(map[string]any{"confidence": 0.7}))
	assert.Equal(t, 1.0, Confidence(map[string]any{"confidence": 1}))
	assert.Equal(t, 0.5, Confidence(map[string]any{"confidence": "0.5"}))
	assert.Equal(t, 0.0, Confidence(map[string]any{}))
}
