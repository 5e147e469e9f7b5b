package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factweave/factweave/pkg/apperror"
)

func TestParseObjectValidJSON(t *testing.T) {
	obj, err := ParseObject(`{"name": "Widget", "power_kw": 100}`)
	require.NoError(t, err)
	assert.Equal(t, "Widget", obj["name"])
	assert.Equal(t, float64(100), obj["power_kw"])
}

func TestParseObjectStripsCodeFences(t *testing.T) {
	raw := "```json\n{\"a\": 1}\n```"
	obj, err := ParseObject(raw)
	require.NoError(t, err)
	assert.Equal(t, float64(1), obj["a"])
}

func TestParseObjectBareFence(t *testing.T) {
	raw := "```\n{\"a\": 1}\n```"
	obj, err := ParseObject(raw)
	require.NoError(t, err)
	assert.Equal(t, float64(1), obj["a"])
}

func TestParseObjectTrailingComma(t *testing.T) {
	obj, err := ParseObject(`{"a": 1, "b": [1, 2,],}`)
	require.NoError(t, err)
	assert.Equal(t, float64(1), obj["a"])
	assert.Len(t, obj["b"], 2)
}

func TestParseObjectSingleQuotes(t *testing.T) {
	obj, err := ParseObject(`{'name': 'Widget'}`)
	require.NoError(t, err)
	assert.Equal(t, "Widget", obj["name"])
}

func TestParseObjectDanglingString(t *testing.T) {
	obj, err := ParseObject(`{"name": "Widg`)
	require.NoError(t, err)
	assert.Equal(t, "Widg", obj["name"])
}

func TestParseObjectUnbalancedBrackets(t *testing.T) {
	obj, err := ParseObject(`{"items": [{"a": 1}, {"b": 2}`)
	require.NoError(t, err)
	assert.Len(t, obj["items"], 2)
}

func TestParseObjectTruncatedCompletion(t *testing.T) {
	// Typical max_tokens truncation: fence opened, string cut mid-value.
	raw := "```json\n{\"summary\": \"The product line incl"
	obj, err := ParseObject(raw)
	require.NoError(t, err)
	assert.Contains(t, obj["summary"], "product line")
}

func TestParseObjectUnrepairable(t *testing.T) {
	_, err := ParseObject("not json at all")
	require.Error(t, err)

	var appErr *apperror.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.CodeLLMMalformedJSON, appErr.Code)
	assert.True(t, apperror.IsRetryable(err))
}

func TestParseObjectPreservesApostrophes(t *testing.T) {
	obj, err := ParseObject(`{"note": "it's fine"}`)
	require.NoError(t, err)
	assert.Equal(t, "it's fine", obj["note"])
}
