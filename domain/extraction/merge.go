package extraction

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/factweave/factweave/domain/entities"
	"github.com/factweave/factweave/domain/projects"
)

// ChunkResult is one parsed LLM answer for (group, chunk).
type ChunkResult struct {
	ChunkIndex int
	Data       map[string]any
}

// Merger folds per-chunk group results into a single group result.
type Merger struct {
	conflictDetection bool
}

// NewMerger creates the merger. With conflict detection on, disagreeing
// chunks leave a _conflicts record next to the resolved value.
func NewMerger(conflictDetection bool) *Merger {
	return &Merger{conflictDetection: conflictDetection}
}

type fieldObservation struct {
	value      any
	chunkIndex int
	confidence float64
}

// MergeObject merges non-entity group results across chunks.
//
// Booleans OR, numerics take the max, enum/text take the first non-empty
// value, lists concatenate and dedup. Confidence is the mean over chunks
// that contributed at least one non-null field.
func (m *Merger) MergeObject(group projects.FieldGroup, results []ChunkResult) map[string]any {
	if len(results) == 0 {
		return nil
	}

	out := map[string]any{}
	conflicts := map[string]any{}

	observations := map[string][]fieldObservation{}
	for _, res := range results {
		conf := Confidence(res.Data)
		for _, f := range group.Fields {
			v, ok := res.Data[f.Name]
			if !ok || v == nil || v == "" {
				continue
			}
			observations[f.Name] = append(observations[f.Name], fieldObservation{
				value:      v,
				chunkIndex: res.ChunkIndex,
				confidence: conf,
			})
		}
	}

	for _, f := range group.Fields {
		obs := observations[f.Name]
		if len(obs) == 0 {
			continue
		}
		value, resolution, conflicted := mergeField(f, obs)
		out[f.Name] = value
		if conflicted && m.conflictDetection && len(results) > 1 {
			conflicts[f.Name] = conflictRecord(obs, resolution, value)
		}
	}

	out[KeyQuotes] = m.mergeQuotes(results)
	if len(out[KeyQuotes].(map[string]any)) == 0 {
		delete(out, KeyQuotes)
	}
	if len(conflicts) > 0 {
		out[KeyConflicts] = conflicts
	}
	out[KeyConfidence] = meanContributingConfidence(group, results)

	return out
}

func mergeField(f projects.FieldDef, obs []fieldObservation) (value any, resolution string, conflicted bool) {
	switch f.Type {
	case projects.FieldBoolean:
		merged := false
		for _, o := range obs {
			if b, ok := asBool(o.value); ok && b {
				merged = true
			}
		}
		return merged, "or", false

	case projects.FieldInteger, projects.FieldFloat:
		minV := math.Inf(1)
		maxV := math.Inf(-1)
		seen := false
		for _, o := range obs {
			n, ok := asFloat(o.value)
			if !ok {
				continue
			}
			seen = true
			minV = math.Min(minV, n)
			maxV = math.Max(maxV, n)
		}
		if !seen {
			return obs[0].value, "max", false
		}
		conflicted = maxV != 0 && (maxV-minV)/math.Abs(maxV) > 0.10
		if f.Type == projects.FieldInteger {
			return int64(maxV), "max", conflicted
		}
		return maxV, "max", conflicted

	case projects.FieldList:
		var merged []any
		seen := map[string]bool{}
		for _, o := range obs {
			items, ok := o.value.([]any)
			if !ok {
				items = []any{o.value}
			}
			for _, item := range items {
				key := canonicalJSON(item)
				if !seen[key] {
					seen[key] = true
					merged = append(merged, item)
				}
			}
		}
		return merged, "concat", false

	default: // text, enum
		distinct := map[string]bool{}
		for _, o := range obs {
			distinct[canonicalJSON(o.value)] = true
		}
		return obs[0].value, "first_non_empty", len(distinct) > 1
	}
}

func conflictRecord(obs []fieldObservation, resolution string, resolved any) map[string]any {
	values := make([]any, 0, len(obs))
	for _, o := range obs {
		values = append(values, map[string]any{
			"value":       o.value,
			"chunk_index": o.chunkIndex,
			"confidence":  o.confidence,
		})
	}
	return map[string]any{
		"values":         values,
		"resolution":     resolution,
		"resolved_value": resolved,
	}
}

// mergeQuotes keeps, per field, the quote from the highest-confidence chunk
// that carried one.
func (m *Merger) mergeQuotes(results []ChunkResult) map[string]any {
	best := map[string]float64{}
	merged := map[string]any{}
	for _, res := range results {
		quotes, ok := res.Data[KeyQuotes].(map[string]any)
		if !ok {
			continue
		}
		conf := Confidence(res.Data)
		for field, quote := range quotes {
			if prev, seen := best[field]; !seen || conf > prev {
				best[field] = conf
				merged[field] = quote
			}
		}
	}
	return merged
}

func meanContributingConfidence(group projects.FieldGroup, results []ChunkResult) float64 {
	sum := 0.0
	n := 0
	for _, res := range results {
		contributed := false
		for _, f := range group.Fields {
			if v, ok := res.Data[f.Name]; ok && v != nil && v != "" {
				contributed = true
				break
			}
		}
		if contributed {
			sum += Confidence(res.Data)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// MergeEntityList merges entity items across chunks by the configured id
// field. The id is normalized before comparison so "Pump X" and "pump x"
// collapse into one entity; within one entity, last non-null wins per field.
func (m *Merger) MergeEntityList(idField string, results []ChunkResult) []map[string]any {
	var order []string
	merged := map[string]map[string]any{}

	for _, res := range results {
		items, ok := res.Data[resGroupKey(res.Data)].([]any)
		if !ok {
			continue
		}
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			id, _ := item[idField].(string)
			key := entities.Normalize(id)
			if key == "" {
				key = canonicalJSON(item)
			}

			existing, seen := merged[key]
			if !seen {
				copied := map[string]any{}
				for k, v := range item {
					copied[k] = v
				}
				merged[key] = copied
				order = append(order, key)
				continue
			}
			for k, v := range item {
				if v != nil && v != "" {
					existing[k] = v
				}
			}
		}
	}

	out := make([]map[string]any, 0, len(order))
	for _, key := range order {
		out = append(out, merged[key])
	}
	return out
}

// resGroupKey finds the list-bearing key in an entity-list chunk result.
// Normally this is the group name; tolerate models that answer with a
// different single list key.
func resGroupKey(data map[string]any) string {
	for k, v := range data {
		if IsMetadataKey(k) {
			continue
		}
		if _, ok := v.([]any); ok {
			return k
		}
	}
	return ""
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch b {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// canonicalJSON renders a value deterministically so maps can be dedup keys.
func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
