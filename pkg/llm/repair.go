package llm

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/factweave/factweave/pkg/apperror"
)

var (
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// repairSteps is the fixed ladder applied cumulatively when a completion
// fails to parse as JSON. Each step builds on the previous output: fences
// must come off before quote rewriting can see the payload, and bracket
// balancing runs last so it counts only brackets the earlier steps kept.
var repairSteps = []func(string) string{
	stripCodeFences,
	singleToDoubleQuotes,
	stripTrailingCommas,
	closeDanglingString,
	balanceBrackets,
}

// ParseObject parses a completion as a JSON object, applying the repair
// ladder step by step until something parses. Returns llm_malformed_json
// when no repair succeeds.
func ParseObject(raw string) (map[string]any, error) {
	candidate := strings.TrimSpace(raw)

	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
		return obj, nil
	}

	for _, step := range repairSteps {
		candidate = step(candidate)
		if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
			return obj, nil
		}
	}

	return nil, apperror.ErrLLMMalformedJSON.WithDetails(map[string]any{
		"raw_prefix": prefix(raw, 200),
	})
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func stripCodeFences(s string) string {
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	// Unterminated fence: drop the opening marker.
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		return strings.TrimSpace(after)
	}
	if after, ok := strings.CutPrefix(s, "```"); ok {
		return strings.TrimSpace(after)
	}
	return s
}

// singleToDoubleQuotes swaps quote style only when the text carries no
// double quotes at all, to avoid mangling apostrophes in valid strings.
func singleToDoubleQuotes(s string) string {
	if strings.Contains(s, `"`) {
		return s
	}
	return strings.ReplaceAll(s, "'", `"`)
}

func stripTrailingCommas(s string) string {
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

// closeDanglingString terminates an unclosed string literal at end of input.
func closeDanglingString(s string) string {
	if inString(s) {
		return s + `"`
	}
	return s
}

// balanceBrackets appends the closers for any brackets left open outside of
// string literals.
func balanceBrackets(s string) string {
	var stack []byte
	escaped := false
	in := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if in {
				escaped = true
			}
		case '"':
			in = !in
		case '{', '[':
			if !in {
				stack = append(stack, c)
			}
		case '}', ']':
			if !in && len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// inString reports whether s ends inside an unterminated string literal.
func inString(s string) bool {
	escaped := false
	in := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if in {
				escaped = true
			}
		case '"':
			in = !in
		}
	}
	return in
}
