package llmprovider

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	objectSpanPattern  = regexp.MustCompile(`(?s)\{.*\}`)
	arraySpanPattern   = regexp.MustCompile(`(?s)\[.*\]`)
)

// ExtractJSON runs the five-step recovery heuristic used by every
// provider that lacks a native structured-output mode: parse as-is, trim
// whitespace and retry, pull the first fenced block and retry, pull the
// first greedy `{...}` span and retry, pull the first greedy `[...]` span
// and wrap it under "items". Returns an empty map and logs the first 500
// characters of the input if every step fails.
func ExtractJSON(text string) map[string]any {
	if v, ok := tryParseObject(text); ok {
		return v
	}

	trimmed := strings.TrimSpace(text)
	if v, ok := tryParseObject(trimmed); ok {
		return v
	}

	if m := fencedBlockPattern.FindStringSubmatch(trimmed); m != nil {
		if v, ok := tryParseObject(m[1]); ok {
			return v
		}
	}

	if m := objectSpanPattern.FindString(trimmed); m != "" {
		if v, ok := tryParseObject(m); ok {
			return v
		}
	}

	if m := arraySpanPattern.FindString(trimmed); m != "" {
		var arr []any
		if err := json.Unmarshal([]byte(m), &arr); err == nil {
			return map[string]any{"items": arr}
		}
	}

	preview := text
	if len(preview) > 500 {
		preview = preview[:500]
	}
	slog.Warn("llmprovider: failed to extract JSON from response", "preview", preview)
	return map[string]any{}
}

func tryParseObject(s string) (map[string]any, bool) {
	var v map[string]any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}
