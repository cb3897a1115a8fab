package runlog

import (
	"reflect"
	"regexp"
)

// sensitiveKey matches metadata keys whose values must never reach the log
// store.
var sensitiveKey = regexp.MustCompile(`(?i)key|token|password|secret|credential|auth`)

const (
	redactedPlaceholder = "[REDACTED]"
	maxStringLen        = 1000
	maxDepth            = 16
)

// Redact returns a deep copy of meta safe for persistence: sensitive keys
// replaced with a placeholder, long strings truncated with an ellipsis, and
// circular structures reduced to {"error": "circular"}.
func Redact(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	seen := make(map[uintptr]bool)
	out, _ := redactValue(meta, seen, 0)
	m, ok := out.(map[string]any)
	if !ok {
		return map[string]any{"error": "circular"}
	}
	return m
}

func redactValue(v any, seen map[uintptr]bool, depth int) (any, bool) {
	if depth > maxDepth {
		return map[string]any{"error": "circular"}, false
	}
	switch val := v.(type) {
	case nil:
		return nil, true
	case string:
		if len(val) > maxStringLen {
			return val[:maxStringLen] + "…", true
		}
		return val, true
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			return map[string]any{"error": "circular"}, false
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		out := make(map[string]any, len(val))
		for k, inner := range val {
			if sensitiveKey.MatchString(k) {
				out[k] = redactedPlaceholder
				continue
			}
			out[k], _ = redactValue(inner, seen, depth+1)
		}
		return out, true
	case []any:
		if len(val) > 0 {
			ptr := reflect.ValueOf(val).Pointer()
			if seen[ptr] {
				return map[string]any{"error": "circular"}, false
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		out := make([]any, len(val))
		for i, inner := range val {
			out[i], _ = redactValue(inner, seen, depth+1)
		}
		return out, true
	default:
		// Scalars (numbers, bools) and anything JSON-encodable pass through.
		return val, true
	}
}
