package registry

import (
	"fmt"
	"regexp"
	"strings"
)

// Placeholder resolution
//
// Action parameters may embed {{dotted.path}} placeholders that resolve by
// walking the execution context. Resolution recurses through nested maps and
// slices. An unresolved placeholder is left verbatim (fail-open) so that a
// partially specified template stays diagnosable in logs and persisted state
// instead of degrading to an empty string.

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// ResolveValue resolves placeholders in value against execCtx. Maps and
// slices are resolved recursively; a string that consists of exactly one
// placeholder resolves to the underlying value with its type intact, while
// placeholders embedded in a larger string are stringified in place.
func ResolveValue(value any, execCtx map[string]any) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, execCtx)

	case map[string]any:
		out := make(map[string]any, len(v))
		for key, val := range v {
			out[key] = ResolveValue(val, execCtx)
		}
		return out

	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = ResolveValue(val, execCtx)
		}
		return out

	default:
		return value
	}
}

func resolveString(s string, execCtx map[string]any) any {
	// Whole-string placeholder: preserve the looked-up value's type.
	if match := placeholderPattern.FindStringSubmatch(s); match != nil && match[0] == strings.TrimSpace(s) {
		if val, ok := Lookup(execCtx, match[1]); ok {
			return val
		}
		return s
	}

	return placeholderPattern.ReplaceAllStringFunc(s, func(placeholder string) string {
		path := placeholderPattern.FindStringSubmatch(placeholder)[1]
		val, ok := Lookup(execCtx, path)
		if !ok {
			return placeholder
		}
		return fmt.Sprintf("%v", val)
	})
}

// Lookup walks a dotted path ("a.b.c") through nested maps in the execution
// context. Returns false if any segment is missing or a non-map is traversed.
func Lookup(execCtx map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")

	var current any = execCtx
	for _, segment := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
