package mapping

import (
	"fmt"
	"strings"
)

// ValidatePath checks a path expression is syntactically well-formed:
// dot-separated, non-empty segments.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path expression")
	}
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return fmt.Errorf("path %q has an empty segment", path)
		}
	}
	return nil
}

// LookupPath resolves a dot-separated path against a decoded payload.
// Intermediate segments must be nested objects; the second return is false
// when any segment is absent or a non-object is traversed into.
func LookupPath(input map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = input
	for _, segment := range segments {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// pathLeaf returns the last segment of a path, used as the binding name for
// script read-sets.
func pathLeaf(path string) string {
	if i := strings.LastIndex(path, "."); i >= 0 {
		return path[i+1:]
	}
	return path
}
