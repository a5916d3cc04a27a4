package delivery

import (
	"strconv"
	"strings"
)

// ResolvePath walks a dot-separated path through a nested order snapshot.
// Map segments are looked up by key; slice segments must be decimal indexes.
// It reports false on any missing or non-traversable intermediate node and never panics.
func ResolvePath(root any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}

	current := root
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil, false
		}
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case map[string]string:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// IsEmptyValue reports whether a resolved value counts as absent:
// nil or the empty string. Zero numbers and false are real values.
func IsEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	default:
		return false
	}
}
