// Package loop – jsonpath.go implements the restricted path lookup used by
// the API poll driver.
//
// Grammar:
//
//	path  = [ "$" ] { "." key | "[" int "]" }
//	key   = any run of characters except "." and "["
//
// "$" alone (or the empty path) selects the whole document. The grammar
// deliberately supports no wildcards, filters, or quoted keys.
package loop

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// pathStep is one segment of a parsed path: either a map key or an array index.
type pathStep struct {
	key   string
	index int
	isIdx bool
}

// parsePath tokenizes a path expression into steps. Syntax errors are
// configuration errors and surface as lastError at poll time.
func parsePath(path string) ([]pathStep, error) {
	s := strings.TrimSpace(path)
	if s == "$" || s == "" {
		return nil, nil
	}
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimPrefix(s, ".")

	var steps []pathStep
	for len(s) > 0 {
		switch {
		case s[0] == '[':
			end := strings.IndexByte(s, ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated index in path %q", path)
			}
			idx, err := strconv.Atoi(s[1:end])
			if err != nil {
				return nil, fmt.Errorf("non-integer index %q in path %q", s[1:end], path)
			}
			steps = append(steps, pathStep{index: idx, isIdx: true})
			s = s[end+1:]
			s = strings.TrimPrefix(s, ".")
		case s[0] == '.':
			return nil, fmt.Errorf("empty key in path %q", path)
		default:
			end := strings.IndexAny(s, ".[")
			if end < 0 {
				end = len(s)
			}
			steps = append(steps, pathStep{key: s[:end]})
			if end < len(s) && s[end] == '.' {
				s = s[end+1:]
				if s == "" {
					return nil, fmt.Errorf("trailing dot in path %q", path)
				}
			} else {
				s = s[end:]
			}
		}
	}
	return steps, nil
}

// lookupPath extracts the value at path from a decoded JSON document.
// Returns (nil, false, nil) when the path does not resolve; a non-nil error
// means the path itself is malformed.
func lookupPath(doc any, path string) (any, bool, error) {
	steps, err := parsePath(path)
	if err != nil {
		return nil, false, err
	}
	cur := doc
	for _, st := range steps {
		if st.isIdx {
			arr, ok := cur.([]any)
			if !ok || st.index < 0 || st.index >= len(arr) {
				return nil, false, nil
			}
			cur = arr[st.index]
			continue
		}
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false, nil
		}
		cur, ok = obj[st.key]
		if !ok {
			return nil, false, nil
		}
	}
	return cur, true, nil
}

// truthy applies boolean coercion: nil, false, 0, "", empty containers and
// the strings "false"/"0" are falsy, everything else truthy.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		s := strings.TrimSpace(strings.ToLower(t))
		return s != "" && s != "false" && s != "0"
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

// stringify renders an extracted value as a string for equals/contains
// comparison and for template variables. Scalars render bare, composites as
// compact JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// evalPredicate applies the configured 3-way predicate to an extracted value.
// An unset op defaults to truthy.
func evalPredicate(op Op, v any, found bool, expected string) bool {
	switch op {
	case OpEquals:
		return found && stringify(v) == expected
	case OpContains:
		return found && strings.Contains(stringify(v), expected)
	default: // OpTruthy
		return found && truthy(v)
	}
}
