package models

import (
	"fmt"
	"strings"
)

// Lookup returns the value at a dotted field path. A key containing a literal
// dot takes precedence over descending into nested objects.
func Lookup(data map[string]interface{}, path string) (interface{}, bool) {
	if data == nil || path == "" {
		return nil, false
	}
	if v, ok := data[path]; ok {
		return v, true
	}

	parts := strings.Split(path, ".")
	var current interface{} = data
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Assign sets the value at a dotted field path, creating intermediate objects.
// It fails if an intermediate value exists but is not an object.
func Assign(data map[string]interface{}, path string, value interface{}) error {
	if data == nil {
		return fmt.Errorf("assign %q: nil record", path)
	}
	if path == "" {
		return fmt.Errorf("assign: empty field path")
	}
	if _, ok := data[path]; ok || !strings.Contains(path, ".") {
		data[path] = value
		return nil
	}

	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, exists := current[part]
		if !exists || next == nil {
			child := make(map[string]interface{})
			current[part] = child
			current = child
			continue
		}
		child, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("assign %q: %q is %T, not an object", path, part, next)
		}
		current = child
	}
	current[parts[len(parts)-1]] = value
	return nil
}

// CloneRecord deep-copies the JSON-shaped parts of a record (objects and
// arrays). Scalars are copied by value.
func CloneRecord(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneRecord(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
