// Package expression evaluates the small condition and field-update language embedded in
// workflow step configuration. Evaluation never fails: references that cannot be resolved
// yield Undefined, which every condition treats as false.
package expression

import (
	"encoding/json"
	"strings"
)

type undefined struct{}

func (undefined) String() string { return "<undefined>" }

// Undefined is the value of a reference that does not resolve
var Undefined interface{} = undefined{}

// IsUndefined reports whether v is the Undefined sentinel
func IsUndefined(v interface{}) bool {
	_, ok := v.(undefined)
	return ok
}

// Scope is the data visible to expressions: the process context and the instance variables
type Scope struct {
	Context   map[string]interface{}
	Variables map[string]interface{}
}

// Lookup resolves a dotted path. Paths rooted at "context." read the process context, paths
// rooted at "vars." or "variables." read instance variables, and bare names try variables first.
func (s Scope) Lookup(path string) interface{} {
	path = strings.TrimSpace(path)
	if path == "" {
		return Undefined
	}

	parts := strings.Split(path, ".")
	switch parts[0] {
	case "context":
		return walk(s.Context, parts[1:])
	case "vars", "variables":
		return walk(s.Variables, parts[1:])
	}

	if v := walk(s.Variables, parts); !IsUndefined(v) {
		return v
	}
	return walk(s.Context, parts)
}

func walk(root map[string]interface{}, parts []string) interface{} {
	if root == nil || len(parts) == 0 {
		return Undefined
	}

	var current interface{} = root
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return Undefined
		}
		next, ok := m[part]
		if !ok {
			return Undefined
		}
		current = next
	}
	if current == nil {
		return Undefined
	}
	return current
}

// toFloat normalizes the numeric shapes produced by Go literals and JSON decoding
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
