package expression

import (
	"fmt"
	"reflect"
	"strings"
)

// Op is a comparison operator
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpContains Op = "contains"
	OpIn       Op = "in"
	OpExists   Op = "exists"
)

// Condition is either a leaf comparison (Op, Left, Right) or a group (All / Any).
// Negate inverts a leaf only when both of its operands resolved.
type Condition struct {
	Op     Op          `json:"op,omitempty"`
	Left   Operand     `json:"left,omitempty"`
	Right  Operand     `json:"right,omitempty"`
	All    []Condition `json:"all,omitempty"`
	Any    []Condition `json:"any,omitempty"`
	Negate bool        `json:"negate,omitempty"`
}

// Evaluate returns the truth of c in scope. A nil condition is true.
func (c *Condition) Evaluate(s Scope) bool {
	if c == nil {
		return true
	}

	if len(c.All) > 0 || len(c.Any) > 0 {
		for i := range c.All {
			if !c.All[i].Evaluate(s) {
				return false
			}
		}
		if len(c.Any) == 0 {
			return true
		}
		for i := range c.Any {
			if c.Any[i].Evaluate(s) {
				return true
			}
		}
		return false
	}

	result, defined := c.leaf(s)
	if !defined {
		return false
	}
	if c.Negate {
		return !result
	}
	return result
}

func (c *Condition) leaf(s Scope) (bool, bool) {
	left := c.Left.Resolve(s)
	if c.Op == OpExists {
		return !IsUndefined(left), true
	}

	right := c.Right.Resolve(s)
	if IsUndefined(left) || IsUndefined(right) {
		return false, false
	}

	switch c.Op {
	case OpEq:
		return equal(left, right), true
	case OpNe:
		return !equal(left, right), true
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := compare(left, right)
		if !ok {
			return false, false
		}
		switch c.Op {
		case OpGt:
			return cmp > 0, true
		case OpGte:
			return cmp >= 0, true
		case OpLt:
			return cmp < 0, true
		default:
			return cmp <= 0, true
		}
	case OpContains:
		return contains(left, right), true
	case OpIn:
		return contains(right, left), true
	}
	return false, false
}

func equal(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	as, ok := a.(string)
	if !ok {
		return 0, false
	}
	bs, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(as, bs), true
}

// contains reports whether container holds item: substring for strings, membership for
// slices and arrays, key presence for maps
func contains(container, item interface{}) bool {
	if s, ok := container.(string); ok {
		return strings.Contains(s, fmt.Sprint(item))
	}

	rv := reflect.ValueOf(container)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if equal(rv.Index(i).Interface(), item) {
				return true
			}
		}
	case reflect.Map:
		key, ok := item.(string)
		if !ok || rv.Type().Key().Kind() != reflect.String {
			return false
		}
		return rv.MapIndex(reflect.ValueOf(key)).IsValid()
	}
	return false
}
