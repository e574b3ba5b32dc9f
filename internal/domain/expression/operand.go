package expression

// OperandKind tags the variant held by an Operand
type OperandKind string

const (
	OperandLiteral OperandKind = "literal"
	OperandRef     OperandKind = "ref"
)

// Operand is either a literal value or a reference into the Scope
type Operand struct {
	Kind  OperandKind `json:"kind"`
	Value interface{} `json:"value,omitempty"`
	Path  string      `json:"path,omitempty"`
}

// Lit builds a literal operand
func Lit(v interface{}) Operand {
	return Operand{Kind: OperandLiteral, Value: v}
}

// Ref builds a reference operand
func Ref(path string) Operand {
	return Operand{Kind: OperandRef, Path: path}
}

// Resolve returns the operand's value in scope, or Undefined
func (o Operand) Resolve(s Scope) interface{} {
	switch o.Kind {
	case OperandLiteral:
		if o.Value == nil {
			return Undefined
		}
		return o.Value
	case OperandRef:
		return s.Lookup(o.Path)
	}
	return Undefined
}

// IsZero reports whether the operand was left unset
func (o Operand) IsZero() bool {
	return o.Kind == "" && o.Value == nil && o.Path == ""
}

// FieldUpdate describes one field of a generic record mutation
type FieldUpdate struct {
	Field string  `json:"field" validate:"required"`
	Value Operand `json:"value"`
}

// ResolveUpdates evaluates every descriptor against scope. Fields whose value is Undefined
// are left out so an unresolved reference never overwrites stored data.
func ResolveUpdates(updates []FieldUpdate, s Scope) map[string]interface{} {
	fields := make(map[string]interface{}, len(updates))
	for _, u := range updates {
		if u.Field == "" {
			continue
		}
		v := u.Value.Resolve(s)
		if IsUndefined(v) {
			continue
		}
		fields[u.Field] = v
	}
	return fields
}
