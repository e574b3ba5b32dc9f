package port

import "context"

// Fields is a flat record body. Values are JSON-compatible; "id" is reserved.
type Fields map[string]interface{}

// Operator is a field comparison supported by QueryRecords
type Operator string

const (
	OpEq      Operator = "eq"
	OpNe      Operator = "ne"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpIn      Operator = "in"
	OpNull    Operator = "null"
	OpNotNull Operator = "not_null"
)

// Condition compares one field against a value. Value is ignored by null and not_null.
// Values may be strings, numbers, bools, time.Time or, for in, a slice of those.
type Condition struct {
	Field string
	Op    Operator
	Value interface{}
}

// Order sorts by one field
type Order struct {
	Field string
	Desc  bool
}

// Query is a conjunction of conditions with optional projection, ordering and limit
type Query struct {
	Filter  []Condition
	Select  []string
	OrderBy []Order
	Top     int
}

// RecordStore is the generic record persistence collaborator. Updates are field-level:
// fields not named in an update keep their stored value.
type RecordStore interface {
	AddRecord(ctx context.Context, collection string, fields Fields) (int64, error)
	UpdateRecord(ctx context.Context, collection string, id int64, fields Fields) error
	// GetRecord returns failure.ErrNotFound when the record does not exist
	GetRecord(ctx context.Context, collection string, id int64, selectFields ...string) (Fields, error)
	QueryRecords(ctx context.Context, collection string, q Query) ([]Fields, error)
}

// Eq builds an equality condition
func Eq(field string, value interface{}) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

// In builds a membership condition
func In(field string, values interface{}) Condition {
	return Condition{Field: field, Op: OpIn, Value: values}
}

// Lt builds a less-than condition
func Lt(field string, value interface{}) Condition {
	return Condition{Field: field, Op: OpLt, Value: value}
}

// Gt builds a greater-than condition
func Gt(field string, value interface{}) Condition {
	return Condition{Field: field, Op: OpGt, Value: value}
}

// IsNull matches missing or null fields
func IsNull(field string) Condition {
	return Condition{Field: field, Op: OpNull}
}

// NotNull matches present, non-null fields
func NotNull(field string) Condition {
	return Condition{Field: field, Op: OpNotNull}
}
