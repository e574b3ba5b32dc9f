package expression

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScope() Scope {
	return Scope{
		Context: map[string]interface{}{
			"department": "Engineering",
			"level":      float64(5),
			"employee": map[string]interface{}{
				"name":   "Dana",
				"remote": true,
			},
			"equipment": []interface{}{"laptop", "badge"},
		},
		Variables: map[string]interface{}{
			"approved": true,
			"count":    int64(3),
		},
	}
}

func TestScope_Lookup(t *testing.T) {
	s := testScope()

	assert.Equal(t, "Engineering", s.Lookup("context.department"))
	assert.Equal(t, "Dana", s.Lookup("context.employee.name"))
	assert.Equal(t, true, s.Lookup("vars.approved"))
	assert.Equal(t, int64(3), s.Lookup("variables.count"))
	assert.Equal(t, int64(3), s.Lookup("count"))
	assert.Equal(t, "Engineering", s.Lookup("department"))

	assert.True(t, IsUndefined(s.Lookup("context.missing")))
	assert.True(t, IsUndefined(s.Lookup("context.department.name")))
	assert.True(t, IsUndefined(s.Lookup("")))
	assert.True(t, IsUndefined(Scope{}.Lookup("vars.anything")))
}

func TestCondition_Evaluate(t *testing.T) {
	s := testScope()

	tests := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"nil condition", nil, true},
		{"string eq", &Condition{Op: OpEq, Left: Ref("context.department"), Right: Lit("Engineering")}, true},
		{"string ne", &Condition{Op: OpNe, Left: Ref("context.department"), Right: Lit("Sales")}, true},
		{"numeric eq across types", &Condition{Op: OpEq, Left: Ref("vars.count"), Right: Lit(3)}, true},
		{"gt", &Condition{Op: OpGt, Left: Ref("context.level"), Right: Lit(4)}, true},
		{"lte false", &Condition{Op: OpLte, Left: Ref("context.level"), Right: Lit(4)}, false},
		{"contains slice", &Condition{Op: OpContains, Left: Ref("context.equipment"), Right: Lit("badge")}, true},
		{"contains substring", &Condition{Op: OpContains, Left: Ref("context.department"), Right: Lit("gineer")}, true},
		{"in", &Condition{Op: OpIn, Left: Lit("laptop"), Right: Ref("context.equipment")}, true},
		{"exists", &Condition{Op: OpExists, Left: Ref("vars.approved")}, true},
		{"exists missing", &Condition{Op: OpExists, Left: Ref("vars.nope")}, false},
		{"undefined eq is false", &Condition{Op: OpEq, Left: Ref("vars.nope"), Right: Lit("x")}, false},
		{"undefined ne is false", &Condition{Op: OpNe, Left: Ref("vars.nope"), Right: Lit("x")}, false},
		{"negated undefined stays false", &Condition{Op: OpEq, Left: Ref("vars.nope"), Right: Lit("x"), Negate: true}, false},
		{"negated defined", &Condition{Op: OpEq, Left: Ref("vars.approved"), Right: Lit(false), Negate: true}, true},
		{"incomparable types", &Condition{Op: OpGt, Left: Ref("context.department"), Right: Lit(1)}, false},
		{"unknown op", &Condition{Op: Op("matches"), Left: Lit("a"), Right: Lit("a")}, false},
		{"all", &Condition{All: []Condition{
			{Op: OpEq, Left: Ref("vars.approved"), Right: Lit(true)},
			{Op: OpEq, Left: Ref("context.employee.remote"), Right: Lit(true)},
		}}, true},
		{"any", &Condition{Any: []Condition{
			{Op: OpEq, Left: Ref("vars.nope"), Right: Lit(true)},
			{Op: OpGte, Left: Ref("vars.count"), Right: Lit(3)},
		}}, true},
		{"all with failing member", &Condition{All: []Condition{
			{Op: OpEq, Left: Ref("vars.approved"), Right: Lit(true)},
			{Op: OpEq, Left: Ref("context.department"), Right: Lit("Sales")},
		}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Evaluate(s))
		})
	}
}

func TestCondition_JSONRoundTripEvaluates(t *testing.T) {
	raw := `{"op":"gte","left":{"kind":"ref","path":"vars.count"},"right":{"kind":"literal","value":2}}`

	var cond Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &cond))
	assert.True(t, cond.Evaluate(testScope()))
}

func TestResolveUpdates(t *testing.T) {
	updates := []FieldUpdate{
		{Field: "department", Value: Ref("context.department")},
		{Field: "status", Value: Lit("IN_PROGRESS")},
		{Field: "manager", Value: Ref("context.manager")},
		{Field: "", Value: Lit("ignored")},
	}

	fields := ResolveUpdates(updates, testScope())

	assert.Equal(t, map[string]interface{}{
		"department": "Engineering",
		"status":     "IN_PROGRESS",
	}, fields)
}

func TestInterpolate(t *testing.T) {
	got := Interpolate("Welcome {{ context.employee.name }} to {{context.department}}{{vars.missing}}!", testScope())
	assert.Equal(t, "Welcome Dana to Engineering!", got)
}
