package querysql

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/taskq/internal/criteria"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskquery"
	"github.com/roach88/taskq/internal/value"
)

func render(sql string, params []any) []byte {
	var sb strings.Builder
	sb.WriteString(sql)
	sb.WriteString("\n-- params:")
	for _, p := range params {
		fmt.Fprintf(&sb, " %T:%v", p, p)
	}
	sb.WriteString("\n")
	return []byte(sb.String())
}

func assertGolden(t *testing.T, name, sql string, params []any) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, render(sql, params))
}

func TestCompile_Golden(t *testing.T) {
	stamp := value.DateFromMillis(1714979289000)

	tests := []struct {
		name  string
		count bool
		r     *taskquery.Resolved
	}{
		{
			name: "list_assignee_priority",
			r: &taskquery.Resolved{
				Where: []taskquery.Term{
					taskquery.FieldTerm{Field: taskquery.FieldAssignee, Op: criteria.Equals, Value: value.String("kermit")},
					taskquery.FieldTerm{Field: taskquery.FieldPriority, Op: criteria.GreaterThanOrEquals, Value: value.Integer(50)},
				},
				Orders: []taskquery.Order{{Property: taskquery.OrderByDueDate, Direction: taskquery.Descending}},
			},
		},
		{
			name:  "count_candidates_or_group",
			count: true,
			r: &taskquery.Resolved{
				Where: []taskquery.Term{
					taskquery.CandidateUserTerm{User: "kermit", Groups: []string{"management", "accountancy"}, Unassigned: true},
				},
				Groups: [][]taskquery.Term{{
					taskquery.CandidateGroupTerm{Op: criteria.In, Groups: []string{"sales"}},
					taskquery.InvolvedUserTerm{User: "fozzie"},
				}},
			},
		},
		{
			name: "list_variables_page",
			r: &taskquery.Resolved{
				Where: []taskquery.Term{
					taskquery.VariableTerm{Scope: model.ScopeProcess, Name: "amount", Op: criteria.GreaterThan, Value: value.Long(100)},
					taskquery.VariableTerm{Scope: model.ScopeTask, Name: "label", Op: criteria.Like, Value: value.String("INV%")},
				},
				Orders: []taskquery.Order{{
					Property:  taskquery.OrderByVariable,
					Direction: taskquery.Ascending,
					Variable:  &taskquery.VariableOrder{Scope: model.ScopeProcess, Name: "amount", Kind: value.KindLong},
				}},
				Page:                     &taskquery.Page{First: 10, Max: 5},
				VariableValuesIgnoreCase: true,
			},
		},
		{
			name: "list_special_fields",
			r: &taskquery.Resolved{
				Where: []taskquery.Term{
					taskquery.FieldTerm{Field: taskquery.FieldUpdatedAfter, Op: criteria.GreaterThan, Value: stamp},
					taskquery.FieldTerm{Field: taskquery.FieldFollowUpBeforeOrNotExistent, Op: criteria.LessThan, Value: stamp},
					taskquery.FieldTerm{Field: taskquery.FieldTaskDefinitionKey, Op: criteria.NotIn, Values: []value.Value{value.String("a"), value.String("b")}},
					taskquery.FieldTerm{Field: taskquery.FieldName, Op: criteria.NotLike, Value: value.String("x%")},
					taskquery.FieldTerm{Field: taskquery.FieldParentTaskID, Op: criteria.IsNull},
					taskquery.CandidatePresenceTerm{Groups: true, Present: false},
					taskquery.FalseTerm{},
				},
				Orders: []taskquery.Order{{Property: taskquery.OrderByNameCaseInsensitive, Direction: taskquery.Ascending}},
			},
		},
	}

	c := NewSQLCompiler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compile := c.CompileList
			if tt.count {
				compile = c.CompileCount
			}
			sql, params, err := compile(tt.r)
			require.NoError(t, err)
			assertGolden(t, tt.name, sql, params)
		})
	}
}

func TestCompile_NoStringInterpolation(t *testing.T) {
	r := &taskquery.Resolved{
		Where: []taskquery.Term{
			taskquery.FieldTerm{Field: taskquery.FieldName, Op: criteria.Equals, Value: value.String("'; DROP TABLE tasks; --")},
			taskquery.VariableTerm{Scope: model.ScopeTask, Name: "secret", Op: criteria.Equals, Value: value.String("hunter2")},
		},
	}
	sql, params, err := NewSQLCompiler().CompileList(r)
	require.NoError(t, err)
	assert.NotContains(t, sql, "DROP")
	assert.NotContains(t, sql, "hunter2")
	assert.NotContains(t, sql, "secret")
	assert.Contains(t, params, "'; DROP TABLE tasks; --")
}

func TestCompile_OrderByMandatory(t *testing.T) {
	cases := []*taskquery.Resolved{
		{},
		{Where: []taskquery.Term{taskquery.FalseTerm{}}},
		{Orders: []taskquery.Order{{Property: taskquery.OrderByPriority, Direction: taskquery.Descending}}},
	}
	for _, r := range cases {
		sql, _, err := NewSQLCompiler().CompileList(r)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(sql, "T.id ASC COLLATE BINARY"), sql)
	}
}

func TestCompile_NumericVariableForms(t *testing.T) {
	tests := []struct {
		name   string
		op     criteria.Operator
		v      value.Value
		sql    string
		params []any
	}{
		{"exact equals", criteria.Equals, value.Integer(123), "V.long_value = ?", []any{int64(123)}},
		{"integral double equals", criteria.Equals, value.Double(123.0), "V.long_value = ?", []any{int64(123)}},
		{"fractional equals", criteria.Equals, value.Double(42.4), "(V.long_value IS NULL AND V.double_value = ?)", []any{42.4}},
		{"exact not equals", criteria.NotEquals, value.Short(7), "(V.long_value IS NULL OR V.long_value <> ?)", []any{int64(7)}},
		{"fractional not equals", criteria.NotEquals, value.Double(0.5), "(V.long_value IS NOT NULL OR V.double_value <> ?)", []any{0.5}},
		{"fractional ordering", criteria.LessThanOrEquals, value.Double(1.5), "V.double_value <= ?", []any{1.5}},
		{"huge double ordering", criteria.GreaterThan, value.Double(1e19), "V.double_value > ?", []any{1e19}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &taskquery.Resolved{Where: []taskquery.Term{
				taskquery.VariableTerm{Scope: model.ScopeTask, Name: "n", Op: tt.op, Value: tt.v},
			}}
			sql, params, err := NewSQLCompiler().CompileCount(r)
			require.NoError(t, err)
			assert.Contains(t, sql, numericTypes+" AND "+tt.sql+")")
			assert.Equal(t, append([]any{"task", "n"}, tt.params...), params)
		})
	}
}

func TestCompile_VariableNamesIgnoreCase(t *testing.T) {
	r := &taskquery.Resolved{
		Where: []taskquery.Term{
			taskquery.VariableTerm{Scope: model.ScopeCase, Name: "Amount", Op: criteria.Equals, Value: value.Boolean(true)},
		},
		VariableNamesIgnoreCase: true,
	}
	sql, params, err := NewSQLCompiler().CompileCount(r)
	require.NoError(t, err)
	assert.Contains(t, sql, "V.scope_id = T.case_instance_id AND fold(V.name) = ? AND V.type = 'boolean' AND V.long_value = ?")
	assert.Equal(t, []any{"case", "amount", int64(1)}, params)
}

func TestCompile_Errors(t *testing.T) {
	c := NewSQLCompiler()

	_, _, err := c.CompileList(nil)
	assert.Error(t, err)

	_, _, err = c.CompileCount(&taskquery.Resolved{Where: []taskquery.Term{
		taskquery.VariableTerm{Scope: model.ScopeTask, Name: "b", Op: criteria.GreaterThan, Value: value.Boolean(true)},
	}})
	assert.Error(t, err)

	_, _, err = c.CompileList(&taskquery.Resolved{Orders: []taskquery.Order{{
		Property:  taskquery.OrderByVariable,
		Direction: taskquery.Ascending,
		Variable:  &taskquery.VariableOrder{Scope: model.ScopeTask, Name: "b", Kind: value.KindBytes},
	}}})
	assert.Error(t, err)
}

func TestParam(t *testing.T) {
	tests := []struct {
		in   value.Value
		want any
	}{
		{value.String("a"), "a"},
		{value.Boolean(true), int64(1)},
		{value.Boolean(false), int64(0)},
		{value.Integer(5), int64(5)},
		{value.Double(2.5), 2.5},
		{value.DateFromMillis(1000), int64(1000)},
		{value.Null{}, nil},
	}
	for _, tt := range tests {
		got, err := Param(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := Param(value.Bytes("x"))
	assert.Error(t, err)
}
