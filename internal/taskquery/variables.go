package taskquery

import (
	"github.com/roach88/taskq/internal/criteria"
	"github.com/roach88/taskq/internal/taskerr"
	"github.com/roach88/taskq/internal/value"
)

// variable adds a variable condition. v may be a value.Value or a native Go
// value understood by value.Of; nil compares against null-valued variables.
func (q *Query) variable(field Field, op criteria.Operator, name string, v any) *Query {
	if q.err != nil {
		return q
	}
	if name == "" {
		return q.fail(taskerr.NullValue("variable name"))
	}
	val, err := value.Of(v)
	if err != nil {
		return q.fail(taskerr.UnsupportedType("variable %q: %v", name, err))
	}
	return q.AddCriterion(criteria.Criterion[Field]{Field: field, Name: name, Op: op, Operand: criteria.Literal{Value: val}})
}

func (q *Query) TaskVariableValueEquals(name string, v any) *Query {
	return q.variable(FieldTaskVariable, eq, name, v)
}
func (q *Query) TaskVariableValueNotEquals(name string, v any) *Query {
	return q.variable(FieldTaskVariable, neq, name, v)
}
func (q *Query) TaskVariableValueGreaterThan(name string, v any) *Query {
	return q.variable(FieldTaskVariable, gt, name, v)
}
func (q *Query) TaskVariableValueGreaterThanOrEquals(name string, v any) *Query {
	return q.variable(FieldTaskVariable, gte, name, v)
}
func (q *Query) TaskVariableValueLessThan(name string, v any) *Query {
	return q.variable(FieldTaskVariable, lt, name, v)
}
func (q *Query) TaskVariableValueLessThanOrEquals(name string, v any) *Query {
	return q.variable(FieldTaskVariable, lte, name, v)
}
func (q *Query) TaskVariableValueLike(name string, pattern string) *Query {
	return q.variable(FieldTaskVariable, like, name, pattern)
}
func (q *Query) TaskVariableValueNotLike(name string, pattern string) *Query {
	return q.variable(FieldTaskVariable, nlike, name, pattern)
}

func (q *Query) ProcessVariableValueEquals(name string, v any) *Query {
	return q.variable(FieldProcessVariable, eq, name, v)
}
func (q *Query) ProcessVariableValueNotEquals(name string, v any) *Query {
	return q.variable(FieldProcessVariable, neq, name, v)
}
func (q *Query) ProcessVariableValueGreaterThan(name string, v any) *Query {
	return q.variable(FieldProcessVariable, gt, name, v)
}
func (q *Query) ProcessVariableValueGreaterThanOrEquals(name string, v any) *Query {
	return q.variable(FieldProcessVariable, gte, name, v)
}
func (q *Query) ProcessVariableValueLessThan(name string, v any) *Query {
	return q.variable(FieldProcessVariable, lt, name, v)
}
func (q *Query) ProcessVariableValueLessThanOrEquals(name string, v any) *Query {
	return q.variable(FieldProcessVariable, lte, name, v)
}
func (q *Query) ProcessVariableValueLike(name string, pattern string) *Query {
	return q.variable(FieldProcessVariable, like, name, pattern)
}
func (q *Query) ProcessVariableValueNotLike(name string, pattern string) *Query {
	return q.variable(FieldProcessVariable, nlike, name, pattern)
}

func (q *Query) CaseInstanceVariableValueEquals(name string, v any) *Query {
	return q.variable(FieldCaseInstanceVariable, eq, name, v)
}
func (q *Query) CaseInstanceVariableValueNotEquals(name string, v any) *Query {
	return q.variable(FieldCaseInstanceVariable, neq, name, v)
}
func (q *Query) CaseInstanceVariableValueGreaterThan(name string, v any) *Query {
	return q.variable(FieldCaseInstanceVariable, gt, name, v)
}
func (q *Query) CaseInstanceVariableValueGreaterThanOrEquals(name string, v any) *Query {
	return q.variable(FieldCaseInstanceVariable, gte, name, v)
}
func (q *Query) CaseInstanceVariableValueLessThan(name string, v any) *Query {
	return q.variable(FieldCaseInstanceVariable, lt, name, v)
}
func (q *Query) CaseInstanceVariableValueLessThanOrEquals(name string, v any) *Query {
	return q.variable(FieldCaseInstanceVariable, lte, name, v)
}
func (q *Query) CaseInstanceVariableValueLike(name string, pattern string) *Query {
	return q.variable(FieldCaseInstanceVariable, like, name, pattern)
}
func (q *Query) CaseInstanceVariableValueNotLike(name string, pattern string) *Query {
	return q.variable(FieldCaseInstanceVariable, nlike, name, pattern)
}

// checkVariableOperand rejects comparisons the value kind cannot support.
func checkVariableOperand(name string, op criteria.Operator, v value.Value) error {
	k := v.Kind()
	if !k.Comparable() {
		return taskerr.UnsupportedType("variables of type %s cannot be used in query criteria (variable %q)", k, name)
	}
	if op.Ordering() && !k.Orderable() {
		return taskerr.UnsupportedType("variables of type %s cannot be used with %q (variable %q)", k, op, name)
	}
	if op.Pattern() && !k.Matchable() {
		return taskerr.UnsupportedType("variables of type %s cannot be used with %q (variable %q)", k, op, name)
	}
	return nil
}
