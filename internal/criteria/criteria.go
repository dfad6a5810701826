// Package criteria provides the generic criterion model used by entity
// queries.
//
// A Criterion is one named predicate: a field, an operator and an operand.
// The operand is a sealed sum type, so a field holds either a literal, a set
// of literals, a deferred expression, or nothing (for null checks and
// presence toggles). A Set keeps criteria in insertion order and gives every
// (field, name, operator) slot last-write-wins semantics: setting a literal
// after an expression for the same slot replaces it, and vice versa.
//
// The package is parameterized by the entity's field enum so that one
// implementation serves every query type.
package criteria

import (
	"fmt"
	"strings"

	"github.com/roach88/taskq/internal/value"
)

// Operator is a comparison applied by a criterion.
type Operator string

const (
	Equals              Operator = "="
	NotEquals           Operator = "!="
	Like                Operator = "like"
	NotLike             Operator = "not like"
	GreaterThan         Operator = ">"
	GreaterThanOrEquals Operator = ">="
	LessThan            Operator = "<"
	LessThanOrEquals    Operator = "<="
	In                  Operator = "in"
	NotIn               Operator = "not in"
	IsNull              Operator = "is null"
	IsNotNull           Operator = "is not null"
)

// ParseOperator parses an operator name. Symbolic and word forms are
// accepted ("=", "eq", "like", "gteq", ...).
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "=", "==", "eq", "equals":
		return Equals, nil
	case "!=", "<>", "neq", "notequals":
		return NotEquals, nil
	case "like":
		return Like, nil
	case "not like", "notlike":
		return NotLike, nil
	case ">", "gt":
		return GreaterThan, nil
	case ">=", "gteq":
		return GreaterThanOrEquals, nil
	case "<", "lt":
		return LessThan, nil
	case "<=", "lteq":
		return LessThanOrEquals, nil
	case "in":
		return In, nil
	case "not in", "notin":
		return NotIn, nil
	case "is null", "isnull", "null":
		return IsNull, nil
	case "is not null", "isnotnull", "notnull":
		return IsNotNull, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

// Ordering reports whether the operator needs orderable operands.
func (o Operator) Ordering() bool {
	switch o {
	case GreaterThan, GreaterThanOrEquals, LessThan, LessThanOrEquals:
		return true
	}
	return false
}

// Pattern reports whether the operator is a LIKE variant.
func (o Operator) Pattern() bool {
	return o == Like || o == NotLike
}

// Membership reports whether the operator takes a set operand.
func (o Operator) Membership() bool {
	return o == In || o == NotIn
}

// NullCheck reports whether the operator takes no operand.
func (o Operator) NullCheck() bool {
	return o == IsNull || o == IsNotNull
}

// Operand is the right-hand side of a criterion.
//
// This is a sealed interface. Implementations: Literal, Values, Expression
// and None.
type Operand interface {
	operand() // Sealed
}

// Literal is a single value known at construction time.
type Literal struct {
	Value value.Value
}

func (Literal) operand() {}

// Values is a non-empty set of literal values for In and NotIn.
type Values struct {
	Values []value.Value
}

func (Values) operand() {}

// Expression is resolved against the runtime context on every execution.
type Expression struct {
	Text string
}

func (Expression) operand() {}

// None marks operand-free criteria such as null checks.
type None struct{}

func (None) operand() {}

// Criterion is one predicate over an entity field.
//
// Name qualifies fields that address a family of values, such as the
// variable name of a variable condition; it is empty for plain fields.
type Criterion[F comparable] struct {
	Field   F
	Name    string
	Op      Operator
	Operand Operand
}

// Slot identifies the position a criterion occupies for last-write-wins.
type Slot[F comparable] struct {
	Field F
	Name  string
	Op    Operator
}

// Slot returns the criterion's slot.
func (c Criterion[F]) Slot() Slot[F] {
	return Slot[F]{Field: c.Field, Name: c.Name, Op: c.Op}
}

// IsExpression reports whether the criterion is deferred.
func (c Criterion[F]) IsExpression() bool {
	_, ok := c.Operand.(Expression)
	return ok
}

// String renders the criterion for logs and diagnostics.
func (c Criterion[F]) String() string {
	field := fmt.Sprint(c.Field)
	if c.Name != "" {
		field = fmt.Sprintf("%s[%s]", field, c.Name)
	}
	switch o := c.Operand.(type) {
	case Literal:
		return fmt.Sprintf("%s %s %s", field, c.Op, value.Format(o.Value))
	case Values:
		return fmt.Sprintf("%s %s %s", field, c.Op, value.Format(value.List(o.Values)))
	case Expression:
		return fmt.Sprintf("%s %s %s", field, c.Op, o.Text)
	}
	return fmt.Sprintf("%s %s", field, c.Op)
}
