package taskquery

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/taskq/internal/criteria"
	"github.com/roach88/taskq/internal/expr"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskerr"
	"github.com/roach88/taskq/internal/value"
)

// Term is one resolved, expression-free predicate.
//
// This is a sealed interface. Implementations: FieldTerm,
// CandidateUserTerm, CandidateGroupTerm, CandidatePresenceTerm,
// InvolvedUserTerm, VariableTerm and FalseTerm.
type Term interface {
	term() // Sealed
}

// FieldTerm compares a task attribute. Value is set for single-valued
// operators, Values for In and NotIn, neither for null checks.
type FieldTerm struct {
	Field  Field
	Op     criteria.Operator
	Value  value.Value
	Values []value.Value
}

// CandidateUserTerm matches tasks with a candidate link to User or to one of
// Groups.
type CandidateUserTerm struct {
	User       string
	Groups     []string
	Unassigned bool
}

// CandidateGroupTerm matches tasks with a candidate group link whose group
// is one of Groups (Op in) or matches Pattern (Op like).
type CandidateGroupTerm struct {
	Op         criteria.Operator
	Groups     []string
	Pattern    string
	Unassigned bool
}

// CandidatePresenceTerm checks whether any candidate group (Groups) or
// candidate user (!Groups) link exists.
type CandidatePresenceTerm struct {
	Groups     bool
	Present    bool
	Unassigned bool
}

// InvolvedUserTerm matches tasks the user is assignee or owner of, or has
// any identity link to.
type InvolvedUserTerm struct {
	User string
}

// VariableTerm compares a variable of the task's scope owner.
type VariableTerm struct {
	Scope model.VariableScope
	Name  string
	Op    criteria.Operator
	Value value.Value
}

// FalseTerm matches nothing.
type FalseTerm struct{}

func (FieldTerm) term()             {}
func (CandidateUserTerm) term()     {}
func (CandidateGroupTerm) term()    {}
func (CandidatePresenceTerm) term() {}
func (InvolvedUserTerm) term()      {}
func (VariableTerm) term()          {}
func (FalseTerm) term()             {}

// Resolved is the input of an Executor: the conjunction Where, ANDed with
// every group of Groups, each group being a disjunction of its terms.
// It never contains expressions.
type Resolved struct {
	Where  []Term
	Groups [][]Term
	Orders []Order
	Page   *Page

	VariableNamesIgnoreCase  bool
	VariableValuesIgnoreCase bool
	InitializeFormKeys       bool
}

// Resolve validates the query and evaluates every expression against ec.
func (q *Query) Resolve(ctx context.Context, ec expr.Context) (*Resolved, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.inOr() {
		return nil, taskerr.InvalidUsage("query has an open 'or' group, call endOr() before executing")
	}
	for _, o := range q.orders {
		if o.Direction == "" {
			return nil, taskerr.InvalidUsage("call asc() or desc() after using orderBy %s", o.Property)
		}
	}

	r := &Resolved{
		Orders:                   q.Orders(),
		Page:                     q.CurrentPage(),
		VariableNamesIgnoreCase:  q.variableNamesIgnoreCase,
		VariableValuesIgnoreCase: q.variableValuesIgnoreCase,
		InitializeFormKeys:       q.initializeFormKeys,
	}

	where, err := q.resolveTerms(ctx, ec, q.where.Effective(), true)
	if err != nil {
		return nil, err
	}
	r.Where = where

	for _, g := range q.ors {
		items := g.Effective()
		if len(items) == 0 {
			continue
		}
		terms, err := q.resolveTerms(ctx, ec, items, false)
		if err != nil {
			return nil, err
		}
		alts := slices.DeleteFunc(terms, func(t Term) bool {
			_, f := t.(FalseTerm)
			return f
		})
		if len(alts) == 0 {
			r.Where = append(r.Where, FalseTerm{})
			continue
		}
		r.Groups = append(r.Groups, alts)
	}
	return r, nil
}

// resolveTerms converts criteria to terms. In AND context candidate group
// equality and membership collapse into one term over their intersection.
func (q *Query) resolveTerms(ctx context.Context, ec expr.Context, items []criteria.Criterion[Field], and bool) ([]Term, error) {
	terms := make([]Term, 0, len(items))
	groupAt := -1
	for _, c := range items {
		t, err := q.resolveCriterion(ctx, ec, c)
		if err != nil {
			return nil, err
		}
		cg, isGroup := t.(CandidateGroupTerm)
		if and && isGroup && cg.Op == in {
			if groupAt >= 0 {
				prev, ok := terms[groupAt].(CandidateGroupTerm)
				if !ok {
					continue
				}
				prev.Groups = intersect(prev.Groups, cg.Groups)
				terms[groupAt] = prev
				if len(prev.Groups) == 0 {
					terms[groupAt] = FalseTerm{}
				}
				continue
			}
			groupAt = len(terms)
		}
		terms = append(terms, t)
	}
	return terms, nil
}

func (q *Query) resolveCriterion(ctx context.Context, ec expr.Context, c criteria.Criterion[Field]) (Term, error) {
	single, set, err := q.operand(ec, c)
	if err != nil {
		return nil, err
	}
	unassigned := !q.includeAssigned

	if scope, ok := c.Field.VariableScope(); ok {
		if err := checkVariableOperand(c.Name, c.Op, single); err != nil {
			return nil, err
		}
		return VariableTerm{Scope: scope, Name: c.Name, Op: c.Op, Value: single}, nil
	}

	switch c.Field {
	case FieldCandidateUser:
		user := string(single.(value.String))
		var groups []string
		if q.groups != nil {
			groups, err = q.groups.GroupsForUser(ctx, user)
			if err != nil {
				return nil, fmt.Errorf("resolve groups of candidate user %q: %w", user, err)
			}
		}
		return CandidateUserTerm{User: user, Groups: groups, Unassigned: unassigned}, nil

	case FieldCandidateGroup:
		switch c.Op {
		case like:
			return CandidateGroupTerm{Op: like, Pattern: string(single.(value.String)), Unassigned: unassigned}, nil
		case eq:
			return CandidateGroupTerm{Op: in, Groups: []string{string(single.(value.String))}, Unassigned: unassigned}, nil
		}
		groups := dedupe(stringsOf(set))
		if len(groups) == 0 {
			return FalseTerm{}, nil
		}
		return CandidateGroupTerm{Op: in, Groups: groups, Unassigned: unassigned}, nil

	case FieldCandidateGroups, FieldCandidateUsers:
		present := c.Op == isNotNull
		return CandidatePresenceTerm{
			Groups:     c.Field == FieldCandidateGroups,
			Present:    present,
			Unassigned: present && unassigned,
		}, nil

	case FieldInvolvedUser:
		return InvolvedUserTerm{User: string(single.(value.String))}, nil
	}

	if c.Op.Membership() {
		if len(set) == 0 {
			if c.Op == in {
				return FalseTerm{}, nil
			}
			return nil, taskerr.NullValue(string(c.Field) + " set")
		}
		return FieldTerm{Field: c.Field, Op: c.Op, Values: set}, nil
	}
	return FieldTerm{Field: c.Field, Op: c.Op, Value: single}, nil
}

// operand returns the literal operand of c, evaluating expressions.
func (q *Query) operand(ec expr.Context, c criteria.Criterion[Field]) (value.Value, []value.Value, error) {
	switch o := c.Operand.(type) {
	case criteria.Literal:
		return o.Value, nil, nil
	case criteria.Values:
		return nil, o.Values, nil
	case criteria.None:
		return nil, nil, nil
	case criteria.Expression:
		if q.evaluator == nil {
			return nil, nil, taskerr.Evaluation(o.Text, fmt.Errorf("no expression evaluator configured"))
		}
		v, err := q.evaluator.Evaluate(o.Text, ec)
		if err != nil {
			if taskerr.IsEvaluation(err) {
				return nil, nil, err
			}
			return nil, nil, taskerr.Evaluation(o.Text, err)
		}
		q.logger.Debug("resolved query expression", "field", c.Field, "expression", o.Text, "value", value.Format(v))

		kind := c.Field.Kind()
		if c.Op.Membership() {
			items, ok := v.(value.List)
			if !ok {
				items = value.List{v}
			}
			set := make([]value.Value, 0, len(items))
			for _, item := range items {
				cv, err := coerce(c.Field, kind, o.Text, item)
				if err != nil {
					return nil, nil, err
				}
				set = append(set, cv)
			}
			return nil, set, nil
		}
		cv, err := coerce(c.Field, kind, o.Text, v)
		return cv, nil, err
	}
	return nil, nil, taskerr.InvalidUsage("field %s: missing operand", c.Field)
}

// coerce converts an expression result to the field's kind.
func coerce(f Field, kind value.Kind, text string, v value.Value) (value.Value, error) {
	if v == nil || v.Kind() == value.KindNull {
		return nil, taskerr.NullValue(string(f) + " expression " + text)
	}
	switch kind {
	case value.KindDate:
		d, err := value.DateFrom(v)
		if err != nil {
			return nil, taskerr.Evaluation(text, err)
		}
		return d, nil
	case value.KindString:
		s, ok := v.(value.String)
		if !ok {
			return nil, taskerr.UnsupportedType("expression %s for %s returned %s, expected string", text, f, v.Kind())
		}
		if s == "" {
			return nil, taskerr.NullValue(string(f) + " expression " + text)
		}
		return s, nil
	}
	if v.Kind().Family() != kind.Family() {
		return nil, taskerr.UnsupportedType("expression %s for %s returned %s, expected %s", text, f, v.Kind(), kind)
	}
	return v, nil
}

func stringsOf(vs []value.Value) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		if s, ok := v.(value.String); ok {
			out = append(out, string(s))
		}
	}
	return out
}

func dedupe(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	out := ss[:0:0]
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func intersect(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, s := range a {
		if slices.Contains(b, s) {
			out = append(out, s)
		}
	}
	return out
}

// HasExcludingConditions reports whether the top-level terms contradict
// each other, so that the query cannot match any task.
func (r *Resolved) HasExcludingConditions() bool {
	fields := make(map[criteria.Slot[Field]]FieldTerm)
	for _, t := range r.Where {
		switch x := t.(type) {
		case FalseTerm:
			return true
		case FieldTerm:
			fields[criteria.Slot[Field]{Field: x.Field, Op: x.Op}] = x
		}
	}
	get := func(f Field, op criteria.Operator) (FieldTerm, bool) {
		t, ok := fields[criteria.Slot[Field]{Field: f, Op: op}]
		return t, ok
	}

	if excludedRange(get, FieldPriority, gte, lte, true) {
		return true
	}
	for _, f := range []Field{FieldDueDate, FieldFollowUpDate, FieldCreateTime} {
		if excludedRange(get, f, gt, lt, false) {
			return true
		}
	}
	for _, f := range []Field{FieldTaskID, FieldTaskDefinitionKey} {
		exact, ok := get(f, eq)
		if !ok {
			continue
		}
		if set, ok := get(f, in); ok && !containsValue(set.Values, exact.Value) {
			return true
		}
		if set, ok := get(f, notIn); ok && containsValue(set.Values, exact.Value) {
			return true
		}
	}
	return false
}

// excludedRange checks lower/upper bounds and an exact value of f against
// each other. Inclusive bounds allow lower == upper.
func excludedRange(get func(Field, criteria.Operator) (FieldTerm, bool), f Field, lowerOp, upperOp criteria.Operator, inclusive bool) bool {
	lower, hasLower := get(f, lowerOp)
	upper, hasUpper := get(f, upperOp)
	exact, hasExact := get(f, eq)

	cmpOf := func(a, b FieldTerm) int {
		c, err := value.Compare(a.Value, b.Value)
		if err != nil {
			return 0
		}
		return c
	}
	if hasLower && hasUpper {
		c := cmpOf(lower, upper)
		if c > 0 || (!inclusive && c == 0) {
			return true
		}
	}
	if hasExact && hasLower {
		c := cmpOf(exact, lower)
		if c < 0 || (!inclusive && c == 0) {
			return true
		}
	}
	if hasExact && hasUpper {
		c := cmpOf(exact, upper)
		if c > 0 || (!inclusive && c == 0) {
			return true
		}
	}
	return false
}

func containsValue(vs []value.Value, v value.Value) bool {
	for _, x := range vs {
		if ok, _ := value.Equal(x, v, false); ok {
			return true
		}
	}
	return false
}
