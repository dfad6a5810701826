// Package memory evaluates resolved task queries over an in-memory dataset.
//
// It gives the same answers as the SQLite adapter: absent attributes never
// satisfy a comparison, absent ordering keys sort last in both directions
// and the task id breaks ties. The CLI uses it to cross-check the store and
// the conformance suite runs against both.
package memory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/roach88/taskq/internal/criteria"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskquery"
	"github.com/roach88/taskq/internal/value"
)

type scopeKey struct {
	scope model.VariableScope
	id    string
}

// Executor is a taskquery.Executor over a fixed dataset.
//
// Thread-safety: Executor never mutates its dataset after New and is safe
// for concurrent use.
type Executor struct {
	tasks     []model.Task
	links     map[string][]model.IdentityLink
	variables map[scopeKey][]model.Variable
	logger    *slog.Logger
}

var _ taskquery.Executor = (*Executor)(nil)

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New indexes ds. The dataset must not be modified afterwards.
func New(ds *model.Dataset, opts ...Option) *Executor {
	e := &Executor{
		tasks:     ds.Tasks,
		links:     make(map[string][]model.IdentityLink),
		variables: make(map[scopeKey][]model.Variable),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, l := range ds.Links {
		e.links[l.TaskID] = append(e.links[l.TaskID], l)
	}
	for _, v := range ds.Variables {
		k := scopeKey{v.Scope, v.ScopeID}
		e.variables[k] = append(e.variables[k], v)
	}
	return e
}

// Count returns the number of matching tasks.
func (e *Executor) Count(ctx context.Context, r *taskquery.Resolved) (int64, error) {
	matched, err := e.filter(ctx, r)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// List returns the matching tasks, ordered and paged as r requests.
func (e *Executor) List(ctx context.Context, r *taskquery.Resolved) ([]model.Task, error) {
	matched, err := e.filter(ctx, r)
	if err != nil {
		return nil, err
	}

	if err := e.sort(matched, r.Orders); err != nil {
		return nil, err
	}
	if r.Page != nil {
		matched = page(matched, *r.Page)
	}

	out := make([]model.Task, len(matched))
	for i, t := range matched {
		out[i] = t.Clone()
		if r.InitializeFormKeys {
			out[i].FormKeyInitialized = true
		} else {
			out[i].FormKey = ""
		}
	}
	e.logger.Debug("memory list", "matched", len(out))
	return out, nil
}

func page(tasks []*model.Task, p taskquery.Page) []*model.Task {
	if p.First >= len(tasks) {
		return nil
	}
	end := min(p.First+p.Max, len(tasks))
	return tasks[p.First:end]
}

func (e *Executor) filter(ctx context.Context, r *taskquery.Resolved) ([]*model.Task, error) {
	if r == nil {
		return nil, fmt.Errorf("cannot evaluate nil query")
	}
	var out []*model.Task
	for i := range e.tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := &e.tasks[i]
		ok, err := e.matches(t, r)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", t.ID, err)
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *Executor) matches(t *model.Task, r *taskquery.Resolved) (bool, error) {
	for _, term := range r.Where {
		ok, err := e.term(t, term, r)
		if err != nil || !ok {
			return false, err
		}
	}
	for _, g := range r.Groups {
		hit := false
		for _, term := range g {
			ok, err := e.term(t, term, r)
			if err != nil {
				return false, err
			}
			if ok {
				hit = true
				break
			}
		}
		if !hit {
			return false, nil
		}
	}
	return true, nil
}

func (e *Executor) term(t *model.Task, term taskquery.Term, r *taskquery.Resolved) (bool, error) {
	switch x := term.(type) {
	case taskquery.FieldTerm:
		return fieldMatch(t, x)
	case taskquery.CandidateUserTerm:
		if x.Unassigned && t.Assignee != "" {
			return false, nil
		}
		return e.anyCandidate(t, func(l model.IdentityLink) bool {
			return (l.UserID != "" && l.UserID == x.User) ||
				(l.GroupID != "" && slices.Contains(x.Groups, l.GroupID))
		}), nil
	case taskquery.CandidateGroupTerm:
		if x.Unassigned && t.Assignee != "" {
			return false, nil
		}
		return e.anyCandidate(t, func(l model.IdentityLink) bool {
			if l.GroupID == "" {
				return false
			}
			if x.Op == criteria.Like {
				return value.Like(l.GroupID, x.Pattern)
			}
			return slices.Contains(x.Groups, l.GroupID)
		}), nil
	case taskquery.CandidatePresenceTerm:
		if x.Unassigned && t.Assignee != "" {
			return false, nil
		}
		found := e.anyCandidate(t, func(l model.IdentityLink) bool {
			if x.Groups {
				return l.GroupID != ""
			}
			return l.UserID != ""
		})
		return found == x.Present, nil
	case taskquery.InvolvedUserTerm:
		if t.Assignee == x.User || t.Owner == x.User {
			return true, nil
		}
		for _, l := range e.links[t.ID] {
			if l.UserID == x.User {
				return true, nil
			}
		}
		return false, nil
	case taskquery.VariableTerm:
		return e.variableMatch(t, x, r)
	case taskquery.FalseTerm:
		return false, nil
	}
	return false, fmt.Errorf("unsupported term type: %T", term)
}

func (e *Executor) anyCandidate(t *model.Task, pred func(model.IdentityLink) bool) bool {
	for _, l := range e.links[t.ID] {
		if l.Type == model.LinkCandidate && pred(l) {
			return true
		}
	}
	return false
}

func fieldMatch(t *model.Task, ft taskquery.FieldTerm) (bool, error) {
	switch ft.Field {
	case taskquery.FieldUpdatedAfter:
		at, err := millis(ft.Value)
		if err != nil {
			return false, err
		}
		if t.LastUpdated != nil {
			return t.LastUpdated.UnixMilli() > at, nil
		}
		return t.CreateTime.UnixMilli() > at, nil
	case taskquery.FieldFollowUpBeforeOrNotExistent:
		at, err := millis(ft.Value)
		if err != nil {
			return false, err
		}
		return t.FollowUpDate == nil || t.FollowUpDate.UnixMilli() < at, nil
	}

	attr := ft.Field.Attribute(t)
	_, null := attr.(value.Null)
	switch ft.Op {
	case criteria.IsNull:
		return null, nil
	case criteria.IsNotNull:
		return !null, nil
	}
	if null {
		return false, nil
	}

	switch ft.Op {
	case criteria.In, criteria.NotIn:
		found := false
		for _, v := range ft.Values {
			eq, err := value.Equal(attr, v, false)
			if err != nil {
				return false, err
			}
			if eq {
				found = true
				break
			}
		}
		return found == (ft.Op == criteria.In), nil
	}
	return compare(attr, ft.Op, ft.Value, false)
}

// compare applies a comparison operator between an attribute and an
// operand of the same family.
func compare(attr value.Value, op criteria.Operator, operand value.Value, fold bool) (bool, error) {
	switch op {
	case criteria.Equals, criteria.NotEquals:
		eq, err := value.Equal(attr, operand, fold)
		if err != nil {
			return false, err
		}
		return eq == (op == criteria.Equals), nil
	case criteria.Like, criteria.NotLike:
		s, ok1 := attr.(value.String)
		p, ok2 := operand.(value.String)
		if !ok1 || !ok2 {
			return false, fmt.Errorf("operator %q needs strings", op)
		}
		str, pat := string(s), string(p)
		if fold {
			str, pat = value.Fold(str), value.Fold(pat)
		}
		return value.Like(str, pat) == (op == criteria.Like), nil
	case criteria.GreaterThan, criteria.GreaterThanOrEquals, criteria.LessThan, criteria.LessThanOrEquals:
		c, err := value.Compare(attr, operand)
		if err != nil {
			return false, err
		}
		switch op {
		case criteria.GreaterThan:
			return c > 0, nil
		case criteria.GreaterThanOrEquals:
			return c >= 0, nil
		case criteria.LessThan:
			return c < 0, nil
		}
		return c <= 0, nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

func (e *Executor) variableMatch(t *model.Task, vt taskquery.VariableTerm, r *taskquery.Resolved) (bool, error) {
	scopeID := model.ScopeIDOf(t, vt.Scope)
	if scopeID == "" {
		return false, nil
	}
	name := vt.Name
	if r.VariableNamesIgnoreCase {
		name = value.Fold(name)
	}
	for _, v := range e.variables[scopeKey{vt.Scope, scopeID}] {
		stored := v.Name
		if r.VariableNamesIgnoreCase {
			stored = value.Fold(stored)
		}
		if stored != name {
			continue
		}
		ok, err := variableValueMatch(v.Value, vt.Op, vt.Value, r.VariableValuesIgnoreCase)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// variableValueMatch compares a stored variable value. A stored value of a
// different family never matches, whatever the operator.
func variableValueMatch(stored value.Value, op criteria.Operator, operand value.Value, ignoreCase bool) (bool, error) {
	if stored == nil {
		stored = value.Null{}
	}
	if _, ok := operand.(value.Null); ok {
		_, isNull := stored.(value.Null)
		switch op {
		case criteria.Equals:
			return isNull, nil
		case criteria.NotEquals:
			return !isNull, nil
		}
		return false, fmt.Errorf("unsupported operator %q for null", op)
	}

	if operand.Kind().Numeric() {
		if !stored.Kind().Numeric() {
			return false, nil
		}
	} else if stored.Kind() != operand.Kind() {
		return false, nil
	}

	fold := false
	if operand.Kind() == value.KindString && ignoreCase {
		fold = op == criteria.Equals || op == criteria.NotEquals || op.Pattern()
	}
	return compare(stored, op, operand, fold)
}

// sort orders tasks by the ordering keys, then by id.
func (e *Executor) sort(tasks []*model.Task, orders []taskquery.Order) error {
	for _, o := range orders {
		if o.Property == taskquery.OrderByVariable && (o.Variable == nil || !o.Variable.Kind.Orderable()) {
			return fmt.Errorf("cannot order by variable %v", o.Variable)
		}
	}
	var sortErr error
	slices.SortStableFunc(tasks, func(a, b *model.Task) int {
		for _, o := range orders {
			c, err := compareKeys(e.orderKey(a, o), e.orderKey(b, o), o.Direction)
			if err != nil && sortErr == nil {
				sortErr = err
			}
			if c != 0 {
				return c
			}
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sortErr
}

// compareKeys orders two keys. Null keys go last in both directions.
func compareKeys(a, b value.Value, dir taskquery.Direction) (int, error) {
	_, an := a.(value.Null)
	_, bn := b.(value.Null)
	switch {
	case an && bn:
		return 0, nil
	case an:
		return 1, nil
	case bn:
		return -1, nil
	}
	c, err := value.Compare(a, b)
	if err != nil {
		return 0, err
	}
	if dir == taskquery.Descending {
		c = -c
	}
	return c, nil
}

func (e *Executor) orderKey(t *model.Task, o taskquery.Order) value.Value {
	switch o.Property {
	case taskquery.OrderByID:
		return taskquery.FieldTaskID.Attribute(t)
	case taskquery.OrderByName:
		return taskquery.FieldName.Attribute(t)
	case taskquery.OrderByNameCaseInsensitive:
		if t.Name == "" {
			return value.Null{}
		}
		return value.String(value.Fold(t.Name))
	case taskquery.OrderByPriority:
		return value.Integer(t.Priority)
	case taskquery.OrderByAssignee:
		return taskquery.FieldAssignee.Attribute(t)
	case taskquery.OrderByDescription:
		return taskquery.FieldDescription.Attribute(t)
	case taskquery.OrderByCreateTime:
		return value.DateOf(t.CreateTime)
	case taskquery.OrderByDueDate:
		return taskquery.FieldDueDate.Attribute(t)
	case taskquery.OrderByFollowUpDate:
		return taskquery.FieldFollowUpDate.Attribute(t)
	case taskquery.OrderByLastUpdated:
		return optionalDate(t.LastUpdated)
	case taskquery.OrderByProcessInstanceID:
		return taskquery.FieldProcessInstanceID.Attribute(t)
	case taskquery.OrderByExecutionID:
		return taskquery.FieldExecutionID.Attribute(t)
	case taskquery.OrderByCaseInstanceID:
		return taskquery.FieldCaseInstanceID.Attribute(t)
	case taskquery.OrderByCaseExecutionID:
		return taskquery.FieldCaseExecutionID.Attribute(t)
	case taskquery.OrderByTenantID:
		return taskquery.FieldTenantID.Attribute(t)
	case taskquery.OrderByVariable:
		return e.variableKey(t, o.Variable)
	}
	return value.Null{}
}

// variableKey is the variable's value when it exists with exactly the
// declared kind, Null otherwise.
func (e *Executor) variableKey(t *model.Task, vo *taskquery.VariableOrder) value.Value {
	scopeID := model.ScopeIDOf(t, vo.Scope)
	if scopeID == "" {
		return value.Null{}
	}
	for _, v := range e.variables[scopeKey{vo.Scope, scopeID}] {
		if v.Name == vo.Name && v.Value != nil && v.Value.Kind() == vo.Kind {
			return v.Value
		}
	}
	return value.Null{}
}

func optionalDate(p *time.Time) value.Value {
	if p == nil {
		return value.Null{}
	}
	return value.DateOf(*p)
}

func millis(v value.Value) (int64, error) {
	d, ok := v.(value.Date)
	if !ok {
		return 0, fmt.Errorf("expected a date, got %s", v.Kind())
	}
	return d.Millis(), nil
}
