// Package taskquery builds, validates and resolves composite task queries
// and hands the resolved form to an Executor.
package taskquery

import (
	"log/slog"

	"github.com/roach88/taskq/internal/criteria"
	"github.com/roach88/taskq/internal/expr"
	"github.com/roach88/taskq/internal/identity"
	"github.com/roach88/taskq/internal/taskerr"
	"github.com/roach88/taskq/internal/value"
)

// Query is a composable task query.
//
// Criteria added at the top level are ANDed. Criteria added between Or()
// and EndOr() form an OR-group whose members are alternatives; every group
// contributes one more AND term, and an empty group matches everything.
//
// Builder misuse is detected at the offending call. The first error is
// kept, later calls become no-ops, Err() reports it and every execution
// method returns it without touching the executor.
//
// A Query is not safe for concurrent mutation. Executing the same Query
// repeatedly is fine; expressions are re-evaluated on every execution.
type Query struct {
	executor  Executor
	evaluator expr.Evaluator
	groups    identity.GroupResolver
	logger    *slog.Logger

	where *criteria.Set[Field]
	ors   []*criteria.Set[Field]
	open  *criteria.Set[Field]

	orders []Order
	page   *Page

	includeAssigned          bool
	initializeFormKeys       bool
	variableNamesIgnoreCase  bool
	variableValuesIgnoreCase bool

	err error
}

// Option configures a Query.
type Option func(*Query)

// WithEvaluator sets the expression evaluator.
func WithEvaluator(e expr.Evaluator) Option {
	return func(q *Query) { q.evaluator = e }
}

// WithGroupResolver sets the directory used to expand candidate users to
// their groups.
func WithGroupResolver(g identity.GroupResolver) Option {
	return func(q *Query) { q.groups = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Query) { q.logger = l }
}

// New creates an empty query bound to exec. exec may be nil for queries
// that are only built, resolved or used to extend others.
func New(exec Executor, opts ...Option) *Query {
	q := &Query{
		executor: exec,
		where:    criteria.NewSet(repeatableInAnd),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Err returns the first builder error, if any.
func (q *Query) Err() error {
	return q.err
}

func (q *Query) fail(err error) *Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

func (q *Query) inOr() bool {
	return q.open != nil
}

func (q *Query) current() *criteria.Set[Field] {
	if q.open != nil {
		return q.open
	}
	return q.where
}

// Or opens an OR-group. Groups cannot be nested.
func (q *Query) Or() *Query {
	if q.err != nil {
		return q
	}
	if q.inOr() {
		return q.fail(taskerr.InvalidUsage("cannot set or() within 'or' query"))
	}
	q.open = criteria.NewSet(repeatableInOr)
	return q
}

// EndOr closes the open OR-group.
func (q *Query) EndOr() *Query {
	if q.err != nil {
		return q
	}
	if !q.inOr() {
		return q.fail(taskerr.InvalidUsage("cannot set endOr() before or()"))
	}
	q.ors = append(q.ors, q.open)
	q.open = nil
	return q
}

func (q *Query) ensureNotInOr(method string) bool {
	if q.inOr() {
		q.fail(taskerr.InvalidUsage("cannot call %s within 'or' query", method))
		return false
	}
	return true
}

// AddCriterion validates c and adds it to the current context: the open
// OR-group if any, the top level otherwise. Every field setter goes
// through it.
func (q *Query) AddCriterion(c criteria.Criterion[Field]) *Query {
	if q.err != nil {
		return q
	}
	if err := validateCriterion(c); err != nil {
		return q.fail(err)
	}
	if err := q.checkGrammar(c); err != nil {
		return q.fail(err)
	}
	q.current().Put(c)
	return q
}

// checkGrammar enforces the combination rules of the current context.
func (q *Query) checkGrammar(c criteria.Criterion[Field]) error {
	if c.Field == FieldCandidateGroups || c.Field == FieldCandidateUsers {
		if q.inOr() {
			return taskerr.InvalidUsage("cannot call %s within 'or' query", presenceMethod(c))
		}
		return nil
	}
	if q.inOr() {
		return nil
	}

	w := q.where
	switch c.Field {
	case FieldCandidateUser:
		for _, op := range []criteria.Operator{eq, in, like} {
			if w.HasSlot(criteria.Slot[Field]{Field: FieldCandidateGroup, Op: op}) {
				return taskerr.InvalidUsage("cannot set both candidateUser and %s", candidateGroupName(op))
			}
		}
	case FieldCandidateGroup:
		if w.Has(FieldCandidateUser) {
			return taskerr.InvalidUsage("cannot set both %s and candidateUser", candidateGroupName(c.Op))
		}
	case FieldDueDate:
		if err := checkWithout(w, c, FieldDueDate, "dueDate", "withoutDueDate"); err != nil {
			return err
		}
	case FieldFollowUpDate, FieldFollowUpBeforeOrNotExistent:
		if err := checkWithout(w, c, FieldFollowUpDate, "followUpDate", "withoutFollowUpDate"); err != nil {
			return err
		}
	case FieldTenantID:
		if c.Op == in && w.HasSlot(criteria.Slot[Field]{Field: FieldTenantID, Op: isNull}) {
			return taskerr.InvalidUsage("cannot set both tenantIdIn and withoutTenantId filters")
		}
		if c.Op == isNull && w.HasSlot(criteria.Slot[Field]{Field: FieldTenantID, Op: in}) {
			return taskerr.InvalidUsage("cannot set both tenantIdIn and withoutTenantId filters")
		}
	}
	return nil
}

// checkWithout rejects mixing "has no <date>" with a value or range check on
// the same date. The follow-up-or-not-existent criterion counts as a range
// check on the follow-up date.
func checkWithout(w *criteria.Set[Field], c criteria.Criterion[Field], field Field, name, without string) error {
	hasRange := func() bool {
		for _, op := range []criteria.Operator{eq, lt, gt} {
			if w.HasSlot(criteria.Slot[Field]{Field: field, Op: op}) {
				return true
			}
		}
		return field == FieldFollowUpDate && w.Has(FieldFollowUpBeforeOrNotExistent)
	}

	if c.Op == isNull && c.Field == field {
		if hasRange() {
			return taskerr.InvalidUsage("cannot set both %s (equal to, before, or after) and %s filters", name, without)
		}
		return nil
	}
	if w.HasSlot(criteria.Slot[Field]{Field: field, Op: isNull}) {
		return taskerr.InvalidUsage("cannot set both %s and %s filters", name, without)
	}
	return nil
}

func candidateGroupName(op criteria.Operator) string {
	switch op {
	case in:
		return "candidateGroupIn"
	case like:
		return "candidateGroupLike"
	}
	return "candidateGroup"
}

func presenceMethod(c criteria.Criterion[Field]) string {
	prefix := "with"
	if c.Op == isNull {
		prefix = "without"
	}
	if c.Field == FieldCandidateGroups {
		return prefix + "CandidateGroups()"
	}
	return prefix + "CandidateUsers()"
}

// validateCriterion checks that the operator and operand fit the field.
func validateCriterion(c criteria.Criterion[Field]) error {
	spec, ok := fieldSpecs[c.Field]
	if !ok {
		return taskerr.InvalidUsage("unknown field %q", c.Field)
	}
	_, isVar := c.Field.VariableScope()
	if isVar && c.Name == "" {
		return taskerr.NullValue("variable name")
	}
	if !isVar && c.Name != "" {
		return taskerr.InvalidUsage("field %s does not take a name", c.Field)
	}

	switch o := c.Operand.(type) {
	case criteria.Expression:
		if o.Text == "" {
			return taskerr.NullValue(string(c.Field) + " expression")
		}
		if !c.Field.Accepts(c.Op, true) {
			return taskerr.InvalidUsage("field %s does not accept an expression for %q", c.Field, c.Op)
		}
		return nil
	case criteria.None:
		if !c.Op.NullCheck() || !c.Field.Accepts(c.Op, false) {
			return taskerr.InvalidUsage("field %s does not accept %q", c.Field, c.Op)
		}
		return nil
	case criteria.Literal:
		if !c.Field.Accepts(c.Op, false) || c.Op.Membership() || c.Op.NullCheck() {
			return taskerr.InvalidUsage("field %s does not accept %q with a single value", c.Field, c.Op)
		}
		if isVar {
			if o.Value == nil {
				return taskerr.NullValue("variable value")
			}
			return nil
		}
		return checkLiteral(c.Field, spec.kind, o.Value)
	case criteria.Values:
		if !c.Op.Membership() || !c.Field.Accepts(c.Op, false) {
			return taskerr.InvalidUsage("field %s does not accept %q with a set", c.Field, c.Op)
		}
		if len(o.Values) == 0 {
			return taskerr.NullValue(string(c.Field) + " set")
		}
		for _, v := range o.Values {
			if err := checkLiteral(c.Field, spec.kind, v); err != nil {
				return err
			}
		}
		return nil
	}
	return taskerr.InvalidUsage("field %s: missing operand", c.Field)
}

func checkLiteral(f Field, kind value.Kind, v value.Value) error {
	if v == nil {
		return taskerr.NullValue(string(f))
	}
	if _, isNull := v.(value.Null); isNull {
		return taskerr.NullValue(string(f))
	}
	if s, ok := v.(value.String); ok && s == "" {
		return taskerr.NullValue(string(f))
	}
	if v.Kind().Family() != kind.Family() {
		return taskerr.UnsupportedType("field %s expects %s, got %s", f, kind, v.Kind())
	}
	if d, ok := v.(value.Date); ok && d.Time().IsZero() {
		return taskerr.NullValue(string(f))
	}
	return nil
}

// IncludeAssignedTasks widens candidate criteria to assigned tasks. At
// least one candidate criterion must already be present.
func (q *Query) IncludeAssignedTasks() *Query {
	if q.err != nil {
		return q
	}
	found := q.where.Has(FieldCandidateUser, FieldCandidateGroup, FieldCandidateGroups, FieldCandidateUsers)
	for _, g := range q.ors {
		found = found || g.Has(FieldCandidateUser, FieldCandidateGroup)
	}
	found = found || q.open.Has(FieldCandidateUser, FieldCandidateGroup)
	if !found {
		return q.fail(taskerr.InvalidUsage("candidateUser, candidateGroup, candidateGroupLike, candidateGroupIn, " +
			"withCandidateGroups, withoutCandidateGroups, withCandidateUsers, withoutCandidateUsers " +
			"has to be called before 'includeAssignedTasks'"))
	}
	q.includeAssigned = true
	return q
}

// InitializeFormKeys makes results carry their form key.
func (q *Query) InitializeFormKeys() *Query {
	if q.err != nil || !q.ensureNotInOr("initializeFormKeys()") {
		return q
	}
	q.initializeFormKeys = true
	return q
}

// MatchVariableNamesIgnoreCase makes variable conditions match names
// case-insensitively. It applies to the whole query.
func (q *Query) MatchVariableNamesIgnoreCase() *Query {
	if q.err == nil {
		q.variableNamesIgnoreCase = true
	}
	return q
}

// MatchVariableValuesIgnoreCase makes string variable comparisons (=, !=,
// like, not like) case-insensitive. It applies to the whole query.
func (q *Query) MatchVariableValuesIgnoreCase() *Query {
	if q.err == nil {
		q.variableValuesIgnoreCase = true
	}
	return q
}

// Page sets the default pagination window used by List.
func (q *Query) Page(first, maxResults int) *Query {
	if q.err != nil {
		return q
	}
	if first < 0 || maxResults < 0 {
		return q.fail(taskerr.InvalidUsage("page window must not be negative (first=%d, max=%d)", first, maxResults))
	}
	q.page = &Page{First: first, Max: maxResults}
	return q
}

// Extend returns a new query combining q and ext. Top-level criteria are
// concatenated with ext's after q's, OR-groups likewise. Where both set
// the same single-valued slot, ext's entry is in force. ext's ordering
// keys come first, followed by q's keys that ext does not order by. ext's
// page wins if set. Query-wide toggles are combined. Top-level
// combinations that the setters reject, such as a due date next to
// WithoutDueDate, are recorded as the new query's error.
func (q *Query) Extend(ext *Query) *Query {
	out := &Query{
		executor:                 q.executor,
		evaluator:                q.evaluator,
		groups:                   q.groups,
		logger:                   q.logger,
		where:                    q.where.Concat(ext.where),
		includeAssigned:          q.includeAssigned || ext.includeAssigned,
		initializeFormKeys:       q.initializeFormKeys || ext.initializeFormKeys,
		variableNamesIgnoreCase:  q.variableNamesIgnoreCase || ext.variableNamesIgnoreCase,
		variableValuesIgnoreCase: q.variableValuesIgnoreCase || ext.variableValuesIgnoreCase,
		page:                     q.page,
	}
	if out.evaluator == nil {
		out.evaluator = ext.evaluator
	}
	if out.groups == nil {
		out.groups = ext.groups
	}
	if ext.page != nil {
		out.page = ext.page
	}

	for _, g := range q.ors {
		out.ors = append(out.ors, g.Clone())
	}
	for _, g := range ext.ors {
		out.ors = append(out.ors, g.Clone())
	}

	seen := make(map[string]bool)
	for _, o := range ext.orders {
		seen[o.Key()] = true
		out.orders = append(out.orders, o)
	}
	for _, o := range q.orders {
		if !seen[o.Key()] {
			out.orders = append(out.orders, o)
		}
	}

	switch {
	case q.err != nil:
		out.err = q.err
	case ext.err != nil:
		out.err = ext.err
	case q.inOr() || ext.inOr():
		out.err = taskerr.InvalidUsage("cannot extend a query with an open 'or' group")
	default:
		out.err = q.checkExtension(ext)
	}
	return out
}

// checkExtension replays ext's top-level criteria over a copy of q's, so
// combinations the setters reject fail the same way when merged.
func (q *Query) checkExtension(ext *Query) error {
	merged := &Query{where: q.where.Clone()}
	for _, c := range ext.where.All() {
		if err := merged.checkGrammar(c); err != nil {
			return err
		}
		merged.where.Put(c)
	}
	return nil
}

// Criteria returns the raw top-level criteria in insertion order.
func (q *Query) Criteria() []criteria.Criterion[Field] {
	return q.where.All()
}

// OrGroups returns the raw criteria of every closed OR-group.
func (q *Query) OrGroups() [][]criteria.Criterion[Field] {
	out := make([][]criteria.Criterion[Field], len(q.ors))
	for i, g := range q.ors {
		out[i] = g.All()
	}
	return out
}

// Orders returns the ordering keys in force.
func (q *Query) Orders() []Order {
	return append([]Order(nil), q.orders...)
}

// Toggles reports the query-wide switches.
type Toggles struct {
	IncludeAssignedTasks     bool
	InitializeFormKeys       bool
	VariableNamesIgnoreCase  bool
	VariableValuesIgnoreCase bool
}

// Toggles returns the query-wide switches.
func (q *Query) Toggles() Toggles {
	return Toggles{
		IncludeAssignedTasks:     q.includeAssigned,
		InitializeFormKeys:       q.initializeFormKeys,
		VariableNamesIgnoreCase:  q.variableNamesIgnoreCase,
		VariableValuesIgnoreCase: q.variableValuesIgnoreCase,
	}
}

// CurrentPage returns the default pagination window, or nil.
func (q *Query) CurrentPage() *Page {
	if q.page == nil {
		return nil
	}
	p := *q.page
	return &p
}
