// Package querysql compiles resolved task queries to parameterized SQLite
// SQL over the schema owned by internal/store.
//
// Every value travels as a ? parameter. Every list query ends with the
// task id as final ascending key, so pagination is reproducible. NULL keys
// sort last in both directions.
//
// The SQL relies on two functions the store registers on each connection:
// fold(x), which case-folds text, and like_match(x, pattern), which
// implements the pattern rules of value.Like. Both return NULL for NULL
// input, so a NULL column never satisfies a comparison.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/taskq/internal/criteria"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskquery"
	"github.com/roach88/taskq/internal/value"
)

// TaskColumns are the task columns selected by list queries, in scan order.
var TaskColumns = []string{
	"id", "name", "description", "priority", "assignee", "owner",
	"due_date", "follow_up_date", "create_time", "delegation_state",
	"process_instance_id", "process_definition_id", "process_definition_key",
	"process_definition_name", "process_instance_business_key",
	"execution_id", "activity_instance_id",
	"case_instance_id", "case_definition_id", "case_definition_key",
	"case_definition_name", "case_instance_business_key", "case_execution_id",
	"task_definition_key", "parent_task_id", "tenant_id", "suspended",
	"form_key", "last_updated", "version",
}

// Identity link type of candidate links.
const candidateType = "candidate"

var fieldColumns = map[taskquery.Field]string{
	taskquery.FieldTaskID:                     "T.id",
	taskquery.FieldName:                       "T.name",
	taskquery.FieldDescription:                "T.description",
	taskquery.FieldPriority:                   "T.priority",
	taskquery.FieldAssignee:                   "T.assignee",
	taskquery.FieldOwner:                      "T.owner",
	taskquery.FieldTaskDefinitionKey:          "T.task_definition_key",
	taskquery.FieldParentTaskID:               "T.parent_task_id",
	taskquery.FieldDelegationState:            "T.delegation_state",
	taskquery.FieldCreateTime:                 "T.create_time",
	taskquery.FieldDueDate:                    "T.due_date",
	taskquery.FieldFollowUpDate:               "T.follow_up_date",
	taskquery.FieldProcessDefinitionID:        "T.process_definition_id",
	taskquery.FieldProcessDefinitionKey:       "T.process_definition_key",
	taskquery.FieldProcessDefinitionName:      "T.process_definition_name",
	taskquery.FieldProcessInstanceID:          "T.process_instance_id",
	taskquery.FieldProcessInstanceBusinessKey: "T.process_instance_business_key",
	taskquery.FieldExecutionID:                "T.execution_id",
	taskquery.FieldActivityInstanceID:         "T.activity_instance_id",
	taskquery.FieldCaseDefinitionID:           "T.case_definition_id",
	taskquery.FieldCaseDefinitionKey:          "T.case_definition_key",
	taskquery.FieldCaseDefinitionName:         "T.case_definition_name",
	taskquery.FieldCaseInstanceID:             "T.case_instance_id",
	taskquery.FieldCaseInstanceBusinessKey:    "T.case_instance_business_key",
	taskquery.FieldCaseExecutionID:            "T.case_execution_id",
	taskquery.FieldTenantID:                   "T.tenant_id",
	taskquery.FieldSuspended:                  "T.suspended",
}

var orderColumns = map[taskquery.OrderProperty]string{
	taskquery.OrderByID:                  "T.id",
	taskquery.OrderByName:                "T.name",
	taskquery.OrderByNameCaseInsensitive: "fold(T.name)",
	taskquery.OrderByPriority:            "T.priority",
	taskquery.OrderByAssignee:            "T.assignee",
	taskquery.OrderByDescription:         "T.description",
	taskquery.OrderByCreateTime:          "T.create_time",
	taskquery.OrderByDueDate:             "T.due_date",
	taskquery.OrderByFollowUpDate:        "T.follow_up_date",
	taskquery.OrderByLastUpdated:         "T.last_updated",
	taskquery.OrderByProcessInstanceID:   "T.process_instance_id",
	taskquery.OrderByExecutionID:         "T.execution_id",
	taskquery.OrderByCaseInstanceID:      "T.case_instance_id",
	taskquery.OrderByCaseExecutionID:     "T.case_execution_id",
	taskquery.OrderByTenantID:            "T.tenant_id",
}

// ScopeColumn returns the task column holding the owner id of a variable
// scope.
func ScopeColumn(scope model.VariableScope) (string, error) {
	switch scope {
	case model.ScopeTask:
		return "T.id", nil
	case model.ScopeExecution:
		return "T.execution_id", nil
	case model.ScopeProcess:
		return "T.process_instance_id", nil
	case model.ScopeCaseExecution:
		return "T.case_execution_id", nil
	case model.ScopeCase:
		return "T.case_instance_id", nil
	}
	return "", fmt.Errorf("unknown variable scope %q", scope)
}

// SQLCompiler compiles resolved task queries.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// builder accumulates SQL text and parameters.
type builder struct {
	sb     strings.Builder
	params []any
	r      *taskquery.Resolved
}

func (b *builder) write(s string, params ...any) {
	b.sb.WriteString(s)
	b.params = append(b.params, params...)
}

// CompileList returns the SELECT statement listing the matching tasks.
func (c *SQLCompiler) CompileList(r *taskquery.Resolved) (string, []any, error) {
	if r == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	b := &builder{r: r}
	cols := make([]string, len(TaskColumns))
	for i, col := range TaskColumns {
		cols[i] = "T." + col
	}
	b.write("SELECT " + strings.Join(cols, ", ") + " FROM tasks T")
	if err := b.where(); err != nil {
		return "", nil, fmt.Errorf("compile filter: %w", err)
	}
	if err := b.orderBy(); err != nil {
		return "", nil, fmt.Errorf("compile ordering: %w", err)
	}
	if r.Page != nil {
		b.write(" LIMIT ? OFFSET ?", int64(r.Page.Max), int64(r.Page.First))
	}
	return b.sb.String(), b.params, nil
}

// CompileCount returns the statement counting the matching tasks.
func (c *SQLCompiler) CompileCount(r *taskquery.Resolved) (string, []any, error) {
	if r == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	b := &builder{r: r}
	b.write("SELECT COUNT(*) FROM tasks T")
	if err := b.where(); err != nil {
		return "", nil, fmt.Errorf("compile filter: %w", err)
	}
	return b.sb.String(), b.params, nil
}

func (b *builder) where() error {
	if len(b.r.Where) == 0 && len(b.r.Groups) == 0 {
		return nil
	}
	b.write(" WHERE ")
	first := true
	sep := func() {
		if !first {
			b.write(" AND ")
		}
		first = false
	}
	for _, t := range b.r.Where {
		sep()
		if err := b.term(t); err != nil {
			return err
		}
	}
	for _, g := range b.r.Groups {
		sep()
		b.write("(")
		for i, t := range g {
			if i > 0 {
				b.write(" OR ")
			}
			if err := b.term(t); err != nil {
				return err
			}
		}
		b.write(")")
	}
	return nil
}

func (b *builder) term(t taskquery.Term) error {
	switch x := t.(type) {
	case taskquery.FieldTerm:
		return b.fieldTerm(x)
	case taskquery.CandidateUserTerm:
		b.unassigned(x.Unassigned)
		b.write("EXISTS (SELECT 1 FROM identity_links L WHERE L.task_id = T.id AND L.type = ? AND ", candidateType)
		if len(x.Groups) > 0 {
			b.write("(L.user_id = ? OR ", x.User)
			b.in("L.group_id", false, stringParams(x.Groups))
			b.write(")")
		} else {
			b.write("L.user_id = ?", x.User)
		}
		b.write(")")
		b.closeUnassigned(x.Unassigned)
	case taskquery.CandidateGroupTerm:
		b.unassigned(x.Unassigned)
		b.write("EXISTS (SELECT 1 FROM identity_links L WHERE L.task_id = T.id AND L.type = ? AND ", candidateType)
		if x.Op == criteria.Like {
			b.write("like_match(L.group_id, ?)", x.Pattern)
		} else {
			b.in("L.group_id", false, stringParams(x.Groups))
		}
		b.write(")")
		b.closeUnassigned(x.Unassigned)
	case taskquery.CandidatePresenceTerm:
		b.unassigned(x.Unassigned)
		if !x.Present {
			b.write("NOT ")
		}
		col := "L.user_id"
		if x.Groups {
			col = "L.group_id"
		}
		b.write("EXISTS (SELECT 1 FROM identity_links L WHERE L.task_id = T.id AND L.type = ? AND "+col+" IS NOT NULL)", candidateType)
		b.closeUnassigned(x.Unassigned)
	case taskquery.InvolvedUserTerm:
		b.write("(T.assignee = ? OR T.owner = ? OR EXISTS (SELECT 1 FROM identity_links L WHERE L.task_id = T.id AND L.user_id = ?))",
			x.User, x.User, x.User)
	case taskquery.VariableTerm:
		return b.variableTerm(x)
	case taskquery.FalseTerm:
		b.write("1 = 0")
	default:
		return fmt.Errorf("unsupported term type: %T", t)
	}
	return nil
}

func (b *builder) unassigned(on bool) {
	if on {
		b.write("(T.assignee IS NULL AND ")
	}
}

func (b *builder) closeUnassigned(on bool) {
	if on {
		b.write(")")
	}
}

func (b *builder) in(col string, negate bool, params []any) {
	b.write(col)
	if negate {
		b.write(" NOT")
	}
	b.write(" IN (" + placeholders(len(params)) + ")")
	b.params = append(b.params, params...)
}

func (b *builder) fieldTerm(t taskquery.FieldTerm) error {
	switch t.Field {
	case taskquery.FieldUpdatedAfter:
		p, err := Param(t.Value)
		if err != nil {
			return err
		}
		b.write("(T.last_updated > ? OR (T.last_updated IS NULL AND T.create_time > ?))", p, p)
		return nil
	case taskquery.FieldFollowUpBeforeOrNotExistent:
		p, err := Param(t.Value)
		if err != nil {
			return err
		}
		b.write("(T.follow_up_date IS NULL OR T.follow_up_date < ?)", p)
		return nil
	}

	col, ok := fieldColumns[t.Field]
	if !ok {
		return fmt.Errorf("field %s has no column", t.Field)
	}
	switch t.Op {
	case criteria.IsNull:
		b.write(col + " IS NULL")
		return nil
	case criteria.IsNotNull:
		b.write(col + " IS NOT NULL")
		return nil
	case criteria.In, criteria.NotIn:
		params := make([]any, len(t.Values))
		for i, v := range t.Values {
			p, err := Param(v)
			if err != nil {
				return err
			}
			params[i] = p
		}
		b.in(col, t.Op == criteria.NotIn, params)
		return nil
	}

	p, err := Param(t.Value)
	if err != nil {
		return err
	}
	return b.compare(col, t.Op, p)
}

func (b *builder) compare(col string, op criteria.Operator, p any) error {
	switch op {
	case criteria.Equals:
		b.write(col+" = ?", p)
	case criteria.NotEquals:
		b.write(col+" <> ?", p)
	case criteria.Like:
		b.write("like_match("+col+", ?)", p)
	case criteria.NotLike:
		b.write("NOT like_match("+col+", ?)", p)
	case criteria.GreaterThan, criteria.GreaterThanOrEquals, criteria.LessThan, criteria.LessThanOrEquals:
		b.write(col+" "+string(op)+" ?", p)
	default:
		return fmt.Errorf("unsupported operator %q", op)
	}
	return nil
}

func (b *builder) variableTerm(t taskquery.VariableTerm) error {
	scopeCol, err := ScopeColumn(t.Scope)
	if err != nil {
		return err
	}
	b.write("EXISTS (SELECT 1 FROM variables V WHERE V.scope = ? AND V.scope_id = "+scopeCol+" AND ", string(t.Scope))
	if b.r.VariableNamesIgnoreCase {
		b.write("fold(V.name) = ?", value.Fold(t.Name))
	} else {
		b.write("V.name = ?", t.Name)
	}
	b.write(" AND ")
	if err := b.variableValue(t.Op, t.Value); err != nil {
		return err
	}
	b.write(")")
	return nil
}

const numericTypes = "V.type IN ('short', 'integer', 'long', 'double')"

func (b *builder) variableValue(op criteria.Operator, v value.Value) error {
	switch x := v.(type) {
	case value.Null:
		switch op {
		case criteria.Equals:
			b.write("V.type = 'null'")
		case criteria.NotEquals:
			b.write("V.type <> 'null'")
		default:
			return fmt.Errorf("unsupported operator %q for null", op)
		}
		return nil

	case value.String:
		b.write("V.type = 'string' AND ")
		col, p := "V.text_value", any(string(x))
		if b.r.VariableValuesIgnoreCase && (op == criteria.Equals || op == criteria.NotEquals || op.Pattern()) {
			col, p = "fold(V.text_value)", value.Fold(string(x))
		}
		return b.compare(col, op, p)

	case value.Boolean:
		if op != criteria.Equals && op != criteria.NotEquals {
			return fmt.Errorf("unsupported operator %q for boolean", op)
		}
		b.write("V.type = 'boolean' AND ")
		return b.compare("V.long_value", op, boolParam(bool(x)))

	case value.Date:
		b.write("V.type = 'date' AND ")
		return b.compare("V.long_value", op, x.Millis())
	}

	n, ok := value.NumberOf(v)
	if !ok {
		return fmt.Errorf("unsupported variable value type %s", v.Kind())
	}
	b.write(numericTypes + " AND ")
	l, exact := n.Exact()
	f := n.Float()
	switch {
	case op == criteria.Equals && exact:
		b.write("V.long_value = ?", l)
	case op == criteria.Equals:
		b.write("(V.long_value IS NULL AND V.double_value = ?)", f)
	case op == criteria.NotEquals && exact:
		b.write("(V.long_value IS NULL OR V.long_value <> ?)", l)
	case op == criteria.NotEquals:
		b.write("(V.long_value IS NOT NULL OR V.double_value <> ?)", f)
	case op.Ordering() && exact:
		sym := string(op)
		b.write("((V.long_value IS NOT NULL AND V.long_value "+sym+" ?) OR (V.long_value IS NULL AND V.double_value "+sym+" ?))", l, f)
	case op.Ordering():
		b.write("V.double_value "+string(op)+" ?", f)
	default:
		return fmt.Errorf("unsupported operator %q for numbers", op)
	}
	return nil
}

func (b *builder) orderBy() error {
	b.write(" ORDER BY ")
	for _, o := range b.r.Orders {
		dir := "ASC"
		if o.Direction == taskquery.Descending {
			dir = "DESC"
		}
		if o.Property == taskquery.OrderByVariable {
			if err := b.variableKey(o.Variable); err != nil {
				return err
			}
		} else {
			col, ok := orderColumns[o.Property]
			if !ok {
				return fmt.Errorf("unknown order property %q", o.Property)
			}
			b.write(col)
		}
		b.write(" " + dir + " NULLS LAST, ")
	}
	// Deterministic tie-break.
	b.write("T.id ASC COLLATE BINARY")
	return nil
}

// variableKey writes a correlated subquery yielding the variable's value
// when it exists with the declared kind, NULL otherwise.
func (b *builder) variableKey(v *taskquery.VariableOrder) error {
	if v == nil {
		return fmt.Errorf("variable ordering without variable")
	}
	if !v.Kind.Orderable() {
		return fmt.Errorf("cannot order by variable of type %s", v.Kind)
	}
	scopeCol, err := ScopeColumn(v.Scope)
	if err != nil {
		return err
	}
	col := "V.long_value"
	switch v.Kind {
	case value.KindString:
		col = "V.text_value"
	case value.KindDouble:
		col = "V.double_value"
	}
	b.write("(SELECT "+col+" FROM variables V WHERE V.scope = ? AND V.scope_id = "+scopeCol+" AND V.name = ? AND V.type = ?)",
		string(v.Scope), v.Name, string(v.Kind))
	return nil
}

// Param converts a literal value to its SQL parameter form: dates as Unix
// milliseconds, booleans as 0 or 1, integers as int64.
func Param(v value.Value) (any, error) {
	switch x := v.(type) {
	case value.String:
		return string(x), nil
	case value.Boolean:
		return boolParam(bool(x)), nil
	case value.Date:
		return x.Millis(), nil
	case value.Short:
		return int64(x), nil
	case value.Integer:
		return int64(x), nil
	case value.Long:
		return int64(x), nil
	case value.Double:
		return float64(x), nil
	case nil, value.Null:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported value type for SQL parameter: %s", v.Kind())
}

func boolParam(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func stringParams(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
