package taskquery

import (
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskerr"
	"github.com/roach88/taskq/internal/value"
)

// orderBy appends an ordering key. The key stays pending until Asc or Desc
// gives it a direction.
func (q *Query) orderBy(method string, o Order) *Query {
	if q.err != nil || !q.ensureNotInOr(method) {
		return q
	}
	if n := len(q.orders); n > 0 && q.orders[n-1].Direction == "" {
		return q.fail(taskerr.InvalidUsage("call asc() or desc() after %s before adding another ordering", q.orders[n-1].Property))
	}
	q.orders = append(q.orders, o)
	return q
}

func (q *Query) direction(d Direction) *Query {
	if q.err != nil {
		return q
	}
	n := len(q.orders)
	if n == 0 || q.orders[n-1].Direction != "" {
		return q.fail(taskerr.InvalidUsage("call one of the orderBy methods before specifying a direction"))
	}
	q.orders[n-1].Direction = d
	return q
}

// Asc sets ascending direction on the last ordering key.
func (q *Query) Asc() *Query { return q.direction(Ascending) }

// Desc sets descending direction on the last ordering key.
func (q *Query) Desc() *Query { return q.direction(Descending) }

func (q *Query) OrderByTaskID() *Query {
	return q.orderBy("orderByTaskId()", Order{Property: OrderByID})
}
func (q *Query) OrderByTaskName() *Query {
	return q.orderBy("orderByTaskName()", Order{Property: OrderByName})
}
func (q *Query) OrderByTaskNameCaseInsensitive() *Query {
	return q.orderBy("orderByTaskNameCaseInsensitive()", Order{Property: OrderByNameCaseInsensitive})
}

// TaskNameCaseInsensitive is the older spelling of
// OrderByTaskNameCaseInsensitive.
func (q *Query) TaskNameCaseInsensitive() *Query {
	return q.OrderByTaskNameCaseInsensitive()
}

func (q *Query) OrderByTaskPriority() *Query {
	return q.orderBy("orderByTaskPriority()", Order{Property: OrderByPriority})
}
func (q *Query) OrderByTaskAssignee() *Query {
	return q.orderBy("orderByTaskAssignee()", Order{Property: OrderByAssignee})
}
func (q *Query) OrderByTaskDescription() *Query {
	return q.orderBy("orderByTaskDescription()", Order{Property: OrderByDescription})
}
func (q *Query) OrderByTaskCreateTime() *Query {
	return q.orderBy("orderByTaskCreateTime()", Order{Property: OrderByCreateTime})
}
func (q *Query) OrderByDueDate() *Query {
	return q.orderBy("orderByDueDate()", Order{Property: OrderByDueDate})
}
func (q *Query) OrderByFollowUpDate() *Query {
	return q.orderBy("orderByFollowUpDate()", Order{Property: OrderByFollowUpDate})
}
func (q *Query) OrderByLastUpdated() *Query {
	return q.orderBy("orderByLastUpdated()", Order{Property: OrderByLastUpdated})
}
func (q *Query) OrderByProcessInstanceID() *Query {
	return q.orderBy("orderByProcessInstanceId()", Order{Property: OrderByProcessInstanceID})
}
func (q *Query) OrderByExecutionID() *Query {
	return q.orderBy("orderByExecutionId()", Order{Property: OrderByExecutionID})
}
func (q *Query) OrderByCaseInstanceID() *Query {
	return q.orderBy("orderByCaseInstanceId()", Order{Property: OrderByCaseInstanceID})
}
func (q *Query) OrderByCaseExecutionID() *Query {
	return q.orderBy("orderByCaseExecutionId()", Order{Property: OrderByCaseExecutionID})
}
func (q *Query) OrderByTenantID() *Query {
	return q.orderBy("orderByTenantId()", Order{Property: OrderByTenantID})
}

// OrderByVariable orders by the named variable of scope, compared as kind.
// Tasks whose variable is missing or holds another kind sort last.
func (q *Query) OrderByVariable(scope model.VariableScope, name string, kind value.Kind) *Query {
	if q.err != nil {
		return q
	}
	if name == "" {
		return q.fail(taskerr.NullValue("variable name"))
	}
	if kind == "" {
		return q.fail(taskerr.NullValue("variable type"))
	}
	if !kind.Orderable() {
		return q.fail(taskerr.UnsupportedType("cannot order by variable %q of type %s", name, kind))
	}
	return q.orderBy("orderBy"+string(scope)+"Variable()", Order{
		Property: OrderByVariable,
		Variable: &VariableOrder{Scope: scope, Name: name, Kind: kind},
	})
}

func (q *Query) OrderByProcessVariable(name string, kind value.Kind) *Query {
	return q.OrderByVariable(model.ScopeProcess, name, kind)
}
func (q *Query) OrderByExecutionVariable(name string, kind value.Kind) *Query {
	return q.OrderByVariable(model.ScopeExecution, name, kind)
}
func (q *Query) OrderByTaskVariable(name string, kind value.Kind) *Query {
	return q.OrderByVariable(model.ScopeTask, name, kind)
}
func (q *Query) OrderByCaseInstanceVariable(name string, kind value.Kind) *Query {
	return q.OrderByVariable(model.ScopeCase, name, kind)
}
func (q *Query) OrderByCaseExecutionVariable(name string, kind value.Kind) *Query {
	return q.OrderByVariable(model.ScopeCaseExecution, name, kind)
}

// OrderBy appends a complete ordering key, direction included. Saved
// filters replay their ordering through it.
func (q *Query) OrderBy(o Order) *Query {
	if q.err != nil {
		return q
	}
	switch o.Property {
	case OrderByVariable:
		if o.Variable == nil {
			return q.fail(taskerr.NullValue("variable ordering"))
		}
		q.OrderByVariable(o.Variable.Scope, o.Variable.Name, o.Variable.Kind)
	default:
		if _, err := ParseOrderProperty(string(o.Property)); err != nil {
			return q.fail(taskerr.InvalidUsage("%v", err))
		}
		q.orderBy("orderBy("+string(o.Property)+")", Order{Property: o.Property})
	}
	switch o.Direction {
	case Ascending:
		return q.Asc()
	case Descending:
		return q.Desc()
	}
	return q.fail(taskerr.InvalidUsage("unknown ordering direction %q", o.Direction))
}
