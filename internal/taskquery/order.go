package taskquery

import (
	"fmt"

	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/value"
)

// Direction is an ordering direction.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// OrderProperty is a task property results can be ordered by.
type OrderProperty string

const (
	OrderByID                  OrderProperty = "id"
	OrderByName                OrderProperty = "name"
	OrderByNameCaseInsensitive OrderProperty = "nameCaseInsensitive"
	OrderByPriority            OrderProperty = "priority"
	OrderByAssignee            OrderProperty = "assignee"
	OrderByDescription         OrderProperty = "description"
	OrderByCreateTime          OrderProperty = "createTime"
	OrderByDueDate             OrderProperty = "dueDate"
	OrderByFollowUpDate        OrderProperty = "followUpDate"
	OrderByLastUpdated         OrderProperty = "lastUpdated"
	OrderByProcessInstanceID   OrderProperty = "processInstanceId"
	OrderByExecutionID         OrderProperty = "executionId"
	OrderByCaseInstanceID      OrderProperty = "caseInstanceId"
	OrderByCaseExecutionID     OrderProperty = "caseExecutionId"
	OrderByTenantID            OrderProperty = "tenantId"
	OrderByVariable            OrderProperty = "variable"
)

var orderProperties = map[OrderProperty]bool{
	OrderByID: true, OrderByName: true, OrderByNameCaseInsensitive: true,
	OrderByPriority: true, OrderByAssignee: true, OrderByDescription: true,
	OrderByCreateTime: true, OrderByDueDate: true, OrderByFollowUpDate: true,
	OrderByLastUpdated: true, OrderByProcessInstanceID: true,
	OrderByExecutionID: true, OrderByCaseInstanceID: true,
	OrderByCaseExecutionID: true, OrderByTenantID: true, OrderByVariable: true,
}

// ParseOrderProperty validates a property name.
func ParseOrderProperty(s string) (OrderProperty, error) {
	p := OrderProperty(s)
	if !orderProperties[p] {
		return "", fmt.Errorf("unknown order property %q", s)
	}
	return p, nil
}

// VariableOrder orders by a variable of a declared kind. Tasks whose
// variable is missing or holds another kind sort after all others.
type VariableOrder struct {
	Scope model.VariableScope
	Name  string
	Kind  value.Kind
}

// Order is one ordering key.
type Order struct {
	Property  OrderProperty
	Direction Direction
	Variable  *VariableOrder
}

// Key identifies the ordering key regardless of direction.
func (o Order) Key() string {
	if o.Variable != nil {
		return fmt.Sprintf("%s:%s:%s", o.Property, o.Variable.Scope, o.Variable.Name)
	}
	return string(o.Property)
}

// Page is a pagination window.
type Page struct {
	First int
	Max   int
}
