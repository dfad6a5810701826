package taskquery

import (
	"fmt"
	"slices"
	"time"

	"github.com/roach88/taskq/internal/criteria"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/value"
)

// Field identifies a task attribute a criterion can filter on.
type Field string

const (
	FieldTaskID                      Field = "taskId"
	FieldName                        Field = "taskName"
	FieldDescription                 Field = "taskDescription"
	FieldPriority                    Field = "taskPriority"
	FieldAssignee                    Field = "taskAssignee"
	FieldOwner                       Field = "taskOwner"
	FieldInvolvedUser                Field = "taskInvolvedUser"
	FieldCandidateUser               Field = "taskCandidateUser"
	FieldCandidateGroup              Field = "taskCandidateGroup"
	FieldCandidateGroups             Field = "candidateGroups"
	FieldCandidateUsers              Field = "candidateUsers"
	FieldTaskDefinitionKey           Field = "taskDefinitionKey"
	FieldParentTaskID                Field = "taskParentTaskId"
	FieldDelegationState             Field = "taskDelegationState"
	FieldCreateTime                  Field = "taskCreateTime"
	FieldUpdatedAfter                Field = "taskUpdatedAfter"
	FieldDueDate                     Field = "dueDate"
	FieldFollowUpDate                Field = "followUpDate"
	FieldFollowUpBeforeOrNotExistent Field = "followUpBeforeOrNotExistent"
	FieldProcessDefinitionID         Field = "processDefinitionId"
	FieldProcessDefinitionKey        Field = "processDefinitionKey"
	FieldProcessDefinitionName       Field = "processDefinitionName"
	FieldProcessInstanceID           Field = "processInstanceId"
	FieldProcessInstanceBusinessKey  Field = "processInstanceBusinessKey"
	FieldExecutionID                 Field = "executionId"
	FieldActivityInstanceID          Field = "activityInstanceId"
	FieldCaseDefinitionID            Field = "caseDefinitionId"
	FieldCaseDefinitionKey           Field = "caseDefinitionKey"
	FieldCaseDefinitionName          Field = "caseDefinitionName"
	FieldCaseInstanceID              Field = "caseInstanceId"
	FieldCaseInstanceBusinessKey     Field = "caseInstanceBusinessKey"
	FieldCaseExecutionID             Field = "caseExecutionId"
	FieldTenantID                    Field = "tenantId"
	FieldSuspended                   Field = "suspended"
	FieldTaskVariable                Field = "taskVariable"
	FieldProcessVariable             Field = "processVariable"
	FieldCaseInstanceVariable        Field = "caseInstanceVariable"
)

const (
	eq        = criteria.Equals
	neq       = criteria.NotEquals
	like      = criteria.Like
	nlike     = criteria.NotLike
	gt        = criteria.GreaterThan
	gte       = criteria.GreaterThanOrEquals
	lt        = criteria.LessThan
	lte       = criteria.LessThanOrEquals
	in        = criteria.In
	notIn     = criteria.NotIn
	isNull    = criteria.IsNull
	isNotNull = criteria.IsNotNull
)

var allComparisons = []criteria.Operator{eq, neq, gt, gte, lt, lte, like, nlike}

// fieldSpec describes what a field accepts.
type fieldSpec struct {
	kind value.Kind
	ops  []criteria.Operator
	expr []criteria.Operator // operators with an expression form
}

var fieldSpecs = map[Field]fieldSpec{
	FieldTaskID:                      {value.KindString, ops(eq, in), nil},
	FieldName:                        {value.KindString, ops(eq, neq, like, nlike), nil},
	FieldDescription:                 {value.KindString, ops(eq, like), nil},
	FieldPriority:                    {value.KindInteger, ops(eq, gte, lte), nil},
	FieldAssignee:                    {value.KindString, ops(eq, like, in, notIn, isNull, isNotNull), ops(eq, like)},
	FieldOwner:                       {value.KindString, ops(eq), ops(eq)},
	FieldInvolvedUser:                {value.KindString, ops(eq), ops(eq)},
	FieldCandidateUser:               {value.KindString, ops(eq), ops(eq)},
	FieldCandidateGroup:              {value.KindString, ops(eq, like, in), ops(eq, in)},
	FieldCandidateGroups:             {value.KindNull, ops(isNull, isNotNull), nil},
	FieldCandidateUsers:              {value.KindNull, ops(isNull, isNotNull), nil},
	FieldTaskDefinitionKey:           {value.KindString, ops(eq, like, in, notIn), nil},
	FieldParentTaskID:                {value.KindString, ops(eq, isNull), nil},
	FieldDelegationState:             {value.KindString, ops(eq, isNull), nil},
	FieldCreateTime:                  {value.KindDate, ops(eq, lt, gt), ops(eq, lt, gt)},
	FieldUpdatedAfter:                {value.KindDate, ops(gt), ops(gt)},
	FieldDueDate:                     {value.KindDate, ops(eq, lt, gt, isNull), ops(eq, lt, gt)},
	FieldFollowUpDate:                {value.KindDate, ops(eq, lt, gt, isNull), ops(eq, lt, gt)},
	FieldFollowUpBeforeOrNotExistent: {value.KindDate, ops(lt), ops(lt)},
	FieldProcessDefinitionID:         {value.KindString, ops(eq), nil},
	FieldProcessDefinitionKey:        {value.KindString, ops(eq, in), nil},
	FieldProcessDefinitionName:       {value.KindString, ops(eq, like), nil},
	FieldProcessInstanceID:           {value.KindString, ops(eq, in), nil},
	FieldProcessInstanceBusinessKey:  {value.KindString, ops(eq, like, in), ops(eq, like)},
	FieldExecutionID:                 {value.KindString, ops(eq), nil},
	FieldActivityInstanceID:          {value.KindString, ops(in), nil},
	FieldCaseDefinitionID:            {value.KindString, ops(eq), nil},
	FieldCaseDefinitionKey:           {value.KindString, ops(eq), nil},
	FieldCaseDefinitionName:          {value.KindString, ops(eq, like), nil},
	FieldCaseInstanceID:              {value.KindString, ops(eq), nil},
	FieldCaseInstanceBusinessKey:     {value.KindString, ops(eq, like), nil},
	FieldCaseExecutionID:             {value.KindString, ops(eq), nil},
	FieldTenantID:                    {value.KindString, ops(in, isNull), nil},
	FieldSuspended:                   {value.KindBoolean, ops(eq), nil},
	FieldTaskVariable:                {"", allComparisons, nil},
	FieldProcessVariable:             {"", allComparisons, nil},
	FieldCaseInstanceVariable:        {"", allComparisons, nil},
}

func ops(o ...criteria.Operator) []criteria.Operator { return o }

// ParseField validates a field name.
func ParseField(s string) (Field, error) {
	f := Field(s)
	if _, ok := fieldSpecs[f]; !ok {
		return "", fmt.Errorf("unknown task query field %q", s)
	}
	return f, nil
}

// Kind returns the value kind the field holds; variable fields return "".
func (f Field) Kind() value.Kind {
	return fieldSpecs[f].kind
}

// Accepts reports whether op is valid for f, and whether it may take an
// expression operand.
func (f Field) Accepts(op criteria.Operator, expression bool) bool {
	spec, ok := fieldSpecs[f]
	if !ok {
		return false
	}
	if expression {
		return slices.Contains(spec.expr, op)
	}
	return slices.Contains(spec.ops, op)
}

// VariableScope returns the scope a variable field filters on.
func (f Field) VariableScope() (model.VariableScope, bool) {
	switch f {
	case FieldTaskVariable:
		return model.ScopeTask, true
	case FieldProcessVariable:
		return model.ScopeProcess, true
	case FieldCaseInstanceVariable:
		return model.ScopeCase, true
	}
	return "", false
}

func isCandidateField(f Field) bool {
	switch f {
	case FieldCandidateUser, FieldCandidateGroup, FieldCandidateGroups, FieldCandidateUsers:
		return true
	}
	return false
}

// repeatableInAnd: variable conditions accumulate.
func repeatableInAnd(slot criteria.Slot[Field]) bool {
	_, isVar := slot.Field.VariableScope()
	return isVar
}

// repeatableInOr: candidate equality checks also accumulate, as separate
// alternatives.
func repeatableInOr(slot criteria.Slot[Field]) bool {
	if repeatableInAnd(slot) {
		return true
	}
	return slot.Op == eq && (slot.Field == FieldCandidateUser || slot.Field == FieldCandidateGroup)
}

// Attribute returns the value of a plain field on t. Empty strings and nil
// times are Null. Fields backed by related records (candidates, involved
// user, variables) have no attribute and return Null.
func (f Field) Attribute(t *model.Task) value.Value {
	switch f {
	case FieldTaskID:
		return str(t.ID)
	case FieldName:
		return str(t.Name)
	case FieldDescription:
		return str(t.Description)
	case FieldPriority:
		return value.Integer(t.Priority)
	case FieldAssignee:
		return str(t.Assignee)
	case FieldOwner:
		return str(t.Owner)
	case FieldTaskDefinitionKey:
		return str(t.TaskDefinitionKey)
	case FieldParentTaskID:
		return str(t.ParentTaskID)
	case FieldDelegationState:
		return str(string(t.DelegationState))
	case FieldCreateTime:
		return value.DateOf(t.CreateTime)
	case FieldUpdatedAfter:
		if t.LastUpdated != nil {
			return value.DateOf(*t.LastUpdated)
		}
		return value.Null{}
	case FieldDueDate:
		return date(t.DueDate)
	case FieldFollowUpDate, FieldFollowUpBeforeOrNotExistent:
		return date(t.FollowUpDate)
	case FieldProcessDefinitionID:
		return str(t.ProcessDefinitionID)
	case FieldProcessDefinitionKey:
		return str(t.ProcessDefinitionKey)
	case FieldProcessDefinitionName:
		return str(t.ProcessDefinitionName)
	case FieldProcessInstanceID:
		return str(t.ProcessInstanceID)
	case FieldProcessInstanceBusinessKey:
		return str(t.ProcessInstanceBusinessKey)
	case FieldExecutionID:
		return str(t.ExecutionID)
	case FieldActivityInstanceID:
		return str(t.ActivityInstanceID)
	case FieldCaseDefinitionID:
		return str(t.CaseDefinitionID)
	case FieldCaseDefinitionKey:
		return str(t.CaseDefinitionKey)
	case FieldCaseDefinitionName:
		return str(t.CaseDefinitionName)
	case FieldCaseInstanceID:
		return str(t.CaseInstanceID)
	case FieldCaseInstanceBusinessKey:
		return str(t.CaseInstanceBusinessKey)
	case FieldCaseExecutionID:
		return str(t.CaseExecutionID)
	case FieldTenantID:
		return str(t.TenantID)
	case FieldSuspended:
		return value.Boolean(t.Suspended)
	}
	return value.Null{}
}

func str(s string) value.Value {
	if s == "" {
		return value.Null{}
	}
	return value.String(s)
}

func date(p *time.Time) value.Value {
	if p == nil {
		return value.Null{}
	}
	return value.DateOf(*p)
}
