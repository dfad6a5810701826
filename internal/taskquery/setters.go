package taskquery

import (
	"time"

	"github.com/roach88/taskq/internal/criteria"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskerr"
	"github.com/roach88/taskq/internal/value"
)

func (q *Query) str(field Field, op criteria.Operator, param, v string) *Query {
	if q.err != nil {
		return q
	}
	if v == "" {
		return q.fail(taskerr.NullValue(param))
	}
	return q.AddCriterion(criteria.Criterion[Field]{Field: field, Op: op, Operand: criteria.Literal{Value: value.String(v)}})
}

func (q *Query) strs(field Field, op criteria.Operator, param string, vs []string) *Query {
	if q.err != nil {
		return q
	}
	if len(vs) == 0 {
		return q.fail(taskerr.NullValue(param))
	}
	vals := make([]value.Value, len(vs))
	for i, v := range vs {
		if v == "" {
			return q.fail(taskerr.NullValue(param))
		}
		vals[i] = value.String(v)
	}
	return q.AddCriterion(criteria.Criterion[Field]{Field: field, Op: op, Operand: criteria.Values{Values: vals}})
}

func (q *Query) when(field Field, op criteria.Operator, param string, t time.Time) *Query {
	if q.err != nil {
		return q
	}
	if t.IsZero() {
		return q.fail(taskerr.NullValue(param))
	}
	return q.AddCriterion(criteria.Criterion[Field]{Field: field, Op: op, Operand: criteria.Literal{Value: value.DateOf(t)}})
}

func (q *Query) expression(field Field, op criteria.Operator, param, text string) *Query {
	if q.err != nil {
		return q
	}
	if text == "" {
		return q.fail(taskerr.NullValue(param))
	}
	return q.AddCriterion(criteria.Criterion[Field]{Field: field, Op: op, Operand: criteria.Expression{Text: text}})
}

func (q *Query) none(field Field, op criteria.Operator) *Query {
	return q.AddCriterion(criteria.Criterion[Field]{Field: field, Op: op, Operand: criteria.None{}})
}

// Identity

func (q *Query) TaskID(id string) *Query { return q.str(FieldTaskID, eq, "taskId", id) }
func (q *Query) TaskIDIn(ids ...string) *Query {
	return q.strs(FieldTaskID, in, "taskIds", ids)
}

func (q *Query) TaskAssignee(assignee string) *Query {
	return q.str(FieldAssignee, eq, "assignee", assignee)
}
func (q *Query) TaskAssigneeExpression(e string) *Query {
	return q.expression(FieldAssignee, eq, "assigneeExpression", e)
}
func (q *Query) TaskAssigneeLike(pattern string) *Query {
	return q.str(FieldAssignee, like, "assigneeLike", pattern)
}
func (q *Query) TaskAssigneeLikeExpression(e string) *Query {
	return q.expression(FieldAssignee, like, "assigneeLikeExpression", e)
}
func (q *Query) TaskAssigneeIn(assignees ...string) *Query {
	return q.strs(FieldAssignee, in, "assignees", assignees)
}
func (q *Query) TaskAssigneeNotIn(assignees ...string) *Query {
	return q.strs(FieldAssignee, notIn, "assignees", assignees)
}

// TaskUnassigned selects tasks without an assignee.
func (q *Query) TaskUnassigned() *Query { return q.none(FieldAssignee, isNull) }

// TaskAssigned selects tasks with an assignee.
func (q *Query) TaskAssigned() *Query { return q.none(FieldAssignee, isNotNull) }

func (q *Query) TaskOwner(owner string) *Query { return q.str(FieldOwner, eq, "owner", owner) }
func (q *Query) TaskOwnerExpression(e string) *Query {
	return q.expression(FieldOwner, eq, "ownerExpression", e)
}

// TaskInvolvedUser selects tasks the user is assignee or owner of, or
// linked to through any identity link.
func (q *Query) TaskInvolvedUser(user string) *Query {
	return q.str(FieldInvolvedUser, eq, "involvedUser", user)
}
func (q *Query) TaskInvolvedUserExpression(e string) *Query {
	return q.expression(FieldInvolvedUser, eq, "involvedUserExpression", e)
}

// TaskCandidateUser selects tasks the user is a candidate for, directly or
// through one of the user's groups. Unless IncludeAssignedTasks is set,
// only unassigned tasks match.
func (q *Query) TaskCandidateUser(user string) *Query {
	return q.str(FieldCandidateUser, eq, "candidateUser", user)
}
func (q *Query) TaskCandidateUserExpression(e string) *Query {
	return q.expression(FieldCandidateUser, eq, "candidateUserExpression", e)
}

// TaskCandidateGroup selects tasks the group is a candidate for. Combined
// with TaskCandidateGroupIn at the top level, both must hold.
func (q *Query) TaskCandidateGroup(group string) *Query {
	return q.str(FieldCandidateGroup, eq, "candidateGroup", group)
}
func (q *Query) TaskCandidateGroupExpression(e string) *Query {
	return q.expression(FieldCandidateGroup, eq, "candidateGroupExpression", e)
}
func (q *Query) TaskCandidateGroupLike(pattern string) *Query {
	return q.str(FieldCandidateGroup, like, "candidateGroupLike", pattern)
}
func (q *Query) TaskCandidateGroupIn(groups ...string) *Query {
	return q.strs(FieldCandidateGroup, in, "candidateGroupList", groups)
}
func (q *Query) TaskCandidateGroupInExpression(e string) *Query {
	return q.expression(FieldCandidateGroup, in, "candidateGroupInExpression", e)
}

func (q *Query) WithCandidateGroups() *Query    { return q.none(FieldCandidateGroups, isNotNull) }
func (q *Query) WithoutCandidateGroups() *Query { return q.none(FieldCandidateGroups, isNull) }
func (q *Query) WithCandidateUsers() *Query     { return q.none(FieldCandidateUsers, isNotNull) }
func (q *Query) WithoutCandidateUsers() *Query  { return q.none(FieldCandidateUsers, isNull) }

// Descriptive

func (q *Query) TaskName(name string) *Query { return q.str(FieldName, eq, "name", name) }
func (q *Query) TaskNameLike(pattern string) *Query {
	return q.str(FieldName, like, "nameLike", pattern)
}
func (q *Query) TaskNameNotEqual(name string) *Query {
	return q.str(FieldName, neq, "nameNotEqual", name)
}
func (q *Query) TaskNameNotLike(pattern string) *Query {
	return q.str(FieldName, nlike, "nameNotLike", pattern)
}

func (q *Query) TaskDescription(d string) *Query {
	return q.str(FieldDescription, eq, "description", d)
}
func (q *Query) TaskDescriptionLike(pattern string) *Query {
	return q.str(FieldDescription, like, "descriptionLike", pattern)
}

func (q *Query) priority(op criteria.Operator, p int) *Query {
	return q.AddCriterion(criteria.Criterion[Field]{Field: FieldPriority, Op: op, Operand: criteria.Literal{Value: value.Integer(p)}})
}

func (q *Query) TaskPriority(p int) *Query    { return q.priority(eq, p) }
func (q *Query) TaskMinPriority(p int) *Query { return q.priority(gte, p) }
func (q *Query) TaskMaxPriority(p int) *Query { return q.priority(lte, p) }

func (q *Query) TaskDefinitionKey(key string) *Query {
	return q.str(FieldTaskDefinitionKey, eq, "taskDefinitionKey", key)
}
func (q *Query) TaskDefinitionKeyLike(pattern string) *Query {
	return q.str(FieldTaskDefinitionKey, like, "taskDefinitionKeyLike", pattern)
}
func (q *Query) TaskDefinitionKeyIn(keys ...string) *Query {
	return q.strs(FieldTaskDefinitionKey, in, "taskDefinitionKeys", keys)
}
func (q *Query) TaskDefinitionKeyNotIn(keys ...string) *Query {
	return q.strs(FieldTaskDefinitionKey, notIn, "taskDefinitionKeys", keys)
}

func (q *Query) TaskParentTaskID(id string) *Query {
	return q.str(FieldParentTaskID, eq, "parentTaskId", id)
}

// ExcludeSubtasks selects only tasks without a parent task.
func (q *Query) ExcludeSubtasks() *Query { return q.none(FieldParentTaskID, isNull) }

// TaskDelegationState filters by delegation state; DelegationNone selects
// tasks that were never delegated.
func (q *Query) TaskDelegationState(state model.DelegationState) *Query {
	if state == model.DelegationNone {
		return q.none(FieldDelegationState, isNull)
	}
	return q.str(FieldDelegationState, eq, "delegationState", string(state))
}

// Temporal

func (q *Query) TaskCreatedOn(t time.Time) *Query {
	return q.when(FieldCreateTime, eq, "createTime", t)
}
func (q *Query) TaskCreatedOnExpression(e string) *Query {
	return q.expression(FieldCreateTime, eq, "createTimeExpression", e)
}
func (q *Query) TaskCreatedBefore(t time.Time) *Query {
	return q.when(FieldCreateTime, lt, "createTimeBefore", t)
}
func (q *Query) TaskCreatedBeforeExpression(e string) *Query {
	return q.expression(FieldCreateTime, lt, "createTimeBeforeExpression", e)
}
func (q *Query) TaskCreatedAfter(t time.Time) *Query {
	return q.when(FieldCreateTime, gt, "createTimeAfter", t)
}
func (q *Query) TaskCreatedAfterExpression(e string) *Query {
	return q.expression(FieldCreateTime, gt, "createTimeAfterExpression", e)
}

// TaskUpdatedAfter selects tasks whose lastUpdated marker is after t, and
// never-updated tasks created after t.
func (q *Query) TaskUpdatedAfter(t time.Time) *Query {
	return q.when(FieldUpdatedAfter, gt, "updatedAfter", t)
}
func (q *Query) TaskUpdatedAfterExpression(e string) *Query {
	return q.expression(FieldUpdatedAfter, gt, "updatedAfterExpression", e)
}

func (q *Query) DueDate(t time.Time) *Query { return q.when(FieldDueDate, eq, "dueDate", t) }
func (q *Query) DueDateExpression(e string) *Query {
	return q.expression(FieldDueDate, eq, "dueDateExpression", e)
}
func (q *Query) DueBefore(t time.Time) *Query { return q.when(FieldDueDate, lt, "dueBefore", t) }
func (q *Query) DueBeforeExpression(e string) *Query {
	return q.expression(FieldDueDate, lt, "dueBeforeExpression", e)
}
func (q *Query) DueAfter(t time.Time) *Query { return q.when(FieldDueDate, gt, "dueAfter", t) }
func (q *Query) DueAfterExpression(e string) *Query {
	return q.expression(FieldDueDate, gt, "dueAfterExpression", e)
}
func (q *Query) WithoutDueDate() *Query { return q.none(FieldDueDate, isNull) }

func (q *Query) FollowUpDate(t time.Time) *Query {
	return q.when(FieldFollowUpDate, eq, "followUpDate", t)
}
func (q *Query) FollowUpDateExpression(e string) *Query {
	return q.expression(FieldFollowUpDate, eq, "followUpDateExpression", e)
}
func (q *Query) FollowUpBefore(t time.Time) *Query {
	return q.when(FieldFollowUpDate, lt, "followUpBefore", t)
}
func (q *Query) FollowUpBeforeExpression(e string) *Query {
	return q.expression(FieldFollowUpDate, lt, "followUpBeforeExpression", e)
}
func (q *Query) FollowUpAfter(t time.Time) *Query {
	return q.when(FieldFollowUpDate, gt, "followUpAfter", t)
}
func (q *Query) FollowUpAfterExpression(e string) *Query {
	return q.expression(FieldFollowUpDate, gt, "followUpAfterExpression", e)
}

// FollowUpBeforeOrNotExistent selects tasks with a follow-up date before t
// or without a follow-up date.
func (q *Query) FollowUpBeforeOrNotExistent(t time.Time) *Query {
	return q.when(FieldFollowUpBeforeOrNotExistent, lt, "followUpBeforeOrNotExistent", t)
}
func (q *Query) FollowUpBeforeOrNotExistentExpression(e string) *Query {
	return q.expression(FieldFollowUpBeforeOrNotExistent, lt, "followUpBeforeOrNotExistentExpression", e)
}
func (q *Query) WithoutFollowUpDate() *Query { return q.none(FieldFollowUpDate, isNull) }

// Context

func (q *Query) ProcessDefinitionID(id string) *Query {
	return q.str(FieldProcessDefinitionID, eq, "processDefinitionId", id)
}
func (q *Query) ProcessDefinitionKey(key string) *Query {
	return q.str(FieldProcessDefinitionKey, eq, "processDefinitionKey", key)
}
func (q *Query) ProcessDefinitionKeyIn(keys ...string) *Query {
	return q.strs(FieldProcessDefinitionKey, in, "processDefinitionKeys", keys)
}
func (q *Query) ProcessDefinitionName(name string) *Query {
	return q.str(FieldProcessDefinitionName, eq, "processDefinitionName", name)
}
func (q *Query) ProcessDefinitionNameLike(pattern string) *Query {
	return q.str(FieldProcessDefinitionName, like, "processDefinitionNameLike", pattern)
}
func (q *Query) ProcessInstanceID(id string) *Query {
	return q.str(FieldProcessInstanceID, eq, "processInstanceId", id)
}
func (q *Query) ProcessInstanceIDIn(ids ...string) *Query {
	return q.strs(FieldProcessInstanceID, in, "processInstanceIds", ids)
}
func (q *Query) ProcessInstanceBusinessKey(key string) *Query {
	return q.str(FieldProcessInstanceBusinessKey, eq, "processInstanceBusinessKey", key)
}
func (q *Query) ProcessInstanceBusinessKeyExpression(e string) *Query {
	return q.expression(FieldProcessInstanceBusinessKey, eq, "processInstanceBusinessKeyExpression", e)
}
func (q *Query) ProcessInstanceBusinessKeyLike(pattern string) *Query {
	return q.str(FieldProcessInstanceBusinessKey, like, "processInstanceBusinessKeyLike", pattern)
}
func (q *Query) ProcessInstanceBusinessKeyLikeExpression(e string) *Query {
	return q.expression(FieldProcessInstanceBusinessKey, like, "processInstanceBusinessKeyLikeExpression", e)
}
func (q *Query) ProcessInstanceBusinessKeyIn(keys ...string) *Query {
	return q.strs(FieldProcessInstanceBusinessKey, in, "processInstanceBusinessKeys", keys)
}
func (q *Query) ExecutionID(id string) *Query {
	return q.str(FieldExecutionID, eq, "executionId", id)
}
func (q *Query) ActivityInstanceIDIn(ids ...string) *Query {
	return q.strs(FieldActivityInstanceID, in, "activityInstanceIds", ids)
}

func (q *Query) CaseDefinitionID(id string) *Query {
	return q.str(FieldCaseDefinitionID, eq, "caseDefinitionId", id)
}
func (q *Query) CaseDefinitionKey(key string) *Query {
	return q.str(FieldCaseDefinitionKey, eq, "caseDefinitionKey", key)
}
func (q *Query) CaseDefinitionName(name string) *Query {
	return q.str(FieldCaseDefinitionName, eq, "caseDefinitionName", name)
}
func (q *Query) CaseDefinitionNameLike(pattern string) *Query {
	return q.str(FieldCaseDefinitionName, like, "caseDefinitionNameLike", pattern)
}
func (q *Query) CaseInstanceID(id string) *Query {
	return q.str(FieldCaseInstanceID, eq, "caseInstanceId", id)
}
func (q *Query) CaseInstanceBusinessKey(key string) *Query {
	return q.str(FieldCaseInstanceBusinessKey, eq, "caseInstanceBusinessKey", key)
}
func (q *Query) CaseInstanceBusinessKeyLike(pattern string) *Query {
	return q.str(FieldCaseInstanceBusinessKey, like, "caseInstanceBusinessKeyLike", pattern)
}
func (q *Query) CaseExecutionID(id string) *Query {
	return q.str(FieldCaseExecutionID, eq, "caseExecutionId", id)
}

func (q *Query) TenantIDIn(ids ...string) *Query {
	return q.strs(FieldTenantID, in, "tenantIds", ids)
}
func (q *Query) WithoutTenantID() *Query { return q.none(FieldTenantID, isNull) }

// Active selects tasks that are not suspended.
func (q *Query) Active() *Query {
	return q.AddCriterion(criteria.Criterion[Field]{Field: FieldSuspended, Op: eq, Operand: criteria.Literal{Value: value.Boolean(false)}})
}

// Suspended selects suspended tasks.
func (q *Query) Suspended() *Query {
	return q.AddCriterion(criteria.Criterion[Field]{Field: FieldSuspended, Op: eq, Operand: criteria.Literal{Value: value.Boolean(true)}})
}
