// Package model defines the task entities read by queries and stamped by
// the mutation tracker.
//
// Optional string attributes use the empty string for "absent"; storage
// adapters map it to NULL. Times are kept in UTC at millisecond precision.
package model

import (
	"fmt"
	"time"

	"github.com/roach88/taskq/internal/value"
)

// DelegationState tracks a delegated task.
type DelegationState string

const (
	DelegationNone     DelegationState = ""
	DelegationPending  DelegationState = "PENDING"
	DelegationResolved DelegationState = "RESOLVED"
)

// ParseDelegationState accepts PENDING, RESOLVED or the empty string.
func ParseDelegationState(s string) (DelegationState, error) {
	switch DelegationState(s) {
	case DelegationNone, DelegationPending, DelegationResolved:
		return DelegationState(s), nil
	}
	return "", fmt.Errorf("unknown delegation state %q", s)
}

// DefaultPriority is assigned to new tasks.
const DefaultPriority = 50

// Task is a unit of human work.
type Task struct {
	ID              string          `json:"id" yaml:"id"`
	Name            string          `json:"name,omitempty" yaml:"name,omitempty"`
	Description     string          `json:"description,omitempty" yaml:"description,omitempty"`
	Priority        int             `json:"priority" yaml:"priority"`
	Assignee        string          `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Owner           string          `json:"owner,omitempty" yaml:"owner,omitempty"`
	DueDate         *time.Time      `json:"dueDate,omitempty" yaml:"dueDate,omitempty"`
	FollowUpDate    *time.Time      `json:"followUpDate,omitempty" yaml:"followUpDate,omitempty"`
	CreateTime      time.Time       `json:"createTime" yaml:"createTime"`
	DelegationState DelegationState `json:"delegationState,omitempty" yaml:"delegationState,omitempty"`

	ProcessInstanceID          string `json:"processInstanceId,omitempty" yaml:"processInstanceId,omitempty"`
	ProcessDefinitionID        string `json:"processDefinitionId,omitempty" yaml:"processDefinitionId,omitempty"`
	ProcessDefinitionKey       string `json:"processDefinitionKey,omitempty" yaml:"processDefinitionKey,omitempty"`
	ProcessDefinitionName      string `json:"processDefinitionName,omitempty" yaml:"processDefinitionName,omitempty"`
	ProcessInstanceBusinessKey string `json:"processInstanceBusinessKey,omitempty" yaml:"processInstanceBusinessKey,omitempty"`
	ExecutionID                string `json:"executionId,omitempty" yaml:"executionId,omitempty"`
	ActivityInstanceID         string `json:"activityInstanceId,omitempty" yaml:"activityInstanceId,omitempty"`
	CaseInstanceID             string `json:"caseInstanceId,omitempty" yaml:"caseInstanceId,omitempty"`
	CaseDefinitionID           string `json:"caseDefinitionId,omitempty" yaml:"caseDefinitionId,omitempty"`
	CaseDefinitionKey          string `json:"caseDefinitionKey,omitempty" yaml:"caseDefinitionKey,omitempty"`
	CaseDefinitionName         string `json:"caseDefinitionName,omitempty" yaml:"caseDefinitionName,omitempty"`
	CaseInstanceBusinessKey    string `json:"caseInstanceBusinessKey,omitempty" yaml:"caseInstanceBusinessKey,omitempty"`
	CaseExecutionID            string `json:"caseExecutionId,omitempty" yaml:"caseExecutionId,omitempty"`
	TaskDefinitionKey          string `json:"taskDefinitionKey,omitempty" yaml:"taskDefinitionKey,omitempty"`
	ParentTaskID               string `json:"parentTaskId,omitempty" yaml:"parentTaskId,omitempty"`
	TenantID                   string `json:"tenantId,omitempty" yaml:"tenantId,omitempty"`
	Suspended                  bool   `json:"suspended,omitempty" yaml:"suspended,omitempty"`
	FormKey                    string `json:"formKey,omitempty" yaml:"formKey,omitempty"`

	// LastUpdated is nil until the first task-scoped mutation.
	LastUpdated *time.Time `json:"lastUpdated,omitempty" yaml:"lastUpdated,omitempty"`

	// Version is the optimistic locking counter; 0 means not yet persisted.
	Version int `json:"version" yaml:"version"`

	// FormKeyInitialized is set when the query eagerly loaded FormKey.
	FormKeyInitialized bool `json:"-" yaml:"-"`
}

// Standalone reports whether the task belongs to neither a process nor a
// case instance.
func (t *Task) Standalone() bool {
	return t.ProcessInstanceID == "" && t.CaseInstanceID == ""
}

// Clone returns a deep copy.
func (t Task) Clone() Task {
	t.DueDate = cloneTime(t.DueDate)
	t.FollowUpDate = cloneTime(t.FollowUpDate)
	t.LastUpdated = cloneTime(t.LastUpdated)
	return t
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Millis truncates t to millisecond precision in UTC.
func Millis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

// MillisPtr is Millis for optional times.
func MillisPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	m := Millis(*t)
	return &m
}

// Identity link types.
const (
	LinkAssignee  = "assignee"
	LinkOwner     = "owner"
	LinkCandidate = "candidate"
)

// IdentityLink relates a task to exactly one user or group.
type IdentityLink struct {
	ID      string `json:"id" yaml:"id"`
	TaskID  string `json:"taskId" yaml:"taskId"`
	Type    string `json:"type" yaml:"type"`
	UserID  string `json:"userId,omitempty" yaml:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty" yaml:"groupId,omitempty"`
}

// Validate enforces that exactly one of UserID and GroupID is set.
func (l IdentityLink) Validate() error {
	if l.TaskID == "" {
		return fmt.Errorf("identity link: task id is required")
	}
	if l.Type == "" {
		return fmt.Errorf("identity link: type is required")
	}
	if l.UserID == "" && l.GroupID == "" {
		return fmt.Errorf("identity link: user id and group id cannot both be null")
	}
	if l.UserID != "" && l.GroupID != "" {
		return fmt.Errorf("identity link: user id and group id cannot both be set")
	}
	return nil
}

// VariableScope names the owner of a variable.
type VariableScope string

const (
	ScopeTask          VariableScope = "task"
	ScopeExecution     VariableScope = "execution"
	ScopeProcess       VariableScope = "process"
	ScopeCaseExecution VariableScope = "caseExecution"
	ScopeCase          VariableScope = "case"
)

// ParseVariableScope parses a scope name.
func ParseVariableScope(s string) (VariableScope, error) {
	switch VariableScope(s) {
	case ScopeTask, ScopeExecution, ScopeProcess, ScopeCaseExecution, ScopeCase:
		return VariableScope(s), nil
	}
	return "", fmt.Errorf("unknown variable scope %q", s)
}

// ScopeIDOf returns the id of t's owner for scope, or "" when t has none.
func ScopeIDOf(t *Task, scope VariableScope) string {
	switch scope {
	case ScopeTask:
		return t.ID
	case ScopeExecution:
		return t.ExecutionID
	case ScopeProcess:
		return t.ProcessInstanceID
	case ScopeCaseExecution:
		return t.CaseExecutionID
	case ScopeCase:
		return t.CaseInstanceID
	}
	return ""
}

// Variable is a named typed value owned by a scope.
type Variable struct {
	Scope   VariableScope `json:"scope" yaml:"scope"`
	ScopeID string        `json:"scopeId" yaml:"scopeId"`
	Name    string        `json:"name" yaml:"name"`
	Value   value.Value   `json:"-" yaml:"-"`
}

// Comment is a note attached to a task, a process instance, or both.
type Comment struct {
	ID                string    `json:"id" yaml:"id"`
	TaskID            string    `json:"taskId,omitempty" yaml:"taskId,omitempty"`
	ProcessInstanceID string    `json:"processInstanceId,omitempty" yaml:"processInstanceId,omitempty"`
	UserID            string    `json:"userId,omitempty" yaml:"userId,omitempty"`
	Time              time.Time `json:"time" yaml:"time"`
	Message           string    `json:"message" yaml:"message"`
}

// Attachment is a file or link attached to a task or process instance.
type Attachment struct {
	ID                string `json:"id" yaml:"id"`
	TaskID            string `json:"taskId,omitempty" yaml:"taskId,omitempty"`
	ProcessInstanceID string `json:"processInstanceId,omitempty" yaml:"processInstanceId,omitempty"`
	Name              string `json:"name" yaml:"name"`
	Description       string `json:"description,omitempty" yaml:"description,omitempty"`
	Type              string `json:"type,omitempty" yaml:"type,omitempty"`
	URL               string `json:"url,omitempty" yaml:"url,omitempty"`
	Content           []byte `json:"-" yaml:"-"`
}

// Membership places a user in a group of the identity directory.
type Membership struct {
	UserID  string `json:"userId" yaml:"userId"`
	GroupID string `json:"groupId" yaml:"groupId"`
}
