package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskquery"
)

var (
	_ taskquery.Executor       = (*Store)(nil)
	_ taskquery.NativeExecutor = (*Store)(nil)
)

// Count returns the number of tasks matching r.
func (s *Store) Count(ctx context.Context, r *taskquery.Resolved) (int64, error) {
	if r.HasExcludingConditions() {
		s.logger.Debug("count short-circuited by excluding conditions")
		return 0, nil
	}
	stmt, args, err := s.compiler.CompileCount(r)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, stmt, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// List returns the tasks matching r in the order r requests.
func (s *Store) List(ctx context.Context, r *taskquery.Resolved) ([]model.Task, error) {
	if r.HasExcludingConditions() {
		s.logger.Debug("list short-circuited by excluding conditions")
		return []model.Task{}, nil
	}
	stmt, args, err := s.compiler.CompileList(r)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	s.logger.Debug("list tasks", "sql", stmt, "params", len(args))

	tasks, err := queryTasks(ctx, s.db, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if !r.InitializeFormKeys {
		for i := range tasks {
			tasks[i].FormKey = ""
		}
		return tasks, nil
	}
	for i := range tasks {
		tasks[i].FormKeyInitialized = true
	}
	return tasks, nil
}

// NativeCount counts the rows of a native statement.
func (s *Store) NativeCount(ctx context.Context, statement string, params map[string]any) (int64, error) {
	stmt, args, err := taskquery.BindNamed(statement, params)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ("+stmt+")", args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("native count: %w", err)
	}
	return n, nil
}

// NativeList runs a native statement selecting task columns. Columns are
// matched by name; unknown columns are ignored.
func (s *Store) NativeList(ctx context.Context, statement string, params map[string]any, page *taskquery.Page) ([]model.Task, error) {
	stmt, args, err := taskquery.BindNamed(statement, params)
	if err != nil {
		return nil, err
	}
	if page != nil {
		stmt = "SELECT * FROM (" + stmt + ") LIMIT ? OFFSET ?"
		args = append(args, int64(page.Max), int64(page.First))
	}
	tasks, err := queryTasks(ctx, s.db, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("native list: %w", err)
	}
	return tasks, nil
}

func queryTasks(ctx context.Context, q querier, stmt string, args ...any) ([]model.Task, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	tasks := []model.Task{}
	for rows.Next() {
		var sc taskScan
		if err := rows.Scan(sc.dests(cols)...); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, sc.task())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// taskScan holds nullable scan targets for one tasks row.
type taskScan struct {
	id, name, description, assignee, owner, delegation        sql.NullString
	processInstance, processDefinition, processDefinitionKey  sql.NullString
	processDefinitionName, processBusinessKey                 sql.NullString
	execution, activityInstance                               sql.NullString
	caseInstance, caseDefinition, caseDefinitionKey           sql.NullString
	caseDefinitionName, caseBusinessKey, caseExecution        sql.NullString
	taskDefinitionKey, parentTask, tenant, formKey            sql.NullString
	priority, due, followUp, created, suspended, lastUpdated  sql.NullInt64
	version                                                   sql.NullInt64
}

func (sc *taskScan) dests(cols []string) []any {
	byName := map[string]any{
		"id":                            &sc.id,
		"name":                          &sc.name,
		"description":                   &sc.description,
		"priority":                      &sc.priority,
		"assignee":                      &sc.assignee,
		"owner":                         &sc.owner,
		"due_date":                      &sc.due,
		"follow_up_date":                &sc.followUp,
		"create_time":                   &sc.created,
		"delegation_state":              &sc.delegation,
		"process_instance_id":           &sc.processInstance,
		"process_definition_id":         &sc.processDefinition,
		"process_definition_key":        &sc.processDefinitionKey,
		"process_definition_name":       &sc.processDefinitionName,
		"process_instance_business_key": &sc.processBusinessKey,
		"execution_id":                  &sc.execution,
		"activity_instance_id":          &sc.activityInstance,
		"case_instance_id":              &sc.caseInstance,
		"case_definition_id":            &sc.caseDefinition,
		"case_definition_key":           &sc.caseDefinitionKey,
		"case_definition_name":          &sc.caseDefinitionName,
		"case_instance_business_key":    &sc.caseBusinessKey,
		"case_execution_id":             &sc.caseExecution,
		"task_definition_key":           &sc.taskDefinitionKey,
		"parent_task_id":                &sc.parentTask,
		"tenant_id":                     &sc.tenant,
		"suspended":                     &sc.suspended,
		"form_key":                      &sc.formKey,
		"last_updated":                  &sc.lastUpdated,
		"version":                       &sc.version,
	}
	dests := make([]any, len(cols))
	for i, c := range cols {
		if d, ok := byName[c]; ok {
			dests[i] = d
			continue
		}
		dests[i] = new(any)
	}
	return dests
}

func (sc *taskScan) task() model.Task {
	return model.Task{
		ID:                         sc.id.String,
		Name:                       sc.name.String,
		Description:                sc.description.String,
		Priority:                   int(sc.priority.Int64),
		Assignee:                   sc.assignee.String,
		Owner:                      sc.owner.String,
		DueDate:                    timePtr(sc.due),
		FollowUpDate:               timePtr(sc.followUp),
		CreateTime:                 time.UnixMilli(sc.created.Int64).UTC(),
		DelegationState:            model.DelegationState(sc.delegation.String),
		ProcessInstanceID:          sc.processInstance.String,
		ProcessDefinitionID:        sc.processDefinition.String,
		ProcessDefinitionKey:       sc.processDefinitionKey.String,
		ProcessDefinitionName:      sc.processDefinitionName.String,
		ProcessInstanceBusinessKey: sc.processBusinessKey.String,
		ExecutionID:                sc.execution.String,
		ActivityInstanceID:         sc.activityInstance.String,
		CaseInstanceID:             sc.caseInstance.String,
		CaseDefinitionID:           sc.caseDefinition.String,
		CaseDefinitionKey:          sc.caseDefinitionKey.String,
		CaseDefinitionName:         sc.caseDefinitionName.String,
		CaseInstanceBusinessKey:    sc.caseBusinessKey.String,
		CaseExecutionID:            sc.caseExecution.String,
		TaskDefinitionKey:          sc.taskDefinitionKey.String,
		ParentTaskID:               sc.parentTask.String,
		TenantID:                   sc.tenant.String,
		Suspended:                  sc.suspended.Int64 != 0,
		FormKey:                    sc.formKey.String,
		LastUpdated:                timePtr(sc.lastUpdated),
		Version:                    int(sc.version.Int64),
	}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

// nullString maps the empty string to NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullMillis maps a nil time to NULL.
func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
