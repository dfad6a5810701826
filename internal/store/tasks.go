package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/querysql"
	"github.com/roach88/taskq/internal/taskerr"
)

// Tx is a unit of work against the store. All repository operations run
// through a Tx so a dependent change and its task version bump commit
// together.
type Tx struct {
	q querier
}

// WithTx runs fn in a transaction. The transaction commits when fn returns
// nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Tx{q: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Task reads one task outside of a transaction.
func (s *Store) Task(ctx context.Context, id string) (*model.Task, error) {
	return (&Tx{q: s.db}).Task(ctx, id)
}

var selectTask = "SELECT " + strings.Join(querysql.TaskColumns, ", ") + " FROM tasks"

// Task returns the task with id or a NOT_FOUND error.
func (tx *Tx) Task(ctx context.Context, id string) (*model.Task, error) {
	tasks, err := queryTasks(ctx, tx.q, selectTask+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("read task %s: %w", id, err)
	}
	if len(tasks) == 0 {
		return nil, taskerr.NotFound("task %s not found", id)
	}
	return &tasks[0], nil
}

// InsertTask stores a new task. The stored version is always 1.
func (tx *Tx) InsertTask(ctx context.Context, t *model.Task) error {
	t.Version = 1
	return tx.insertTask(ctx, t)
}

func (tx *Tx) insertTask(ctx context.Context, t *model.Task) error {
	cols := strings.Join(querysql.TaskColumns, ", ")
	_, err := tx.q.ExecContext(ctx,
		"INSERT INTO tasks ("+cols+") VALUES ("+placeholders(len(querysql.TaskColumns))+")",
		taskArgs(t)...,
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTask writes t if the stored version still equals expected. t.Version
// carries the new version. A stale expected version yields
// CONCURRENCY_CONFLICT; a missing row yields NOT_FOUND.
func (tx *Tx) UpdateTask(ctx context.Context, t *model.Task, expected int) error {
	sets := make([]string, 0, len(querysql.TaskColumns)-1)
	for _, c := range querysql.TaskColumns[1:] {
		sets = append(sets, c+" = ?")
	}
	args := append(taskArgs(t)[1:], t.ID, expected)

	res, err := tx.q.ExecContext(ctx,
		"UPDATE tasks SET "+strings.Join(sets, ", ")+" WHERE id = ? AND version = ?",
		args...,
	)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if n == 1 {
		return nil
	}

	var stored int
	err = tx.q.QueryRowContext(ctx, "SELECT version FROM tasks WHERE id = ?", t.ID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return taskerr.NotFound("task %s not found", t.ID)
	}
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	return taskerr.ConcurrencyConflict("task %s was updated by another transaction (version %d, expected %d)", t.ID, stored, expected)
}

// DeleteTask removes a task with its identity links, task-scoped
// variables, comments and attachments.
func (tx *Tx) DeleteTask(ctx context.Context, id string) error {
	res, err := tx.q.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return taskerr.NotFound("task %s not found", id)
	}
	cleanup := []string{
		"DELETE FROM variables WHERE scope = 'task' AND scope_id = ?",
		"DELETE FROM comments WHERE task_id = ?",
		"DELETE FROM attachments WHERE task_id = ?",
	}
	for _, stmt := range cleanup {
		if _, err := tx.q.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete task %s: %w", id, err)
		}
	}
	return nil
}

// taskArgs returns t's column values in querysql.TaskColumns order.
func taskArgs(t *model.Task) []any {
	return []any{
		t.ID,
		nullString(t.Name),
		nullString(t.Description),
		t.Priority,
		nullString(t.Assignee),
		nullString(t.Owner),
		nullMillis(t.DueDate),
		nullMillis(t.FollowUpDate),
		t.CreateTime.UnixMilli(),
		nullString(string(t.DelegationState)),
		nullString(t.ProcessInstanceID),
		nullString(t.ProcessDefinitionID),
		nullString(t.ProcessDefinitionKey),
		nullString(t.ProcessDefinitionName),
		nullString(t.ProcessInstanceBusinessKey),
		nullString(t.ExecutionID),
		nullString(t.ActivityInstanceID),
		nullString(t.CaseInstanceID),
		nullString(t.CaseDefinitionID),
		nullString(t.CaseDefinitionKey),
		nullString(t.CaseDefinitionName),
		nullString(t.CaseInstanceBusinessKey),
		nullString(t.CaseExecutionID),
		nullString(t.TaskDefinitionKey),
		nullString(t.ParentTaskID),
		nullString(t.TenantID),
		t.Suspended,
		nullString(t.FormKey),
		nullMillis(t.LastUpdated),
		t.Version,
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
