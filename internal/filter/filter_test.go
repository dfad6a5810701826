package filter

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/taskq/internal/executortest"
	"github.com/roach88/taskq/internal/expr"
	"github.com/roach88/taskq/internal/memory"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskerr"
	"github.com/roach88/taskq/internal/taskquery"
	"github.com/roach88/taskq/internal/value"
)

func newQuery() *taskquery.Query {
	return taskquery.New(memory.New(executortest.Dataset()),
		taskquery.WithEvaluator(expr.NewCUEEvaluator()),
		taskquery.WithGroupResolver(executortest.Directory),
		taskquery.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func loadFixtures(t *testing.T) []Filter {
	t.Helper()
	filters, err := LoadFile(filepath.Join("testdata", "filters.yaml"))
	require.NoError(t, err)
	return filters
}

func ids(tasks []model.Task) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.ID
	}
	return out
}

func TestLoadFile(t *testing.T) {
	filters := loadFixtures(t)
	require.Len(t, filters, 4)

	f, err := Find(filters, "management-queue")
	require.NoError(t, err)
	assert.Equal(t, "kermit", f.Owner)
	assert.Equal(t, "#3e4d2f", f.Properties["color"])
	require.Len(t, f.Query.Or, 1)
	assert.Len(t, f.Query.Or[0], 2)

	_, err = Find(filters, "nope")
	assert.True(t, taskerr.IsNotFound(err))
}

func TestApply(t *testing.T) {
	filters := loadFixtures(t)
	ec := expr.Context{Principal: "kermit", Now: executortest.Base}

	tests := []struct {
		filter string
		want   []string
	}{
		{"management-queue", []string{"t2", "t1"}},
		{"big-amounts", []string{"t2", "t1", "t3"}},
		{"recent-undated", []string{"t4"}},
		{"json-candidates", []string{"t2", "t4"}},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			f, err := Find(filters, tt.filter)
			require.NoError(t, err)

			q, err := f.Apply(newQuery())
			require.NoError(t, err)

			tasks, err := q.List(context.Background(), ec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(tasks))
		})
	}
}

func TestApply_ExpressionsFollowTheCaller(t *testing.T) {
	f, err := Find(loadFixtures(t), "management-queue")
	require.NoError(t, err)
	q, err := f.Apply(newQuery())
	require.NoError(t, err)

	tasks, err := q.List(context.Background(), expr.Context{Principal: "fozzie", Now: executortest.Base})
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t4"}, ids(tasks))
}

func TestExtend(t *testing.T) {
	f, err := Find(loadFixtures(t), "management-queue")
	require.NoError(t, err)

	ext := taskquery.New(nil).TaskNameLike("%nvoice").OrderByTaskName().Asc()
	q, err := f.Extend(newQuery(), ext)
	require.NoError(t, err)

	tasks, err := q.List(context.Background(), expr.Context{Principal: "kermit"})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, ids(tasks), "extension ordering comes first")
}

func TestApply_Errors(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		check func(error) bool
	}{
		{"unknown field", `{name: x, query: {criteria: [{field: bogus, op: "=", value: 1}]}}`, taskerr.IsInvalidUsage},
		{"unknown operator", `{name: x, query: {criteria: [{field: taskName, op: "~", value: a}]}}`, taskerr.IsInvalidUsage},
		{"operator not allowed", `{name: x, query: {criteria: [{field: taskName, op: ">", value: a}]}}`, taskerr.IsInvalidUsage},
		{"wrong kind", `{name: x, query: {criteria: [{field: taskPriority, op: "=", value: high}]}}`, taskerr.IsUnsupportedType},
		{"bad date", `{name: x, query: {criteria: [{field: dueDate, op: "<", value: tomorrow}]}}`, taskerr.IsUnsupportedType},
		{"variable scope", `{name: x, query: {variables: [{scope: execution, name: a, op: "=", value: {value: 1}}]}}`, taskerr.IsInvalidUsage},
		{"include assigned alone", `{name: x, query: {includeAssignedTasks: true}}`, taskerr.IsInvalidUsage},
		{"unknown order", `{name: x, query: {orderBy: [{property: color, direction: asc}]}}`, taskerr.IsInvalidUsage},
		{"bad direction", `{name: x, query: {orderBy: [{property: name, direction: up}]}}`, taskerr.IsInvalidUsage},
		{"unorderable variable", `{name: x, query: {orderBy: [{property: variable, direction: asc, variable: {scope: task, name: a, type: bytes}}]}}`, taskerr.IsUnsupportedType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse([]byte(tt.doc))
			require.NoError(t, err)
			_, err = f.Apply(newQuery())
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestParse_RequiresName(t *testing.T) {
	_, err := Parse([]byte(`query: {}`))
	assert.ErrorContains(t, err, "name is required")

	_, err = Parse([]byte("name: a\n---\nname: b\n"))
	assert.ErrorContains(t, err, "expected one filter document")
}

func TestFromQuery_RoundTrip(t *testing.T) {
	due := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)
	q := taskquery.New(nil).
		TaskPriority(50).
		TaskCandidateGroupIn("management", "sales").
		DueBefore(due).
		WithoutTenantID().
		TaskVariableValueEquals("amount", int64(100)).
		ProcessVariableValueLike("region", "s%").
		TaskAssigneeExpression("${currentUser}").
		Or().TaskName("a").TaskOwner("gonzo").EndOr().
		MatchVariableValuesIgnoreCase().
		OrderByDueDate().Desc().
		OrderByProcessVariable("region", value.KindString).Asc()
	require.NoError(t, q.Err())

	f, err := FromQuery("saved", "kermit", q)
	require.NoError(t, err)

	data, err := Marshal(f)
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "saved", parsed.Name)

	replayed, err := parsed.Apply(taskquery.New(nil))
	require.NoError(t, err)
	assert.Equal(t, q.Criteria(), replayed.Criteria())
	assert.Equal(t, q.OrGroups(), replayed.OrGroups())
	assert.Equal(t, q.Orders(), replayed.Orders())
	assert.Equal(t, q.Toggles(), replayed.Toggles())
}

func TestFromQuery_RejectsBrokenQuery(t *testing.T) {
	q := taskquery.New(nil).Asc()
	_, err := FromQuery("broken", "", q)
	assert.True(t, taskerr.IsInvalidUsage(err))
}
