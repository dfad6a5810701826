package executortest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/taskq/internal/expr"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskquery"
	"github.com/roach88/taskq/internal/value"
)

// Setup returns an executor serving ds.
type Setup func(t *testing.T, ds *model.Dataset) taskquery.Executor

type queryCase struct {
	name  string
	build func(q *taskquery.Query) *taskquery.Query
	ec    expr.Context
	want  []string
}

// AdapterTest runs the conformance suite against the executor built by
// setup. Each case lists the expected task ids in result order; the count
// must agree with the list.
func AdapterTest(t *testing.T, setup Setup) {
	cases := []queryCase{
		{"NoCriteria_AllTasksByID", same, expr.Context{}, ids("t1", "t2", "t3", "t4", "t5")},

		// Assignee and candidates.
		{"Assignee", func(q *taskquery.Query) *taskquery.Query { return q.TaskAssignee("kermit") }, expr.Context{}, ids("t1")},
		{"Unassigned", func(q *taskquery.Query) *taskquery.Query { return q.TaskUnassigned() }, expr.Context{}, ids("t2", "t3", "t5")},
		{"Assigned", func(q *taskquery.Query) *taskquery.Query { return q.TaskAssigned() }, expr.Context{}, ids("t1", "t4")},
		{"AssigneeLike", func(q *taskquery.Query) *taskquery.Query { return q.TaskAssigneeLike("k%") }, expr.Context{}, ids("t1")},
		{"AssigneeNotIn_SkipsUnassigned", func(q *taskquery.Query) *taskquery.Query { return q.TaskAssigneeNotIn("kermit") }, expr.Context{}, ids("t4")},
		{"CandidateUser_ThroughGroups", func(q *taskquery.Query) *taskquery.Query { return q.TaskCandidateUser("kermit") }, expr.Context{}, ids("t2")},
		{"CandidateUser_IncludeAssigned", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskCandidateUser("kermit").IncludeAssignedTasks()
		}, expr.Context{}, ids("t2", "t4")},
		{"CandidateUser_DirectLink", func(q *taskquery.Query) *taskquery.Query { return q.TaskCandidateUser("fozzie") }, expr.Context{}, ids("t3")},
		{"CandidateGroupLike", func(q *taskquery.Query) *taskquery.Query { return q.TaskCandidateGroupLike("man%") }, expr.Context{}, ids("t2")},
		{"CandidateGroupIn", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskCandidateGroupIn("management", "sales")
		}, expr.Context{}, ids("t2", "t3")},
		{"WithoutCandidateGroups", func(q *taskquery.Query) *taskquery.Query { return q.WithoutCandidateGroups() }, expr.Context{}, ids("t1", "t5")},
		{"WithCandidateGroups", func(q *taskquery.Query) *taskquery.Query { return q.WithCandidateGroups() }, expr.Context{}, ids("t2", "t3")},
		{"WithoutCandidateUsers", func(q *taskquery.Query) *taskquery.Query { return q.WithoutCandidateUsers() }, expr.Context{}, ids("t1", "t2", "t4", "t5")},
		{"InvolvedUser_AssigneeOrLink", func(q *taskquery.Query) *taskquery.Query { return q.TaskInvolvedUser("fozzie") }, expr.Context{}, ids("t3", "t4")},
		{"InvolvedUser_AnyLinkType", func(q *taskquery.Query) *taskquery.Query { return q.TaskInvolvedUser("piggy") }, expr.Context{}, ids("t5")},
		{"InvolvedUser_Owner", func(q *taskquery.Query) *taskquery.Query { return q.TaskInvolvedUser("gonzo") }, expr.Context{}, ids("t1")},

		// Plain attributes.
		{"NameLike", func(q *taskquery.Query) *taskquery.Query { return q.TaskNameLike("%nvoice") }, expr.Context{}, ids("t1", "t2")},
		{"NameNotLike_SkipsNullName", func(q *taskquery.Query) *taskquery.Query { return q.TaskNameNotLike("%nvoice") }, expr.Context{}, ids("t3", "t5")},
		{"NameNotEqual", func(q *taskquery.Query) *taskquery.Query { return q.TaskNameNotEqual("Ship goods") }, expr.Context{}, ids("t1", "t2", "t5")},
		{"MinPriority", func(q *taskquery.Query) *taskquery.Query { return q.TaskMinPriority(50) }, expr.Context{}, ids("t1", "t2", "t4", "t5")},
		{"MaxPriority", func(q *taskquery.Query) *taskquery.Query { return q.TaskMaxPriority(50) }, expr.Context{}, ids("t1", "t3", "t4")},
		{"Priority", func(q *taskquery.Query) *taskquery.Query { return q.TaskPriority(50) }, expr.Context{}, ids("t1", "t4")},
		{"DueDate", func(q *taskquery.Query) *taskquery.Query { return q.DueDate(Base.Add(day)) }, expr.Context{}, ids("t1")},
		{"DueBefore", func(q *taskquery.Query) *taskquery.Query { return q.DueBefore(Base.Add(2 * day)) }, expr.Context{}, ids("t1")},
		{"DueAfter", func(q *taskquery.Query) *taskquery.Query { return q.DueAfter(Base.Add(day)) }, expr.Context{}, ids("t2")},
		{"WithoutDueDate", func(q *taskquery.Query) *taskquery.Query { return q.WithoutDueDate() }, expr.Context{}, ids("t3", "t4", "t5")},
		{"FollowUpBeforeOrNotExistent", func(q *taskquery.Query) *taskquery.Query {
			return q.FollowUpBeforeOrNotExistent(Base.Add(2 * day))
		}, expr.Context{}, ids("t1", "t2", "t3", "t4")},
		{"UpdatedAfter_FallsBackToCreateTime", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskUpdatedAfter(Base.Add(150 * time.Minute))
		}, expr.Context{}, ids("t2", "t4", "t5")},
		{"DelegationPending", func(q *taskquery.Query) *taskquery.Query { return q.TaskDelegationState(model.DelegationPending) }, expr.Context{}, ids("t4")},
		{"DelegationNone", func(q *taskquery.Query) *taskquery.Query { return q.TaskDelegationState(model.DelegationNone) }, expr.Context{}, ids("t1", "t2", "t3")},
		{"ParentTask", func(q *taskquery.Query) *taskquery.Query { return q.TaskParentTaskID("t1") }, expr.Context{}, ids("t4")},
		{"ExcludeSubtasks", func(q *taskquery.Query) *taskquery.Query { return q.ExcludeSubtasks() }, expr.Context{}, ids("t1", "t2", "t3", "t5")},
		{"TenantIn", func(q *taskquery.Query) *taskquery.Query { return q.TenantIDIn("acme") }, expr.Context{}, ids("t1")},
		{"WithoutTenant", func(q *taskquery.Query) *taskquery.Query { return q.WithoutTenantID() }, expr.Context{}, ids("t2", "t3", "t4")},
		{"Suspended", func(q *taskquery.Query) *taskquery.Query { return q.Suspended() }, expr.Context{}, ids("t4")},
		{"Active", func(q *taskquery.Query) *taskquery.Query { return q.Active() }, expr.Context{}, ids("t1", "t2", "t3", "t5")},
		{"ProcessDefinitionKeyIn", func(q *taskquery.Query) *taskquery.Query { return q.ProcessDefinitionKeyIn("invoice") }, expr.Context{}, ids("t1", "t2")},
		{"TaskDefinitionKeyNotIn_SkipsNull", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskDefinitionKeyNotIn("review", "approve")
		}, expr.Context{}, ids("t3")},
		{"TaskDefinitionKeyLike", func(q *taskquery.Query) *taskquery.Query { return q.TaskDefinitionKeyLike("%e%") }, expr.Context{}, ids("t1", "t2")},
		{"CaseInstance", func(q *taskquery.Query) *taskquery.Query { return q.CaseInstanceID("c1") }, expr.Context{}, ids("t3")},
		{"ProcessInstanceIn", func(q *taskquery.Query) *taskquery.Query { return q.ProcessInstanceIDIn("p2") }, expr.Context{}, ids("t5")},
		{"ContradictoryPriorities", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskMinPriority(60).TaskMaxPriority(40)
		}, expr.Context{}, ids()},
		{"TaskIDOutsideIDSet", func(q *taskquery.Query) *taskquery.Query { return q.TaskID("t1").TaskIDIn("t2") }, expr.Context{}, ids()},

		// OR groups.
		{"OrGroup", func(q *taskquery.Query) *taskquery.Query {
			return q.Or().TaskAssignee("kermit").TaskCandidateGroup("sales").EndOr()
		}, expr.Context{}, ids("t1", "t3")},
		{"OrGroupWithAndContext", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskMinPriority(50).Or().TaskName("Review invoice").TaskCandidateUser("kermit").EndOr()
		}, expr.Context{}, ids("t1", "t2")},
		{"OrGroupRepeatedCandidateGroups", func(q *taskquery.Query) *taskquery.Query {
			return q.Or().TaskCandidateGroup("management").TaskCandidateGroup("sales").EndOr()
		}, expr.Context{}, ids("t2", "t3")},

		// Variables.
		{"VariableEquals_AcrossIntegerKinds", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskVariableValueEquals("amount", 100)
		}, expr.Context{}, ids("t1", "t3")},
		{"VariableEquals_Double", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskVariableValueEquals("amount", 250.5)
		}, expr.Context{}, ids("t2")},
		{"VariableGreaterThan_Fraction", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskVariableValueGreaterThan("amount", 99.5)
		}, expr.Context{}, ids("t1", "t2", "t3")},
		{"VariableLessThanOrEquals", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskVariableValueLessThanOrEquals("amount", int64(100))
		}, expr.Context{}, ids("t1", "t3")},
		{"VariableNotEquals_OnlyNumbers", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskVariableValueNotEquals("amount", 100)
		}, expr.Context{}, ids("t2")},
		{"VariableLike", func(q *taskquery.Query) *taskquery.Query { return q.TaskVariableValueLike("amount", "lo%") }, expr.Context{}, ids("t5")},
		{"VariableValuesIgnoreCase", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskVariableValueEquals("amount", "LOTS").MatchVariableValuesIgnoreCase()
		}, expr.Context{}, ids("t5")},
		{"ProcessVariable_CaseSensitive", func(q *taskquery.Query) *taskquery.Query {
			return q.ProcessVariableValueEquals("region", "north")
		}, expr.Context{}, ids()},
		{"ProcessVariable_IgnoreCase", func(q *taskquery.Query) *taskquery.Query {
			return q.MatchVariableValuesIgnoreCase().ProcessVariableValueEquals("region", "north")
		}, expr.Context{}, ids("t1", "t2")},
		{"ProcessVariableLike", func(q *taskquery.Query) *taskquery.Query {
			return q.ProcessVariableValueLike("region", "s%")
		}, expr.Context{}, ids("t5")},
		{"ProcessVariableNotLike", func(q *taskquery.Query) *taskquery.Query {
			return q.ProcessVariableValueNotLike("region", "s%")
		}, expr.Context{}, ids("t1", "t2")},
		{"BooleanVariable", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskVariableValueEquals("urgent", true)
		}, expr.Context{}, ids("t1")},
		{"BooleanVariableNotEquals", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskVariableValueNotEquals("urgent", true)
		}, expr.Context{}, ids("t2")},
		{"CaseVariableDate", func(q *taskquery.Query) *taskquery.Query {
			return q.CaseInstanceVariableValueGreaterThan("deadline", Base.Add(5*day))
		}, expr.Context{}, ids("t3")},
		{"NullVariable", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskVariableValueEquals("note", nil)
		}, expr.Context{}, ids("t4")},
		{"NullVariableNotEquals", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskVariableValueNotEquals("note", nil)
		}, expr.Context{}, ids()},
		{"VariableNames_CaseSensitive", func(q *taskquery.Query) *taskquery.Query {
			return q.ProcessVariableValueEquals("customer", "ACME")
		}, expr.Context{}, ids()},
		{"VariableNames_IgnoreCase", func(q *taskquery.Query) *taskquery.Query {
			return q.ProcessVariableValueEquals("customer", "ACME").MatchVariableNamesIgnoreCase()
		}, expr.Context{}, ids("t5")},

		// Ordering.
		{"OrderPriorityDesc_TiesByID", func(q *taskquery.Query) *taskquery.Query {
			return q.OrderByTaskPriority().Desc()
		}, expr.Context{}, ids("t2", "t5", "t1", "t4", "t3")},
		{"OrderDueDateAsc_NullsLast", func(q *taskquery.Query) *taskquery.Query {
			return q.OrderByDueDate().Asc()
		}, expr.Context{}, ids("t1", "t2", "t3", "t4", "t5")},
		{"OrderDueDateDesc_NullsLast", func(q *taskquery.Query) *taskquery.Query {
			return q.OrderByDueDate().Desc()
		}, expr.Context{}, ids("t2", "t1", "t3", "t4", "t5")},
		{"OrderNameAsc_Bytewise", func(q *taskquery.Query) *taskquery.Query {
			return q.OrderByTaskName().Asc()
		}, expr.Context{}, ids("t1", "t3", "t2", "t5", "t4")},
		{"OrderNameDesc", func(q *taskquery.Query) *taskquery.Query {
			return q.OrderByTaskName().Desc()
		}, expr.Context{}, ids("t5", "t2", "t3", "t1", "t4")},
		{"OrderNameCaseInsensitive", func(q *taskquery.Query) *taskquery.Query {
			return q.OrderByTaskNameCaseInsensitive().Asc()
		}, expr.Context{}, ids("t2", "t5", "t1", "t3", "t4")},
		{"OrderAssignee", func(q *taskquery.Query) *taskquery.Query {
			return q.OrderByTaskAssignee().Asc()
		}, expr.Context{}, ids("t4", "t1", "t2", "t3", "t5")},
		{"OrderLastUpdatedDesc", func(q *taskquery.Query) *taskquery.Query {
			return q.OrderByLastUpdated().Desc()
		}, expr.Context{}, ids("t2", "t1", "t3", "t4", "t5")},
		{"OrderTenant", func(q *taskquery.Query) *taskquery.Query {
			return q.OrderByTenantID().Asc()
		}, expr.Context{}, ids("t1", "t5", "t2", "t3", "t4")},
		{"OrderTwoKeys", func(q *taskquery.Query) *taskquery.Query {
			return q.OrderByTaskPriority().Asc().OrderByTaskCreateTime().Desc()
		}, expr.Context{}, ids("t3", "t4", "t1", "t5", "t2")},
		{"OrderVariable_OnlyDeclaredKind", func(q *taskquery.Query) *taskquery.Query {
			return q.OrderByTaskVariable("amount", value.KindLong).Asc()
		}, expr.Context{}, ids("t1", "t2", "t3", "t4", "t5")},
		{"OrderVariable_DoubleDesc", func(q *taskquery.Query) *taskquery.Query {
			return q.OrderByTaskVariable("amount", value.KindDouble).Desc()
		}, expr.Context{}, ids("t2", "t1", "t3", "t4", "t5")},
		{"OrderProcessVariableDesc", func(q *taskquery.Query) *taskquery.Query {
			return q.OrderByProcessVariable("region", value.KindString).Desc()
		}, expr.Context{}, ids("t5", "t1", "t2", "t3", "t4")},
		{"OrderProcessVariableAsc", func(q *taskquery.Query) *taskquery.Query {
			return q.OrderByProcessVariable("region", value.KindString).Asc()
		}, expr.Context{}, ids("t1", "t2", "t5", "t3", "t4")},

		// Expressions.
		{"AssigneeExpression", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskAssigneeExpression("${currentUser}")
		}, expr.Context{Principal: "kermit", Now: Base}, ids("t1")},
		{"CandidateGroupsExpression", func(q *taskquery.Query) *taskquery.Query {
			return q.TaskCandidateGroupInExpression("${currentUserGroups}")
		}, expr.Context{Principal: "kermit", PrincipalGroups: []string{"management"}, Now: Base}, ids("t2")},
		{"DueBeforeExpression", func(q *taskquery.Query) *taskquery.Query {
			return q.DueBeforeExpression("${nowMillis + 2 * 86400000}")
		}, expr.Context{Now: Base}, ids("t1")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			exec := setup(t, Dataset())

			q := tc.build(newQuery(exec))
			require.NoError(t, q.Err())

			tasks, err := q.List(ctx, tc.ec)
			require.NoError(t, err)
			assert.Equal(t, tc.want, idsOf(tasks))

			n, err := q.Count(ctx, tc.ec)
			require.NoError(t, err)
			assert.Equal(t, int64(len(tc.want)), n)
		})
	}

	t.Run("Paging", func(t *testing.T) {
		ctx := context.Background()
		exec := setup(t, Dataset())
		q := newQuery(exec).OrderByTaskPriority().Desc()

		page, err := q.ListPage(ctx, expr.Context{}, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, ids("t5", "t1"), idsOf(page))

		page, err = q.ListPage(ctx, expr.Context{}, 4, 10)
		require.NoError(t, err)
		assert.Equal(t, ids("t3"), idsOf(page))

		page, err = q.ListPage(ctx, expr.Context{}, 10, 1)
		require.NoError(t, err)
		assert.Empty(t, page)

		n, err := q.Count(ctx, expr.Context{})
		require.NoError(t, err)
		assert.Equal(t, int64(5), n, "count ignores paging")
	})

	t.Run("TaskViews", func(t *testing.T) {
		ctx := context.Background()
		exec := setup(t, Dataset())

		got, err := newQuery(exec).TaskID("t2").SingleResult(ctx, expr.Context{})
		require.NoError(t, err)
		require.NotNil(t, got)
		want := Dataset().Tasks[1]
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.Priority, got.Priority)
		assert.Equal(t, want.Version, got.Version)
		assert.True(t, want.CreateTime.Equal(got.CreateTime))
		require.NotNil(t, got.LastUpdated)
		assert.True(t, want.LastUpdated.Equal(*got.LastUpdated))
		require.NotNil(t, got.FollowUpDate)
		assert.True(t, want.FollowUpDate.Equal(*got.FollowUpDate))
		assert.Empty(t, got.Assignee)
	})

	t.Run("FormKeys", func(t *testing.T) {
		ctx := context.Background()
		exec := setup(t, Dataset())

		got, err := newQuery(exec).TaskID("t1").SingleResult(ctx, expr.Context{})
		require.NoError(t, err)
		assert.Empty(t, got.FormKey)
		assert.False(t, got.FormKeyInitialized)

		got, err = newQuery(exec).TaskID("t1").InitializeFormKeys().SingleResult(ctx, expr.Context{})
		require.NoError(t, err)
		assert.Equal(t, "embedded:app:forms/review.html", got.FormKey)
		assert.True(t, got.FormKeyInitialized)
	})
}

func newQuery(exec taskquery.Executor) *taskquery.Query {
	return taskquery.New(exec,
		taskquery.WithEvaluator(expr.NewCUEEvaluator()),
		taskquery.WithGroupResolver(Directory),
		taskquery.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func same(q *taskquery.Query) *taskquery.Query { return q }

func ids(s ...string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func idsOf(tasks []model.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
