package taskquery

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/taskq/internal/criteria"
	"github.com/roach88/taskq/internal/expr"
	"github.com/roach88/taskq/internal/identity"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskerr"
	"github.com/roach88/taskq/internal/value"
)

type recorder struct {
	calls int
	last  *Resolved
	tasks []model.Task
	count int64
}

func (r *recorder) Count(_ context.Context, res *Resolved) (int64, error) {
	r.calls++
	r.last = res
	return r.count, nil
}

func (r *recorder) List(_ context.Context, res *Resolved) ([]model.Task, error) {
	r.calls++
	r.last = res
	return r.tasks, nil
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func principalEvaluator() expr.Evaluator {
	return expr.EvaluatorFunc(func(text string, ec expr.Context) (value.Value, error) {
		switch expr.Body(text) {
		case "currentUser":
			return value.String(ec.Principal), nil
		case "currentUserGroups":
			return value.Strings(ec.PrincipalGroups...), nil
		case "now":
			return value.DateOf(ec.Now), nil
		case "nothing":
			return value.Null{}, nil
		}
		return value.String(text), nil
	})
}

func newQuery(exec Executor) *Query {
	return New(exec, quiet(), WithEvaluator(principalEvaluator()))
}

func TestGrammar(t *testing.T) {
	due := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		build func(q *Query) *Query
		code  taskerr.Code
	}{
		{"endOr without or", func(q *Query) *Query { return q.EndOr() }, taskerr.CodeInvalidUsage},
		{"nested or", func(q *Query) *Query { return q.Or().Or() }, taskerr.CodeInvalidUsage},
		{"withCandidateGroups in or", func(q *Query) *Query { return q.Or().WithCandidateGroups() }, taskerr.CodeInvalidUsage},
		{"withoutCandidateUsers in or", func(q *Query) *Query { return q.Or().WithoutCandidateUsers() }, taskerr.CodeInvalidUsage},
		{"ordering in or", func(q *Query) *Query { return q.Or().OrderByTaskName() }, taskerr.CodeInvalidUsage},
		{"initializeFormKeys in or", func(q *Query) *Query { return q.Or().InitializeFormKeys() }, taskerr.CodeInvalidUsage},
		{"includeAssignedTasks without candidate", func(q *Query) *Query { return q.TaskName("a").IncludeAssignedTasks() }, taskerr.CodeInvalidUsage},
		{"dueDate then withoutDueDate", func(q *Query) *Query { return q.DueDate(due).WithoutDueDate() }, taskerr.CodeInvalidUsage},
		{"withoutDueDate then dueBefore", func(q *Query) *Query { return q.WithoutDueDate().DueBefore(due) }, taskerr.CodeInvalidUsage},
		{"followUpAfter then withoutFollowUpDate", func(q *Query) *Query { return q.FollowUpAfter(due).WithoutFollowUpDate() }, taskerr.CodeInvalidUsage},
		{"withoutFollowUpDate then followUpBeforeOrNotExistent", func(q *Query) *Query {
			return q.WithoutFollowUpDate().FollowUpBeforeOrNotExistent(due)
		}, taskerr.CodeInvalidUsage},
		{"tenantIdIn and withoutTenantId", func(q *Query) *Query { return q.TenantIDIn("t1").WithoutTenantID() }, taskerr.CodeInvalidUsage},
		{"candidateUser then candidateGroup", func(q *Query) *Query { return q.TaskCandidateUser("kermit").TaskCandidateGroup("sales") }, taskerr.CodeInvalidUsage},
		{"candidateGroupIn then candidateUser", func(q *Query) *Query { return q.TaskCandidateGroupIn("sales").TaskCandidateUser("kermit") }, taskerr.CodeInvalidUsage},
		{"asc without orderBy", func(q *Query) *Query { return q.Asc() }, taskerr.CodeInvalidUsage},
		{"orderBy twice without direction", func(q *Query) *Query { return q.OrderByTaskName().OrderByTaskID() }, taskerr.CodeInvalidUsage},
		{"empty task id", func(q *Query) *Query { return q.TaskID("") }, taskerr.CodeNullValue},
		{"empty id set", func(q *Query) *Query { return q.TaskIDIn() }, taskerr.CodeNullValue},
		{"empty member in set", func(q *Query) *Query { return q.TaskCandidateGroupIn("a", "") }, taskerr.CodeNullValue},
		{"zero due date", func(q *Query) *Query { return q.DueBefore(time.Time{}) }, taskerr.CodeNullValue},
		{"empty expression", func(q *Query) *Query { return q.TaskAssigneeExpression("") }, taskerr.CodeNullValue},
		{"variable without name", func(q *Query) *Query { return q.TaskVariableValueEquals("", 1) }, taskerr.CodeNullValue},
		{"unsupported variable go type", func(q *Query) *Query { return q.TaskVariableValueEquals("x", struct{}{}) }, taskerr.CodeUnsupportedType},
		{"order by bytes variable", func(q *Query) *Query { return q.OrderByTaskVariable("x", value.KindBytes) }, taskerr.CodeUnsupportedType},
		{"order by boolean variable", func(q *Query) *Query { return q.OrderByProcessVariable("x", value.KindBoolean) }, taskerr.CodeUnsupportedType},
		{"order by null variable", func(q *Query) *Query { return q.OrderByCaseInstanceVariable("x", value.KindNull) }, taskerr.CodeUnsupportedType},
		{"negative page", func(q *Query) *Query { return q.Page(-1, 10) }, taskerr.CodeInvalidUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.build(newQuery(nil))
			require.Error(t, q.Err())
			assert.Equal(t, tt.code, taskerr.CodeOf(q.Err()))
		})
	}
}

func TestGrammar_AllowedCombinations(t *testing.T) {
	tests := []struct {
		name  string
		build func(q *Query) *Query
	}{
		{"tenant conflict inside or", func(q *Query) *Query {
			return q.Or().TenantIDIn("t1").WithoutTenantID().EndOr()
		}},
		{"candidate user and group inside or", func(q *Query) *Query {
			return q.Or().TaskCandidateUser("kermit").TaskCandidateGroup("sales").EndOr()
		}},
		{"due date conflict inside or", func(q *Query) *Query {
			return q.Or().DueDate(time.Now()).WithoutDueDate().EndOr()
		}},
		{"includeAssignedTasks after or-group candidate", func(q *Query) *Query {
			return q.Or().TaskCandidateGroup("sales").EndOr().IncludeAssignedTasks()
		}},
		{"includeAssignedTasks after presence toggle", func(q *Query) *Query {
			return q.WithCandidateUsers().IncludeAssignedTasks()
		}},
		{"includeAssignedTasks after expression", func(q *Query) *Query {
			return q.TaskCandidateUserExpression("${currentUser}").IncludeAssignedTasks()
		}},
		{"empty or group", func(q *Query) *Query { return q.Or().EndOr() }},
		{"order with direction", func(q *Query) *Query {
			return q.OrderByTaskName().Asc().OrderByDueDate().Desc()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, tt.build(newQuery(nil)).Err())
		})
	}
}

func TestFirstErrorWins(t *testing.T) {
	q := newQuery(nil).EndOr().TaskID("")
	assert.True(t, taskerr.IsInvalidUsage(q.Err()))
	assert.Empty(t, q.Criteria())
}

func TestLastWriteWins(t *testing.T) {
	q := newQuery(nil).TaskName("a").TaskAssignee("kermit").TaskName("b")
	require.NoError(t, q.Err())

	got := q.Criteria()
	require.Len(t, got, 2)
	assert.Equal(t, FieldName, got[0].Field)
	assert.Equal(t, criteria.Literal{Value: value.String("b")}, got[0].Operand)

	// A literal and its expression twin share a slot.
	q.TaskAssigneeExpression("${currentUser}")
	got = q.Criteria()
	require.Len(t, got, 2)
	assert.True(t, got[1].IsExpression())
}

func TestOrGroupAccumulatesCandidates(t *testing.T) {
	q := newQuery(nil).
		Or().
		TaskCandidateGroup("management").
		TaskCandidateGroup("accountancy").
		TaskCandidateUser("fozzie").
		TaskName("x").
		TaskName("y").
		EndOr()
	require.NoError(t, q.Err())

	groups := q.OrGroups()
	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 4)
}

func TestExecutionSurfacesBuilderError(t *testing.T) {
	rec := &recorder{}
	q := newQuery(rec).EndOr()

	_, err := q.Count(context.Background(), expr.Context{})
	assert.True(t, taskerr.IsInvalidUsage(err))
	_, err = q.List(context.Background(), expr.Context{})
	assert.True(t, taskerr.IsInvalidUsage(err))
	assert.Zero(t, rec.calls)
}

func TestExecutionRejectsOpenOrAndPendingOrder(t *testing.T) {
	rec := &recorder{}

	_, err := newQuery(rec).Or().TaskName("a").List(context.Background(), expr.Context{})
	assert.True(t, taskerr.IsInvalidUsage(err))

	_, err = newQuery(rec).OrderByTaskName().List(context.Background(), expr.Context{})
	assert.True(t, taskerr.IsInvalidUsage(err))
	assert.Zero(t, rec.calls)
}

func TestExactlyOneAdapterCall(t *testing.T) {
	rec := &recorder{count: 3, tasks: []model.Task{{ID: "t1"}}}
	q := newQuery(rec).TaskAssignee("kermit")
	ctx := context.Background()

	n, err := q.Count(ctx, expr.Context{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, 1, rec.calls)

	_, err = q.ListPage(ctx, expr.Context{}, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.calls)
	assert.Equal(t, &Page{First: 5, Max: 10}, rec.last.Page)
}

func TestSingleResult(t *testing.T) {
	ctx := context.Background()

	rec := &recorder{}
	task, err := newQuery(rec).TaskID("missing").SingleResult(ctx, expr.Context{})
	require.NoError(t, err)
	assert.Nil(t, task)

	rec = &recorder{tasks: []model.Task{{ID: "a"}}}
	task, err = newQuery(rec).SingleResult(ctx, expr.Context{})
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "a", task.ID)
	assert.Equal(t, 2, rec.last.Page.Max)

	rec = &recorder{tasks: []model.Task{{ID: "a"}, {ID: "b"}}}
	_, err = newQuery(rec).SingleResult(ctx, expr.Context{})
	assert.True(t, taskerr.IsAmbiguousResult(err))
}

func TestExpressionsResolvePerExecution(t *testing.T) {
	rec := &recorder{}
	q := newQuery(rec).TaskAssigneeExpression("${currentUser}")
	ctx := context.Background()

	_, err := q.List(ctx, expr.Context{Principal: "kermit"})
	require.NoError(t, err)
	assert.Equal(t, []Term{FieldTerm{Field: FieldAssignee, Op: criteria.Equals, Value: value.String("kermit")}}, rec.last.Where)

	_, err = q.List(ctx, expr.Context{Principal: "fozzie"})
	require.NoError(t, err)
	assert.Equal(t, []Term{FieldTerm{Field: FieldAssignee, Op: criteria.Equals, Value: value.String("fozzie")}}, rec.last.Where)

	// The builder itself still holds the expression.
	assert.True(t, q.Criteria()[0].IsExpression())
}

func TestExpressionDateAndSetCoercion(t *testing.T) {
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	q := newQuery(nil).
		DueBeforeExpression("${now}").
		TaskCandidateGroupInExpression("${currentUserGroups}")

	r, err := q.Resolve(context.Background(), expr.Context{Now: now, PrincipalGroups: []string{"sales", "sales", "ops"}})
	require.NoError(t, err)
	require.Len(t, r.Where, 2)
	assert.Equal(t, FieldTerm{Field: FieldDueDate, Op: criteria.LessThan, Value: value.DateOf(now)}, r.Where[0])
	assert.Equal(t, CandidateGroupTerm{Op: criteria.In, Groups: []string{"sales", "ops"}, Unassigned: true}, r.Where[1])
}

func TestExpressionFailures(t *testing.T) {
	ctx := context.Background()

	_, err := New(nil, quiet()).TaskOwnerExpression("${currentUser}").Resolve(ctx, expr.Context{})
	assert.True(t, taskerr.IsEvaluation(err), "no evaluator configured")

	_, err = newQuery(nil).TaskOwnerExpression("${nothing}").Resolve(ctx, expr.Context{})
	assert.True(t, taskerr.IsNullValue(err))

	_, err = newQuery(nil).DueDateExpression("${currentUser}").Resolve(ctx, expr.Context{Principal: "kermit"})
	assert.True(t, taskerr.IsEvaluation(err))
}

func TestCandidateGroupIntersection(t *testing.T) {
	ctx := context.Background()

	r, err := newQuery(nil).
		TaskCandidateGroupIn("management", "accountancy").
		TaskCandidateGroup("management").
		Resolve(ctx, expr.Context{})
	require.NoError(t, err)
	assert.Equal(t, []Term{CandidateGroupTerm{Op: criteria.In, Groups: []string{"management"}, Unassigned: true}}, r.Where)
	assert.False(t, r.HasExcludingConditions())

	r, err = newQuery(nil).
		TaskCandidateGroup("sales").
		TaskCandidateGroupIn("management", "accountancy").
		Resolve(ctx, expr.Context{})
	require.NoError(t, err)
	assert.Equal(t, []Term{FalseTerm{}}, r.Where)
	assert.True(t, r.HasExcludingConditions())
}

func TestCandidateUserExpandsGroups(t *testing.T) {
	groups := identity.Static{"kermit": {"management"}}
	q := New(nil, quiet(), WithGroupResolver(groups)).TaskCandidateUser("kermit")

	r, err := q.Resolve(context.Background(), expr.Context{})
	require.NoError(t, err)
	assert.Equal(t, []Term{CandidateUserTerm{User: "kermit", Groups: []string{"management"}, Unassigned: true}}, r.Where)

	r, err = q.IncludeAssignedTasks().Resolve(context.Background(), expr.Context{})
	require.NoError(t, err)
	assert.False(t, r.Where[0].(CandidateUserTerm).Unassigned)
}

func TestPresenceTerms(t *testing.T) {
	r, err := newQuery(nil).WithCandidateGroups().WithoutCandidateUsers().Resolve(context.Background(), expr.Context{})
	require.NoError(t, err)
	assert.Equal(t, []Term{
		CandidatePresenceTerm{Groups: true, Present: true, Unassigned: true},
		CandidatePresenceTerm{Groups: false, Present: false, Unassigned: false},
	}, r.Where)
}

func TestEmptyOrGroupIsDropped(t *testing.T) {
	r, err := newQuery(nil).Or().EndOr().TaskName("a").Resolve(context.Background(), expr.Context{})
	require.NoError(t, err)
	assert.Empty(t, r.Groups)
	assert.Len(t, r.Where, 1)
}

func TestVariableOperandsCheckedAtExecution(t *testing.T) {
	tests := []struct {
		name  string
		build func(q *Query) *Query
	}{
		{"boolean greater than", func(q *Query) *Query { return q.TaskVariableValueGreaterThan("flag", true) }},
		{"null less than", func(q *Query) *Query { return q.ProcessVariableValueLessThan("x", nil) }},
		{"bytes equals", func(q *Query) *Query { return q.TaskVariableValueEquals("blob", []byte("x")) }},
		{"object equals", func(q *Query) *Query {
			return q.CaseInstanceVariableValueEquals("o", value.Object{TypeName: "Foo"})
		}},
		{"like on number", func(q *Query) *Query {
			return q.AddCriterion(criteria.Criterion[Field]{
				Field: FieldTaskVariable, Name: "n", Op: criteria.Like,
				Operand: criteria.Literal{Value: value.Long(1)},
			})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.build(newQuery(&recorder{}))
			require.NoError(t, q.Err())
			_, err := q.Count(context.Background(), expr.Context{})
			assert.True(t, taskerr.IsUnsupportedType(err), "got %v", err)
		})
	}

	q := newQuery(nil).TaskVariableValueEquals("flag", true).ProcessVariableValueNotEquals("x", nil)
	_, err := q.Resolve(context.Background(), expr.Context{})
	assert.NoError(t, err)
}

func TestDelegationStateNone(t *testing.T) {
	q := newQuery(nil).TaskDelegationState(model.DelegationNone)
	require.NoError(t, q.Err())
	c := q.Criteria()[0]
	assert.Equal(t, criteria.IsNull, c.Op)

	q = newQuery(nil).TaskDelegationState(model.DelegationPending)
	assert.Equal(t, criteria.Literal{Value: value.String("PENDING")}, q.Criteria()[0].Operand)
}

func TestHasExcludingConditions(t *testing.T) {
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.Add(24 * time.Hour)

	tests := []struct {
		name  string
		build func(q *Query) *Query
		want  bool
	}{
		{"no conditions", func(q *Query) *Query { return q }, false},
		{"min above max priority", func(q *Query) *Query { return q.TaskMinPriority(60).TaskMaxPriority(40) }, true},
		{"min equals max priority", func(q *Query) *Query { return q.TaskMinPriority(50).TaskMaxPriority(50) }, false},
		{"exact priority outside range", func(q *Query) *Query { return q.TaskPriority(10).TaskMinPriority(20) }, true},
		{"due after later than due before", func(q *Query) *Query { return q.DueAfter(d2).DueBefore(d1) }, true},
		{"due after equals due before", func(q *Query) *Query { return q.DueAfter(d1).DueBefore(d1) }, true},
		{"valid due window", func(q *Query) *Query { return q.DueAfter(d1).DueBefore(d2) }, false},
		{"follow up on equals after", func(q *Query) *Query { return q.FollowUpDate(d1).FollowUpAfter(d1) }, true},
		{"created on after before", func(q *Query) *Query { return q.TaskCreatedOn(d2).TaskCreatedBefore(d1) }, true},
		{"task id not in set", func(q *Query) *Query { return q.TaskID("a").TaskIDIn("b", "c") }, true},
		{"task id in set", func(q *Query) *Query { return q.TaskID("b").TaskIDIn("b", "c") }, false},
		{"key in excluded set", func(q *Query) *Query { return q.TaskDefinitionKey("k").TaskDefinitionKeyNotIn("k") }, true},
		{"conditions inside or are ignored", func(q *Query) *Query {
			return q.Or().TaskMinPriority(60).TaskMaxPriority(40).EndOr()
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tt.build(newQuery(nil)).Resolve(context.Background(), expr.Context{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.HasExcludingConditions())
		})
	}
}

func TestOrderBy_Replay(t *testing.T) {
	q := New(nil).
		OrderBy(Order{Property: OrderByDueDate, Direction: Descending}).
		OrderBy(Order{
			Property:  OrderByVariable,
			Direction: Ascending,
			Variable:  &VariableOrder{Scope: model.ScopeTask, Name: "amount", Kind: value.KindLong},
		})
	require.NoError(t, q.Err())

	orders := q.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, Descending, orders[0].Direction)
	assert.Equal(t, "variable:task:amount", orders[1].Key())

	q = New(nil).OrderBy(Order{Property: "bogus", Direction: Ascending})
	assert.True(t, taskerr.IsInvalidUsage(q.Err()))

	q = New(nil).OrderBy(Order{Property: OrderByName})
	assert.True(t, taskerr.IsInvalidUsage(q.Err()), "direction is required")
}
