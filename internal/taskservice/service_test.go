package taskservice

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/taskq/internal/expr"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/store"
	"github.com/roach88/taskq/internal/taskerr"
	"github.com/roach88/taskq/internal/testutil"
	"github.com/roach88/taskq/internal/value"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	svc   *Service
	store *store.Store
	clock *testutil.DeterministicClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"), store.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clk := testutil.NewDeterministicClock()
	svc := New(st,
		WithClock(clk),
		WithIDGenerator(testutil.NewSequenceIDGenerator("id")),
		WithLogger(logger),
	)
	return &fixture{svc: svc, store: st, clock: clk}
}

// saved creates and stores a standalone task.
func (f *fixture) saved(t *testing.T, id string) *model.Task {
	t.Helper()
	task := f.svc.NewTask(id)
	task.Name = "task " + id
	require.NoError(t, f.svc.SaveTask(context.Background(), task))
	return task
}

func (f *fixture) reload(t *testing.T, id string) *model.Task {
	t.Helper()
	task, err := f.svc.Task(context.Background(), id)
	require.NoError(t, err)
	return task
}

func TestSaveTask_CreateLeavesLastUpdatedUnset(t *testing.T) {
	f := newFixture(t)
	task := f.saved(t, "t1")

	assert.Equal(t, 1, task.Version)
	assert.Nil(t, task.LastUpdated)

	got := f.reload(t, "t1")
	assert.Equal(t, 1, got.Version)
	assert.Nil(t, got.LastUpdated)
	assert.Equal(t, model.DefaultPriority, got.Priority)
	assert.Equal(t, testutil.Epoch, got.CreateTime)
}

func TestSaveTask_GeneratesID(t *testing.T) {
	f := newFixture(t)
	task := &model.Task{Name: "anonymous"}
	require.NoError(t, f.svc.SaveTask(context.Background(), task))
	assert.Equal(t, "id-0001", task.ID)
}

func TestSaveTask_UpdateAdvances(t *testing.T) {
	f := newFixture(t)
	task := f.saved(t, "t1")

	now := f.clock.Tick()
	task.Assignee = "kermit"
	require.NoError(t, f.svc.SaveTask(context.Background(), task))

	assert.Equal(t, 2, task.Version)
	require.NotNil(t, task.LastUpdated)
	assert.Equal(t, now, *task.LastUpdated)

	got := f.reload(t, "t1")
	assert.Equal(t, "kermit", got.Assignee)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, now, *got.LastUpdated)
}

func TestSaveTask_UnchangedIsNoop(t *testing.T) {
	f := newFixture(t)
	task := f.saved(t, "t1")

	require.NoError(t, f.svc.SaveTask(context.Background(), task))
	assert.Equal(t, 1, task.Version)
	assert.Nil(t, f.reload(t, "t1").LastUpdated)
}

func TestSaveTask_StaleCopyAfterCommentConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.saved(t, "t1")

	_, err := f.svc.CreateComment(ctx, "t1", "", "kermit", "looks good")
	require.NoError(t, err)

	task.Name = "renamed"
	err = f.svc.SaveTask(ctx, task)
	require.Error(t, err)
	assert.True(t, taskerr.IsConcurrencyConflict(err))
	assert.Equal(t, "task t1", f.reload(t, "t1").Name)

	fresh := f.reload(t, "t1")
	fresh.Name = "renamed"
	require.NoError(t, f.svc.SaveTask(ctx, fresh))
	assert.Equal(t, 3, fresh.Version)
}

func TestSaveTask_KeepsFormKeyOfQueriedCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.svc.NewTask("t1")
	task.FormKey = "embedded:app:forms/a.html"
	require.NoError(t, f.svc.SaveTask(ctx, task))

	listed, err := f.svc.CreateTaskQuery().TaskID("t1").SingleResult(ctx, expr.Context{})
	require.NoError(t, err)
	require.Empty(t, listed.FormKey)

	listed.Priority = 70
	require.NoError(t, f.svc.SaveTask(ctx, listed))
	assert.Equal(t, "embedded:app:forms/a.html", f.reload(t, "t1").FormKey)
}

func TestSaveTask_UnknownTask(t *testing.T) {
	f := newFixture(t)
	err := f.svc.SaveTask(context.Background(), &model.Task{ID: "ghost", Version: 4})
	assert.True(t, taskerr.IsNotFound(err))
}

func TestLastUpdated_StrictlyIncreasesWithoutClockMovement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saved(t, "t1")

	require.NoError(t, f.svc.SetPriority(ctx, "t1", 10))
	first := *f.reload(t, "t1").LastUpdated
	require.NoError(t, f.svc.AddCandidateGroup(ctx, "t1", "sales"))
	second := *f.reload(t, "t1").LastUpdated

	assert.Equal(t, testutil.Epoch, first)
	assert.True(t, second.After(first))
	assert.Equal(t, 3, f.reload(t, "t1").Version)
}

func TestClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saved(t, "t1")

	require.NoError(t, f.svc.Claim(ctx, "t1", "kermit"))
	require.NoError(t, f.svc.Claim(ctx, "t1", "kermit"), "claiming again by the same user is allowed")

	err := f.svc.Claim(ctx, "t1", "fozzie")
	assert.True(t, taskerr.IsPrecondition(err))
	assert.Equal(t, "kermit", f.reload(t, "t1").Assignee)

	require.NoError(t, f.svc.Claim(ctx, "t1", ""))
	assert.Empty(t, f.reload(t, "t1").Assignee)

	err = f.svc.Claim(ctx, "ghost", "kermit")
	assert.True(t, taskerr.IsNotFound(err))
}

func TestDelegateAndResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saved(t, "t1")
	require.NoError(t, f.svc.SetAssignee(ctx, "t1", "kermit"))

	require.NoError(t, f.svc.DelegateTask(ctx, "t1", "fozzie"))
	got := f.reload(t, "t1")
	assert.Equal(t, "kermit", got.Owner)
	assert.Equal(t, "fozzie", got.Assignee)
	assert.Equal(t, model.DelegationPending, got.DelegationState)

	err := f.svc.Complete(ctx, "t1", nil)
	assert.True(t, taskerr.IsPrecondition(err))

	require.NoError(t, f.svc.ResolveTask(ctx, "t1", map[string]any{"approved": true}))
	got = f.reload(t, "t1")
	assert.Equal(t, "kermit", got.Assignee)
	assert.Equal(t, model.DelegationResolved, got.DelegationState)

	vars, err := f.svc.VariablesLocal(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, value.Boolean(true), vars["approved"])
}

func TestScalarSetters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saved(t, "t1")
	due := testutil.Epoch.Add(48 * time.Hour)

	require.NoError(t, f.svc.SetName(ctx, "t1", "Review"))
	require.NoError(t, f.svc.SetDescription(ctx, "t1", "check totals"))
	require.NoError(t, f.svc.SetOwner(ctx, "t1", "gonzo"))
	require.NoError(t, f.svc.SetDueDate(ctx, "t1", &due))
	require.NoError(t, f.svc.SetFollowUpDate(ctx, "t1", &due))

	got := f.reload(t, "t1")
	assert.Equal(t, "Review", got.Name)
	assert.Equal(t, "check totals", got.Description)
	assert.Equal(t, "gonzo", got.Owner)
	assert.Equal(t, due, *got.DueDate)
	assert.Equal(t, due, *got.FollowUpDate)
	assert.Equal(t, 6, got.Version)

	require.NoError(t, f.svc.SetDueDate(ctx, "t1", nil))
	assert.Nil(t, f.reload(t, "t1").DueDate)
}

func TestDeleteTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saved(t, "t1")
	_, err := f.svc.CreateComment(ctx, "t1", "", "kermit", "bye")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteTask(ctx, "t1"))
	_, err = f.svc.Task(ctx, "t1")
	assert.True(t, taskerr.IsNotFound(err))

	comments, err := f.svc.TaskComments(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, comments)

	assert.True(t, taskerr.IsNotFound(f.svc.DeleteTask(ctx, "t1")))
}

func TestDeleteTask_RejectsInstanceTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	process := f.svc.NewTask("t1")
	process.ProcessInstanceID = "p1"
	require.NoError(t, f.svc.SaveTask(ctx, process))
	caseTask := f.svc.NewTask("t2")
	caseTask.CaseInstanceID = "c1"
	require.NoError(t, f.svc.SaveTask(ctx, caseTask))

	processErr := f.svc.DeleteTask(ctx, "t1")
	assert.True(t, taskerr.IsPrecondition(processErr))
	assert.Contains(t, processErr.Error(), "process instance")

	caseErr := f.svc.DeleteTask(ctx, "t2")
	assert.True(t, taskerr.IsPrecondition(caseErr))
	assert.Contains(t, caseErr.Error(), "case instance")
	assert.NotEqual(t, processErr.Error(), caseErr.Error())

	_, err := f.svc.Task(ctx, "t1")
	require.NoError(t, err)
	_, err = f.svc.Task(ctx, "t2")
	require.NoError(t, err)
}

func TestComplete_StoresProcessVariables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.svc.NewTask("t1")
	task.ProcessInstanceID = "p1"
	require.NoError(t, f.svc.SaveTask(ctx, task))

	require.NoError(t, f.svc.Complete(ctx, "t1", map[string]any{"approved": true, "amount": 12}))
	_, err := f.svc.Task(ctx, "t1")
	assert.True(t, taskerr.IsNotFound(err))

	snap, err := f.store.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Variables, 2)
	assert.Equal(t, "amount", snap.Variables[0].Name)
	assert.Equal(t, value.Long(12), snap.Variables[0].Value)
	assert.Equal(t, model.ScopeProcess, snap.Variables[1].Scope)
}

func TestIdentityLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saved(t, "t1")

	require.NoError(t, f.svc.AddCandidateUser(ctx, "t1", "fozzie"))
	require.NoError(t, f.svc.AddCandidateGroup(ctx, "t1", "sales"))
	require.NoError(t, f.svc.AddUserIdentityLink(ctx, "t1", "kermit", model.LinkAssignee))
	require.NoError(t, f.svc.AddGroupIdentityLink(ctx, "t1", "audit", "watcher"))

	links, err := f.svc.IdentityLinks(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, links, 4)
	assert.Equal(t, model.LinkAssignee, links[0].Type)
	assert.Equal(t, "kermit", links[0].UserID)
	assert.Equal(t, "fozzie", links[1].UserID)
	assert.Equal(t, "sales", links[2].GroupID)
	assert.Equal(t, "watcher", links[3].Type)

	require.NoError(t, f.svc.DeleteCandidateUser(ctx, "t1", "fozzie"))
	require.NoError(t, f.svc.DeleteCandidateGroup(ctx, "t1", "sales"))
	require.NoError(t, f.svc.DeleteGroupIdentityLink(ctx, "t1", "audit", "watcher"))
	require.NoError(t, f.svc.DeleteUserIdentityLink(ctx, "t1", "kermit", model.LinkAssignee))

	links, err = f.svc.IdentityLinks(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, links)
	assert.Equal(t, 9, f.reload(t, "t1").Version)

	// Deleting a link that is not there changes nothing.
	require.NoError(t, f.svc.DeleteCandidateUser(ctx, "t1", "fozzie"))
	assert.Equal(t, 9, f.reload(t, "t1").Version)

	assert.True(t, taskerr.IsNullValue(f.svc.AddCandidateUser(ctx, "t1", "")))
}

func TestIdentityLinks_RequireUserOrGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saved(t, "t1")
	require.NoError(t, f.svc.AddCandidateGroup(ctx, "t1", "sales"))
	version := f.reload(t, "t1").Version

	tests := []struct {
		name string
		call func() error
	}{
		{"delete user link", func() error { return f.svc.DeleteUserIdentityLink(ctx, "t1", "", "watcher") }},
		{"delete assignee link", func() error { return f.svc.DeleteUserIdentityLink(ctx, "t1", "", model.LinkAssignee) }},
		{"delete candidate user", func() error { return f.svc.DeleteCandidateUser(ctx, "t1", "") }},
		{"delete group link", func() error { return f.svc.DeleteGroupIdentityLink(ctx, "t1", "", model.LinkCandidate) }},
		{"delete candidate group", func() error { return f.svc.DeleteCandidateGroup(ctx, "t1", "") }},
		{"add group link", func() error { return f.svc.AddGroupIdentityLink(ctx, "t1", "", "watcher") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, taskerr.IsNullValue(tt.call()))
		})
	}

	links, err := f.svc.IdentityLinks(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, links, 1)
	assert.Equal(t, version, f.reload(t, "t1").Version)
}

func TestVariables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saved(t, "t1")
	process := f.svc.NewTask("t2")
	process.ProcessInstanceID = "p1"
	require.NoError(t, f.svc.SaveTask(ctx, process))

	require.NoError(t, f.svc.SetVariableLocal(ctx, "t1", "amount", 100))
	require.NoError(t, f.svc.SetVariable(ctx, "t1", "region", "north"))
	assert.Equal(t, 3, f.reload(t, "t1").Version)

	require.NoError(t, f.svc.SetVariable(ctx, "t2", "region", "south"))
	got := f.reload(t, "t2")
	assert.Equal(t, 1, got.Version, "process scoped variables do not touch the task")
	assert.Nil(t, got.LastUpdated)

	vars, err := f.svc.VariablesLocal(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, map[string]value.Value{"amount": value.Long(100), "region": value.String("north")}, vars)

	require.NoError(t, f.svc.RemoveVariableLocal(ctx, "t1", "amount"))
	require.NoError(t, f.svc.RemoveVariableLocal(ctx, "t1", "amount"))
	assert.Equal(t, 4, f.reload(t, "t1").Version)

	n, err := f.svc.CreateTaskQuery().ProcessVariableValueEquals("region", "south").Count(ctx, expr.Context{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	err = f.svc.SetVariableLocal(ctx, "t1", "bad", struct{}{})
	require.Error(t, err)
	assert.Equal(t, 4, f.reload(t, "t1").Version, "failed writes roll back")
}

func TestSaveTaskForm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saved(t, "t1")

	require.NoError(t, f.svc.SaveTaskForm(ctx, "t1", map[string]any{"comment": "draft", "score": 3}))
	got := f.reload(t, "t1")
	assert.Equal(t, 2, got.Version)
	assert.NotNil(t, got.LastUpdated)

	vars, err := f.svc.VariablesLocal(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, vars, 2)
}

func TestComments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.svc.NewTask("t1")
	task.ProcessInstanceID = "p1"
	require.NoError(t, f.svc.SaveTask(ctx, task))

	c1, err := f.svc.CreateComment(ctx, "t1", "p1", "kermit", "first")
	require.NoError(t, err)
	assert.Equal(t, 2, f.reload(t, "t1").Version)

	f.clock.Tick()
	require.NoError(t, f.svc.UpdateTaskComment(ctx, "t1", c1.ID, "first, edited"))
	assert.Equal(t, 3, f.reload(t, "t1").Version)

	comments, err := f.svc.TaskComments(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "first, edited", comments[0].Message)

	err = f.svc.UpdateTaskComment(ctx, "t1", "missing", "x")
	assert.True(t, taskerr.IsNotFound(err))

	require.NoError(t, f.svc.DeleteTaskComment(ctx, "t1", "missing"), "unknown comment ids are ignored")
	assert.Equal(t, 3, f.reload(t, "t1").Version)

	require.NoError(t, f.svc.DeleteTaskComment(ctx, "t1", c1.ID))
	assert.Equal(t, 4, f.reload(t, "t1").Version)

	_, err = f.svc.CreateComment(ctx, "", "", "kermit", "nowhere")
	assert.True(t, taskerr.IsInvalidUsage(err))
	_, err = f.svc.CreateComment(ctx, "ghost", "", "kermit", "x")
	assert.True(t, taskerr.IsNotFound(err))
}

func TestProcessInstanceComments_NeverTouchTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.svc.NewTask("t1")
	task.ProcessInstanceID = "p1"
	require.NoError(t, f.svc.SaveTask(ctx, task))

	c, err := f.svc.CreateComment(ctx, "", "p1", "kermit", "process note")
	require.NoError(t, err)
	require.NoError(t, f.svc.UpdateProcessInstanceComment(ctx, "p1", c.ID, "edited"))

	comments, err := f.svc.ProcessInstanceComments(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "edited", comments[0].Message)

	require.NoError(t, f.svc.DeleteProcessInstanceComment(ctx, "p1", c.ID))
	require.NoError(t, f.svc.DeleteProcessInstanceComment(ctx, "p1", c.ID))

	got := f.reload(t, "t1")
	assert.Nil(t, got.LastUpdated)
	assert.Equal(t, 1, got.Version)
}

func TestBulkCommentDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saved(t, "t1")
	for _, msg := range []string{"a", "b"} {
		_, err := f.svc.CreateComment(ctx, "t1", "p9", "kermit", msg)
		require.NoError(t, err)
	}
	_, err := f.svc.CreateComment(ctx, "", "p9", "kermit", "c")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteTaskComments(ctx, "t1"))
	assert.Equal(t, 4, f.reload(t, "t1").Version)

	assert.True(t, taskerr.IsNotFound(f.svc.DeleteTaskComments(ctx, "ghost")))

	require.NoError(t, f.svc.DeleteProcessInstanceComments(ctx, "p9"))
	assert.True(t, taskerr.IsNotFound(f.svc.DeleteProcessInstanceComments(ctx, "p9")))
	assert.Equal(t, 4, f.reload(t, "t1").Version)
}

func TestAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.svc.NewTask("t1")
	task.ProcessInstanceID = "p1"
	require.NoError(t, f.svc.SaveTask(ctx, task))

	a, err := f.svc.CreateAttachment(ctx, model.Attachment{TaskID: "t1", Name: "invoice.pdf", Type: "application/pdf"})
	require.NoError(t, err)
	assert.Equal(t, "p1", a.ProcessInstanceID)
	assert.Equal(t, 2, f.reload(t, "t1").Version)

	a.Description = "scanned"
	require.NoError(t, f.svc.SaveAttachment(ctx, *a))
	assert.Equal(t, 3, f.reload(t, "t1").Version)

	atts, err := f.svc.TaskAttachments(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "scanned", atts[0].Description)

	require.NoError(t, f.svc.DeleteTaskAttachment(ctx, "t1", "missing"))
	require.NoError(t, f.svc.DeleteTaskAttachment(ctx, "t1", a.ID))
	assert.Equal(t, 4, f.reload(t, "t1").Version)

	b, err := f.svc.CreateAttachment(ctx, model.Attachment{ProcessInstanceID: "p1", Name: "contract"})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteAttachment(ctx, b.ID))
	require.NoError(t, f.svc.DeleteAttachment(ctx, b.ID))
	assert.Equal(t, 4, f.reload(t, "t1").Version)

	assert.True(t, taskerr.IsNotFound(f.svc.SaveAttachment(ctx, model.Attachment{ID: "missing"})))
}

func TestCreateTaskQuery_UsesStoreMemberships(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saved(t, "t1")
	require.NoError(t, f.svc.AddCandidateGroup(ctx, "t1", "management"))
	require.NoError(t, f.store.WithTx(ctx, func(tx *store.Tx) error {
		return tx.AddMembership(ctx, model.Membership{UserID: "kermit", GroupID: "management"})
	}))

	tasks, err := f.svc.CreateTaskQuery().TaskCandidateUser("kermit").List(ctx, expr.Context{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].ID)

	n, err := f.svc.CreateNativeTaskQuery().
		SQL("SELECT * FROM tasks WHERE name = #{name}").
		Parameter("name", "task t1").
		Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSaveTask_ConcurrentSavesOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.saved(t, "t1")

	var conflicts atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range []string{"left", "right"} {
		copyOf := f.reload(t, "t1")
		copyOf.Name = name
		copyOf.Priority = i
		g.Go(func() error {
			err := f.svc.SaveTask(gctx, copyOf)
			if taskerr.IsConcurrencyConflict(err) {
				conflicts.Add(1)
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), conflicts.Load())
	got := f.reload(t, "t1")
	assert.Equal(t, 2, got.Version)
	assert.Contains(t, []string{"left", "right"}, got.Name)
}
