// Package executortest holds the conformance suite every taskquery.Executor
// must pass, together with the dataset it runs against.
package executortest

import (
	"time"

	"github.com/roach88/taskq/internal/identity"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/value"
)

// Base is the creation time of the first fixture task.
var Base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := Base.Add(d)
	return &t
}

const day = 24 * time.Hour

// Directory is the group membership of the fixture users.
var Directory = identity.Static{
	"kermit": {"management", "accountancy"},
	"fozzie": {"sales"},
}

// Dataset returns a fresh copy of the fixture dataset.
//
//	t1  Review invoice   prio 50  assignee kermit, owner gonzo, due +1d, process p1, tenant acme
//	t2  approve Invoice  prio 80  candidate group management, due +2d, follow-up +1d, updated +3h
//	t3  Ship goods       prio 20  candidate user fozzie and group sales, case c1
//	t4  (no name)        prio 50  assignee fozzie, candidate group management, subtask of t1, suspended
//	t5  review Contract  prio 60  no candidates, process p2, follow-up +5d, tenant globex
func Dataset() *model.Dataset {
	return &model.Dataset{
		Tasks: []model.Task{
			{
				ID: "t1", Name: "Review invoice", Priority: 50,
				Assignee: "kermit", Owner: "gonzo",
				DueDate: at(day), CreateTime: Base,
				ProcessInstanceID: "p1", ProcessDefinitionKey: "invoice",
				TaskDefinitionKey: "review", TenantID: "acme",
				FormKey: "embedded:app:forms/review.html",
				Version: 1,
			},
			{
				ID: "t2", Name: "approve Invoice", Priority: 80,
				DueDate: at(2 * day), FollowUpDate: at(day), CreateTime: Base.Add(time.Hour),
				ProcessInstanceID: "p1", ProcessDefinitionKey: "invoice",
				TaskDefinitionKey: "approve", LastUpdated: at(3 * time.Hour),
				Version: 3,
			},
			{
				ID: "t3", Name: "Ship goods", Priority: 20,
				CreateTime:     Base.Add(2 * time.Hour),
				CaseInstanceID: "c1", TaskDefinitionKey: "ship",
				Version: 1,
			},
			{
				ID: "t4", Priority: 50, Assignee: "fozzie",
				CreateTime:   Base.Add(3 * time.Hour),
				ParentTaskID: "t1", DelegationState: model.DelegationPending,
				Suspended: true,
				Version:   1,
			},
			{
				ID: "t5", Name: "review Contract", Priority: 60,
				FollowUpDate: at(5 * day), CreateTime: Base.Add(4 * time.Hour),
				ProcessInstanceID: "p2", ProcessDefinitionKey: "contract",
				DelegationState: model.DelegationResolved, TenantID: "globex",
				Version: 1,
			},
		},
		Links: []model.IdentityLink{
			{ID: "l1", TaskID: "t2", Type: model.LinkCandidate, GroupID: "management"},
			{ID: "l2", TaskID: "t3", Type: model.LinkCandidate, UserID: "fozzie"},
			{ID: "l3", TaskID: "t3", Type: model.LinkCandidate, GroupID: "sales"},
			{ID: "l4", TaskID: "t4", Type: model.LinkCandidate, GroupID: "management"},
			{ID: "l5", TaskID: "t5", Type: "watcher", UserID: "piggy"},
		},
		Variables: []model.Variable{
			{Scope: model.ScopeTask, ScopeID: "t1", Name: "amount", Value: value.Long(100)},
			{Scope: model.ScopeTask, ScopeID: "t2", Name: "amount", Value: value.Double(250.5)},
			{Scope: model.ScopeTask, ScopeID: "t3", Name: "amount", Value: value.Integer(100)},
			{Scope: model.ScopeTask, ScopeID: "t5", Name: "amount", Value: value.String("lots")},
			{Scope: model.ScopeTask, ScopeID: "t1", Name: "urgent", Value: value.Boolean(true)},
			{Scope: model.ScopeTask, ScopeID: "t2", Name: "urgent", Value: value.Boolean(false)},
			{Scope: model.ScopeTask, ScopeID: "t4", Name: "note", Value: value.Null{}},
			{Scope: model.ScopeProcess, ScopeID: "p1", Name: "region", Value: value.String("North")},
			{Scope: model.ScopeProcess, ScopeID: "p2", Name: "region", Value: value.String("south")},
			{Scope: model.ScopeProcess, ScopeID: "p2", Name: "Customer", Value: value.String("ACME")},
			{Scope: model.ScopeCase, ScopeID: "c1", Name: "deadline", Value: value.DateOf(Base.Add(10 * day))},
		},
		Memberships: []model.Membership{
			{UserID: "kermit", GroupID: "management"},
			{UserID: "kermit", GroupID: "accountancy"},
			{UserID: "fozzie", GroupID: "sales"},
		},
	}
}
