// Package taskservice is the write side of the task core: it creates and
// saves tasks, manages their dependents and stamps each task-scoped change
// through the tracker.
//
// Every call is one store transaction. The dependent write and the task's
// version and lastUpdated bump commit together, so a caller holding an
// older copy of the task gets CONCURRENCY_CONFLICT on its next save.
package taskservice

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/taskq/internal/clock"
	"github.com/roach88/taskq/internal/expr"
	"github.com/roach88/taskq/internal/identity"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/store"
	"github.com/roach88/taskq/internal/taskerr"
	"github.com/roach88/taskq/internal/taskquery"
	"github.com/roach88/taskq/internal/tracker"
)

// Service exposes task operations over a store.
//
// Thread-safety: Service is safe for concurrent use; the store serializes
// writes.
type Service struct {
	store     *store.Store
	tracker   *tracker.Tracker
	clock     clock.Clock
	ids       clock.IDGenerator
	groups    identity.GroupResolver
	evaluator expr.Evaluator
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source for create times and lastUpdated markers.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDGenerator sets the id source for new tasks, comments and
// attachments.
func WithIDGenerator(g clock.IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithGroupResolver sets the resolver handed to task queries. It defaults to
// the store's membership table.
func WithGroupResolver(g identity.GroupResolver) Option {
	return func(s *Service) { s.groups = g }
}

// WithEvaluator sets the expression evaluator handed to task queries.
func WithEvaluator(e expr.Evaluator) Option {
	return func(s *Service) { s.evaluator = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New returns a Service over st.
func New(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		clock:     clock.System{},
		ids:       clock.UUIDv7Generator{},
		groups:    st,
		evaluator: expr.NewCUEEvaluator(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracker = tracker.New(s.clock, tracker.WithLogger(s.logger))
	return s
}

// CreateTaskQuery returns a query over the store.
func (s *Service) CreateTaskQuery() *taskquery.Query {
	return taskquery.New(s.store,
		taskquery.WithEvaluator(s.evaluator),
		taskquery.WithGroupResolver(s.groups),
		taskquery.WithLogger(s.logger),
	)
}

// CreateNativeTaskQuery returns a raw SQL query over the store.
func (s *Service) CreateNativeTaskQuery() *taskquery.NativeQuery {
	return taskquery.NewNative(s.store)
}

// NewTask returns an unsaved task. An empty id is replaced by a generated
// one.
func (s *Service) NewTask(id string) *model.Task {
	if id == "" {
		id = s.ids.Generate()
	}
	return &model.Task{
		ID:         id,
		Priority:   model.DefaultPriority,
		CreateTime: model.Millis(s.clock.Now()),
	}
}

// Task returns a task by id.
func (s *Service) Task(ctx context.Context, id string) (*model.Task, error) {
	if id == "" {
		return nil, taskerr.NullValue("taskId")
	}
	return s.store.Task(ctx, id)
}

// SaveTask inserts t when it has never been saved and updates it otherwise.
//
// An update succeeds only if t.Version still equals the stored version.
// Creation leaves lastUpdated unset; an update that changes any field sets
// it and bumps the version. t is updated in place.
func (s *Service) SaveTask(ctx context.Context, t *model.Task) error {
	if t == nil {
		return taskerr.NullValue("task")
	}
	if t.ID == "" {
		t.ID = s.ids.Generate()
	}
	if t.CreateTime.IsZero() {
		t.CreateTime = model.Millis(s.clock.Now())
	}

	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		if t.Version == 0 {
			saved := normalize(*t)
			if err := tx.InsertTask(ctx, &saved); err != nil {
				return err
			}
			*t = saved
			s.logger.Debug("task created", "task", t.ID)
			return nil
		}

		stored, err := tx.Task(ctx, t.ID)
		if err != nil {
			return err
		}
		if stored.Version != t.Version {
			return taskerr.ConcurrencyConflict("task %s was updated by another transaction (version %d, expected %d)",
				t.ID, stored.Version, t.Version)
		}

		updated := normalize(*t)
		updated.LastUpdated = stored.LastUpdated
		if updated.FormKey == "" && !t.FormKeyInitialized {
			// Query results omit the form key unless asked for it.
			updated.FormKey = stored.FormKey
		}
		if !changed(stored, &updated) {
			return nil
		}
		s.tracker.Apply(tracker.Event{Kind: tracker.TaskSave, TaskID: t.ID}, &updated)
		if err := tx.UpdateTask(ctx, &updated, t.Version); err != nil {
			return err
		}
		*t = updated
		return nil
	})
}

// DeleteTask removes a standalone task with its dependents. Tasks that
// belong to a process or case instance cannot be deleted.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, id)
		if err != nil {
			return err
		}
		if !t.Standalone() {
			if t.ProcessInstanceID != "" {
				return taskerr.Precondition("task %s is part of a running process instance and cannot be deleted", id)
			}
			return taskerr.Precondition("task %s is part of a running case instance and cannot be deleted", id)
		}
		return tx.DeleteTask(ctx, id)
	})
}

// Complete finishes a task: vars are stored in the task's process instance
// (or on nothing for a standalone task) and the task is removed. A task
// with a pending delegation must be resolved instead.
func (s *Service) Complete(ctx context.Context, id string, vars map[string]any) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, id)
		if err != nil {
			return err
		}
		if t.DelegationState == model.DelegationPending {
			return taskerr.Precondition("task %s is delegated and must be resolved before it can be completed", id)
		}
		if t.ProcessInstanceID != "" {
			if err := setVariables(ctx, tx, model.ScopeProcess, t.ProcessInstanceID, vars); err != nil {
				return err
			}
		}
		if err := tx.DeleteTask(ctx, id); err != nil {
			return err
		}
		s.logger.Info("task completed", "task", id)
		return nil
	})
}

// SetAssignee changes the assignee. An empty user unassigns the task.
func (s *Service) SetAssignee(ctx context.Context, id, user string) error {
	return s.mutate(ctx, id, tracker.TaskSave, func(t *model.Task) error {
		t.Assignee = user
		return nil
	})
}

// SetOwner changes the owner.
func (s *Service) SetOwner(ctx context.Context, id, user string) error {
	return s.mutate(ctx, id, tracker.TaskSave, func(t *model.Task) error {
		t.Owner = user
		return nil
	})
}

// Claim assigns the task to user. Claiming a task already assigned to
// someone else fails with PRECONDITION. An empty user unclaims.
func (s *Service) Claim(ctx context.Context, id, user string) error {
	if user == "" {
		return s.Unclaim(ctx, id)
	}
	return s.mutate(ctx, id, tracker.Claim, func(t *model.Task) error {
		if t.Assignee != "" && t.Assignee != user {
			return taskerr.Precondition("task %s is already claimed by someone else", id)
		}
		t.Assignee = user
		return nil
	})
}

// Unclaim clears the assignee.
func (s *Service) Unclaim(ctx context.Context, id string) error {
	return s.mutate(ctx, id, tracker.Unclaim, func(t *model.Task) error {
		t.Assignee = ""
		return nil
	})
}

// DelegateTask hands the task to user while the current assignee stays
// owner, unless the task already has one.
func (s *Service) DelegateTask(ctx context.Context, id, user string) error {
	return s.mutate(ctx, id, tracker.Delegate, func(t *model.Task) error {
		if t.Owner == "" {
			t.Owner = t.Assignee
		}
		t.Assignee = user
		t.DelegationState = model.DelegationPending
		return nil
	})
}

// ResolveTask returns a delegated task to its owner. vars become task-local
// variables.
func (s *Service) ResolveTask(ctx context.Context, id string, vars map[string]any) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		if err := setVariables(ctx, tx, model.ScopeTask, id, vars); err != nil {
			return err
		}
		return s.apply(ctx, tx, id, tracker.Resolve, func(t *model.Task) error {
			t.DelegationState = model.DelegationResolved
			t.Assignee = t.Owner
			return nil
		})
	})
}

// SetPriority changes the priority.
func (s *Service) SetPriority(ctx context.Context, id string, priority int) error {
	return s.mutate(ctx, id, tracker.PriorityChange, func(t *model.Task) error {
		t.Priority = priority
		return nil
	})
}

// SetName changes the name.
func (s *Service) SetName(ctx context.Context, id, name string) error {
	return s.mutate(ctx, id, tracker.TaskSave, func(t *model.Task) error {
		t.Name = name
		return nil
	})
}

// SetDescription changes the description.
func (s *Service) SetDescription(ctx context.Context, id, description string) error {
	return s.mutate(ctx, id, tracker.TaskSave, func(t *model.Task) error {
		t.Description = description
		return nil
	})
}

// SetDueDate changes the due date; nil clears it.
func (s *Service) SetDueDate(ctx context.Context, id string, due *time.Time) error {
	return s.mutate(ctx, id, tracker.TaskSave, func(t *model.Task) error {
		t.DueDate = model.MillisPtr(due)
		return nil
	})
}

// SetFollowUpDate changes the follow-up date; nil clears it.
func (s *Service) SetFollowUpDate(ctx context.Context, id string, followUp *time.Time) error {
	return s.mutate(ctx, id, tracker.TaskSave, func(t *model.Task) error {
		t.FollowUpDate = model.MillisPtr(followUp)
		return nil
	})
}

// mutate loads the task, applies fn and saves the task with the tracker's
// stamp, all in one transaction.
func (s *Service) mutate(ctx context.Context, id string, kind tracker.Kind, fn func(*model.Task) error) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		return s.apply(ctx, tx, id, kind, fn)
	})
}

func (s *Service) apply(ctx context.Context, tx *store.Tx, id string, kind tracker.Kind, fn func(*model.Task) error) error {
	if id == "" {
		return taskerr.NullValue("taskId")
	}
	t, err := tx.Task(ctx, id)
	if err != nil {
		return err
	}
	if fn != nil {
		if err := fn(t); err != nil {
			return err
		}
	}
	return s.touch(ctx, tx, t, kind)
}

// touch stamps t for kind and writes it against its loaded version.
func (s *Service) touch(ctx context.Context, tx *store.Tx, t *model.Task, kind tracker.Kind) error {
	expected := t.Version
	if !s.tracker.Apply(tracker.Event{Kind: kind, TaskID: t.ID}, t) {
		return nil
	}
	return tx.UpdateTask(ctx, t, expected)
}

// touchID is touch for a task known only by id.
func (s *Service) touchID(ctx context.Context, tx *store.Tx, id string, kind tracker.Kind) error {
	if id == "" {
		return nil
	}
	t, err := tx.Task(ctx, id)
	if err != nil {
		return err
	}
	return s.touch(ctx, tx, t, kind)
}

func normalize(t model.Task) model.Task {
	t.CreateTime = model.Millis(t.CreateTime)
	t.DueDate = model.MillisPtr(t.DueDate)
	t.FollowUpDate = model.MillisPtr(t.FollowUpDate)
	t.LastUpdated = model.MillisPtr(t.LastUpdated)
	t.FormKeyInitialized = false
	return t
}

// changed reports whether any persisted field other than the tracker's own
// differs between a and b.
func changed(a, b *model.Task) bool {
	x, y := a.Clone(), b.Clone()
	x.LastUpdated, y.LastUpdated = nil, nil
	x.Version, y.Version = 0, 0
	x.FormKeyInitialized, y.FormKeyInitialized = false, false
	if !sameTime(x.DueDate, y.DueDate) || !sameTime(x.FollowUpDate, y.FollowUpDate) || !x.CreateTime.Equal(y.CreateTime) {
		return true
	}
	x.DueDate, y.DueDate = nil, nil
	x.FollowUpDate, y.FollowUpDate = nil, nil
	x.CreateTime, y.CreateTime = time.Time{}, time.Time{}
	return x != y
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
