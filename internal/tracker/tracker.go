// Package tracker decides which mutations advance a task's lastUpdated
// marker and optimistic version.
//
// A task starts with no lastUpdated marker. The first qualifying mutation
// sets it and every later one moves it forward; it is never reset. Events
// that carry no task id (a comment on a process instance, for example)
// never touch any task, even when the process instance has tasks.
package tracker

import (
	"io"
	"log/slog"
	"time"

	"github.com/roach88/taskq/internal/clock"
	"github.com/roach88/taskq/internal/model"
)

// Kind names a mutation.
type Kind string

const (
	TaskCreate        Kind = "task-create"
	TaskSave          Kind = "task-save"
	Claim             Kind = "claim"
	Unclaim           Kind = "unclaim"
	Delegate          Kind = "delegate"
	Resolve           Kind = "resolve"
	PriorityChange    Kind = "priority-change"
	LinkAdd           Kind = "identity-link-add"
	LinkRemove        Kind = "identity-link-remove"
	VariableSet       Kind = "variable-set"
	VariableRemove    Kind = "variable-remove"
	CommentCreate     Kind = "comment-create"
	CommentUpdate     Kind = "comment-update"
	CommentDelete     Kind = "comment-delete"
	CommentBulkDelete Kind = "comment-bulk-delete"
	AttachmentCreate  Kind = "attachment-create"
	AttachmentUpdate  Kind = "attachment-update"
	AttachmentDelete  Kind = "attachment-delete"
	FormSave          Kind = "form-save"
)

// Qualifies reports whether k advances lastUpdated when scoped to a task.
func (k Kind) Qualifies() bool {
	switch k {
	case TaskSave, Claim, Unclaim, Delegate, Resolve, PriorityChange,
		LinkAdd, LinkRemove, VariableSet, VariableRemove,
		CommentCreate, CommentUpdate, CommentDelete, CommentBulkDelete,
		AttachmentCreate, AttachmentUpdate, AttachmentDelete, FormSave:
		return true
	}
	return false
}

// Event is one mutation. TaskID is empty for mutations that are not
// scoped to a task.
type Event struct {
	Kind   Kind
	TaskID string
}

// Decision is the outcome of Decide.
type Decision struct {
	// Advance is false when the task must be left untouched.
	Advance bool

	// LastUpdated is the new marker when Advance is set.
	LastUpdated time.Time

	// Version is the version the task carries after the write.
	Version int
}

// Tracker stamps tasks on qualifying mutations.
//
// Thread-safety: Tracker holds no mutable state and is safe for concurrent
// use as long as its Clock is.
type Tracker struct {
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(tr *Tracker) { tr.logger = l }
}

// New returns a Tracker reading time from c.
func New(c clock.Clock, opts ...Option) *Tracker {
	tr := &Tracker{
		clock:  c,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

// Decide returns what ev does to t. t is the task as currently stored;
// it is not modified.
//
// The new marker is the clock's time, pushed one millisecond past the
// previous marker when the clock has not moved beyond it, so successive
// markers on one task strictly increase.
func (tr *Tracker) Decide(ev Event, t *model.Task) Decision {
	if ev.TaskID == "" || t == nil || ev.TaskID != t.ID || !ev.Kind.Qualifies() {
		d := Decision{}
		if t != nil {
			d.Version = t.Version
		}
		return d
	}

	now := model.Millis(tr.clock.Now())
	if t.LastUpdated != nil && !now.After(*t.LastUpdated) {
		now = t.LastUpdated.Add(time.Millisecond)
	}
	return Decision{Advance: true, LastUpdated: now, Version: t.Version + 1}
}

// Apply decides ev for t and writes the outcome into t. It reports whether
// t changed.
func (tr *Tracker) Apply(ev Event, t *model.Task) bool {
	d := tr.Decide(ev, t)
	if !d.Advance {
		tr.logger.Debug("mutation does not touch task", "kind", ev.Kind, "task", ev.TaskID)
		return false
	}
	lu := d.LastUpdated
	t.LastUpdated = &lu
	t.Version = d.Version
	tr.logger.Debug("task advanced",
		"kind", ev.Kind,
		"task", t.ID,
		"version", t.Version,
		"last_updated", lu,
	)
	return true
}
