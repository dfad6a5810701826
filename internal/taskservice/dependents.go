package taskservice

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/store"
	"github.com/roach88/taskq/internal/taskerr"
	"github.com/roach88/taskq/internal/tracker"
	"github.com/roach88/taskq/internal/value"
)

// AddCandidateUser makes user a candidate for the task.
func (s *Service) AddCandidateUser(ctx context.Context, taskID, user string) error {
	return s.AddUserIdentityLink(ctx, taskID, user, model.LinkCandidate)
}

// AddCandidateGroup makes group a candidate for the task.
func (s *Service) AddCandidateGroup(ctx context.Context, taskID, group string) error {
	return s.AddGroupIdentityLink(ctx, taskID, group, model.LinkCandidate)
}

// AddUserIdentityLink relates user to the task. The assignee and owner
// link types set the corresponding task field instead of storing a link.
func (s *Service) AddUserIdentityLink(ctx context.Context, taskID, user, linkType string) error {
	if user == "" {
		return taskerr.NullValue("userId")
	}
	switch linkType {
	case model.LinkAssignee:
		return s.SetAssignee(ctx, taskID, user)
	case model.LinkOwner:
		return s.SetOwner(ctx, taskID, user)
	}
	return s.addLink(ctx, model.IdentityLink{TaskID: taskID, Type: linkType, UserID: user})
}

// AddGroupIdentityLink relates group to the task.
func (s *Service) AddGroupIdentityLink(ctx context.Context, taskID, group, linkType string) error {
	if group == "" {
		return taskerr.NullValue("groupId")
	}
	return s.addLink(ctx, model.IdentityLink{TaskID: taskID, Type: linkType, GroupID: group})
}

func (s *Service) addLink(ctx context.Context, l model.IdentityLink) error {
	l.ID = s.ids.Generate()
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, l.TaskID)
		if err != nil {
			return err
		}
		if err := tx.AddLink(ctx, l); err != nil {
			return err
		}
		return s.touch(ctx, tx, t, tracker.LinkAdd)
	})
}

// DeleteCandidateUser removes the candidate link between user and task.
func (s *Service) DeleteCandidateUser(ctx context.Context, taskID, user string) error {
	return s.DeleteUserIdentityLink(ctx, taskID, user, model.LinkCandidate)
}

// DeleteCandidateGroup removes the candidate link between group and task.
func (s *Service) DeleteCandidateGroup(ctx context.Context, taskID, group string) error {
	return s.DeleteGroupIdentityLink(ctx, taskID, group, model.LinkCandidate)
}

// DeleteUserIdentityLink removes a user link. For the assignee and owner
// types the task field is cleared.
func (s *Service) DeleteUserIdentityLink(ctx context.Context, taskID, user, linkType string) error {
	if user == "" {
		return taskerr.NullValue("userId")
	}
	switch linkType {
	case model.LinkAssignee:
		return s.SetAssignee(ctx, taskID, "")
	case model.LinkOwner:
		return s.SetOwner(ctx, taskID, "")
	}
	return s.deleteLinks(ctx, taskID, linkType, user, "")
}

// DeleteGroupIdentityLink removes a group link.
func (s *Service) DeleteGroupIdentityLink(ctx context.Context, taskID, group, linkType string) error {
	if group == "" {
		return taskerr.NullValue("groupId")
	}
	return s.deleteLinks(ctx, taskID, linkType, "", group)
}

func (s *Service) deleteLinks(ctx context.Context, taskID, linkType, user, group string) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, taskID)
		if err != nil {
			return err
		}
		n, err := tx.DeleteLinks(ctx, taskID, linkType, user, group)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		return s.touch(ctx, tx, t, tracker.LinkRemove)
	})
}

// IdentityLinks lists the task's links. The assignee and owner appear as
// links of their own type, ahead of the stored ones.
func (s *Service) IdentityLinks(ctx context.Context, taskID string) ([]model.IdentityLink, error) {
	var links []model.IdentityLink
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Assignee != "" {
			links = append(links, model.IdentityLink{TaskID: taskID, Type: model.LinkAssignee, UserID: t.Assignee})
		}
		if t.Owner != "" {
			links = append(links, model.IdentityLink{TaskID: taskID, Type: model.LinkOwner, UserID: t.Owner})
		}
		stored, err := tx.Links(ctx, taskID)
		if err != nil {
			return err
		}
		links = append(links, stored...)
		return nil
	})
	return links, err
}

// SetVariableLocal stores a task-scoped variable.
func (s *Service) SetVariableLocal(ctx context.Context, taskID, name string, v any) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, taskID)
		if err != nil {
			return err
		}
		if err := setVariables(ctx, tx, model.ScopeTask, taskID, map[string]any{name: v}); err != nil {
			return err
		}
		return s.touch(ctx, tx, t, tracker.VariableSet)
	})
}

// SetVariable stores a variable through the task: in its process instance
// when it has one, otherwise on the task itself. Only the latter is a
// task-scoped change.
func (s *Service) SetVariable(ctx context.Context, taskID, name string, v any) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, taskID)
		if err != nil {
			return err
		}
		if t.ProcessInstanceID != "" {
			return setVariables(ctx, tx, model.ScopeProcess, t.ProcessInstanceID, map[string]any{name: v})
		}
		if err := setVariables(ctx, tx, model.ScopeTask, taskID, map[string]any{name: v}); err != nil {
			return err
		}
		return s.touch(ctx, tx, t, tracker.VariableSet)
	})
}

// RemoveVariableLocal deletes a task-scoped variable. Removing an unknown
// variable is a no-op.
func (s *Service) RemoveVariableLocal(ctx context.Context, taskID, name string) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, taskID)
		if err != nil {
			return err
		}
		removed, err := tx.RemoveVariable(ctx, model.ScopeTask, taskID, name)
		if err != nil || !removed {
			return err
		}
		return s.touch(ctx, tx, t, tracker.VariableRemove)
	})
}

// VariablesLocal returns the task-scoped variables by name.
func (s *Service) VariablesLocal(ctx context.Context, taskID string) (map[string]value.Value, error) {
	out := make(map[string]value.Value)
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.Task(ctx, taskID); err != nil {
			return err
		}
		vars, err := tx.Variables(ctx, model.ScopeTask, taskID)
		if err != nil {
			return err
		}
		for _, v := range vars {
			out[v.Name] = v.Value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveTaskForm stores submitted form fields as task-local variables without
// completing the task.
func (s *Service) SaveTaskForm(ctx context.Context, taskID string, fields map[string]any) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, taskID)
		if err != nil {
			return err
		}
		if err := setVariables(ctx, tx, model.ScopeTask, taskID, fields); err != nil {
			return err
		}
		return s.touch(ctx, tx, t, tracker.FormSave)
	})
}

// setVariables writes vars in name order so failures are reproducible.
func setVariables(ctx context.Context, tx *store.Tx, scope model.VariableScope, scopeID string, vars map[string]any) error {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		if name == "" {
			return taskerr.NullValue("variableName")
		}
		v, err := value.Of(vars[name])
		if err != nil {
			return fmt.Errorf("variable %s: %w", name, err)
		}
		if err := tx.SetVariable(ctx, model.Variable{Scope: scope, ScopeID: scopeID, Name: name, Value: v}); err != nil {
			return err
		}
	}
	return nil
}

// CreateComment adds a comment to a task, a process instance or both. A
// comment with a task id advances that task.
func (s *Service) CreateComment(ctx context.Context, taskID, processInstanceID, user, message string) (*model.Comment, error) {
	if taskID == "" && processInstanceID == "" {
		return nil, taskerr.InvalidUsage("a comment needs a task id or a process instance id")
	}
	c := model.Comment{
		ID:                s.ids.Generate(),
		TaskID:            taskID,
		ProcessInstanceID: processInstanceID,
		UserID:            user,
		Time:              model.Millis(s.clock.Now()),
		Message:           message,
	}
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if taskID != "" {
			if _, err := tx.Task(ctx, taskID); err != nil {
				return err
			}
		}
		if err := tx.InsertComment(ctx, c); err != nil {
			return err
		}
		return s.touchID(ctx, tx, taskID, tracker.CommentCreate)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateTaskComment replaces the message of one of the task's comments.
func (s *Service) UpdateTaskComment(ctx context.Context, taskID, commentID, message string) error {
	if taskID == "" {
		return taskerr.NullValue("taskId")
	}
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		c, err := tx.Comment(ctx, commentID)
		if err != nil {
			return err
		}
		if c.TaskID != taskID {
			return taskerr.NotFound("comment %s not found on task %s", commentID, taskID)
		}
		if err := tx.UpdateCommentMessage(ctx, commentID, message, model.Millis(s.clock.Now())); err != nil {
			return err
		}
		return s.touchID(ctx, tx, taskID, tracker.CommentUpdate)
	})
}

// UpdateProcessInstanceComment replaces the message of one of the process
// instance's comments. No task is advanced, even when the comment also
// names one.
func (s *Service) UpdateProcessInstanceComment(ctx context.Context, processInstanceID, commentID, message string) error {
	if processInstanceID == "" {
		return taskerr.NullValue("processInstanceId")
	}
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		c, err := tx.Comment(ctx, commentID)
		if err != nil {
			return err
		}
		if c.ProcessInstanceID != processInstanceID {
			return taskerr.NotFound("comment %s not found on process instance %s", commentID, processInstanceID)
		}
		return tx.UpdateCommentMessage(ctx, commentID, message, model.Millis(s.clock.Now()))
	})
}

// DeleteTaskComment removes one of the task's comments. An unknown comment
// id is ignored.
func (s *Service) DeleteTaskComment(ctx context.Context, taskID, commentID string) error {
	if taskID == "" {
		return taskerr.NullValue("taskId")
	}
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, taskID)
		if err != nil {
			return err
		}
		c, err := tx.Comment(ctx, commentID)
		if taskerr.IsNotFound(err) || (err == nil && c.TaskID != taskID) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.DeleteComment(ctx, commentID); err != nil {
			return err
		}
		return s.touch(ctx, tx, t, tracker.CommentDelete)
	})
}

// DeleteProcessInstanceComment removes one of the process instance's
// comments without touching any task. An unknown comment id is ignored.
func (s *Service) DeleteProcessInstanceComment(ctx context.Context, processInstanceID, commentID string) error {
	if processInstanceID == "" {
		return taskerr.NullValue("processInstanceId")
	}
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		c, err := tx.Comment(ctx, commentID)
		if taskerr.IsNotFound(err) || (err == nil && c.ProcessInstanceID != processInstanceID) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.DeleteComment(ctx, commentID)
		return err
	})
}

// DeleteTaskComments removes every comment of a task. The task must exist.
func (s *Service) DeleteTaskComments(ctx context.Context, taskID string) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, taskID)
		if err != nil {
			return err
		}
		n, err := tx.DeleteTaskComments(ctx, taskID)
		if err != nil || n == 0 {
			return err
		}
		return s.touch(ctx, tx, t, tracker.CommentBulkDelete)
	})
}

// DeleteProcessInstanceComments removes every comment of a process
// instance. It fails with NOT_FOUND when the instance has no comments.
func (s *Service) DeleteProcessInstanceComments(ctx context.Context, processInstanceID string) error {
	if processInstanceID == "" {
		return taskerr.NullValue("processInstanceId")
	}
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		n, err := tx.DeleteProcessInstanceComments(ctx, processInstanceID)
		if err != nil {
			return err
		}
		if n == 0 {
			return taskerr.NotFound("no comments for process instance %s", processInstanceID)
		}
		return nil
	})
}

// TaskComments lists a task's comments, oldest first.
func (s *Service) TaskComments(ctx context.Context, taskID string) ([]model.Comment, error) {
	var out []model.Comment
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.TaskComments(ctx, taskID)
		return err
	})
	return out, err
}

// ProcessInstanceComments lists a process instance's comments, oldest first.
func (s *Service) ProcessInstanceComments(ctx context.Context, processInstanceID string) ([]model.Comment, error) {
	var out []model.Comment
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ProcessInstanceComments(ctx, processInstanceID)
		return err
	})
	return out, err
}

// CreateAttachment stores a new attachment on a task or process instance
// and returns it with its generated id.
func (s *Service) CreateAttachment(ctx context.Context, a model.Attachment) (*model.Attachment, error) {
	if a.TaskID == "" && a.ProcessInstanceID == "" {
		return nil, taskerr.InvalidUsage("an attachment needs a task id or a process instance id")
	}
	a.ID = s.ids.Generate()
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		if a.TaskID != "" {
			t, err := tx.Task(ctx, a.TaskID)
			if err != nil {
				return err
			}
			if a.ProcessInstanceID == "" {
				a.ProcessInstanceID = t.ProcessInstanceID
			}
		}
		if err := tx.InsertAttachment(ctx, a); err != nil {
			return err
		}
		return s.touchID(ctx, tx, a.TaskID, tracker.AttachmentCreate)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveAttachment updates an attachment's name and description.
func (s *Service) SaveAttachment(ctx context.Context, a model.Attachment) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		stored, err := tx.Attachment(ctx, a.ID)
		if err != nil {
			return err
		}
		if err := tx.UpdateAttachment(ctx, a); err != nil {
			return err
		}
		return s.touchID(ctx, tx, stored.TaskID, tracker.AttachmentUpdate)
	})
}

// DeleteAttachment removes an attachment. An unknown id is ignored.
func (s *Service) DeleteAttachment(ctx context.Context, id string) error {
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		a, err := tx.Attachment(ctx, id)
		if taskerr.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.DeleteAttachment(ctx, id); err != nil {
			return err
		}
		return s.touchID(ctx, tx, a.TaskID, tracker.AttachmentDelete)
	})
}

// DeleteTaskAttachment removes one of the task's attachments. An unknown
// attachment id is ignored.
func (s *Service) DeleteTaskAttachment(ctx context.Context, taskID, id string) error {
	if taskID == "" {
		return taskerr.NullValue("taskId")
	}
	return s.store.WithTx(ctx, func(tx *store.Tx) error {
		t, err := tx.Task(ctx, taskID)
		if err != nil {
			return err
		}
		a, err := tx.Attachment(ctx, id)
		if taskerr.IsNotFound(err) || (err == nil && a.TaskID != taskID) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.DeleteAttachment(ctx, id); err != nil {
			return err
		}
		return s.touch(ctx, tx, t, tracker.AttachmentDelete)
	})
}

// TaskAttachments lists a task's attachments.
func (s *Service) TaskAttachments(ctx context.Context, taskID string) ([]model.Attachment, error) {
	var out []model.Attachment
	err := s.store.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.TaskAttachments(ctx, taskID)
		return err
	})
	return out, err
}
