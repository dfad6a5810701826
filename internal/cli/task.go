package cli

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/value"
)

// NewTaskCommand creates the task command and its subcommands.
func NewTaskCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect and change single tasks",
		Long: `Create, inspect and change single tasks.

Every change bumps the task's version, so a later save from an older copy
fails with CONCURRENCY_CONFLICT (exit code 1).`,
	}

	cmd.AddCommand(newTaskCreateCommand(rootOpts))
	cmd.AddCommand(newTaskShowCommand(rootOpts))
	cmd.AddCommand(newTaskAssignCommand(rootOpts))
	cmd.AddCommand(newTaskClaimCommand(rootOpts))
	cmd.AddCommand(newTaskCommentCommand(rootOpts))
	cmd.AddCommand(newTaskSavePriorityCommand(rootOpts))
	cmd.AddCommand(newTaskCompleteCommand(rootOpts))

	return cmd
}

// TaskCreateOptions holds flags for task create.
type TaskCreateOptions struct {
	*RootOptions
	ID          string
	Name        string
	Description string
	Priority    int
	Assignee    string
	Owner       string
	Due         string
	Candidates  []string
	Groups      []string
}

func newTaskCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TaskCreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a standalone task",
		Example: `  taskq task create --name "Review invoice" --priority 70 --candidate-group management
  taskq task create --id t9 --name Call --assignee fozzie --due 2024-03-08T17:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskCreate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "task name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "task description")
	cmd.Flags().IntVar(&opts.Priority, "priority", model.DefaultPriority, "task priority")
	cmd.Flags().StringVar(&opts.Assignee, "assignee", "", "assignee")
	cmd.Flags().StringVar(&opts.Owner, "owner", "", "owner")
	cmd.Flags().StringVar(&opts.Due, "due", "", "due date (RFC 3339)")
	cmd.Flags().StringSliceVar(&opts.Candidates, "candidate-user", nil, "candidate users")
	cmd.Flags().StringSliceVar(&opts.Groups, "candidate-group", nil, "candidate groups")

	return cmd
}

func runTaskCreate(cmd *cobra.Command, opts *TaskCreateOptions) error {
	ctx := cmd.Context()
	var due *time.Time
	if opts.Due != "" {
		d, err := time.Parse(time.RFC3339, opts.Due)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --due", err)
		}
		due = &d
	}

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close()

	t := s.service.NewTask(opts.ID)
	t.Name = opts.Name
	t.Description = opts.Description
	t.Priority = opts.Priority
	t.Assignee = opts.Assignee
	t.Owner = opts.Owner
	t.DueDate = due
	if err := s.service.SaveTask(ctx, t); err != nil {
		return fail("failed to create task", err)
	}
	for _, u := range opts.Candidates {
		if err := s.service.AddCandidateUser(ctx, t.ID, u); err != nil {
			return fail("failed to add candidate user", err)
		}
	}
	for _, g := range opts.Groups {
		if err := s.service.AddCandidateGroup(ctx, t.ID, g); err != nil {
			return fail("failed to add candidate group", err)
		}
	}

	saved, err := s.service.Task(ctx, t.ID)
	if err != nil {
		return fail("failed to load task", err)
	}
	return s.out.Success(taskList{*saved})
}

// TaskDetail is a task with its dependents.
type TaskDetail struct {
	Task          model.Task            `json:"task"`
	IdentityLinks []model.IdentityLink  `json:"identityLinks"`
	Variables     map[string]value.Wire `json:"variables"`
	Comments      []model.Comment       `json:"comments"`
	Attachments   []model.Attachment    `json:"attachments"`
}

func (d TaskDetail) String() string {
	var b strings.Builder
	t := d.Task
	fmt.Fprintf(&b, "%s  %s\n", t.ID, t.Name)
	fmt.Fprintf(&b, "  priority:     %d\n", t.Priority)
	fmt.Fprintf(&b, "  assignee:     %s\n", dash(t.Assignee))
	fmt.Fprintf(&b, "  owner:        %s\n", dash(t.Owner))
	fmt.Fprintf(&b, "  due:          %s\n", formatTime(t.DueDate))
	fmt.Fprintf(&b, "  created:      %s\n", formatTime(&t.CreateTime))
	fmt.Fprintf(&b, "  last updated: %s\n", formatTime(t.LastUpdated))
	fmt.Fprintf(&b, "  version:      %d\n", t.Version)
	for _, l := range d.IdentityLinks {
		who := l.UserID
		if who == "" {
			who = "group " + l.GroupID
		}
		fmt.Fprintf(&b, "  link:         %s %s\n", l.Type, who)
	}
	names := make([]string, 0, len(d.Variables))
	for name := range d.Variables {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		w := d.Variables[name]
		fmt.Fprintf(&b, "  variable:     %s = %v (%s)\n", name, w.Value, w.Type)
	}
	for _, c := range d.Comments {
		fmt.Fprintf(&b, "  comment:      [%s] %s: %s\n", c.Time.UTC().Format(time.RFC3339), dash(c.UserID), c.Message)
	}
	for _, a := range d.Attachments {
		fmt.Fprintf(&b, "  attachment:   %s %s\n", a.Name, a.URL)
	}
	return strings.TrimRight(b.String(), "\n")
}

func newTaskShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its links, variables and comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			id := args[0]
			t, err := s.service.Task(ctx, id)
			if err != nil {
				return fail("failed to load task", err)
			}
			d := TaskDetail{Task: *t, Variables: map[string]value.Wire{}}
			if d.IdentityLinks, err = s.service.IdentityLinks(ctx, id); err != nil {
				return fail("failed to load identity links", err)
			}
			vars, err := s.service.VariablesLocal(ctx, id)
			if err != nil {
				return fail("failed to load variables", err)
			}
			for name, v := range vars {
				d.Variables[name] = value.ToWire(v)
			}
			if d.Comments, err = s.service.TaskComments(ctx, id); err != nil {
				return fail("failed to load comments", err)
			}
			if d.Attachments, err = s.service.TaskAttachments(ctx, id); err != nil {
				return fail("failed to load attachments", err)
			}
			return s.out.Success(d)
		},
	}
}

// ChangeResult reports the task state after a change.
type ChangeResult struct {
	TaskID  string `json:"taskId"`
	Action  string `json:"action"`
	Version int    `json:"version"`
}

func (r ChangeResult) String() string {
	return fmt.Sprintf("%s %s (version %d)", r.Action, r.TaskID, r.Version)
}

// changed reloads the task and reports its new version. Completed tasks are
// gone, so they report version 0.
func (s *session) changed(cmd *cobra.Command, id, action string) error {
	res := ChangeResult{TaskID: id, Action: action}
	if action != "completed" {
		t, err := s.service.Task(cmd.Context(), id)
		if err != nil {
			return fail("failed to reload task", err)
		}
		res.Version = t.Version
	}
	return s.out.Success(res)
}

func newTaskAssignCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "assign <task-id> [user]",
		Short: "Set or clear the assignee",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			user := ""
			if len(args) == 2 {
				user = args[1]
			}
			if err := s.service.SetAssignee(cmd.Context(), args[0], user); err != nil {
				return fail("failed to assign task", err)
			}
			return s.changed(cmd, args[0], "assigned")
		},
	}
}

func newTaskClaimCommand(rootOpts *RootOptions) *cobra.Command {
	var release bool
	cmd := &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Claim a task for --user, or release it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()
			if release {
				if err := s.service.Unclaim(ctx, args[0]); err != nil {
					return fail("failed to release task", err)
				}
				return s.changed(cmd, args[0], "released")
			}
			user := rootOpts.Config.Principal
			if user == "" {
				return NewExitError(ExitCommandError, "claim needs --user")
			}
			if err := s.service.Claim(ctx, args[0], user); err != nil {
				return fail("failed to claim task", err)
			}
			return s.changed(cmd, args[0], "claimed")
		},
	}
	cmd.Flags().BoolVar(&release, "release", false, "unclaim instead")
	return cmd
}

func newTaskCommentCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "comment <task-id> <message>",
		Short: "Add a comment as --user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			if _, err := s.service.CreateComment(cmd.Context(), args[0], "", rootOpts.Config.Principal, args[1]); err != nil {
				return fail("failed to add comment", err)
			}
			return s.changed(cmd, args[0], "commented")
		},
	}
}

func newTaskSavePriorityCommand(rootOpts *RootOptions) *cobra.Command {
	var version int
	cmd := &cobra.Command{
		Use:   "save-priority <task-id> <priority>",
		Short: "Save a new priority through a full task save",
		Long: `Load the task, change its priority and save it back.

With --version the save is made as if the task had been loaded at that
version, so a stale version fails with CONCURRENCY_CONFLICT.`,
		Example: `  taskq task save-priority t1 80
  taskq task save-priority t1 80 --version 3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, err := strconv.Atoi(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid priority", err)
			}

			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			ctx := cmd.Context()
			t, err := s.service.Task(ctx, args[0])
			if err != nil {
				return fail("failed to load task", err)
			}
			if version > 0 {
				t.Version = version
			}
			t.Priority = priority
			if err := s.service.SaveTask(ctx, t); err != nil {
				return fail("failed to save task", err)
			}
			return s.out.Success(ChangeResult{TaskID: t.ID, Action: "saved", Version: t.Version})
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "version the change is based on")
	return cmd
}

func newTaskCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	var vars []string
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Complete a task, storing --var values in its process instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(vars)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid variables", err)
			}

			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.close()

			if err := s.service.Complete(cmd.Context(), args[0], params); err != nil {
				return fail("failed to complete task", err)
			}
			return s.changed(cmd, args[0], "completed")
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable (name=value), repeatable")
	return cmd
}
