package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/taskq/internal/expr"
	"github.com/roach88/taskq/internal/filter"
	"github.com/roach88/taskq/internal/memory"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskquery"
)

// queryFlags selects a saved filter and narrows it with ad-hoc criteria.
type queryFlags struct {
	FilterFile      string
	FilterName      string
	Assignee        string
	CandidateUser   string
	CandidateGroup  string
	NameLike        string
	IncludeAssigned bool
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.FilterFile, "filter", "", "saved filter file (defaults to the configured filters)")
	cmd.Flags().StringVar(&f.FilterName, "name", "", "filter to use when the file holds several")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "only tasks assigned to this user")
	cmd.Flags().StringVar(&f.CandidateUser, "candidate-user", "", "only tasks this user is a candidate for")
	cmd.Flags().StringVar(&f.CandidateGroup, "candidate-group", "", "only tasks this group is a candidate for")
	cmd.Flags().StringVar(&f.NameLike, "name-like", "", "task name pattern (% and _ wildcards)")
	cmd.Flags().BoolVar(&f.IncludeAssigned, "include-assigned", false, "keep assigned tasks in candidate matches")
}

// build replays the selected filter into q, then narrows it with the flag
// criteria.
func (f *queryFlags) build(q *taskquery.Query, defaultFile string) (*taskquery.Query, error) {
	path := f.FilterFile
	if path == "" {
		path = defaultFile
	}
	if path != "" {
		saved, err := f.selectFilter(path)
		if err != nil {
			return nil, err
		}
		if q, err = saved.Apply(q); err != nil {
			return nil, fail(fmt.Sprintf("filter %s", saved.Name), err)
		}
	} else if f.FilterName != "" {
		return nil, NewExitError(ExitCommandError, "--name needs a filter file")
	}

	ext := taskquery.New(nil)
	if f.Assignee != "" {
		ext = ext.TaskAssignee(f.Assignee)
	}
	if f.CandidateUser != "" {
		ext = ext.TaskCandidateUser(f.CandidateUser)
	}
	if f.CandidateGroup != "" {
		ext = ext.TaskCandidateGroup(f.CandidateGroup)
	}
	if f.NameLike != "" {
		ext = ext.TaskNameLike(f.NameLike)
	}
	q = q.Extend(ext)
	// Applied last so candidate criteria from either side are in place.
	if f.IncludeAssigned {
		q = q.IncludeAssignedTasks()
	}
	if err := q.Err(); err != nil {
		return nil, fail("invalid query", err)
	}
	return q, nil
}

func (f *queryFlags) selectFilter(path string) (*filter.Filter, error) {
	filters, err := filter.LoadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load filters", err)
	}
	if f.FilterName == "" {
		if len(filters) != 1 {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("%s holds %d filters; choose one with --name", path, len(filters)))
		}
		return &filters[0], nil
	}
	saved, err := filter.Find(filters, f.FilterName)
	if err != nil {
		return nil, fail("failed to select filter", err)
	}
	return saved, nil
}

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	queryFlags
	Count      bool
	First      int
	Max        int
	Crosscheck bool
}

// CountResult is the output of a count.
type CountResult struct {
	Count int64 `json:"count"`
}

func (r CountResult) String() string {
	return fmt.Sprintf("%d", r.Count)
}

// CrosscheckError reports a query whose in-memory answer differs from the
// database's.
type CrosscheckError struct {
	Store  []string `json:"store"`
	Memory []string `json:"memory"`
}

func (e *CrosscheckError) Error() string {
	return fmt.Sprintf("store returned %v, in-memory evaluation returned %v", e.Store, e.Memory)
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run a task query",
		Long: `Run a task query built from a saved filter and/or flags.

Expressions in the filter (${currentUser}, ${currentUserGroups}, ...) are
evaluated for --user at the time of the run.

With --crosscheck the query is also evaluated in memory over a snapshot of
the database and the command fails if the two answers differ.

Exit codes:
  0 - Query ran (and crosscheck agreed)
  1 - Query rejected or crosscheck diverged
  2 - Command error

Examples:
  taskq query --user kermit --filter filters.yaml --name management-queue
  taskq query --candidate-group management --count
  taskq query --name-like '%invoice%' --first 0 --max 10 --crosscheck`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts)
		},
	}

	opts.queryFlags.register(cmd)
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print the number of matches only")
	cmd.Flags().IntVar(&opts.First, "first", 0, "index of the first result")
	cmd.Flags().IntVar(&opts.Max, "max", 0, "maximum number of results (0 means all)")
	cmd.Flags().BoolVar(&opts.Crosscheck, "crosscheck", false, "compare with in-memory evaluation")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *QueryOptions) error {
	ctx := cmd.Context()
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close()

	ec, err := s.evalContext(ctx, opts.Config.Principal)
	if err != nil {
		return err
	}
	q, err := opts.build(s.service.CreateTaskQuery(), opts.Config.Filters)
	if err != nil {
		return err
	}

	if opts.Count {
		n, err := q.Count(ctx, ec)
		if err != nil {
			return fail("count failed", err)
		}
		if opts.Crosscheck {
			if err := crosscheckCount(ctx, s, opts, ec, n); err != nil {
				return err
			}
		}
		return s.out.Success(CountResult{Count: n})
	}

	var tasks []model.Task
	if opts.Crosscheck {
		tasks, err = crosscheckList(ctx, s, opts, q, ec)
	} else {
		tasks, err = opts.run(ctx, q, ec)
	}
	if err != nil {
		return fail("query failed", err)
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	return s.out.Success(taskList(tasks))
}

func (opts *QueryOptions) run(ctx context.Context, q *taskquery.Query, ec expr.Context) ([]model.Task, error) {
	if opts.Max > 0 || opts.First > 0 {
		maxResults := opts.Max
		if maxResults == 0 {
			maxResults = int(^uint(0) >> 1)
		}
		return q.ListPage(ctx, ec, opts.First, maxResults)
	}
	return q.List(ctx, ec)
}

// memoryQuery builds the same query over an in-memory snapshot.
func memoryQuery(ctx context.Context, s *session, opts *QueryOptions) (*taskquery.Query, error) {
	ds, err := s.store.Snapshot(ctx)
	if err != nil {
		return nil, fail("failed to snapshot database", err)
	}
	q := taskquery.New(memory.New(ds, memory.WithLogger(s.logger)),
		taskquery.WithEvaluator(expr.NewCUEEvaluator()),
		taskquery.WithGroupResolver(s.groups),
		taskquery.WithLogger(s.logger),
	)
	return opts.build(q, opts.Config.Filters)
}

// crosscheckList runs q and its in-memory twin concurrently and returns
// q's answer when both agree.
func crosscheckList(ctx context.Context, s *session, opts *QueryOptions, q *taskquery.Query, ec expr.Context) ([]model.Task, error) {
	mq, err := memoryQuery(ctx, s, opts)
	if err != nil {
		return nil, err
	}

	var fromStore, fromMemory []model.Task
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		fromStore, err = opts.run(gctx, q, ec)
		return err
	})
	g.Go(func() error {
		var err error
		fromMemory, err = opts.run(gctx, mq, ec)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	storeIDs, memoryIDs := taskIDs(fromStore), taskIDs(fromMemory)
	if !slices.Equal(storeIDs, memoryIDs) {
		return nil, WrapExitError(ExitFailure, "crosscheck diverged", &CrosscheckError{Store: storeIDs, Memory: memoryIDs})
	}
	s.logger.Debug("crosscheck agreed", "tasks", len(storeIDs))
	return fromStore, nil
}

func crosscheckCount(ctx context.Context, s *session, opts *QueryOptions, ec expr.Context, got int64) error {
	mq, err := memoryQuery(ctx, s, opts)
	if err != nil {
		return err
	}
	n, err := mq.Count(ctx, ec)
	if err != nil {
		return fail("crosscheck failed", err)
	}
	if n != got {
		return NewExitError(ExitFailure, fmt.Sprintf("crosscheck diverged: store counted %d, in-memory evaluation counted %d", got, n))
	}
	return nil
}

func taskIDs(tasks []model.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
