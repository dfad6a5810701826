package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/taskq/internal/model"
)

// NativeOptions holds flags for the native command.
type NativeOptions struct {
	*RootOptions
	Params []string
	Count  bool
	First  int
	Max    int
}

// NewNativeCommand creates the native command.
func NewNativeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NativeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "native <sql>",
		Short: "Run a raw SQL task query",
		Long: `Run a SELECT over the tasks table. #{name} placeholders are bound from
--param name=value; integer values are passed as integers.

Examples:
  taskq native "SELECT * FROM tasks WHERE priority >= #{min}" --param min=50
  taskq native "SELECT * FROM tasks WHERE assignee IS NULL" --count`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNative(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringArrayVar(&opts.Params, "param", nil, "named parameter (name=value), repeatable")
	cmd.Flags().BoolVar(&opts.Count, "count", false, "print the number of selected rows only")
	cmd.Flags().IntVar(&opts.First, "first", 0, "index of the first result")
	cmd.Flags().IntVar(&opts.Max, "max", 0, "maximum number of results (0 means all)")

	return cmd
}

// parseParams splits name=value pairs.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, val, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q is not name=value", p)
		}
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			params[name] = n
			continue
		}
		params[name] = val
	}
	return params, nil
}

func runNative(cmd *cobra.Command, opts *NativeOptions, statement string) error {
	ctx := cmd.Context()
	params, err := parseParams(opts.Params)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid parameters", err)
	}

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close()

	nq := s.service.CreateNativeTaskQuery().SQL(statement)
	for name, v := range params {
		nq = nq.Parameter(name, v)
	}

	if opts.Count {
		n, err := nq.Count(ctx)
		if err != nil {
			return fail("native count failed", err)
		}
		return s.out.Success(CountResult{Count: n})
	}

	var tasks []model.Task
	if opts.Max > 0 || opts.First > 0 {
		maxResults := opts.Max
		if maxResults == 0 {
			maxResults = int(^uint(0) >> 1)
		}
		tasks, err = nq.ListPage(ctx, opts.First, maxResults)
	} else {
		tasks, err = nq.List(ctx)
	}
	if err != nil {
		return fail("native query failed", err)
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	return s.out.Success(taskList(tasks))
}
