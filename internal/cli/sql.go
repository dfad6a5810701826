package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/taskq/internal/querysql"
)

// SQLOptions holds flags for the sql command.
type SQLOptions struct {
	*RootOptions
	queryFlags
	Count bool
}

// SQLResult is a compiled statement.
type SQLResult struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

func (r SQLResult) String() string {
	var b strings.Builder
	b.WriteString(r.SQL)
	for i, p := range r.Params {
		fmt.Fprintf(&b, "\n  $%d = %#v", i+1, p)
	}
	return b.String()
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SQLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sql",
		Short: "Print the SQL a task query compiles to",
		Long: `Resolve a task query for --user and print the statement and parameters
the database would run. Nothing is executed.

Examples:
  taskq sql --user kermit --filter filters.yaml --name management-queue
  taskq sql --candidate-group management --count`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSQL(cmd, opts)
		},
	}

	opts.queryFlags.register(cmd)
	cmd.Flags().BoolVar(&opts.Count, "count", false, "compile the count statement")

	return cmd
}

func runSQL(cmd *cobra.Command, opts *SQLOptions) error {
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
	r, err := q.Resolve(ctx, ec)
	if err != nil {
		return fail("failed to resolve query", err)
	}

	compiler := querysql.NewSQLCompiler()
	var res SQLResult
	if opts.Count {
		res.SQL, res.Params, err = compiler.CompileCount(r)
	} else {
		res.SQL, res.Params, err = compiler.CompileList(r)
	}
	if err != nil {
		return fail("failed to compile query", err)
	}
	if res.Params == nil {
		res.Params = []any{}
	}
	return s.out.Success(res)
}
