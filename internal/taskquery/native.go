package taskquery

import (
	"context"
	"maps"
	"regexp"
	"strings"

	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskerr"
)

// NativeExecutor runs raw statements with named parameters.
type NativeExecutor interface {
	NativeCount(ctx context.Context, statement string, params map[string]any) (int64, error)
	NativeList(ctx context.Context, statement string, params map[string]any, page *Page) ([]model.Task, error)
}

// NativeQuery is the escape hatch for statements the builder cannot
// express. Parameters are referenced as #{name}.
type NativeQuery struct {
	executor  NativeExecutor
	statement string
	params    map[string]any
	err       error
}

// NewNative creates a native query bound to exec.
func NewNative(exec NativeExecutor) *NativeQuery {
	return &NativeQuery{executor: exec, params: make(map[string]any)}
}

// SQL sets the statement text.
func (n *NativeQuery) SQL(statement string) *NativeQuery {
	if strings.TrimSpace(statement) == "" {
		n.err = taskerr.NullValue("sql statement")
		return n
	}
	n.statement = statement
	return n
}

// Parameter binds a named parameter.
func (n *NativeQuery) Parameter(name string, v any) *NativeQuery {
	if name == "" {
		n.err = taskerr.NullValue("parameter name")
		return n
	}
	n.params[name] = v
	return n
}

func (n *NativeQuery) check() error {
	if n.err != nil {
		return n.err
	}
	if n.statement == "" {
		return taskerr.NullValue("sql statement")
	}
	if n.executor == nil {
		return taskerr.InvalidUsage("native query is not bound to an executor")
	}
	return nil
}

// Count returns the number of rows the statement selects.
func (n *NativeQuery) Count(ctx context.Context) (int64, error) {
	if err := n.check(); err != nil {
		return 0, err
	}
	return n.executor.NativeCount(ctx, n.statement, maps.Clone(n.params))
}

// List returns every task the statement selects.
func (n *NativeQuery) List(ctx context.Context) ([]model.Task, error) {
	if err := n.check(); err != nil {
		return nil, err
	}
	return n.executor.NativeList(ctx, n.statement, maps.Clone(n.params), nil)
}

// ListPage returns a window of the tasks the statement selects.
func (n *NativeQuery) ListPage(ctx context.Context, first, maxResults int) ([]model.Task, error) {
	if err := n.check(); err != nil {
		return nil, err
	}
	if first < 0 || maxResults < 0 {
		return nil, taskerr.InvalidUsage("page window must not be negative (first=%d, max=%d)", first, maxResults)
	}
	return n.executor.NativeList(ctx, n.statement, maps.Clone(n.params), &Page{First: first, Max: maxResults})
}

// SingleResult returns the only selected task, or nil if none.
func (n *NativeQuery) SingleResult(ctx context.Context) (*model.Task, error) {
	if err := n.check(); err != nil {
		return nil, err
	}
	tasks, err := n.executor.NativeList(ctx, n.statement, maps.Clone(n.params), &Page{First: 0, Max: 2})
	if err != nil {
		return nil, err
	}
	switch len(tasks) {
	case 0:
		return nil, nil
	case 1:
		return &tasks[0], nil
	}
	return nil, taskerr.AmbiguousResult("native query returned more than one task")
}

var namedParam = regexp.MustCompile(`#\{\s*([A-Za-z_][A-Za-z0-9_.]*)\s*\}`)

// BindNamed rewrites #{name} references to positional ? placeholders and
// returns the arguments in order. A referenced name missing from params is
// a null value error.
func BindNamed(statement string, params map[string]any) (string, []any, error) {
	var (
		args    []any
		missing string
	)
	out := namedParam.ReplaceAllStringFunc(statement, func(m string) string {
		name := namedParam.FindStringSubmatch(m)[1]
		v, ok := params[name]
		if !ok && missing == "" {
			missing = name
		}
		args = append(args, v)
		return "?"
	})
	if missing != "" {
		return "", nil, taskerr.NullValue("parameter " + missing)
	}
	return out, args, nil
}
