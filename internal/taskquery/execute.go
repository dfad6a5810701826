package taskquery

import (
	"context"
	"time"

	"github.com/roach88/taskq/internal/expr"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskerr"
)

// Executor runs resolved queries against a task store.
//
// Every execution method of Query makes exactly one Executor call.
// List must honor r.Orders with the task id as final ascending tie-break,
// and r.Page when set.
type Executor interface {
	Count(ctx context.Context, r *Resolved) (int64, error)
	List(ctx context.Context, r *Resolved) ([]model.Task, error)
}

func (q *Query) prepare(ctx context.Context, ec expr.Context, op string) (*Resolved, error) {
	r, err := q.Resolve(ctx, ec)
	if err != nil {
		return nil, err
	}
	if q.executor == nil {
		return nil, taskerr.InvalidUsage("query is not bound to an executor")
	}
	q.logger.Debug("executing task query",
		"op", op,
		"where", len(r.Where),
		"groups", len(r.Groups),
		"orders", len(r.Orders))
	return r, nil
}

// Count returns the number of matching tasks. Paging is ignored.
func (q *Query) Count(ctx context.Context, ec expr.Context) (int64, error) {
	r, err := q.prepare(ctx, ec, "count")
	if err != nil {
		return 0, err
	}
	r.Page = nil
	r.Orders = nil
	return q.executor.Count(ctx, r)
}

// List returns the matching tasks, restricted to the page set with Page.
func (q *Query) List(ctx context.Context, ec expr.Context) ([]model.Task, error) {
	r, err := q.prepare(ctx, ec, "list")
	if err != nil {
		return nil, err
	}
	return q.list(ctx, r)
}

// ListPage returns maxResults matching tasks starting at first.
func (q *Query) ListPage(ctx context.Context, ec expr.Context, first, maxResults int) ([]model.Task, error) {
	if q.err == nil && (first < 0 || maxResults < 0) {
		return nil, taskerr.InvalidUsage("page window must not be negative (first=%d, max=%d)", first, maxResults)
	}
	r, err := q.prepare(ctx, ec, "listPage")
	if err != nil {
		return nil, err
	}
	r.Page = &Page{First: first, Max: maxResults}
	return q.list(ctx, r)
}

// SingleResult returns the only matching task, nil if none matches, and an
// ambiguous result error if several do.
func (q *Query) SingleResult(ctx context.Context, ec expr.Context) (*model.Task, error) {
	r, err := q.prepare(ctx, ec, "singleResult")
	if err != nil {
		return nil, err
	}
	r.Page = &Page{First: 0, Max: 2}
	tasks, err := q.list(ctx, r)
	if err != nil {
		return nil, err
	}
	switch len(tasks) {
	case 0:
		return nil, nil
	case 1:
		return &tasks[0], nil
	}
	return nil, taskerr.AmbiguousResult("query returned more than one task")
}

func (q *Query) list(ctx context.Context, r *Resolved) ([]model.Task, error) {
	start := time.Now()
	tasks, err := q.executor.List(ctx, r)
	if err != nil {
		return nil, err
	}
	q.logger.Debug("task query done", "rows", len(tasks), "elapsed", time.Since(start))
	return tasks, nil
}
