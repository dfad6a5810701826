package expr

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/taskq/internal/value"
)

// CUEEvaluator evaluates expression bodies as CUE expressions.
//
// The body can reference:
//
//	currentUser        string, "" when anonymous
//	currentUserGroups  [...string]
//	now                RFC 3339 timestamp string
//	nowMillis          Unix milliseconds, for date arithmetic
//
// Examples: "${currentUser}", "${currentUserGroups}",
// "${nowMillis - 86400000}", "#{\"team-\" + currentUser}".
//
// Thread-safety: a cue.Context is not safe for concurrent use, so
// evaluation is serialized.
type CUEEvaluator struct {
	mu  sync.Mutex
	ctx *cue.Context
}

// NewCUEEvaluator creates an evaluator with its own CUE runtime.
func NewCUEEvaluator() *CUEEvaluator {
	return &CUEEvaluator{ctx: cuecontext.New()}
}

// Evaluate compiles the body of text in a scope built from ec.
func (e *CUEEvaluator) Evaluate(text string, ec Context) (value.Value, error) {
	body := Body(text)
	if body == "" {
		return nil, fmt.Errorf("empty expression")
	}

	src, err := source(body, ec)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	root := e.ctx.CompileString(src)
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	result := root.LookupPath(cue.ParsePath("result"))
	if err := result.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("evaluate expression: %w", err)
	}
	return convert(result)
}

func source(body string, ec Context) (string, error) {
	groups := ec.PrincipalGroups
	if groups == nil {
		groups = []string{}
	}
	user, err := json.Marshal(ec.Principal)
	if err != nil {
		return "", err
	}
	grp, err := json.Marshal(groups)
	if err != nil {
		return "", err
	}

	now := ec.Now.UTC()
	var b strings.Builder
	fmt.Fprintf(&b, "currentUser: %s\n", user)
	fmt.Fprintf(&b, "currentUserGroups: %s\n", grp)
	fmt.Fprintf(&b, "now: %q\n", now.Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "nowMillis: %d\n", now.UnixMilli())
	fmt.Fprintf(&b, "result: (%s)\n", body)
	return b.String(), nil
}

func convert(v cue.Value) (value.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return value.Null{}, nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, err
		}
		return value.Boolean(b), nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, err
		}
		return value.String(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, err
		}
		return value.Long(n), nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return value.Double(f), nil
	case cue.ListKind:
		it, err := v.List()
		if err != nil {
			return nil, err
		}
		var out value.List
		for it.Next() {
			elem, err := convert(it.Value())
			if err != nil {
				return nil, err
			}
			out = append(out, elem)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported expression result kind %s", v.Kind())
}
