// Package expr evaluates the deferred expressions used by query criteria.
//
// An expression is text such as "${currentUser}" that is evaluated on every
// query execution against an explicit Context. The Evaluator interface is
// the only contract the query layer depends on; CUE is the bundled
// implementation.
package expr

import (
	"strings"
	"time"

	"github.com/roach88/taskq/internal/value"
)

// Context is the runtime state an expression can read.
type Context struct {
	// Now is the evaluation instant.
	Now time.Time

	// Principal is the authenticated user, or "" when anonymous.
	Principal string

	// PrincipalGroups are the groups of Principal.
	PrincipalGroups []string
}

// Evaluator turns expression text into a value.
//
// Implementations must be safe for concurrent use.
type Evaluator interface {
	Evaluate(text string, ec Context) (value.Value, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(text string, ec Context) (value.Value, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(text string, ec Context) (value.Value, error) {
	return f(text, ec)
}

// Body strips the ${...} or #{...} delimiters from text.
func Body(text string) string {
	t := strings.TrimSpace(text)
	if (strings.HasPrefix(t, "${") || strings.HasPrefix(t, "#{")) && strings.HasSuffix(t, "}") {
		return strings.TrimSpace(t[2 : len(t)-1])
	}
	return t
}
