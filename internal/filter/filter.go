// Package filter stores task queries as named documents.
//
// A filter is YAML (or JSON, which YAML accepts) describing the criteria,
// OR-groups, ordering and switches of a task query. Applying a filter
// replays the document through the query builder, so a saved filter is
// validated exactly like a hand-built query and its expressions are
// evaluated again on every run.
package filter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskerr"
	"github.com/roach88/taskq/internal/taskquery"
	"github.com/roach88/taskq/internal/value"
)

// Filter is a saved task query.
type Filter struct {
	Name       string         `yaml:"name" json:"name"`
	Owner      string         `yaml:"owner,omitempty" json:"owner,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty" json:"properties,omitempty"`
	Query      Query          `yaml:"query" json:"query"`
}

// Query is the serialized form of a taskquery.Query.
type Query struct {
	Criteria  []Criterion   `yaml:"criteria,omitempty" json:"criteria,omitempty"`
	Or        [][]Criterion `yaml:"or,omitempty" json:"or,omitempty"`
	Variables []Variable    `yaml:"variables,omitempty" json:"variables,omitempty"`
	OrderBy   []Order       `yaml:"orderBy,omitempty" json:"orderBy,omitempty"`

	IncludeAssignedTasks     bool `yaml:"includeAssignedTasks,omitempty" json:"includeAssignedTasks,omitempty"`
	InitializeFormKeys       bool `yaml:"initializeFormKeys,omitempty" json:"initializeFormKeys,omitempty"`
	VariableNamesIgnoreCase  bool `yaml:"variableNamesIgnoreCase,omitempty" json:"variableNamesIgnoreCase,omitempty"`
	VariableValuesIgnoreCase bool `yaml:"variableValuesIgnoreCase,omitempty" json:"variableValuesIgnoreCase,omitempty"`
}

// Criterion is one condition on a task field.
//
// Exactly one operand form is used: Expression, Values (for in and
// not in), Value, or none for null checks. For variable fields Name holds
// the variable name and Value may be a typed value ({type, value}).
type Criterion struct {
	Field      string `yaml:"field" json:"field"`
	Name       string `yaml:"name,omitempty" json:"name,omitempty"`
	Op         string `yaml:"op" json:"op"`
	Value      any    `yaml:"value" json:"value"`
	Values     []any  `yaml:"values,omitempty" json:"values,omitempty"`
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// Variable is a top-level variable condition.
type Variable struct {
	Scope string     `yaml:"scope" json:"scope"`
	Name  string     `yaml:"name" json:"name"`
	Op    string     `yaml:"op" json:"op"`
	Value value.Wire `yaml:"value" json:"value"`
}

// Order is one ordering key.
type Order struct {
	Property  string         `yaml:"property" json:"property"`
	Direction string         `yaml:"direction" json:"direction"`
	Variable  *VariableOrder `yaml:"variable,omitempty" json:"variable,omitempty"`
}

// VariableOrder names the variable of a variable ordering key.
type VariableOrder struct {
	Scope string `yaml:"scope" json:"scope"`
	Name  string `yaml:"name" json:"name"`
	Type  string `yaml:"type" json:"type"`
}

// Decode reads every filter document from r. Documents are separated by
// "---".
func Decode(r io.Reader) ([]Filter, error) {
	dec := yaml.NewDecoder(r)
	var out []Filter
	for {
		var f Filter
		err := dec.Decode(&f)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode filter %d: %w", len(out)+1, err)
		}
		if f.Name == "" {
			return nil, fmt.Errorf("decode filter %d: name is required", len(out)+1)
		}
		out = append(out, f)
	}
	return out, nil
}

// Parse decodes a single filter document.
func Parse(data []byte) (*Filter, error) {
	filters, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if len(filters) != 1 {
		return nil, fmt.Errorf("expected one filter document, got %d", len(filters))
	}
	return &filters[0], nil
}

// LoadFile reads the filters in path.
func LoadFile(path string) ([]Filter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open filters: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Find returns the filter called name.
func Find(filters []Filter, name string) (*Filter, error) {
	for i := range filters {
		if filters[i].Name == name {
			return &filters[i], nil
		}
	}
	return nil, taskerr.NotFound("filter %q not found", name)
}

// Marshal encodes f as YAML with two-space indentation.
func Marshal(f *Filter) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("encode filter %s: %w", f.Name, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode filter %s: %w", f.Name, err)
	}
	return buf.Bytes(), nil
}

// Apply replays the filter's query into q. Conversion failures are
// returned directly; builder misuse is reported as q.Err() would.
func (f *Filter) Apply(q *taskquery.Query) (*taskquery.Query, error) {
	for _, c := range f.Query.Criteria {
		crit, err := c.criterion()
		if err != nil {
			return q, err
		}
		q = q.AddCriterion(crit)
	}
	for _, v := range f.Query.Variables {
		crit, err := v.criterion()
		if err != nil {
			return q, err
		}
		q = q.AddCriterion(crit)
	}
	for i, group := range f.Query.Or {
		q = q.Or()
		for _, c := range group {
			crit, err := c.criterion()
			if err != nil {
				return q, fmt.Errorf("or group %d: %w", i+1, err)
			}
			q = q.AddCriterion(crit)
		}
		q = q.EndOr()
	}

	// includeAssignedTasks needs the candidate criteria in place.
	if f.Query.IncludeAssignedTasks {
		q = q.IncludeAssignedTasks()
	}
	if f.Query.InitializeFormKeys {
		q = q.InitializeFormKeys()
	}
	if f.Query.VariableNamesIgnoreCase {
		q = q.MatchVariableNamesIgnoreCase()
	}
	if f.Query.VariableValuesIgnoreCase {
		q = q.MatchVariableValuesIgnoreCase()
	}

	for _, o := range f.Query.OrderBy {
		order, err := o.order()
		if err != nil {
			return q, err
		}
		q = q.OrderBy(order)
	}
	return q, q.Err()
}

// Extend applies the filter to base and extends the result with ext, the
// way a user narrows a saved filter for one run.
func (f *Filter) Extend(base, ext *taskquery.Query) (*taskquery.Query, error) {
	q, err := f.Apply(base)
	if err != nil {
		return q, err
	}
	q = q.Extend(ext)
	return q, q.Err()
}

func (o Order) order() (taskquery.Order, error) {
	prop, err := taskquery.ParseOrderProperty(o.Property)
	if err != nil {
		return taskquery.Order{}, taskerr.InvalidUsage("%v", err)
	}
	out := taskquery.Order{Property: prop, Direction: taskquery.Direction(o.Direction)}
	if o.Variable != nil {
		scope, err := model.ParseVariableScope(o.Variable.Scope)
		if err != nil {
			return taskquery.Order{}, taskerr.InvalidUsage("%v", err)
		}
		kind, err := value.ParseKind(o.Variable.Type)
		if err != nil {
			return taskquery.Order{}, taskerr.InvalidUsage("%v", err)
		}
		out.Variable = &taskquery.VariableOrder{Scope: scope, Name: o.Variable.Name, Kind: kind}
	}
	return out, nil
}
