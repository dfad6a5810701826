package filter

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/roach88/taskq/internal/criteria"
	"github.com/roach88/taskq/internal/model"
	"github.com/roach88/taskq/internal/taskerr"
	"github.com/roach88/taskq/internal/taskquery"
	"github.com/roach88/taskq/internal/value"
)

var variableFields = map[model.VariableScope]taskquery.Field{
	model.ScopeTask:    taskquery.FieldTaskVariable,
	model.ScopeProcess: taskquery.FieldProcessVariable,
	model.ScopeCase:    taskquery.FieldCaseInstanceVariable,
}

func (c Criterion) criterion() (criteria.Criterion[taskquery.Field], error) {
	var out criteria.Criterion[taskquery.Field]

	field, err := taskquery.ParseField(c.Field)
	if err != nil {
		return out, taskerr.InvalidUsage("%v", err)
	}
	op, err := criteria.ParseOperator(c.Op)
	if err != nil {
		return out, taskerr.InvalidUsage("field %s: %v", c.Field, err)
	}
	out = criteria.Criterion[taskquery.Field]{Field: field, Name: c.Name, Op: op}

	switch {
	case op.NullCheck():
		out.Operand = criteria.None{}
	case c.Expression != "":
		out.Operand = criteria.Expression{Text: c.Expression}
	case op.Membership():
		vals := make([]value.Value, 0, len(c.Values))
		for _, raw := range c.Values {
			v, err := literal(field, raw)
			if err != nil {
				return out, err
			}
			vals = append(vals, v)
		}
		out.Operand = criteria.Values{Values: vals}
	default:
		v, err := literal(field, c.Value)
		if err != nil {
			return out, err
		}
		out.Operand = criteria.Literal{Value: v}
	}
	return out, nil
}

func (v Variable) criterion() (criteria.Criterion[taskquery.Field], error) {
	var out criteria.Criterion[taskquery.Field]

	scope, err := model.ParseVariableScope(v.Scope)
	if err != nil {
		return out, taskerr.InvalidUsage("%v", err)
	}
	field, ok := variableFields[scope]
	if !ok {
		return out, taskerr.InvalidUsage("variables of scope %s cannot be filtered on", scope)
	}
	op, err := criteria.ParseOperator(v.Op)
	if err != nil {
		return out, taskerr.InvalidUsage("variable %s: %v", v.Name, err)
	}
	val, err := value.FromWire(v.Value)
	if err != nil {
		return out, taskerr.UnsupportedType("variable %s: %v", v.Name, err)
	}
	return criteria.Criterion[taskquery.Field]{
		Field:   field,
		Name:    v.Name,
		Op:      op,
		Operand: criteria.Literal{Value: val},
	}, nil
}

// literal converts a document value to the kind field holds. Variable
// fields take any value; a mapping is read as a typed value.
func literal(field taskquery.Field, raw any) (value.Value, error) {
	if _, isVar := field.VariableScope(); isVar {
		if m, ok := raw.(map[string]any); ok {
			var w value.Wire
			if err := mapstructure.Decode(m, &w); err != nil {
				return nil, taskerr.UnsupportedType("field %s: %v", field, err)
			}
			return value.FromWire(w)
		}
		v, err := value.Of(raw)
		if err != nil {
			return nil, taskerr.UnsupportedType("field %s: %v", field, err)
		}
		return v, nil
	}

	v, err := value.Of(raw)
	if err != nil {
		return nil, taskerr.UnsupportedType("field %s: %v", field, err)
	}
	if _, isNull := v.(value.Null); isNull {
		return v, nil
	}

	switch field.Kind() {
	case value.KindDate:
		d, err := value.DateFrom(v)
		if err != nil {
			return nil, taskerr.UnsupportedType("field %s: %v", field, err)
		}
		return d, nil
	case value.KindInteger:
		n, ok := value.NumberOf(v)
		if !ok {
			break
		}
		if i, exact := n.Exact(); exact {
			return value.Integer(i), nil
		}
	}
	return v, nil
}

// FromQuery captures q as a filter document. Only literal and expression
// criteria are captured; the query's page is not part of a filter.
func FromQuery(name, owner string, q *taskquery.Query) (*Filter, error) {
	if err := q.Err(); err != nil {
		return nil, err
	}
	f := &Filter{Name: name, Owner: owner}

	for _, c := range q.Criteria() {
		doc, err := document(c)
		if err != nil {
			return nil, err
		}
		f.Query.Criteria = append(f.Query.Criteria, doc)
	}
	for _, group := range q.OrGroups() {
		var docs []Criterion
		for _, c := range group {
			doc, err := document(c)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		f.Query.Or = append(f.Query.Or, docs)
	}
	for _, o := range q.Orders() {
		doc := Order{Property: string(o.Property), Direction: string(o.Direction)}
		if o.Variable != nil {
			doc.Variable = &VariableOrder{
				Scope: string(o.Variable.Scope),
				Name:  o.Variable.Name,
				Type:  string(o.Variable.Kind),
			}
		}
		f.Query.OrderBy = append(f.Query.OrderBy, doc)
	}

	t := q.Toggles()
	f.Query.IncludeAssignedTasks = t.IncludeAssignedTasks
	f.Query.InitializeFormKeys = t.InitializeFormKeys
	f.Query.VariableNamesIgnoreCase = t.VariableNamesIgnoreCase
	f.Query.VariableValuesIgnoreCase = t.VariableValuesIgnoreCase
	return f, nil
}

func document(c criteria.Criterion[taskquery.Field]) (Criterion, error) {
	doc := Criterion{Field: string(c.Field), Name: c.Name, Op: string(c.Op)}
	_, isVar := c.Field.VariableScope()

	switch o := c.Operand.(type) {
	case criteria.None:
	case criteria.Expression:
		doc.Expression = o.Text
	case criteria.Literal:
		doc.Value = raw(o.Value, isVar)
	case criteria.Values:
		for _, v := range o.Values {
			doc.Values = append(doc.Values, raw(v, false))
		}
	default:
		return doc, fmt.Errorf("field %s: unsupported operand %T", c.Field, c.Operand)
	}
	return doc, nil
}

// raw renders v for a document. Variable values keep their type so that a
// long stays a long after a round trip.
func raw(v value.Value, typed bool) any {
	w := value.ToWire(v)
	if !typed {
		return w.Value
	}
	out := map[string]any{"type": string(w.Type), "value": w.Value}
	if w.TypeName != "" {
		out["typeName"] = w.TypeName
	}
	if w.MimeType != "" {
		out["mimeType"] = w.MimeType
	}
	return out
}
