package value

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Wire is the serialized form of a Value used by saved filters and seed
// datasets (JSON and YAML).
//
// When Type is empty the kind is inferred from the raw value: strings become
// String, integral numbers Long, other numbers Double, booleans Boolean and
// a missing value Null.
type Wire struct {
	Type     Kind   `json:"type,omitempty" yaml:"type,omitempty"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
	TypeName string `json:"typeName,omitempty" yaml:"typeName,omitempty"`
	MimeType string `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
	Items    []Wire `json:"items,omitempty" yaml:"items,omitempty"`
}

// ToWire converts v to its serialized form.
func ToWire(v Value) Wire {
	switch x := v.(type) {
	case nil, Null:
		return Wire{Type: KindNull}
	case String:
		return Wire{Type: KindString, Value: string(x)}
	case Short:
		return Wire{Type: KindShort, Value: int64(x)}
	case Integer:
		return Wire{Type: KindInteger, Value: int64(x)}
	case Long:
		return Wire{Type: KindLong, Value: int64(x)}
	case Double:
		return Wire{Type: KindDouble, Value: float64(x)}
	case Boolean:
		return Wire{Type: KindBoolean, Value: bool(x)}
	case Date:
		return Wire{Type: KindDate, Value: x.Time().UTC().Format(time.RFC3339Nano)}
	case Bytes:
		return Wire{Type: KindBytes, Value: base64.StdEncoding.EncodeToString(x)}
	case Object:
		return Wire{Type: KindObject, TypeName: x.TypeName, Value: base64.StdEncoding.EncodeToString(x.Data)}
	case File:
		return Wire{Type: KindFile, TypeName: x.Name, MimeType: x.MimeType, Value: base64.StdEncoding.EncodeToString(x.Data)}
	case List:
		items := make([]Wire, len(x))
		for i, e := range x {
			items[i] = ToWire(e)
		}
		return Wire{Type: KindList, Items: items}
	}
	return Wire{}
}

// FromWire converts a serialized value back into a Value.
func FromWire(w Wire) (Value, error) {
	kind := w.Type
	if kind == "" {
		kind = inferKind(w.Value)
	}

	switch kind {
	case KindNull:
		return Null{}, nil
	case KindString:
		s, ok := w.Value.(string)
		if !ok {
			return nil, fmt.Errorf("string value: got %T", w.Value)
		}
		return String(s), nil
	case KindShort:
		n, err := toInt64(w.Value)
		if err != nil || n < math.MinInt16 || n > math.MaxInt16 {
			return nil, fmt.Errorf("short value %v out of range", w.Value)
		}
		return Short(n), nil
	case KindInteger:
		n, err := toInt64(w.Value)
		if err != nil || n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("integer value %v out of range", w.Value)
		}
		return Integer(n), nil
	case KindLong:
		n, err := toInt64(w.Value)
		if err != nil {
			return nil, fmt.Errorf("long value: %w", err)
		}
		return Long(n), nil
	case KindDouble:
		f, err := toFloat64(w.Value)
		if err != nil {
			return nil, fmt.Errorf("double value: %w", err)
		}
		return Double(f), nil
	case KindBoolean:
		b, ok := w.Value.(bool)
		if !ok {
			return nil, fmt.Errorf("boolean value: got %T", w.Value)
		}
		return Boolean(b), nil
	case KindDate:
		return dateFromAny(w.Value)
	case KindBytes, KindObject, KindFile:
		var data []byte
		if s, ok := w.Value.(string); ok {
			d, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("%s value: %w", kind, err)
			}
			data = d
		}
		switch kind {
		case KindObject:
			return Object{TypeName: w.TypeName, Data: data}, nil
		case KindFile:
			return File{Name: w.TypeName, MimeType: w.MimeType, Data: data}, nil
		}
		return Bytes(data), nil
	case KindList:
		l := make(List, 0, len(w.Items))
		for _, item := range w.Items {
			v, err := FromWire(item)
			if err != nil {
				return nil, err
			}
			l = append(l, v)
		}
		return l, nil
	}
	return nil, fmt.Errorf("unknown value kind %q", kind)
}

// MarshalJSON encodes a Value through its Wire form.
func MarshalJSON(v Value) ([]byte, error) {
	return json.Marshal(ToWire(v))
}

// UnmarshalJSON decodes a Value from its Wire form.
func UnmarshalJSON(data []byte) (Value, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return FromWire(w)
}

func inferKind(raw any) Kind {
	switch x := raw.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case bool:
		return KindBoolean
	case time.Time:
		return KindDate
	case int, int64, uint64:
		return KindLong
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < twoTo63 {
			return KindLong
		}
		return KindDouble
	}
	return ""
}

func toInt64(raw any) (int64, error) {
	switch x := raw.(type) {
	case int:
		return int64(x), nil
	case int64:
		return x, nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", x)
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) || x < -twoTo63 || x >= twoTo63 {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	case json.Number:
		return x.Int64()
	}
	return 0, fmt.Errorf("expected integer, got %T", raw)
}

func toFloat64(raw any) (float64, error) {
	switch x := raw.(type) {
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case float64:
		return x, nil
	case json.Number:
		return x.Float64()
	}
	return 0, fmt.Errorf("expected number, got %T", raw)
}

func dateFromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case time.Time:
		return DateOf(x), nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, x)
		if err != nil {
			return nil, fmt.Errorf("date value: %w", err)
		}
		return DateOf(t), nil
	}
	ms, err := toInt64(raw)
	if err != nil {
		return nil, fmt.Errorf("date value: %w", err)
	}
	return DateFromMillis(ms), nil
}

// DateFrom interprets an expression or wire result as a date: a Date, an
// RFC 3339 string, or Unix milliseconds.
func DateFrom(v Value) (Date, error) {
	switch x := v.(type) {
	case Date:
		return x, nil
	case String:
		d, err := dateFromAny(string(x))
		if err != nil {
			return Date{}, err
		}
		return d.(Date), nil
	}
	if n, ok := NumberOf(v); ok {
		if ms, exact := n.Exact(); exact {
			return DateFromMillis(ms), nil
		}
	}
	kind := KindNull
	if v != nil {
		kind = v.Kind()
	}
	return Date{}, fmt.Errorf("cannot use %s as a date", kind)
}
