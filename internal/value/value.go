// Package value holds typed variable values and the rules for comparing them.
package value

import (
	"fmt"
	"strings"
	"time"
)

// Value is a sealed interface over the typed values a criterion or a
// variable can carry. Only the types in this package implement it, so a
// type switch over Kind() is exhaustive.
type Value interface {
	Kind() Kind
	value() // Sealed
}

// Kind names the type of a Value.
type Kind string

const (
	KindNull    Kind = "null"
	KindString  Kind = "string"
	KindShort   Kind = "short"
	KindInteger Kind = "integer"
	KindLong    Kind = "long"
	KindDouble  Kind = "double"
	KindBoolean Kind = "boolean"
	KindDate    Kind = "date"
	KindBytes   Kind = "bytes"
	KindObject  Kind = "object"
	KindFile    Kind = "file"
	KindList    Kind = "list"
)

// Kinds lists every storable kind. List is excluded because it only
// appears as the result of an expression.
var Kinds = []Kind{
	KindNull, KindString, KindShort, KindInteger, KindLong, KindDouble,
	KindBoolean, KindDate, KindBytes, KindObject, KindFile,
}

// ParseKind returns the Kind named by s, ignoring case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindNull, KindString, KindShort, KindInteger, KindLong, KindDouble,
		KindBoolean, KindDate, KindBytes, KindObject, KindFile, KindList:
		return k, nil
	}
	return "", fmt.Errorf("unknown value kind %q", s)
}

// Numeric reports whether the kind belongs to the number family.
func (k Kind) Numeric() bool {
	switch k {
	case KindShort, KindInteger, KindLong, KindDouble:
		return true
	}
	return false
}

// Comparable reports whether values of the kind support equality.
func (k Kind) Comparable() bool {
	switch k {
	case KindBytes, KindObject, KindFile, KindList:
		return false
	}
	return k != ""
}

// Orderable reports whether values of the kind support <, <=, >, >= and
// can be used as an ordering key.
func (k Kind) Orderable() bool {
	return k == KindString || k == KindDate || k.Numeric()
}

// Matchable reports whether values of the kind support LIKE patterns.
func (k Kind) Matchable() bool {
	return k == KindString
}

// Family groups kinds whose values can be compared with each other.
// All numeric kinds share the "number" family.
func (k Kind) Family() string {
	if k.Numeric() {
		return "number"
	}
	return string(k)
}

type Null struct{}

func (Null) Kind() Kind { return KindNull }
func (Null) value()     {}

type String string

func (String) Kind() Kind { return KindString }
func (String) value()     {}

type Short int16

func (Short) Kind() Kind { return KindShort }
func (Short) value()     {}

type Integer int32

func (Integer) Kind() Kind { return KindInteger }
func (Integer) value()     {}

type Long int64

func (Long) Kind() Kind { return KindLong }
func (Long) value()     {}

type Double float64

func (Double) Kind() Kind { return KindDouble }
func (Double) value()     {}

type Boolean bool

func (Boolean) Kind() Kind { return KindBoolean }
func (Boolean) value()     {}

// Date is a point in time. Comparisons use millisecond precision.
type Date time.Time

func (Date) Kind() Kind { return KindDate }
func (Date) value()     {}

// Time returns the underlying time.
func (d Date) Time() time.Time { return time.Time(d) }

// Millis returns the Unix time in milliseconds.
func (d Date) Millis() int64 { return time.Time(d).UnixMilli() }

type Bytes []byte

func (Bytes) Kind() Kind { return KindBytes }
func (Bytes) value()     {}

// Object is an opaque serialized value. TypeName identifies the
// serialization format and the original type.
type Object struct {
	TypeName string
	Data     []byte
}

func (Object) Kind() Kind { return KindObject }
func (Object) value()     {}

// File is a file reference stored as a variable.
type File struct {
	Name     string
	MimeType string
	Data     []byte
}

func (File) Kind() Kind { return KindFile }
func (File) value()     {}

// List holds multiple values. Expressions produce it for set-valued
// criteria such as candidate-group-in.
type List []Value

func (List) Kind() Kind { return KindList }
func (List) value()     {}

// DateOf builds a Date truncated to milliseconds in UTC.
func DateOf(t time.Time) Date {
	return Date(time.UnixMilli(t.UnixMilli()).UTC())
}

// DateFromMillis builds a Date from Unix milliseconds.
func DateFromMillis(ms int64) Date {
	return Date(time.UnixMilli(ms).UTC())
}

// Strings builds a List of String values.
func Strings(ss ...string) List {
	l := make(List, len(ss))
	for i, s := range ss {
		l[i] = String(s)
	}
	return l
}

// Of converts a native Go value into a Value.
func Of(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case int16:
		return Short(x), nil
	case int32:
		return Integer(x), nil
	case int:
		return Long(int64(x)), nil
	case int64:
		return Long(x), nil
	case float32:
		return Double(float64(x)), nil
	case float64:
		return Double(x), nil
	case bool:
		return Boolean(x), nil
	case time.Time:
		return DateOf(x), nil
	case []byte:
		return Bytes(x), nil
	case []string:
		return Strings(x...), nil
	case []any:
		l := make(List, 0, len(x))
		for _, e := range x {
			ev, err := Of(e)
			if err != nil {
				return nil, err
			}
			l = append(l, ev)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// Format renders a value for logs and CLI output.
func Format(v Value) string {
	switch x := v.(type) {
	case nil, Null:
		return "null"
	case String:
		return string(x)
	case Short:
		return fmt.Sprintf("%d", x)
	case Integer:
		return fmt.Sprintf("%d", x)
	case Long:
		return fmt.Sprintf("%d", x)
	case Double:
		return fmt.Sprintf("%g", float64(x))
	case Boolean:
		return fmt.Sprintf("%t", bool(x))
	case Date:
		return x.Time().UTC().Format(time.RFC3339Nano)
	case Bytes:
		return fmt.Sprintf("bytes[%d]", len(x))
	case Object:
		return fmt.Sprintf("object<%s>", x.TypeName)
	case File:
		return fmt.Sprintf("file<%s>", x.Name)
	case List:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Format(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return fmt.Sprintf("%v", v)
}
