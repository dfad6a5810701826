package value

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFromWire_InfersKind(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want Value
	}{
		{"nil", nil, Null{}},
		{"string", "kermit", String("kermit")},
		{"int", 100, Long(100)},
		{"integral float from json", float64(100), Long(100)},
		{"fraction", 42.4, Double(42.4)},
		{"bool", false, Boolean(false)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromWire(Wire{Value: tt.raw})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromWire_DeclaredKinds(t *testing.T) {
	v, err := FromWire(Wire{Type: KindShort, Value: 12})
	require.NoError(t, err)
	assert.Equal(t, Short(12), v)

	_, err = FromWire(Wire{Type: KindShort, Value: 70000})
	assert.Error(t, err)

	v, err = FromWire(Wire{Type: KindDouble, Value: 3})
	require.NoError(t, err)
	assert.Equal(t, Double(3), v)

	v, err = FromWire(Wire{Type: KindDate, Value: "2024-01-02T03:04:05Z"})
	require.NoError(t, err)
	assert.Equal(t, DateOf(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)), v)

	v, err = FromWire(Wire{Type: KindDate, Value: int64(1000)})
	require.NoError(t, err)
	assert.Equal(t, DateFromMillis(1000), v)

	_, err = FromWire(Wire{Type: "decimal", Value: 1})
	assert.Error(t, err)
}

func TestWire_YAMLDocument(t *testing.T) {
	doc := `
- {type: long, value: 123}
- {value: fozzie}
- {type: bytes, value: aGVsbG8=}
- {type: list, items: [{value: a}, {value: b}]}
`
	var wires []Wire
	require.NoError(t, yaml.Unmarshal([]byte(doc), &wires))
	require.Len(t, wires, 4)

	var got []Value
	for _, w := range wires {
		v, err := FromWire(w)
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []Value{Long(123), String("fozzie"), Bytes("hello"), Strings("a", "b")}, got)
}

func TestJSON_PreservesKind(t *testing.T) {
	for _, v := range []Value{Short(7), Integer(7), Long(7), Double(7), Boolean(true), String("x"), Null{}} {
		data, err := MarshalJSON(v)
		require.NoError(t, err)
		back, err := UnmarshalJSON(data)
		require.NoError(t, err)
		assert.Equal(t, v, back, "json %s", data)
	}
}

func TestDateFrom(t *testing.T) {
	d, err := DateFrom(String("2024-05-06T07:08:09Z"))
	require.NoError(t, err)
	assert.Equal(t, int64(1714979289000), d.Millis())

	d, err = DateFrom(Long(5000))
	require.NoError(t, err)
	assert.Equal(t, int64(5000), d.Millis())

	_, err = DateFrom(Boolean(true))
	assert.Error(t, err)
}
