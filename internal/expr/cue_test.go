package expr

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/taskq/internal/value"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestBody(t *testing.T) {
	assert.Equal(t, "currentUser", Body("${currentUser}"))
	assert.Equal(t, "currentUser", Body(" #{ currentUser } "))
	assert.Equal(t, "currentUser", Body("currentUser"))
}

func TestCUEEvaluator(t *testing.T) {
	ev := NewCUEEvaluator()
	ec := Context{Now: testNow, Principal: "kermit", PrincipalGroups: []string{"management", "accountancy"}}

	tests := []struct {
		name string
		text string
		want value.Value
	}{
		{"principal", "${currentUser}", value.String("kermit")},
		{"groups", "${currentUserGroups}", value.Strings("management", "accountancy")},
		{"now", "${now}", value.String("2024-06-01T12:00:00Z")},
		{"date arithmetic", "${nowMillis - 86400000}", value.Long(testNow.UnixMilli() - 86400000)},
		{"concatenation", `#{"team-" + currentUser}`, value.String("team-kermit")},
		{"boolean", "${1 < 2}", value.Boolean(true)},
		{"float", "${1.5}", value.Double(1.5)},
		{"null", "${null}", value.Null{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ev.Evaluate(tt.text, ec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCUEEvaluator_ContextChangesResult(t *testing.T) {
	ev := NewCUEEvaluator()

	a, err := ev.Evaluate("${currentUser}", Context{Now: testNow, Principal: "kermit"})
	require.NoError(t, err)
	b, err := ev.Evaluate("${currentUser}", Context{Now: testNow, Principal: "gonzo"})
	require.NoError(t, err)

	assert.Equal(t, value.String("kermit"), a)
	assert.Equal(t, value.String("gonzo"), b)
}

func TestCUEEvaluator_Errors(t *testing.T) {
	ev := NewCUEEvaluator()
	ec := Context{Now: testNow}

	_, err := ev.Evaluate("${unknownIdentifier}", ec)
	assert.Error(t, err)

	_, err = ev.Evaluate("${}", ec)
	assert.Error(t, err)

	_, err = ev.Evaluate("${string}", ec)
	assert.Error(t, err, "non-concrete results are rejected")

	got, err := ev.Evaluate("${currentUserGroups}", ec)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCUEEvaluator_ConcurrentUse(t *testing.T) {
	ev := NewCUEEvaluator()
	var wg sync.WaitGroup
	for _, user := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := ev.Evaluate("${currentUser}", Context{Now: testNow, Principal: user})
			assert.NoError(t, err)
			assert.Equal(t, value.String(user), got)
		}()
	}
	wg.Wait()
}

func TestEvaluatorFunc(t *testing.T) {
	var ev Evaluator = EvaluatorFunc(func(text string, ec Context) (value.Value, error) {
		return value.String(ec.Principal + ":" + Body(text)), nil
	})
	got, err := ev.Evaluate("${x}", Context{Principal: "p"})
	require.NoError(t, err)
	assert.Equal(t, value.String("p:x"), got)
}
