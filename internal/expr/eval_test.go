package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalArithmeticAndComparison(t *testing.T) {
	cases := []struct {
		name string
		src  string
		vars Vars
		want interface{}
	}{
		{"addition", "1 + 2", nil, 3.0},
		{"operator precedence", "2 + 3 * 4", nil, 14.0},
		{"power right assoc", "2 ** 3 ** 2", nil, 512.0},
		{"chained comparison true", "1 < 2 < 3", nil, true},
		{"chained comparison false", "1 < 2 < 1", nil, false},
		{"string concat", `"a" + "b"`, nil, "ab"},
		{"variable lookup", "count * 2", Vars{"count": 5.0}, 10.0},
		{"not", "not false", nil, true},
		{"and short circuit", "false and undefined_but_unused", nil, false},
		{"or short circuit", "true or undefined_but_unused", nil, true},
		{"membership string", `"ell" in "hello"`, nil, true},
		{"membership list", "2 in items", Vars{"items": []interface{}{1.0, 2.0, 3.0}}, true},
		{"not in", "4 not in items", Vars{"items": []interface{}{1.0, 2.0, 3.0}}, true},
		{"len of list", "len(items) == 3", Vars{"items": []interface{}{1.0, 2.0, 3.0}}, true},
		{"min", "min(3, 1, 2)", nil, 1.0},
		{"max of list", "max(values)", Vars{"values": []interface{}{1.0, 9.0, 4.0}}, 9.0},
		{"abs of negative", "abs(-5)", nil, 5.0},
		{"nested parens", "(1 + 2) * (3 - 1)", nil, 6.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Eval(tc.src, tc.vars)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvalRejectsUnsafeConstructs(t *testing.T) {
	cases := []string{
		"__import__('os')",
		"os.system('rm -rf /')",
		"a.b.c",
		"lambda: 1",
		"eval('1')",
		"exec('1')",
		"items[0]",
	}
	for _, src := range cases {
		t.Run(src, func(t *testing.T) {
			_, err := Eval(src, Vars{"items": []interface{}{1.0}})
			require.Error(t, err)
		})
	}
}

func TestEvalUndefinedVariable(t *testing.T) {
	_, err := Eval("missing_var == 1", Vars{})
	require.Error(t, err)
}

func TestEvalBoolTruthiness(t *testing.T) {
	ok, err := EvalBool(`status == "ready"`, Vars{"status": "ready"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = EvalBool("count", Vars{"count": 0.0})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseReused(t *testing.T) {
	n, err := Parse("x > threshold")
	require.NoError(t, err)

	v1, err := Run(n, Vars{"x": 10.0, "threshold": 5.0})
	require.NoError(t, err)
	assert.Equal(t, true, v1)

	v2, err := Run(n, Vars{"x": 1.0, "threshold": 5.0})
	require.NoError(t, err)
	assert.Equal(t, false, v2)
}
