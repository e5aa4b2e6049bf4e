package expreval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalNumber(t *testing.T) {
	vars := map[string]float64{
		"effr": 4.40,
		"iorb": 4.47,
		"wei":  -0.5,
	}

	tests := []struct {
		name string
		src  string
		want float64
	}{
		{"literal", "42", 42},
		{"decimal", "0.25", 0.25},
		{"addition", "1 + 2", 3},
		{"precedence", "2 + 3 * 4", 14},
		{"parens", "(2 + 3) * 4", 20},
		{"division", "10 / 4", 2.5},
		{"unary minus", "-5 + 3", -2},
		{"double negation", "--5", 5},
		{"variable", "effr", 4.40},
		{"rate spread in basis points", "(effr - iorb) * 100", -7.0},
		{"abs", "abs(wei)", 0.5},
		{"min", "min(effr, iorb, 1)", 1},
		{"max", "max(effr, iorb)", 4.47},
		{"nested call", "abs(min(wei, 0) * 2)", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalNumber(tt.src, vars)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestEvalBool(t *testing.T) {
	vars := map[string]float64{
		"value":  6,
		"zscore": -2.5,
		"d1":     0.03,
	}

	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"greater than true", "value > 5", true},
		{"greater than boundary", "value > 6", false},
		{"greater equal boundary", "value >= 6", true},
		{"less than", "zscore < -2", true},
		{"equality", "value == 6", true},
		{"inequality", "value != 6", false},
		{"and", "value > 5 and d1 > 0", true},
		{"and false", "value > 5 and d1 < 0", false},
		{"or", "value < 0 or d1 > 0.02", true},
		{"not", "not (value > 10)", true},
		{"symbolic operators", "value > 5 && (d1 > 0.02 || zscore > 0)", true},
		{"symbolic not", "!(value < 0)", true},
		{"capitalized literals", "True and not False", true},
		{"abs in predicate", "abs(zscore) > 2", true},
		{"arithmetic inside comparison", "(value - 1) * 2 >= 10", true},
		{"short-circuit or skips bad branch", "value > 5 or 1 / 0 > 0", true},
		{"short-circuit and skips bad branch", "value < 5 and 1 / 0 > 0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalBool(tt.src, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalErrors(t *testing.T) {
	vars := map[string]float64{"value": 1}

	tests := []struct {
		name string
		src  string
	}{
		{"unknown variable", "value + missing"},
		{"unknown function", "sqrt(value)"},
		{"division by zero", "value / 0"},
		{"numeric operand on bool", "true + 1"},
		{"bool operand on and", "value and true"},
		{"comparison on bool", "true > false"},
		{"abs arity", "abs(1, 2)"},
		{"min arity", "min()"},
		{"chained comparison", "1 < value < 3"},
		{"dangling operator", "value +"},
		{"unbalanced paren", "(value > 1"},
		{"stray character", "value @ 1"},
		{"empty input", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EvalBool(tt.src, vars)
			assert.Error(t, err)
		})
	}
}

func TestEvalBoolRejectsNumericResult(t *testing.T) {
	_, err := EvalBool("1 + 2", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not boolean")
}

func TestEvalNumberRejectsBooleanResult(t *testing.T) {
	_, err := EvalNumber("1 > 2", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not numeric")
}

func TestExprReuse(t *testing.T) {
	e, err := Parse("value > threshold")
	require.NoError(t, err)

	got, err := e.EvalBool(map[string]float64{"value": 3, "threshold": 2})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = e.EvalBool(map[string]float64{"value": 1, "threshold": 2})
	require.NoError(t, err)
	assert.False(t, got)
}

func TestIdents(t *testing.T) {
	e, err := Parse("abs(effr - iorb) * 100 > limit and not (effr < 0)")
	require.NoError(t, err)
	assert.Equal(t, []string{"effr", "iorb", "limit"}, e.Idents())
}

func TestValidate(t *testing.T) {
	e, err := Parse("value > 5 and ma20 > 0")
	require.NoError(t, err)

	allowed := map[string]bool{"value": true, "ma20": true}
	require.NoError(t, e.Validate(func(name string) bool { return allowed[name] }))

	err = e.Validate(func(name string) bool { return name == "value" })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ma20")
}
